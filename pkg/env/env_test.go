package env

import (
	"testing"
	"time"
)

func TestGetEnvString(t *testing.T) {
	t.Setenv("DESKWIRE_TEST_STRING", "ws://localhost:9090/ws")
	if got := GetEnvString("DESKWIRE_TEST_STRING", "fallback"); got != "ws://localhost:9090/ws" {
		t.Errorf("GetEnvString = %q, want set value", got)
	}
	if got := GetEnvString("DESKWIRE_TEST_STRING_MISSING", "fallback"); got != "fallback" {
		t.Errorf("GetEnvString = %q, want fallback", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("DESKWIRE_TEST_DURATION", "45s")
	if got := GetEnvDuration("DESKWIRE_TEST_DURATION", time.Second); got != 45*time.Second {
		t.Errorf("GetEnvDuration = %v, want 45s", got)
	}
	t.Setenv("DESKWIRE_TEST_DURATION", "not-a-duration")
	if got := GetEnvDuration("DESKWIRE_TEST_DURATION", time.Second); got != time.Second {
		t.Errorf("GetEnvDuration = %v, want default on parse error", got)
	}
}

func TestGetEnvStringSlice(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		set      bool
		expected []string
	}{
		{"unset returns default", "", false, []string{"a", "b"}},
		{"comma separated", "cursor:move, buffer:update ,scroll:sync", true, []string{"cursor:move", "buffer:update", "scroll:sync"}},
		{"only separators returns default", " , ,", true, []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.set {
				t.Setenv("DESKWIRE_TEST_SLICE", tt.value)
			}
			got := GetEnvStringSlice("DESKWIRE_TEST_SLICE", []string{"a", "b"})
			if len(got) != len(tt.expected) {
				t.Fatalf("GetEnvStringSlice = %v, want %v", got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("GetEnvStringSlice[%d] = %q, want %q", i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestIsValidWebSocketURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected bool
	}{
		{"ws url", "ws://localhost:8080/ws", true},
		{"wss url", "wss://backend.deskwire.dev/ws", true},
		{"http url", "http://localhost:8080", false},
		{"empty", "", false},
		{"missing host", "ws://", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidWebSocketURL(tt.url); got != tt.expected {
				t.Errorf("IsValidWebSocketURL(%q) = %v, want %v", tt.url, got, tt.expected)
			}
		})
	}
}
