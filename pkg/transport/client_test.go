package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskwire/deskwire-client/internal/devserver"
	"github.com/deskwire/deskwire-client/pkg/backoff"
	"github.com/deskwire/deskwire-client/pkg/logging"
	"github.com/deskwire/deskwire-client/pkg/transport"
)

func testLogger(t *testing.T) logging.Logger {
	t.Helper()
	cfg := logging.NewDefaultConfig(logging.DesktopProcess)
	cfg.LogDir = t.TempDir()
	logger, err := logging.NewZapLogger(cfg)
	require.NoError(t, err)
	return logger
}

func newTestServer(t *testing.T, opts ...devserver.Option) (*devserver.Server, string) {
	t.Helper()
	ds := devserver.New(testLogger(t), opts...)
	srv := httptest.NewServer(ds.Router())
	t.Cleanup(srv.Close)
	return ds, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func newTestClient(t *testing.T, url string, mutate func(*transport.Config)) *transport.Client {
	t.Helper()
	cfg := transport.DefaultConfig()
	cfg.URL = url
	cfg.RequestTimeout = 2 * time.Second
	cfg.Backoff = backoff.Schedule{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	if mutate != nil {
		mutate(&cfg)
	}
	client, err := transport.NewClient(cfg, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(client.Disconnect)
	return client
}

// statusRecorder collects accepted status transitions.
type statusRecorder struct {
	mu      sync.Mutex
	entries []transport.Status
}

func (r *statusRecorder) listen(status transport.Status, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, status)
}

func (r *statusRecorder) snapshot() []transport.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.Status(nil), r.entries...)
}

func waitConnected(t *testing.T, client *transport.Client) {
	t.Helper()
	require.Eventually(t, func() bool {
		return client.Status() == transport.StatusConnected
	}, 2*time.Second, 5*time.Millisecond, "client never reached connected")
}

func TestConnectSendsHandshakeFirst(t *testing.T) {
	ds, url := newTestServer(t)
	client := newTestClient(t, url, nil)

	rec := &statusRecorder{}
	client.OnStatusChange(rec.listen)

	client.Connect()
	waitConnected(t, client)

	require.Eventually(t, func() bool {
		return len(ds.Hellos()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	hello := ds.Hellos()[0]
	assert.Equal(t, transport.ClientVersion, hello.Version)
	assert.NotEmpty(t, hello.Platform)
	assert.Equal(t, 0, client.ReconnectAttempt())
	assert.Equal(t, []transport.Status{transport.StatusConnecting, transport.StatusConnected}, rec.snapshot())
}

func TestConnectWhileConnectedIsNoop(t *testing.T) {
	ds, url := newTestServer(t)
	client := newTestClient(t, url, nil)

	client.Connect()
	waitConnected(t, client)
	client.Connect()
	client.Connect()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, ds.SessionCount())
	assert.Len(t, ds.Hellos(), 1)
}

func TestFireAndForgetSettlesImmediately(t *testing.T) {
	ds, url := newTestServer(t)
	client := newTestClient(t, url, nil)
	client.Connect()
	waitConnected(t, client)

	p := client.Send(transport.TypeCursorMove, map[string]int{"line": 12, "col": 4})

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("fire-and-forget send did not settle")
	}
	msg, err := p.Result()
	require.NoError(t, err)
	assert.Nil(t, msg)

	require.Eventually(t, func() bool {
		for _, m := range ds.Received() {
			if m.Type == transport.TypeCursorMove {
				assert.Empty(t, m.ID, "fire-and-forget must not carry a correlation id")
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCorrelatedRequestResolves(t *testing.T) {
	_, url := newTestServer(t, devserver.WithResponder(transport.TypeSessionPing,
		func(req *transport.Message) (any, bool) {
			return map[string]bool{"pong": true}, true
		}))
	client := newTestClient(t, url, nil)
	client.Connect()
	waitConnected(t, client)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Send(transport.TypeSessionPing, nil).Await(ctx)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, transport.TypeSessionPing, resp.Type)

	var pong map[string]bool
	require.NoError(t, resp.DecodePayload(&pong))
	assert.True(t, pong["pong"])
}

func TestRequestTimeoutNamesType(t *testing.T) {
	_, url := newTestServer(t, devserver.WithSilent())
	client := newTestClient(t, url, func(cfg *transport.Config) {
		cfg.RequestTimeout = 60 * time.Millisecond
	})
	client.Connect()
	waitConnected(t, client)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.Send(transport.TypeFileOpen, map[string]string{"path": "/a.ts"}).Await(ctx)
	require.Error(t, err)
	assert.True(t, transport.IsTimeout(err))
	assert.Contains(t, err.Error(), "file:open")
	assert.Contains(t, err.Error(), "ms")
}

func TestQueuedSendsFlushInOrder(t *testing.T) {
	ds, url := newTestServer(t)
	client := newTestClient(t, url, nil)

	first := client.Send(transport.TypeBufferUpdate, map[string]int{"seq": 1})
	second := client.Send(transport.TypeBufferUpdate, map[string]int{"seq": 2})

	select {
	case <-first.Done():
		t.Fatal("queued send settled before connect")
	case <-time.After(30 * time.Millisecond):
	}

	client.Connect()
	waitConnected(t, client)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := first.Await(ctx)
	require.NoError(t, err)
	_, err = second.Await(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		count := 0
		for _, m := range ds.Received() {
			if m.Type == transport.TypeBufferUpdate {
				count++
			}
		}
		return count == 2
	}, 2*time.Second, 5*time.Millisecond)

	received := ds.Received()
	require.GreaterOrEqual(t, len(received), 3)
	assert.Equal(t, transport.TypeConnectionHello, received[0].Type, "handshake must precede queued traffic")

	seqs := make([]int, 0, 2)
	for _, m := range received {
		if m.Type == transport.TypeBufferUpdate {
			var payload map[string]int
			require.NoError(t, m.DecodePayload(&payload))
			seqs = append(seqs, payload["seq"])
		}
	}
	assert.Equal(t, []int{1, 2}, seqs)
}

func TestDisconnectRejectsPendingAndQueued(t *testing.T) {
	_, url := newTestServer(t, devserver.WithSilent())
	client := newTestClient(t, url, nil)
	client.Connect()
	waitConnected(t, client)

	pending := client.Send(transport.TypeReviewFetch, map[string]string{"file": "/a.ts"})

	offline := newTestClient(t, url, nil)
	queued := offline.Send(transport.TypeFileSave, map[string]string{"path": "/b.ts"})

	client.Disconnect()
	offline.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := pending.Await(ctx)
	require.Error(t, err)
	assert.True(t, transport.IsDisconnected(err))
	assert.Contains(t, err.Error(), "review:fetch")

	_, err = queued.Await(ctx)
	require.Error(t, err)
	assert.True(t, transport.IsDisconnected(err))
}

func TestNoReconnectAfterDisconnect(t *testing.T) {
	ds, url := newTestServer(t)
	client := newTestClient(t, url, nil)
	client.Connect()
	waitConnected(t, client)

	client.Disconnect()
	assert.Equal(t, transport.StatusDisconnected, client.Status())
	assert.Equal(t, 0, client.ReconnectAttempt())

	// Past every delay in the test schedule.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, transport.StatusDisconnected, client.Status())
	assert.Equal(t, 0, ds.SessionCount())
	assert.Len(t, ds.Hellos(), 1)
}

func TestReconnectAfterUnexpectedDrop(t *testing.T) {
	ds, url := newTestServer(t)
	client := newTestClient(t, url, nil)

	rec := &statusRecorder{}
	client.OnStatusChange(rec.listen)

	client.Connect()
	waitConnected(t, client)

	ds.CloseSessions()

	require.Eventually(t, func() bool {
		return len(ds.Hellos()) == 2 && client.Status() == transport.StatusConnected
	}, 2*time.Second, 5*time.Millisecond, "client never reconnected")

	assert.Equal(t, 0, client.ReconnectAttempt(), "successful open must reset the counter")

	statuses := rec.snapshot()
	assert.Contains(t, statuses, transport.StatusReconnecting)
	// Reconnecting never jumps straight to connected.
	for i, s := range statuses {
		if s == transport.StatusConnected {
			require.Greater(t, i, 0)
			assert.Equal(t, transport.StatusConnecting, statuses[i-1])
		}
	}
}

func TestDialFailureAdvancesAttempts(t *testing.T) {
	// Nothing listens here.
	client := newTestClient(t, "ws://127.0.0.1:1/ws", nil)

	client.Connect()

	require.Eventually(t, func() bool {
		return client.ReconnectAttempt() >= 3
	}, 2*time.Second, 5*time.Millisecond, "attempt counter never advanced")

	client.Disconnect()
	assert.Equal(t, 0, client.ReconnectAttempt())
}

func TestMalformedMessageIsDropped(t *testing.T) {
	ds, url := newTestServer(t)
	client := newTestClient(t, url, nil)

	var mu sync.Mutex
	var got []string
	client.On(transport.TypeDashboardUpdate, func(msg *transport.Message) {
		var payload map[string]string
		_ = msg.DecodePayload(&payload)
		mu.Lock()
		got = append(got, payload["rev"])
		mu.Unlock()
	})

	client.Connect()
	waitConnected(t, client)

	ds.BroadcastRaw([]byte(`{"type": not-json`))
	ds.BroadcastRaw([]byte(`{"payload":{"rev":"untyped"}}`))
	require.NoError(t, ds.Broadcast(transport.TypeDashboardUpdate, map[string]string{"rev": "r7"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"r7"}, got)
	mu.Unlock()
	assert.Equal(t, transport.StatusConnected, client.Status())
}

func TestHandlerPanicDoesNotStopOthers(t *testing.T) {
	ds, url := newTestServer(t)
	client := newTestClient(t, url, nil)

	var mu sync.Mutex
	var order []string
	client.On(transport.TypeCoachingHint, func(msg *transport.Message) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		panic("handler exploded")
	})
	client.On(transport.TypeCoachingHint, func(msg *transport.Message) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
	})

	client.Connect()
	waitConnected(t, client)

	require.NoError(t, ds.Broadcast(transport.TypeCoachingHint, map[string]string{"hint": "extract method"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"first", "second"}, order)
	mu.Unlock()
	assert.Equal(t, transport.StatusConnected, client.Status())
}

func TestOffRemovesHandler(t *testing.T) {
	ds, url := newTestServer(t)
	client := newTestClient(t, url, nil)

	var mu sync.Mutex
	var calls []string
	removed := func(msg *transport.Message) {
		mu.Lock()
		calls = append(calls, "removed")
		mu.Unlock()
	}
	kept := func(msg *transport.Message) {
		mu.Lock()
		calls = append(calls, "kept")
		mu.Unlock()
	}

	client.On(transport.TypeReviewComment, removed)
	client.On(transport.TypeReviewComment, kept)
	client.Off(transport.TypeReviewComment, removed)

	client.Connect()
	waitConnected(t, client)

	require.NoError(t, ds.Broadcast(transport.TypeReviewComment, map[string]string{"body": "nit"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 1
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"kept"}, calls)
	mu.Unlock()
}

func TestStatusListenerUnsubscribeAndPanicIsolation(t *testing.T) {
	_, url := newTestServer(t)
	client := newTestClient(t, url, nil)

	var mu sync.Mutex
	unsubbed := 0
	surviving := 0

	off := client.OnStatusChange(func(transport.Status, int) {
		mu.Lock()
		unsubbed++
		mu.Unlock()
	})
	client.OnStatusChange(func(transport.Status, int) {
		panic("listener exploded")
	})
	client.OnStatusChange(func(transport.Status, int) {
		mu.Lock()
		surviving++
		mu.Unlock()
	})

	off()
	client.Connect()
	waitConnected(t, client)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return surviving == 2
	}, 2*time.Second, 5*time.Millisecond, "connecting and connected transitions expected")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, unsubbed)
}

// TestLateResponseFallsThroughToBroadcast covers a response arriving after its
// correlation entry timed out: it must reach type handlers instead of being
// dropped.
func TestLateResponseFallsThroughToBroadcast(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var writeMu sync.Mutex
		for {
			var msg transport.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.ID == "" {
				continue
			}
			id, typ := msg.ID, msg.Type
			time.AfterFunc(150*time.Millisecond, func() {
				reply, _ := transport.NewMessage(typ, map[string]bool{"late": true})
				reply.ID = id
				writeMu.Lock()
				defer writeMu.Unlock()
				_ = conn.WriteJSON(reply)
			})
		}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := newTestClient(t, url, func(cfg *transport.Config) {
		cfg.RequestTimeout = 40 * time.Millisecond
	})

	var mu sync.Mutex
	lateArrivals := 0
	client.On(transport.TypeFileOpen, func(msg *transport.Message) {
		mu.Lock()
		lateArrivals++
		mu.Unlock()
	})

	client.Connect()
	waitConnected(t, client)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := client.Send(transport.TypeFileOpen, map[string]string{"path": "/a.ts"}).Await(ctx)
	require.Error(t, err)
	assert.True(t, transport.IsTimeout(err))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return lateArrivals == 1
	}, 2*time.Second, 5*time.Millisecond, "late response never reached broadcast handlers")
}

func TestStatusStringValues(t *testing.T) {
	assert.Equal(t, "disconnected", transport.StatusDisconnected.String())
	assert.Equal(t, "connecting", transport.StatusConnecting.String())
	assert.Equal(t, "connected", transport.StatusConnected.String())
	assert.Equal(t, "reconnecting", transport.StatusReconnecting.String())
}
