package transport

import (
	"errors"
	"fmt"
	"time"
)

// DisconnectedError rejects a pending or queued send when the client is torn
// down by an explicit Disconnect.
type DisconnectedError struct {
	Type MessageType
}

func (e *DisconnectedError) Error() string {
	return fmt.Sprintf("transport disconnected before %s completed", e.Type)
}

// TimeoutError rejects a correlated request that received no response within
// the timeout window.
type TimeoutError struct {
	Type    MessageType
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %s timed out after %dms", e.Type, e.Elapsed.Milliseconds())
}

// IsDisconnected reports whether err is a DisconnectedError.
func IsDisconnected(err error) bool {
	var de *DisconnectedError
	return errors.As(err, &de)
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
