package gatt

import (
	"errors"
	"fmt"
)

// NotFoundError reports a missing GATT resource after discovery.
type NotFoundError struct {
	Resource string   // "service", "characteristic", "descriptor"
	UUIDs    []string // offending UUID, optionally preceded by its parent
}

func (e *NotFoundError) Error() string {
	switch len(e.UUIDs) {
	case 0:
		return fmt.Sprintf("%s not found", e.Resource)
	case 1:
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	default:
		return fmt.Sprintf("%s %q not found in %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
	}
}

// ConnectionState classifies connection-level failures.
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	ConnectFailed    ConnectionState = "connect_failed"
)

// ConnectionError is any connection-lifecycle problem.
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is lets errors.Is match ConnectionError values by State.
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrConnectFailed    = &ConnectionError{State: ConnectFailed}
)

// ErrDiscoveryFailed wraps service discovery failures; callers treat
// it like a connection failure (session restarts).
var ErrDiscoveryFailed = errors.New("service discovery failed")

// IsConnectionState reports whether err is a ConnectionError with the
// given state.
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}
