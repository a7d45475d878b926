package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrAccessDenied means the TV rejected the handshake on the plain
	// attempt and again on the secure fallback (or on a direct secure
	// attempt). The operator must re-authorize on the TV itself.
	ErrAccessDenied = errors.New("tv denied the control handshake")

	// ErrConnectionClosed means an operation was attempted while no
	// authorized channel is open. No socket I/O is performed.
	ErrConnectionClosed = errors.New("no open connection to the tv")

	// ErrLegacyUnsupported is returned when a session is requested for an
	// endpoint that only speaks the legacy binary protocol.
	ErrLegacyUnsupported = errors.New("legacy control sessions are not supported")
)

// UnhandledResponseError is a handshake event that is neither a connect
// nor an unauthorized event.
type UnhandledResponseError struct {
	Event string
}

func (e *UnhandledResponseError) Error() string {
	return fmt.Sprintf("unexpected handshake event %q", e.Event)
}

// TransportOp tags where in the channel lifecycle a network failure
// happened. Reconnect logic dispatches on this tag, never on error text.
type TransportOp string

const (
	OpDial  TransportOp = "dial"
	OpRead  TransportOp = "read"
	OpWrite TransportOp = "write"
)

// TransportError wraps a network-level failure, classified at the point
// of failure.
type TransportError struct {
	Op  TransportOp
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
