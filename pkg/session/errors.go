package session

import (
	"errors"
	"fmt"
)

// AuthError reports rejected or missing credentials. It is fatal: retrying
// with the same credentials cannot succeed.
type AuthError struct {
	// Status is the HTTP status that rejected the handshake, or zero when
	// the credential was missing locally.
	Status int
	// Msg describes the failure.
	Msg string
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("session: authentication failed (HTTP %d): %s", e.Status, e.Msg)
	}
	return fmt.Sprintf("session: authentication failed: %s", e.Msg)
}

// NetworkError reports an unreachable endpoint, a refused connection, or a
// mid-session transport failure. It is retryable.
type NetworkError struct {
	// Op is the operation that failed, such as "dial" or "read".
	Op string
	// Err is the underlying transport error.
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("session: network failure during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError reports that one side violated the wire contract: a
// rejected session configuration, an unparseable server event, or a
// server-reported session-level fault. Most are fatal; [Retryable] carves
// out the server's transient fault codes.
type ProtocolError struct {
	// Code is the server-assigned error code, when one exists.
	Code string
	// Msg describes the violation.
	Msg string
}

func (e *ProtocolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("session: protocol error (%s): %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("session: protocol error: %s", e.Msg)
}

// Retryable reports whether reconnecting could plausibly clear err.
// Network failures are retryable, and so are the server's own transient
// fault codes. Authentication errors, protocol violations, and
// unclassified errors are not: reconnecting with the same inputs would
// fail the same way.
func Retryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		switch protoErr.Code {
		case "server_error", "session_expired":
			return true
		}
	}
	return false
}
