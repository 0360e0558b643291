package session_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/parley/pkg/session"
)

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network failure", &session.NetworkError{Op: "dial", Err: errors.New("refused")}, true},
		{"wrapped network failure", fmt.Errorf("connect: %w", &session.NetworkError{Op: "read", Err: errors.New("reset")}), true},
		{"auth failure", &session.AuthError{Status: 401, Msg: "bad key"}, false},
		{"rejected configuration", &session.ProtocolError{Code: "invalid_value", Msg: "bad voice"}, false},
		{"transient server fault", &session.ProtocolError{Code: "server_error", Msg: "internal"}, true},
		{"expired session", &session.ProtocolError{Code: "session_expired", Msg: "gone"}, true},
		{"unclassified", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := session.Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
