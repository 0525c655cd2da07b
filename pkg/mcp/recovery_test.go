package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyErrorRefusals(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"nil error", nil},
		{"cancelled call", context.Canceled},
		{"deadline exceeded", context.DeadlineExceeded},
		{"wrapped cancellation", fmt.Errorf("tool call aborted: %w", context.Canceled)},
		{"unknown tool on the server", errors.New("jsonrpc2: method not found: get_forecast")},
		{"malformed arguments", errors.New("invalid params: city must be a string")},
		{"garbled frame", errors.New("parse error at offset 113")},
		{"unclassified failure", errors.New("tool panicked while rendering output")},
		// Generic close message, not one of the transport markers
		{"closed connection message", errors.New("use of closed network connection")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, NoRetry, ClassifyError(tt.err))
		})
	}
}

func TestClassifyErrorTransportFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"stdio pipe ended", io.EOF},
		{"truncated frame", io.ErrUnexpectedEOF},
		{"wrapped EOF from the session", fmt.Errorf("calling tool on weather-server: %w", io.EOF)},
		{"server not listening", errors.New("dial tcp 10.0.0.7:3333: connect: connection refused")},
		{"peer reset", errors.New("read tcp 10.0.0.7:3333: connection reset by peer")},
		{"subprocess died mid-write", errors.New("write |1: broken pipe")},
		{"unresolvable host", errors.New("dial tcp: lookup mcp.internal: no such host")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, RetryNewSession, ClassifyError(tt.err),
				"a dead transport should trigger session recreation")
		})
	}
}

// stubNetError lets the tests drive the net.Error timeout branch directly.
type stubNetError struct {
	msg     string
	timeout bool
}

func (e *stubNetError) Error() string   { return e.msg }
func (e *stubNetError) Timeout() bool   { return e.timeout }
func (e *stubNetError) Temporary() bool { return false }

var _ net.Error = (*stubNetError)(nil)

func TestClassifyErrorNetworkTimeouts(t *testing.T) {
	// A slow tool looks like an i/o timeout; retrying would just hang twice.
	slow := &stubNetError{msg: "i/o timeout", timeout: true}
	assert.Equal(t, NoRetry, ClassifyError(slow))

	// Non-timeout dial failures mean the session is gone.
	refused := &stubNetError{msg: "connect: connection refused"}
	assert.Equal(t, RetryNewSession, ClassifyError(refused))

	wrapped := fmt.Errorf("listing tools on search-server: %w", refused)
	assert.Equal(t, RetryNewSession, ClassifyError(wrapped))
}
