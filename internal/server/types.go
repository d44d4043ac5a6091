// Package server defines the transport's shared errors, the dispatch contract
// and small helpers used by both hub and client code.
package server

import (
	"context"
	"errors"
	"strings"

	"github.com/Tyrowin/zodiacchat/internal/registry"
)

var (
	// ErrClientClosed is returned when sending to a client the hub no longer tracks.
	ErrClientClosed = errors.New("client closed")
	// ErrSendBufferFull is returned when a client's outbound queue is full. The
	// client is dropped.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Dispatcher consumes inbound frames. Dispatch is called from the connection's
// read goroutine, one frame at a time. Disconnect is called once when the
// connection ends.
type Dispatcher interface {
	Dispatch(ctx context.Context, conn registry.Conn, raw []byte)
	Disconnect(ctx context.Context, conn registry.Conn)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
