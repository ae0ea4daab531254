package mcp

import (
	"context"
	"errors"
	"io"
)

// ErrTimeout is returned when no response arrives within the configured
// window. The underlying stream is left open; the caller may retry.
var ErrTimeout = errors.New("response timeout")

// ErrEmptyResponse is returned when the server produces an empty or
// whitespace-only line where a JSON-RPC response was expected.
var ErrEmptyResponse = errors.New("empty response line")

// Transport is the interface for MCP server communication.
// Implementations handle the details of delivering JSON-RPC requests and
// receiving responses over a specific carrier (process pipes or HTTP).
type Transport interface {
	// Send delivers a JSON-RPC request and returns the decoded response.
	Send(ctx context.Context, req *Request) (*Response, error)

	// Notify delivers a JSON-RPC notification (no response expected).
	Notify(ctx context.Context, notif *Notification) error
}

// StreamProvider yields the live protocol streams of a running local
// server process: a writer connected to the process's stdin and a channel
// of stdout lines. The process supervisor implements this.
type StreamProvider interface {
	Stream(id int64) (io.Writer, <-chan string, error)
}
