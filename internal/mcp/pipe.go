package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultPipeTimeout is how long a pipe Send waits for a response line.
const DefaultPipeTimeout = 10 * time.Second

// PipeTransport talks to a supervised local server process over its
// stdin/stdout pipes. Messages are newline-delimited JSON-RPC.
//
// Known limitation, kept deliberately: the request id is generated but the
// response id is never checked against it. The transport reads the next
// available stdout line and treats it as the response, assuming strict
// one-request-in-flight ordering. The internal mutex serializes calls made
// through one PipeTransport, but a server that interleaves unsolicited
// messages with responses can still cross-deliver.
type PipeTransport struct {
	provider StreamProvider
	id       int64
	timeout  time.Duration
	logger   *slog.Logger

	mu sync.Mutex // one request in flight at a time
}

// NewPipeTransport creates a pipe transport for the given server id.
// Streams are resolved through the provider on every call, so the
// transport survives a process restart under the same id.
func NewPipeTransport(provider StreamProvider, id int64, timeout time.Duration, logger *slog.Logger) *PipeTransport {
	if timeout <= 0 {
		timeout = DefaultPipeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PipeTransport{
		provider: provider,
		id:       id,
		timeout:  timeout,
		logger:   logger.With("server_id", id),
	}
}

// Send writes one JSON line to the process's stdin and waits up to the
// configured timeout for one line on its stdout. A timeout leaves the
// stream open — a late response is picked up (wrongly attributed) by the
// next call, which is the documented ordering assumption above.
func (t *PipeTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stdin, lines, err := t.provider.Stream(t.id)
	if err != nil {
		return nil, fmt.Errorf("server %d: %w", t.id, err)
	}

	if err := t.writeLine(stdin, req); err != nil {
		return nil, err
	}
	t.logger.Debug("sent request", "method", req.Method)

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("server %d: no response to %s within %s: %w", t.id, req.Method, t.timeout, ErrTimeout)
	case line, ok := <-lines:
		if !ok {
			return nil, fmt.Errorf("server %d: stdout closed", t.id)
		}
		if strings.TrimSpace(line) == "" {
			return nil, fmt.Errorf("server %d: %w", t.id, ErrEmptyResponse)
		}

		var resp Response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			return nil, fmt.Errorf("server %d: decode response: %w", t.id, err)
		}
		t.logger.Debug("received response", "method", req.Method)
		return &resp, nil
	}
}

// Notify writes one JSON line to the process's stdin. No response is read.
func (t *PipeTransport) Notify(ctx context.Context, notif *Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	stdin, _, err := t.provider.Stream(t.id)
	if err != nil {
		return fmt.Errorf("server %d: %w", t.id, err)
	}

	return t.writeLine(stdin, notif)
}

// writeLine marshals v and writes it as a single newline-terminated line.
// Caller must hold t.mu.
func (t *PipeTransport) writeLine(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("server %d: write to stdin: %w", t.id, err)
	}
	return nil
}
