package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/quillon/toolgate/internal/buildinfo"
)

// ProtocolVersion is the MCP protocol version advertised during the handshake.
const ProtocolVersion = "2025-06-18"

// clientName identifies this client in the initialize request.
const clientName = "toolgate"

// ToolDescriptor is an MCP tool as returned by tools/list. The input
// schema is passed through untouched.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// toolsListResult is the result payload of a tools/list response.
type toolsListResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// initializeResult is the slice of the initialize result we inspect.
type initializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
}

// Target identifies one MCP server: either a supervised local process
// (ServerID, routed over its stdio pipes) or a remote endpoint (URL with
// an optional API key, routed over HTTP).
type Target struct {
	ServerID int64
	URL      string
	APIKey   string
}

// Local returns a target for a supervised local server.
func Local(id int64) Target {
	return Target{ServerID: id}
}

// Remote returns a target for a remote HTTP server.
func Remote(url, apiKey string) Target {
	return Target{URL: url, APIKey: apiKey}
}

// remote reports whether the target is reached over HTTP.
func (t Target) remote() bool {
	return t.URL != ""
}

// Session performs MCP protocol operations against any target. Protocol
// failures inside a response (an error field) are not interpreted here;
// callers inspect the raw response. Only transport and decode failures
// surface as errors.
//
// Calls against the same local server id must not overlap; the session
// serializes them through a per-id pipe transport, but a response can
// still be attributed to the wrong request if the server answers out of
// order (see [PipeTransport]).
type Session struct {
	procs       StreamProvider
	pipeTimeout time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	pipes   map[int64]*PipeTransport
	remotes map[string]*HTTPTransport
}

// NewSession creates a session that routes local targets through the
// given stream provider (the process supervisor).
func NewSession(procs StreamProvider, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		procs:       procs,
		pipeTimeout: DefaultPipeTimeout,
		logger:      logger,
		pipes:       make(map[int64]*PipeTransport),
		remotes:     make(map[string]*HTTPTransport),
	}
}

// transport returns the transport for a target. Pipe transports are
// cached per server id so their in-flight mutex spans calls; remote
// transports are cached per endpoint so their HTTP connection pools
// are reused across calls.
func (s *Session) transport(target Target) Transport {
	s.mu.Lock()
	defer s.mu.Unlock()

	if target.remote() {
		key := target.URL + "\x00" + target.APIKey
		tr, ok := s.remotes[key]
		if !ok {
			tr = NewHTTPTransport(target.URL, target.APIKey, s.logger)
			s.remotes[key] = tr
		}
		return tr
	}

	tr, ok := s.pipes[target.ServerID]
	if !ok {
		tr = NewPipeTransport(s.procs, target.ServerID, s.pipeTimeout, s.logger)
		s.pipes[target.ServerID] = tr
	}
	return tr
}

// Initialize performs the MCP handshake: an initialize request followed,
// on success, by the notifications/initialized notification. The
// notification is fire-and-forget — a delivery failure is logged and never
// surfaced, since the handshake's functional success does not depend on it.
// The raw decoded response is returned; callers judge success by the
// presence of result.protocolVersion.
func (s *Session) Initialize(ctx context.Context, target Target) (*Response, error) {
	tr := s.transport(target)

	req := NewRequest("initialize", map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities": map[string]any{
			"tools":   map[string]any{},
			"logging": map[string]any{},
		},
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": buildinfo.Version,
		},
	})

	resp, err := tr.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.Result != nil {
		if err := tr.Notify(ctx, NewNotification("notifications/initialized", map[string]any{})); err != nil {
			s.logger.Warn("failed to send initialized notification", "error", err)
		}
	}

	return resp, nil
}

// ListTools calls tools/list and returns the declared tools. A malformed
// or absent result yields an empty slice, not an error.
func (s *Session) ListTools(ctx context.Context, target Target) ([]ToolDescriptor, error) {
	resp, err := s.transport(target).Send(ctx, NewRequest("tools/list", map[string]any{}))
	if err != nil {
		return nil, err
	}

	if resp.Result == nil {
		return []ToolDescriptor{}, nil
	}

	var result toolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		s.logger.Warn("malformed tools/list result", "error", err)
		return []ToolDescriptor{}, nil
	}
	if result.Tools == nil {
		return []ToolDescriptor{}, nil
	}

	return result.Tools, nil
}

// CallTool invokes a tool by name and returns the raw decoded response.
// Whether the response carries result or error is the caller's business.
func (s *Session) CallTool(ctx context.Context, target Target, toolName string, arguments map[string]any) (*Response, error) {
	return s.transport(target).Send(ctx, NewRequest("tools/call", map[string]any{
		"name":      toolName,
		"arguments": arguments,
	}))
}

// TestConnection performs the handshake and reports whether the response
// shape is valid. All errors are swallowed into false.
func (s *Session) TestConnection(ctx context.Context, target Target) bool {
	resp, err := s.Initialize(ctx, target)
	if err != nil || resp == nil || resp.Result == nil {
		return false
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return false
	}
	return result.ProtocolVersion != ""
}
