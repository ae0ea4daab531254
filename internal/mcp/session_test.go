package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"
)

// scriptedServer emulates a local MCP server: it parses each stdin line
// and queues the scripted reply on the lines channel.
type scriptedServer struct {
	mu    sync.Mutex
	lines chan string
	reply func(method string, req Request) string
	seen  []string
}

func newScriptedServer(reply func(method string, req Request) string) *scriptedServer {
	return &scriptedServer{lines: make(chan string, 8), reply: reply}
}

func (s *scriptedServer) Stream(id int64) (io.Writer, <-chan string, error) {
	return s, s.lines, nil
}

func (s *scriptedServer) Write(p []byte) (int, error) {
	var req Request
	if err := json.Unmarshal(p, &req); err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.seen = append(s.seen, req.Method)
	s.mu.Unlock()
	if out := s.reply(req.Method, req); out != "" {
		s.lines <- out
	}
	return len(p), nil
}

func (s *scriptedServer) methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.seen...)
}

func defaultReply(method string, req Request) string {
	switch method {
	case "initialize":
		return fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"result":{"protocolVersion":%q,"capabilities":{},"serverInfo":{"name":"scripted"}}}`,
			req.ID, ProtocolVersion)
	case "tools/list":
		return fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"result":{"tools":[{"name":"echo","description":"Echo input","inputSchema":{"type":"object"}}]}}`, req.ID)
	case "tools/call":
		return fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"result":{"content":[{"type":"text","text":"done"}]}}`, req.ID)
	default:
		// Notifications get no reply.
		return ""
	}
}

func TestSessionInitialize(t *testing.T) {
	srv := newScriptedServer(defaultReply)
	sess := NewSession(srv, nil)

	resp, err := sess.Initialize(context.Background(), Local(1))
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if resp.Result == nil {
		t.Fatal("no result")
	}

	// Give the initialized notification a moment to be written.
	deadline := time.Now().Add(time.Second)
	for {
		methods := srv.methods()
		if len(methods) >= 2 {
			if methods[0] != "initialize" || methods[1] != "notifications/initialized" {
				t.Errorf("methods = %v", methods)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("initialized notification never sent; methods = %v", srv.methods())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionInitializeErrorSkipsNotification(t *testing.T) {
	srv := newScriptedServer(func(method string, req Request) string {
		if method == "initialize" {
			return fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"error":{"code":-32600,"message":"unsupported"}}`, req.ID)
		}
		return ""
	})
	sess := NewSession(srv, nil)

	resp, err := sess.Initialize(context.Background(), Local(1))
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if resp.Error == nil {
		t.Fatal("expected rpc error")
	}
	if methods := srv.methods(); len(methods) != 1 {
		t.Errorf("methods = %v, want initialize only", methods)
	}
}

func TestSessionListTools(t *testing.T) {
	srv := newScriptedServer(defaultReply)
	sess := NewSession(srv, nil)

	tools, err := sess.ListTools(context.Background(), Local(1))
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "echo" {
		t.Errorf("tools = %+v", tools)
	}
	if tools[0].InputSchema["type"] != "object" {
		t.Errorf("schema = %v", tools[0].InputSchema)
	}
}

func TestSessionListToolsMalformedResult(t *testing.T) {
	srv := newScriptedServer(func(method string, req Request) string {
		return fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"result":"not an object"}`, req.ID)
	})
	sess := NewSession(srv, nil)

	tools, err := sess.ListTools(context.Background(), Local(1))
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 0 {
		t.Errorf("tools = %+v, want empty", tools)
	}
}

func TestSessionCallTool(t *testing.T) {
	var gotArgs map[string]any
	srv := newScriptedServer(func(method string, req Request) string {
		if method == "tools/call" {
			params, _ := req.Params.(map[string]any)
			if params != nil {
				gotArgs, _ = params["arguments"].(map[string]any)
			}
		}
		return defaultReply(method, req)
	})
	sess := NewSession(srv, nil)

	resp, err := sess.CallTool(context.Background(), Local(1), "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if resp.Result == nil {
		t.Error("no result")
	}
	if gotArgs["text"] != "hi" {
		t.Errorf("arguments = %v", gotArgs)
	}
}

func TestSessionTestConnection(t *testing.T) {
	ok := NewSession(newScriptedServer(defaultReply), nil)
	if !ok.TestConnection(context.Background(), Local(1)) {
		t.Error("expected healthy connection")
	}

	bad := NewSession(newScriptedServer(func(method string, req Request) string {
		if method == "initialize" {
			return fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"result":{}}`, req.ID)
		}
		return ""
	}), nil)
	if bad.TestConnection(context.Background(), Local(1)) {
		t.Error("missing protocolVersion should fail the check")
	}
}

func TestSessionReusesTransports(t *testing.T) {
	srv := newScriptedServer(defaultReply)
	sess := NewSession(srv, nil)

	a := sess.transport(Local(7))
	b := sess.transport(Local(7))
	if a != b {
		t.Error("pipe transport not cached per server id")
	}

	r1 := sess.transport(Remote("http://x", "k1"))
	r2 := sess.transport(Remote("http://x", "k1"))
	if r1 != r2 {
		t.Error("remote transport not cached per endpoint")
	}

	// A different endpoint or credential gets its own transport.
	if r1 == sess.transport(Remote("http://y", "k1")) {
		t.Error("distinct URLs share a transport")
	}
	if r1 == sess.transport(Remote("http://x", "k2")) {
		t.Error("distinct API keys share a transport")
	}
}
