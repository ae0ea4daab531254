package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewUnknownProvider(t *testing.T) {
	_, err := New("bedrock", "http://x", "", "m", nil)
	var upe *UnknownProviderError
	if !errors.As(err, &upe) {
		t.Fatalf("err = %v, want UnknownProviderError", err)
	}
	if upe.Provider != "bedrock" {
		t.Errorf("provider = %q", upe.Provider)
	}
}

func TestNewStripsChatCompletionsSuffix(t *testing.T) {
	for _, base := range []string{
		"http://host/v1",
		"http://host/v1/",
		"http://host/v1/chat/completions",
	} {
		c, err := New(ProviderOpenAI, base, "", "m", nil)
		if err != nil {
			t.Fatalf("New(%q): %v", base, err)
		}
		if c.baseURL != "http://host/v1" {
			t.Errorf("New(%q) baseURL = %q", base, c.baseURL)
		}
	}
}

func TestGenerate(t *testing.T) {
	var got chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"hello","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"search","arguments":"{\"query\":\"go\"}"}}
		]}}]}`)
	}))
	defer srv.Close()

	c, err := New(ProviderOpenAI, srv.URL+"/v1", "sk-test", "gpt-4o", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := c.Generate(context.Background(),
		[]Message{{Role: "user", Content: "hi"}},
		[]FunctionDef{{Name: "search", Parameters: map[string]any{"type": "object"}}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if auth != "Bearer sk-test" {
		t.Errorf("auth header = %q", auth)
	}
	if got.Model != "gpt-4o" || got.MaxTokens != 1000 || got.Temperature != 0.7 {
		t.Errorf("request params: model=%q max=%d temp=%v", got.Model, got.MaxTokens, got.Temperature)
	}
	if got.ToolChoice != "auto" || len(got.Tools) != 1 || got.Tools[0].Type != "function" {
		t.Errorf("tools not wired: choice=%q tools=%+v", got.ToolChoice, got.Tools)
	}

	if res.Content != "hello" {
		t.Errorf("content = %q", res.Content)
	}
	if len(res.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", res.ToolCalls)
	}
	tc := res.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "search" || tc.Arguments["query"] != "go" {
		t.Errorf("tool call = %+v", tc)
	}
}

func TestGenerateNoTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Tools != nil || req.ToolChoice != "" {
			t.Errorf("tools should be omitted: %+v %q", req.Tools, req.ToolChoice)
		}
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"plain"}}]}`)
	}))
	defer srv.Close()

	c, _ := New(ProviderOpenAI, srv.URL, "", "m", nil)
	res, err := c.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Content != "plain" || len(res.ToolCalls) != 0 {
		t.Errorf("res = %+v", res)
	}
}

func TestGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, _ := New(ProviderOpenAI, srv.URL, "sk-bad", "m", nil)
	_, err := c.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error on 401")
	}
}

func TestEncodeMessagesToolTurns(t *testing.T) {
	msgs := encodeMessages([]Message{
		{Role: "assistant", Content: "", ToolCalls: []ToolCall{
			{ID: "c1", Name: "search", Arguments: map[string]any{"query": "x"}},
		}},
		{Role: "tool", Content: `{"ok":true}`, ToolCallID: "c1"},
	})

	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if len(msgs[0].ToolCalls) != 1 || msgs[0].ToolCalls[0].Function.Name != "search" {
		t.Errorf("assistant turn = %+v", msgs[0])
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(msgs[0].ToolCalls[0].Function.Arguments), &args); err != nil {
		t.Fatalf("arguments not JSON: %v", err)
	}
	if args["query"] != "x" {
		t.Errorf("args = %v", args)
	}
	if msgs[1].ToolCallID != "c1" {
		t.Errorf("tool turn = %+v", msgs[1])
	}
}
