// Package llm invokes chat-completion providers on behalf of the chat
// endpoint, carrying tool definitions out and normalized tool calls back.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quillon/toolgate/internal/httpkit"
)

// Providers understood by New. Only OpenAI-compatible endpoints are
// implemented; the provider column exists so other backends can be added
// without a schema change.
const (
	ProviderOpenAI = "openai"
)

// UnknownProviderError is returned by New for providers the client
// cannot speak to.
type UnknownProviderError struct {
	Provider string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown llm provider %q", e.Provider)
}

// Message is one chat turn. ToolCalls is set on assistant turns that
// requested tools; ToolCallID on tool-result turns.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a normalized tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// FunctionDef describes one callable tool in the request.
type FunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Result is a normalized completion. ToolCalls is never nil.
type Result struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls"`
}

const requestTimeout = 120 * time.Second

// Client talks to one configured provider endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// New builds a client for the given provider. The base URL may point at
// either the API root or the chat/completions path; a trailing
// /chat/completions is stripped so stored URLs of both shapes work.
func New(provider, baseURL, apiKey, model string, logger *slog.Logger) (*Client, error) {
	if provider != ProviderOpenAI {
		return nil, &UnknownProviderError{Provider: provider}
	}
	if logger == nil {
		logger = slog.Default()
	}

	baseURL = strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/chat/completions")

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(requestTimeout)),
		logger:     logger,
	}, nil
}

// Wire types for the OpenAI chat completions API.

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Tools       []wireTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate sends the conversation to the provider and returns the
// normalized completion. When tools are supplied the model chooses
// whether to call them.
func (c *Client) Generate(ctx context.Context, messages []Message, tools []FunctionDef) (*Result, error) {
	req := chatRequest{
		Model:       c.model,
		Messages:    encodeMessages(messages),
		MaxTokens:   1000,
		Temperature: 0.7,
	}
	if len(tools) > 0 {
		req.Tools = make([]wireTool, 0, len(tools))
		for _, fn := range tools {
			req.Tools = append(req.Tools, wireTool{Type: "function", Function: fn})
		}
		req.ToolChoice = "auto"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("llm request", "model", c.model, "messages", len(messages), "tools", len(tools))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm request: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("llm returned %s: %s", resp.Status, httpkit.ReadErrorBody(resp.Body, 1<<20))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("decode llm response: %w", err)
	}
	if cr.Error != nil {
		return nil, fmt.Errorf("llm error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("llm response has no choices")
	}

	return decodeResult(cr.Choices[0].Message)
}

func encodeMessages(messages []Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			wc := wireToolCall{ID: tc.ID, Type: "function"}
			wc.Function.Name = tc.Name
			wc.Function.Arguments = string(args)
			wm.ToolCalls = append(wm.ToolCalls, wc)
		}
		out = append(out, wm)
	}
	return out
}

func decodeResult(msg wireMessage) (*Result, error) {
	res := &Result{
		Content:   msg.Content,
		ToolCalls: []ToolCall{},
	}
	for _, wc := range msg.ToolCalls {
		call := ToolCall{ID: wc.ID, Name: wc.Function.Name}
		if wc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(wc.Function.Arguments), &call.Arguments); err != nil {
				return nil, fmt.Errorf("decode tool call arguments for %s: %w", wc.Function.Name, err)
			}
		}
		if call.Arguments == nil {
			call.Arguments = map[string]any{}
		}
		res.ToolCalls = append(res.ToolCalls, call)
	}
	return res, nil
}
