package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/quillon/toolgate/internal/llm"
	"github.com/quillon/toolgate/internal/mcp"
	"github.com/quillon/toolgate/internal/repair"
	"github.com/quillon/toolgate/internal/store"
)

type chatRequest struct {
	Message             string        `json:"message"`
	ConversationHistory []llm.Message `json:"conversation_history"`
	LLMConfigID         int64         `json:"llm_config_id,omitempty"`
	ExcludeTools        bool          `json:"exclude_tools,omitempty"`
}

type chatResponse struct {
	Response  string         `json:"response"`
	ToolCalls []llm.ToolCall `json:"tool_calls"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	config, ok := s.resolveLLMConfig(w, req.LLMConfigID)
	if !ok {
		return
	}

	apiKey, err := s.store.LLMConfigAPIKey(config.ID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if apiKey == "" {
		s.errorResponse(w, http.StatusBadRequest,
			"LLM configuration API key not found or is invalid. Please re-configure your API key in Settings.")
		return
	}

	client, err := llm.New(config.Provider, config.URL, apiKey, config.Model, s.logger)
	if err != nil {
		var upe *llm.UnknownProviderError
		if errors.As(err, &upe) {
			s.errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	var tools []llm.FunctionDef
	if !req.ExcludeTools {
		tools, err = s.enabledTools()
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	messages := append([]llm.Message{}, req.ConversationHistory...)
	messages = append(messages, llm.Message{Role: "user", Content: req.Message})

	result, err := client.Generate(r.Context(), messages, tools)
	if err != nil {
		s.logger.Error("llm generation failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, chatResponse{
		Response:  result.Content,
		ToolCalls: result.ToolCalls,
	}, s.logger)
}

// resolveLLMConfig picks the requested config, or the active one when no
// id was given. Writes the error response itself on failure.
func (s *Server) resolveLLMConfig(w http.ResponseWriter, id int64) (*store.LLMConfig, bool) {
	if id != 0 {
		config, err := s.store.GetLLMConfig(id)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return nil, false
		}
		if config == nil {
			s.errorResponse(w, http.StatusBadRequest, "LLM configuration not found")
			return nil, false
		}
		return config, true
	}

	config, err := s.store.ActiveLLMConfig()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if config == nil {
		s.errorResponse(w, http.StatusBadRequest,
			"No active LLM configuration found. Please configure and activate an LLM provider.")
		return nil, false
	}
	return config, true
}

// enabledTools gathers the enabled tools of every enabled, connected
// server as function definitions for the LLM.
func (s *Server) enabledTools() ([]llm.FunctionDef, error) {
	servers, err := s.store.GetServers()
	if err != nil {
		return nil, err
	}

	var defs []llm.FunctionDef
	for _, srv := range servers {
		if !srv.IsEnabled || srv.Status != store.StatusConnected {
			continue
		}
		tools, err := s.store.GetServerTools(srv.ID)
		if err != nil {
			return nil, err
		}
		for _, t := range tools {
			if !t.IsEnabled {
				continue
			}
			var schema map[string]any
			if err := json.Unmarshal([]byte(t.Schema), &schema); err != nil || schema == nil {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			defs = append(defs, llm.FunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			})
		}
	}
	return defs, nil
}

type toolCallRequest struct {
	ServerID   int64          `json:"server_id"`
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
}

type toolCallResponse struct {
	Success bool   `json:"success"`
	Result  any    `json:"result"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req toolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	srv, err := s.store.GetServer(req.ServerID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if srv == nil {
		s.errorResponse(w, http.StatusNotFound, "Server not found")
		return
	}

	var target mcp.Target
	if srv.ServerType == store.ServerTypeLocal {
		target = mcp.Local(srv.ID)
	} else {
		apiKey, err := s.store.ServerAPIKey(srv.ID)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		target = mcp.Remote(srv.URL, apiKey)
	}

	w.Header().Set("Content-Type", "application/json")

	result, errMsg := s.callTool(r.Context(), target, req.ToolName, req.Parameters)
	if errMsg == "" {
		writeJSON(w, toolCallResponse{Success: true, Result: result}, s.logger)
		return
	}

	// Validation failures get one repair attempt. The original error is
	// reported if the retry fails too.
	if isValidationError(errMsg) {
		if c := repair.Analyze(errMsg, req.Parameters, s.logger); c != nil {
			s.logger.Info("retrying tool call with corrected parameters",
				"tool", req.ToolName, "transformation", c.Transformation)
			retryResult, retryErr := s.callTool(r.Context(), target, req.ToolName, c.Corrected)
			if retryErr == "" {
				writeJSON(w, toolCallResponse{Success: true, Result: retryResult}, s.logger)
				return
			}
		}
	}

	writeJSON(w, toolCallResponse{Success: false, Error: errMsg}, s.logger)
}

// callTool performs one tools/call round trip. Returns the decoded
// result on success, or a non-empty error message on any failure.
func (s *Server) callTool(ctx context.Context, target mcp.Target, name string, params map[string]any) (any, string) {
	resp, err := s.session.CallTool(ctx, target, name, params)
	if err != nil {
		return nil, err.Error()
	}
	if resp.Error != nil {
		return nil, resp.Error.Message
	}
	if resp.Result == nil {
		return nil, "Invalid response format from MCP server"
	}

	var result any
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, "Invalid response format from MCP server"
	}
	return result, ""
}

func isValidationError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "invalid") ||
		strings.Contains(lower, "required") ||
		strings.Contains(lower, "expected")
}
