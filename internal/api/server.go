// Package api implements the management HTTP API: MCP server
// registration and lifecycle, tool discovery and invocation, LLM
// provider configuration, and chat.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/quillon/toolgate/internal/buildinfo"
	"github.com/quillon/toolgate/internal/mcp"
	"github.com/quillon/toolgate/internal/store"
	"github.com/quillon/toolgate/internal/supervisor"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	store   *store.Store
	procs   *supervisor.Supervisor
	session *mcp.Session
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, st *store.Store, procs *supervisor.Supervisor, session *mcp.Session, logger *slog.Logger) *Server {
	return &Server{
		address: address,
		port:    port,
		store:   st,
		procs:   procs,
		session: session,
		logger:  logger,
	}
}

// routes builds the request mux. Split out from Start so tests can
// exercise handlers without a listening socket.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)

	// LLM provider configuration
	mux.HandleFunc("POST /api/llm/config", s.handleCreateLLMConfig)
	mux.HandleFunc("GET /api/llm/configs", s.handleListLLMConfigs)
	mux.HandleFunc("POST /api/llm/config/{id}/activate", s.handleActivateLLMConfig)
	mux.HandleFunc("DELETE /api/llm/config/{id}", s.handleDeleteLLMConfig)

	// MCP server lifecycle
	mux.HandleFunc("POST /api/mcp/servers", s.handleCreateServer)
	mux.HandleFunc("GET /api/mcp/servers", s.handleListServers)
	mux.HandleFunc("GET /api/mcp/servers/health/all", s.handleAllServersHealth)
	mux.HandleFunc("GET /api/mcp/servers/{id}", s.handleGetServer)
	mux.HandleFunc("POST /api/mcp/servers/{id}/toggle", s.handleToggleServer)
	mux.HandleFunc("DELETE /api/mcp/servers/{id}", s.handleDeleteServer)
	mux.HandleFunc("POST /api/mcp/servers/{id}/start", s.handleStartServer)
	mux.HandleFunc("POST /api/mcp/servers/{id}/stop", s.handleStopServer)
	mux.HandleFunc("GET /api/mcp/servers/{id}/health", s.handleServerHealth)

	// Tools
	mux.HandleFunc("POST /api/mcp/tools/{id}/toggle", s.handleToggleTool)
	mux.HandleFunc("POST /api/mcp/call-tool", s.handleCallTool)

	// Chat
	mux.HandleFunc("POST /api/chat", s.handleChat)

	mux.HandleFunc("GET /", s.handleRoot)

	return mux
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.withLogging(s.routes()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // tool calls and LLM turns can be slow
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

// pathID parses the {id} path segment. Returns false after writing a 400
// when the segment is not an integer.
func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "toolgate",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}
