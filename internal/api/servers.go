package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/quillon/toolgate/internal/mcp"
	"github.com/quillon/toolgate/internal/store"
	"github.com/quillon/toolgate/internal/supervisor"
)

type createServerRequest struct {
	Name             string   `json:"name"`
	ServerType       string   `json:"server_type"`
	URL              string   `json:"url"`
	APIKey           string   `json:"api_key"`
	Command          string   `json:"command"`
	Args             []string `json:"args"`
	AutoStart        *bool    `json:"auto_start"`
	WorkingDirectory string   `json:"working_directory"`
}

func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var req createServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.errorResponse(w, http.StatusBadRequest, "name is required")
		return
	}

	autoStart := true
	if req.AutoStart != nil {
		autoStart = *req.AutoStart
	}

	switch req.ServerType {
	case store.ServerTypeLocal:
		s.createLocalServer(w, req, autoStart)
	case store.ServerTypeRemote, "":
		s.createRemoteServer(w, r, req)
	default:
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("unknown server type %q", req.ServerType))
	}
}

func (s *Server) createLocalServer(w http.ResponseWriter, req createServerRequest, autoStart bool) {
	if req.Command == "" {
		s.errorResponse(w, http.StatusBadRequest, "Command is required for local servers")
		return
	}
	if !supervisor.ValidateCommand(req.Command) {
		s.errorResponse(w, http.StatusBadRequest,
			fmt.Sprintf("Command not found or not executable: %s", req.Command))
		return
	}

	id, err := s.store.AddServer(store.NewServer{
		Name:             req.Name,
		ServerType:       store.ServerTypeLocal,
		Command:          req.Command,
		Args:             req.Args,
		AutoStart:        autoStart,
		WorkingDirectory: req.WorkingDirectory,
	})
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	// Registration never spawns the process; callers start it explicitly.
	s.setStatuses(id, store.StatusStopped, store.StatusStopped)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"id":      id,
		"message": "Local MCP server configured successfully",
	}, s.logger)
}

func (s *Server) createRemoteServer(w http.ResponseWriter, r *http.Request, req createServerRequest) {
	if req.URL == "" {
		s.errorResponse(w, http.StatusBadRequest, "URL is required for remote servers")
		return
	}

	target := mcp.Remote(req.URL, req.APIKey)
	if !s.session.TestConnection(r.Context(), target) {
		s.errorResponse(w, http.StatusBadRequest, "Failed to connect to MCP server")
		return
	}

	id, err := s.store.AddServer(store.NewServer{
		Name:       req.Name,
		ServerType: store.ServerTypeRemote,
		URL:        req.URL,
		APIKey:     req.APIKey,
	})
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.UpdateServerStatus(id, store.StatusConnected); err != nil {
		s.logger.Warn("failed to set server status", "server", id, "error", err)
	}

	// Discovery failure is not fatal; the server is registered either way.
	if err := s.discoverTools(r.Context(), id, target); err != nil {
		s.logger.Warn("tool discovery failed", "server", id, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"id":      id,
		"message": "MCP server connected successfully",
	}, s.logger)
}

// discoverTools lists the target's tools and persists them.
func (s *Server) discoverTools(ctx context.Context, id int64, target mcp.Target) error {
	tools, err := s.session.ListTools(ctx, target)
	if err != nil {
		return err
	}
	return s.persistTools(id, tools)
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.store.GetServers()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if servers == nil {
		servers = []store.Server{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, servers, s.logger)
}

type serverWithTools struct {
	store.Server
	Tools []store.Tool `json:"tools"`
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	srv, err := s.store.GetServer(id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if srv == nil {
		s.errorResponse(w, http.StatusNotFound, "Server not found")
		return
	}

	tools, err := s.store.GetServerTools(id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tools == nil {
		tools = []store.Tool{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, serverWithTools{Server: *srv, Tools: tools}, s.logger)
}

func (s *Server) handleToggleServer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.ToggleServerEnabled(id, req.Enabled); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	msg := "Server disabled"
	if req.Enabled {
		msg = "Server enabled"
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"message": msg}, s.logger)
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	srv, err := s.store.GetServer(id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if srv != nil && srv.ServerType == store.ServerTypeLocal {
		if err := s.procs.Stop(id); err != nil {
			s.logger.Warn("failed to stop server before delete", "server", id, "error", err)
		}
	}

	if err := s.store.DeleteServer(id); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"message": "Server deleted successfully"}, s.logger)
}

func (s *Server) handleStartServer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	srv, err := s.store.GetServer(id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if srv == nil {
		s.errorResponse(w, http.StatusNotFound, "Server not found")
		return
	}
	if srv.ServerType != store.ServerTypeLocal {
		s.errorResponse(w, http.StatusBadRequest, "Only local servers can be started")
		return
	}

	if err := s.procs.Start(id, srv.Name, srv.Command, srv.Args, srv.WorkingDirectory); err != nil {
		s.setStatuses(id, store.StatusError, store.StatusError)
		s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to start server: %v", err))
		return
	}

	s.setStatuses(id, store.StatusRunning, store.StatusConnected)

	w.Header().Set("Content-Type", "application/json")

	// The process is up; now speak MCP to it. Handshake or discovery
	// failure leaves the server running and is reported in the message.
	target := mcp.Local(id)
	init, err := s.session.Initialize(r.Context(), target)
	if err != nil || init == nil || init.Result == nil {
		s.logger.Warn("MCP handshake failed", "server", id, "error", err)
		writeJSON(w, map[string]string{
			"message": "Server started but MCP handshake failed - check server logs",
		}, s.logger)
		return
	}

	tools, err := s.session.ListTools(r.Context(), target)
	if err != nil {
		writeJSON(w, map[string]string{
			"message": fmt.Sprintf("Server started but tool discovery failed: %v", err),
		}, s.logger)
		return
	}
	if err := s.persistTools(id, tools); err != nil {
		writeJSON(w, map[string]string{
			"message": fmt.Sprintf("Server started but tool discovery failed: %v", err),
		}, s.logger)
		return
	}

	writeJSON(w, map[string]string{
		"message": fmt.Sprintf("Server started successfully with %d tools discovered", len(tools)),
	}, s.logger)
}

// setStatuses records the process and server status columns, logging
// write failures. Status bookkeeping never changes a handler's outcome.
func (s *Server) setStatuses(id int64, processStatus, serverStatus string) {
	if err := s.store.UpdateProcessStatus(id, processStatus); err != nil {
		s.logger.Warn("failed to update process status", "server", id, "error", err)
	}
	if err := s.store.UpdateServerStatus(id, serverStatus); err != nil {
		s.logger.Warn("failed to update server status", "server", id, "error", err)
	}
}

// persistTools stores discovered tool descriptors, serializing each
// input schema verbatim.
func (s *Server) persistTools(id int64, tools []mcp.ToolDescriptor) error {
	defs := make([]store.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			schema = []byte("{}")
		}
		defs = append(defs, store.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Schema:      string(schema),
		})
	}
	if len(defs) == 0 {
		return nil
	}
	return s.store.UpsertTools(id, defs)
}

func (s *Server) handleStopServer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	srv, err := s.store.GetServer(id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if srv == nil {
		s.errorResponse(w, http.StatusNotFound, "Server not found")
		return
	}
	if srv.ServerType != store.ServerTypeLocal {
		s.errorResponse(w, http.StatusBadRequest, "Only local servers can be stopped")
		return
	}

	if err := s.procs.Stop(id); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to stop server: %v", err))
		return
	}

	s.setStatuses(id, store.StatusStopped, store.StatusStopped)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"message": "Server stopped successfully"}, s.logger)
}

func (s *Server) handleServerHealth(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	srv, err := s.store.GetServer(id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if srv == nil {
		s.errorResponse(w, http.StatusNotFound, "Server not found")
		return
	}
	if srv.ServerType != store.ServerTypeLocal {
		s.errorResponse(w, http.StatusBadRequest, "Health check only available for local servers")
		return
	}

	health := s.procs.Health(id)
	if !health.Running {
		s.procs.CleanupDeadProcesses()
		serverStatus := store.StatusStopped
		if health.Status == supervisor.StatusExited && health.ExitCode != nil && *health.ExitCode != 0 {
			serverStatus = store.StatusError
		}
		s.setStatuses(id, store.StatusStopped, serverStatus)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, health, s.logger)
}

func (s *Server) handleAllServersHealth(w http.ResponseWriter, r *http.Request) {
	health := s.procs.AllHealth()
	cleaned := s.procs.CleanupDeadProcesses()

	// Reconcile database status for processes that died since the last
	// check.
	if cleaned > 0 {
		servers, err := s.store.GetServers()
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, srv := range servers {
			h, ok := health[srv.ID]
			if srv.ServerType != store.ServerTypeLocal || !ok || h.Running {
				continue
			}
			serverStatus := store.StatusStopped
			if h.ExitCode != nil && *h.ExitCode != 0 {
				serverStatus = store.StatusError
			}
			s.setStatuses(srv.ID, store.StatusStopped, serverStatus)
		}
	}

	// JSON object keys are strings; render ids accordingly.
	byID := make(map[string]supervisor.ProcessHealth, len(health))
	for id, h := range health {
		byID[strconv.FormatInt(id, 10)] = h
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"health_status":     byID,
		"cleaned_processes": cleaned,
	}, s.logger)
}

func (s *Server) handleToggleTool(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	enabled, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "enabled query parameter must be true or false")
		return
	}
	if err := s.store.ToggleToolEnabled(id, enabled); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	msg := "Tool disabled"
	if enabled {
		msg = "Tool enabled"
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"message": msg}, s.logger)
}
