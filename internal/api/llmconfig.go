package api

import (
	"encoding/json"
	"net/http"

	"github.com/quillon/toolgate/internal/store"
)

type createLLMConfigRequest struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	APIKey   string `json:"api_key"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

func (s *Server) handleCreateLLMConfig(w http.ResponseWriter, r *http.Request) {
	var req createLLMConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.URL == "" || req.Provider == "" || req.Model == "" {
		s.errorResponse(w, http.StatusBadRequest, "name, url, provider, and model are required")
		return
	}

	id, err := s.store.AddLLMConfig(req.Name, req.URL, req.APIKey, req.Provider, req.Model)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"id":      id,
		"message": "LLM configuration created successfully",
	}, s.logger)
}

func (s *Server) handleListLLMConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.store.GetLLMConfigs()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if configs == nil {
		configs = []store.LLMConfig{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, configs, s.logger)
}

func (s *Server) handleActivateLLMConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.SetActiveLLM(id); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"message": "LLM configuration activated"}, s.logger)
}

func (s *Server) handleDeleteLLMConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteLLMConfig(id); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"message": "LLM configuration deleted successfully"}, s.logger)
}
