package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/maestrolab/maestro/internal/agents"
)

// handleListAgents returns every registered descriptor, inactive ones
// included.
// GET /agents
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	list := s.store.List()
	s.writeJSON(w, http.StatusOK, struct {
		Success bool                 `json:"success"`
		Agents  []*agents.Descriptor `json:"agents"`
		Count   int                  `json:"count"`
	}{true, list, len(list)})
}

// handleRegisterAgent validates and stores a descriptor. Re-registering
// an existing agent_id replaces it.
// POST /agents/register
func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var d agents.Descriptor
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "")
		return
	}
	if err := s.store.Register(&d); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	stored, _ := s.store.Get(d.AgentID)
	s.writeJSON(w, http.StatusCreated, struct {
		Success bool               `json:"success"`
		Agent   *agents.Descriptor `json:"agent"`
	}{true, stored})
}

// handleUnregisterAgent removes a descriptor by id.
// DELETE /agents/{id}
func (s *Server) handleUnregisterAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Unregister(id); err != nil {
		if errors.Is(err, agents.ErrAgentNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error()+": "+id, "")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		AgentID string `json:"agent_id"`
	}{true, id})
}
