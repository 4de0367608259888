package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"chatd/pkg/types"
)

// handleListSessions godoc
// @Summary List sessions, newest first
// @Produce json
// @Success 200 {array} types.Session
// @Router /api/sessions [get]
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handleCreateSession godoc
// @Summary Create a session
// @Accept json
// @Produce json
// @Param request body types.CreateSessionRequest true "session"
// @Success 200 {object} types.CreatedResponse
// @Router /api/sessions [post]
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req types.CreateSessionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	sess, err := s.store.CreateSession(r.Context(), req.Title, req.Model, req.System)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.CreatedResponse{ID: sess.ID})
}

// handleListMessages godoc
// @Summary List a session's messages in insertion order
// @Produce json
// @Success 200 {array} types.Message
// @Failure 404 {object} types.ErrorResponse
// @Router /api/sessions/{id}/messages [get]
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	// missing session and empty session both list as empty in the original
	// UI; resolve the session first so a bogus id is a 404, not [].
	if _, err := s.store.GetSession(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	msgs, err := s.store.ListMessages(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handleDeleteSession godoc
// @Summary Delete a session and its messages
// @Produce json
// @Success 200 {object} types.OKResponse
// @Failure 404 {object} types.ErrorResponse
// @Router /api/sessions/{id} [delete]
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.OKResponse{OK: true})
}

// handleRenameSession godoc
// @Summary Rename a session
// @Accept json
// @Produce json
// @Param request body types.RenameSessionRequest true "new title"
// @Success 200 {object} types.OKResponse
// @Failure 404 {object} types.ErrorResponse
// @Router /api/sessions/{id}/rename [post]
func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	var req types.RenameSessionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeJSONError(w, http.StatusBadRequest, "title is required")
		return
	}
	if err := s.store.RenameSession(r.Context(), chi.URLParam(r, "id"), req.Title); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.OKResponse{OK: true})
}

// handleExportSession godoc
// @Summary Export a session transcript as a JSON attachment
// @Produce json
// @Success 200 {object} types.SessionExport
// @Failure 404 {object} types.ErrorResponse
// @Router /api/sessions/{id}/export [get]
func (s *Server) handleExportSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	export, err := s.store.ExportSession(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="session-%s.json"`, id))
	_ = json.NewEncoder(w).Encode(export)
}

// handleImportSession godoc
// @Summary Import a previously exported session transcript
// @Accept mpfd
// @Produce json
// @Success 200 {object} types.CreatedResponse
// @Router /api/sessions/import [post]
func (s *Server) handleImportSession(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	var export types.SessionExport
	if err := json.NewDecoder(file).Decode(&export); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid export file")
		return
	}
	if err := s.store.ImportSession(r.Context(), export); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.CreatedResponse{ID: export.Session.ID})
}

// handleCreateTemplate godoc
// @Summary Create a prompt template
// @Accept json
// @Produce json
// @Param request body types.CreateTemplateRequest true "template"
// @Success 200 {object} types.CreatedResponse
// @Router /api/templates [post]
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req types.CreateTemplateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}
	tpl, err := s.store.CreateTemplate(r.Context(), req.Name, req.Prompt)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.CreatedResponse{ID: tpl.ID})
}

// handleListTemplates godoc
// @Summary List prompt templates, newest first
// @Produce json
// @Success 200 {array} types.Template
// @Router /api/templates [get]
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := s.store.ListTemplates(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpls)
}

// handleDeleteTemplate godoc
// @Summary Delete a prompt template
// @Produce json
// @Success 200 {object} types.OKResponse
// @Failure 404 {object} types.ErrorResponse
// @Router /api/templates/{id} [delete]
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTemplate(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.OKResponse{OK: true})
}
