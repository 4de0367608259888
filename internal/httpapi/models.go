package httpapi

import (
	"net/http"
	"strings"

	"chatd/pkg/types"
)

// handleReload godoc
// @Summary Hot-swap the active backend to a different model
// @Accept json
// @Produce json
// @Param request body types.ReloadRequest true "target model"
// @Success 200 {object} types.ReloadResponse
// @Failure 409 {object} types.ErrorResponse "a reload is already in flight"
// @Failure 500 {object} types.ErrorResponse "the replacement never became ready"
// @Security AdminToken
// @Router /api/models/reload [post]
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	var req types.ReloadRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeJSONError(w, http.StatusBadRequest, "model is required")
		return
	}
	// local artifacts win over hub ids of the same name
	model := s.models.Resolve(req.Model)
	port, err := s.coord.Reload(r.Context(), model, req.Revision)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ReloadResponse{OK: true, ActivePort: port})
}

// handleDownload godoc
// @Summary Fetch a model from the hub into the local models dir
// @Accept json
// @Produce json
// @Param request body types.DownloadRequest true "hub repo"
// @Success 200 {object} types.DownloadResponse
// @Failure 503 {object} types.ErrorResponse "no fetcher configured"
// @Security AdminToken
// @Router /api/models/download [post]
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req types.DownloadRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.RepoID) == "" {
		writeJSONError(w, http.StatusBadRequest, "repo_id is required")
		return
	}
	id, err := s.models.Download(r.Context(), req.RepoID, req.Revision)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.DownloadResponse{OK: true, LocalPath: s.models.Resolve(id)})
}

// handleUpload godoc
// @Summary Upload a model archive and unpack it locally
// @Accept mpfd
// @Produce json
// @Param name formData string true "model name"
// @Param file formData file true "zip or tar archive"
// @Success 200 {object} types.OKResponse
// @Security AdminToken
// @Router /api/models/upload [post]
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue("name")
	if strings.TrimSpace(name) == "" {
		writeJSONError(w, http.StatusBadRequest, "name field is required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if err := s.models.SaveArchive(name, header.Filename, file); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.OKResponse{OK: true})
}

// handleDeleteModel godoc
// @Summary Delete a local model artifact
// @Accept json
// @Produce json
// @Param request body types.DeleteModelRequest true "model name"
// @Success 200 {object} types.OKResponse
// @Failure 404 {object} types.ErrorResponse
// @Security AdminToken
// @Router /api/models/delete [post]
func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	var req types.DeleteModelRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := s.models.Delete(req.Model); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.OKResponse{OK: true})
}

// handleListModels godoc
// @Summary List local artifacts and the active backend's served models
// @Produce json
// @Success 200 {object} types.ModelsListResponse
// @Router /api/models/list [get]
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	local, err := s.models.ListLocal()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	// a dead or absent backend should not break the local listing
	online, err := s.relay.ListOnline(r.Context())
	if err != nil {
		s.log.Warn().Err(err).Msg("backend models listing failed")
		online = []types.OnlineModel{}
	}
	writeJSON(w, http.StatusOK, types.ModelsListResponse{Local: local, Online: online})
}
