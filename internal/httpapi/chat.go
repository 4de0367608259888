package httpapi

import (
	"net/http"

	"chatd/pkg/types"
)

// handleChat godoc
// @Summary Chat without streaming
// @Accept json
// @Produce json
// @Param request body types.ChatRequest true "chat turn"
// @Success 200 {object} types.ChatResponse
// @Failure 503 {object} types.ErrorResponse "no backend available"
// @Router /api/chat [post]
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "messages are required")
		return
	}
	resp, err := s.relay.Complete(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleChatStream godoc
// @Summary Chat as a server-sent event stream
// @Accept json
// @Produce text/event-stream
// @Param request body types.ChatRequest true "chat turn"
// @Success 200 {string} string "data: {type: token|tool|error|done}"
// @Router /api/chat/stream [post]
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "messages are required")
		return
	}

	sse := newSSEWriter(w)
	err := s.relay.Stream(r.Context(), req, sse.writeEvent)
	if err == nil {
		return
	}
	// Setup failures (unknown session, no backend) happen before any event
	// is written, so a JSON error response is still possible here. writeEvent
	// resets the content type once the stream actually starts.
	writeServiceError(w, err)
}
