package httpapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
)

const defaultLogTailLines = 200

// handleLogTail godoc
// @Summary Tail the backend log sink
// @Produce plain
// @Param lines query int false "number of trailing lines" default(200)
// @Success 200 {string} string
// @Security AdminToken
// @Router /api/log [get]
func (s *Server) handleLogTail(w http.ResponseWriter, r *http.Request) {
	lines := defaultLogTailLines
	if v := r.URL.Query().Get("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "lines must be a positive integer")
			return
		}
		lines = n
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	data, err := os.ReadFile(s.opts.LogPath)
	if err != nil {
		// no log yet is not an error; the backend may never have started
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(tailLines(string(data), lines)))
}

// tailLines returns the last n lines of text, preserving the trailing
// newline if the input had one.
func tailLines(text string, n int) string {
	trimmed := strings.TrimSuffix(text, "\n")
	if trimmed == "" {
		return ""
	}
	split := strings.Split(trimmed, "\n")
	if len(split) > n {
		split = split[len(split)-n:]
	}
	out := strings.Join(split, "\n")
	if strings.HasSuffix(text, "\n") {
		out += "\n"
	}
	return out
}
