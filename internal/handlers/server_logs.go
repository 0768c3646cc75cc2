package handlers

import (
	"net/http"
	"strconv"

	"github.com/gluk-w/termgate/internal/logging"
)

const maxLogLines = 5000

func (h *Handlers) GetServerLogs(w http.ResponseWriter, r *http.Request) {
	lines := 200
	if q := r.URL.Query().Get("lines"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			lines = n
		}
	}
	if lines > maxLogLines {
		lines = maxLogLines
	}

	content, err := logging.ReadTail(lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read server logs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"logs": content})
}
