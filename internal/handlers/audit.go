package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gluk-w/termgate/internal/audit"
	"github.com/gluk-w/termgate/internal/database"
	"github.com/gluk-w/termgate/internal/middleware"
)

// GetVMAuditLogs returns the terminal audit trail of a VM the caller owns.
// GET /api/v1/vms/{vmId}/terminal-audit
//
// Query parameters:
//
//	event_type - filter by event type
//	session_id - filter by gateway session
//	since      - RFC3339 timestamp, only entries after this time
//	until      - RFC3339 timestamp, only entries before this time
//	limit      - max entries to return (default 50, max 1000)
//	offset     - pagination offset
func (h *Handlers) GetVMAuditLogs(w http.ResponseWriter, r *http.Request) {
	auditor := audit.GetAuditor()
	if auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit system not initialized")
		return
	}

	user := middleware.GetUser(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	vmID, ok := vmIDParam(r)
	if !ok {
		writeError(w, http.StatusForbidden, "Access denied or VM not found")
		return
	}
	if _, err := database.GetOwnedVM(h.DB, vmID, user.ID); err != nil {
		if errors.Is(err, database.ErrVMNotFound) {
			writeError(w, http.StatusForbidden, "Access denied or VM not found")
		} else {
			writeError(w, http.StatusInternalServerError, "Failed to query audit logs")
		}
		return
	}

	opts := audit.QueryOptions{VMID: vmID}

	if v := r.URL.Query().Get("event_type"); v != "" {
		opts.EventType = v
	}
	if v := r.URL.Query().Get("session_id"); v != "" {
		opts.SessionID = v
	}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since timestamp (use RFC3339)")
			return
		}
		opts.Since = &t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid until timestamp (use RFC3339)")
			return
		}
		opts.Until = &t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		opts.Offset = n
	}

	result, err := auditor.Query(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
