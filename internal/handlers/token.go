package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gluk-w/termgate/internal/audit"
	"github.com/gluk-w/termgate/internal/database"
	"github.com/gluk-w/termgate/internal/middleware"
	"github.com/gluk-w/termgate/internal/termtoken"
)

type terminalTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IssueTerminalToken mints a single-use terminal token for a VM the caller
// owns. Any token previously issued for the VM stops working.
// POST|GET /api/v1/vms/{vmId}/terminal-token
func (h *Handlers) IssueTerminalToken(w http.ResponseWriter, r *http.Request) {
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

	vm, err := database.GetOwnedVM(h.DB, vmID, user.ID)
	if errors.Is(err, database.ErrVMNotFound) {
		writeError(w, http.StatusForbidden, "Access denied or VM not found")
		return
	}
	if err != nil {
		log.Printf("Failed to look up vm %d: %v", vmID, err)
		writeError(w, http.StatusInternalServerError, "Failed to generate terminal token")
		return
	}

	tok, err := h.Tokens.Issue(r.Context(), vm.ID, user.Username)
	if err != nil {
		log.Printf("Failed to issue terminal token for vm %d: %v", vm.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to generate terminal token")
		return
	}

	audit.LogTokenIssued(vm.ID, user.Username, audit.ExtractSourceIP(r), termtoken.Redact(tok.Value))

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, terminalTokenResponse{Token: tok.Value, ExpiresAt: tok.ExpiresAt})
}
