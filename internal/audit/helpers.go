package audit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// LogTokenIssued records a terminal token being issued for vmID.
func LogTokenIssued(vmID uint, username, sourceIP, redactedToken string) {
	if a := GetAuditor(); a != nil {
		a.Log(Entry{
			VMID:      vmID,
			EventType: EventTokenIssued,
			Username:  username,
			SourceIP:  sourceIP,
			Details:   "token=" + redactedToken,
		})
	}
}

// LogTokenRejected records a failed redemption during negotiation.
func LogTokenRejected(vmID uint, username, sourceIP, sessionID, reason string) {
	if a := GetAuditor(); a != nil {
		a.Log(Entry{
			VMID:      vmID,
			SessionID: sessionID,
			EventType: EventTokenRejected,
			Username:  username,
			SourceIP:  sourceIP,
			Details:   reason,
		})
	}
}

// LogSessionStart records a relay reaching the ready state.
func LogSessionStart(vmID uint, username, sourceIP, sessionID string, rows, cols uint16) {
	if a := GetAuditor(); a != nil {
		a.Log(Entry{
			VMID:      vmID,
			SessionID: sessionID,
			EventType: EventSessionStart,
			Username:  username,
			SourceIP:  sourceIP,
			Details:   fmt.Sprintf("size=%dx%d", cols, rows),
		})
	}
}

// LogSessionEnd records the teardown of a ready session.
func LogSessionEnd(vmID uint, username, sessionID, reason string, durationMs int64) {
	if a := GetAuditor(); a != nil {
		a.Log(Entry{
			VMID:       vmID,
			SessionID:  sessionID,
			EventType:  EventSessionEnd,
			Username:   username,
			Details:    reason,
			DurationMs: durationMs,
		})
	}
}

// LogBackendConnectFailed records a backend channel that could not be opened.
func LogBackendConnectFailed(vmID uint, username, sessionID, reason string) {
	if a := GetAuditor(); a != nil {
		a.Log(Entry{
			VMID:      vmID,
			SessionID: sessionID,
			EventType: EventBackendConnectFailed,
			Username:  username,
			Details:   reason,
		})
	}
}

// ExtractSourceIP extracts the client IP from an HTTP request,
// preferring X-Forwarded-For and X-Real-IP headers.
func ExtractSourceIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
