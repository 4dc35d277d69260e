// Package api is the HTTP surface of the moderation engine. The block and
// restricted response bodies are stable, documented contracts: the mobile
// client branches UI behavior on the `code` field and on HTTP 403.
package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// BlockResponse is the 400 body returned when a message is blocked.
type BlockResponse struct {
	Error       string   `json:"error"`
	Code        string   `json:"code"` // CONTACT_INFO_NOT_ALLOWED | MESSAGE_BLOCKED
	Blocked     bool     `json:"blocked"`
	ReasonCodes []string `json:"reasonCodes"`
	AppealURL   string   `json:"appealUrl"`
}

// RestrictedResponse is the 403 body returned to a restricted account.
type RestrictedResponse struct {
	Message         string    `json:"message"`
	RestrictedUntil time.Time `json:"restrictedUntil"`
}

// AcceptedResponse is the 202 body for a message that passed moderation.
// The caller persists the message; this engine only rules on it.
type AcceptedResponse struct {
	Accepted     bool   `json:"accepted"`
	AppliedScore int    `json:"appliedScore"`
	BypassReason string `json:"bypassReason,omitempty"`
}

// errorBody is the generic error envelope for non-contract failures.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeBadRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: detail})
}
