package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ent0n29/voicedesk/internal/auth"
	"github.com/ent0n29/voicedesk/internal/engine"
	"github.com/ent0n29/voicedesk/internal/logging"
	"github.com/ent0n29/voicedesk/internal/protocol"
)

// handleTurn is the business-logic boundary used by remote call runners.
// Unknown tenants answer 404 but still carry a speakable response.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req protocol.TurnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.ConversationID = strings.TrimSpace(req.ConversationID)

	if tokenTenant, ok := auth.TenantID(r.Context()); ok {
		if req.BusinessID == "" {
			req.BusinessID = tokenTenant
		}
		if req.BusinessID != tokenTenant {
			respondError(w, http.StatusForbidden, "tenant_mismatch", "token does not grant access to business_id")
			return
		}
	}
	if req.BusinessID == "" || req.ConversationID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "business_id and conversation_id are required")
		return
	}

	resp, err := s.deps.Engine.HandleTurn(r.Context(), req)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, resp)
	case errors.Is(err, engine.ErrUnknownTenant):
		respondJSON(w, http.StatusNotFound, resp)
	default:
		logging.From(r.Context()).Error("turn failed", "error", err, "conversation_id", req.ConversationID)
		respondJSON(w, http.StatusOK, resp)
	}
}
