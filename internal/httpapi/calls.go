package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/voicedesk/internal/auth"
	"github.com/ent0n29/voicedesk/internal/logging"
	"github.com/ent0n29/voicedesk/internal/session"
	"github.com/ent0n29/voicedesk/internal/store"
)

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	calls := s.deps.Registry.List()
	if id, ok := auth.TenantID(r.Context()); ok {
		calls = filterCalls(calls, id)
	} else if id := strings.TrimSpace(r.URL.Query().Get("tenant_id")); id != "" {
		calls = filterCalls(calls, id)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"active": s.deps.Registry.ActiveCount(),
		"calls":  calls,
	})
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	call, ok := s.lookupCall(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, call)
}

// handleCallTranscript returns the persisted turns of a call. {id} is a
// registry id, or a conversation id when tenant_id is given.
func (s *Server) handleCallTranscript(w http.ResponseWriter, r *http.Request) {
	if s.deps.Transcripts == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "transcripts are not configured")
		return
	}
	id := chi.URLParam(r, "id")
	conversationID, tenantID := id, strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	if call, err := s.deps.Registry.Get(id); err == nil {
		conversationID, tenantID = call.ConversationID(), call.TenantID
	}
	if tokenTenant, ok := auth.TenantID(r.Context()); ok {
		if tenantID != "" && tenantID != tokenTenant {
			respondError(w, http.StatusNotFound, "call_not_found", session.ErrNotFound.Error())
			return
		}
		tenantID = tokenTenant
	}
	if tenantID == "" {
		respondError(w, http.StatusBadRequest, "missing_tenant_id", "query parameter tenant_id is required for unknown calls")
		return
	}

	turns, err := s.deps.Transcripts.CallTranscript(r.Context(), conversationID, tenantID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logging.From(r.Context()).Error("transcript read failed", "error", err)
		respondError(w, http.StatusBadGateway, "transcript_unavailable", err.Error())
		return
	}
	if turns == nil {
		turns = []store.TurnRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"tenant_id":       tenantID,
		"turns":           turns,
	})
}

func (s *Server) lookupCall(w http.ResponseWriter, r *http.Request) (session.Call, bool) {
	call, err := s.deps.Registry.Get(chi.URLParam(r, "id"))
	if err == nil {
		if id, ok := auth.TenantID(r.Context()); ok && call.TenantID != id {
			err = session.ErrNotFound
		}
	}
	if err != nil {
		respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		return session.Call{}, false
	}
	return call, true
}

func filterCalls(calls []session.Call, tenantID string) []session.Call {
	out := make([]session.Call, 0, len(calls))
	for _, c := range calls {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out
}
