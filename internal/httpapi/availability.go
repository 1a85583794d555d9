package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/voicedesk/internal/auth"
	"github.com/ent0n29/voicedesk/internal/logging"
	"github.com/ent0n29/voicedesk/internal/tenant"
)

// handleAvailability lists the slots of a day, or checks one slot when time
// is given. date defaults to today in the tenant's time zone.
func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	if s.deps.Checker == nil || s.deps.Tenants == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "availability is not configured")
		return
	}
	q := r.URL.Query()
	tenantID := strings.TrimSpace(q.Get("tenant_id"))
	if id, ok := auth.TenantID(r.Context()); ok {
		if tenantID != "" && tenantID != id {
			respondError(w, http.StatusForbidden, "tenant_mismatch", "token does not grant access to tenant_id")
			return
		}
		tenantID = id
	}
	if tenantID == "" {
		respondError(w, http.StatusBadRequest, "missing_tenant_id", "query parameter tenant_id is required")
		return
	}

	t, err := s.deps.Tenants.Tenant(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			respondError(w, http.StatusNotFound, "tenant_not_found", err.Error())
			return
		}
		logging.From(r.Context()).Error("tenant lookup failed", "error", err)
		respondError(w, http.StatusBadGateway, "tenant_lookup_failed", err.Error())
		return
	}

	date := strings.TrimSpace(q.Get("date"))
	if date == "" {
		date = s.deps.Now().In(t.Location(s.cfg.Location())).Format("2006-01-02")
	}
	duration := t.ServiceDuration(q.Get("service"), time.Duration(s.cfg.DefaultAppointmentMinutes)*time.Minute)
	if s.deps.Booker != nil {
		duration = s.deps.Booker.Duration(t, q.Get("service"))
	}

	if clock := strings.TrimSpace(q.Get("time")); clock != "" {
		res, err := s.deps.Checker.Check(r.Context(), t, date, clock, duration)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_slot", err.Error())
			return
		}
		respondJSON(w, http.StatusOK, res)
		return
	}

	day, err := s.deps.Checker.Slots(r.Context(), t, date, duration)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, day)
}
