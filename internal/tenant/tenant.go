package tenant

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("tenant not found")

// Hours are the opening hours of one weekday in HH:MM local time.
type Hours struct {
	Open   string `json:"open"`
	Close  string `json:"close"`
	Closed bool   `json:"closed"`
}

// Service is a bookable catalog entry.
type Service struct {
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
}

// Tenant is the business a call belongs to. OpeningHours is keyed by the
// lowercase English weekday name ("monday").
type Tenant struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	AIName       string           `json:"ai_name,omitempty"`
	AgentID      string           `json:"agent_id,omitempty"`
	Timezone     string           `json:"timezone,omitempty"`
	OpeningHours map[string]Hours `json:"opening_hours"`
	Services     []Service        `json:"services"`
}

// Directory resolves tenants. Implementations return ErrNotFound for unknown ids.
type Directory interface {
	Tenant(ctx context.Context, id string) (Tenant, error)
	TenantByAgent(ctx context.Context, agentID string) (Tenant, error)
}

// Location returns the tenant's time zone, or fallback when unset or unknown.
func (t Tenant) Location(fallback *time.Location) *time.Location {
	if t.Timezone != "" {
		if loc, err := time.LoadLocation(t.Timezone); err == nil {
			return loc
		}
	}
	if fallback == nil {
		return time.UTC
	}
	return fallback
}

// HoursOn returns the configured hours for a weekday. ok is false when the
// day is closed or not configured.
func (t Tenant) HoursOn(day time.Weekday) (Hours, bool) {
	h, found := t.OpeningHours[strings.ToLower(day.String())]
	if !found || h.Closed || h.Open == "" || h.Close == "" {
		return h, false
	}
	return h, true
}

// ServiceNames lists the catalog in order.
func (t Tenant) ServiceNames() []string {
	names := make([]string, 0, len(t.Services))
	for _, s := range t.Services {
		names = append(names, s.Name)
	}
	return names
}

// ServiceDuration returns the configured duration of a service, matched
// case-insensitively, or fallback.
func (t Tenant) ServiceDuration(name string, fallback time.Duration) time.Duration {
	for _, s := range t.Services {
		if strings.EqualFold(s.Name, name) && s.DurationMinutes > 0 {
			return time.Duration(s.DurationMinutes) * time.Minute
		}
	}
	return fallback
}

// DisplayName is the name used in spoken greetings.
func (t Tenant) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.ID
}
