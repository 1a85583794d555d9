package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/voicedesk/internal/dialogue"
	"github.com/ent0n29/voicedesk/internal/tenant"
)

type sessionKey struct {
	callID   string
	tenantID string
}

type storedSession struct {
	session  dialogue.Session
	archived bool
}

// InMemoryStore is an in-process store for local/dev use and tests.
// CreateAppointment checks and inserts under one lock, so it enforces the same
// no-overlap guarantee as the database constraint.
type InMemoryStore struct {
	mu           sync.RWMutex
	tenants      map[string]tenant.Tenant
	sessions     map[sessionKey]storedSession
	appointments map[string][]Appointment
	turns        map[sessionKey][]TurnRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tenants:      make(map[string]tenant.Tenant),
		sessions:     make(map[sessionKey]storedSession),
		appointments: make(map[string][]Appointment),
		turns:        make(map[sessionKey][]TurnRecord),
	}
}

func (s *InMemoryStore) UpsertTenant(_ context.Context, t tenant.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
	return nil
}

func (s *InMemoryStore) Tenant(_ context.Context, id string) (tenant.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	return t, nil
}

func (s *InMemoryStore) TenantByAgent(_ context.Context, agentID string) (tenant.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tenants {
		if agentID != "" && t.AgentID == agentID {
			return t, nil
		}
	}
	return tenant.Tenant{}, tenant.ErrNotFound
}

func (s *InMemoryStore) LoadSession(_ context.Context, callID, tenantID string) (dialogue.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[sessionKey{callID, tenantID}]
	if !ok {
		return dialogue.Session{}, ErrNotFound
	}
	return st.session.Clone(), nil
}

func (s *InMemoryStore) SaveSession(_ context.Context, sess dialogue.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey{sess.CallID, sess.TenantID}
	st := s.sessions[key]
	st.session = sess.Clone()
	s.sessions[key] = st
	return nil
}

func (s *InMemoryStore) ArchiveSession(_ context.Context, callID, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey{callID, tenantID}
	st, ok := s.sessions[key]
	if !ok {
		return ErrNotFound
	}
	st.archived = true
	s.sessions[key] = st
	return nil
}

// Archived reports whether a session was archived.
func (s *InMemoryStore) Archived(callID, tenantID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[sessionKey{callID, tenantID}].archived
}

func (s *InMemoryStore) ListAppointments(_ context.Context, tenantID string, from, to time.Time) ([]Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Appointment
	for _, a := range s.appointments[tenantID] {
		if a.Active() && a.Overlaps(from, to) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *InMemoryStore) CreateAppointment(_ context.Context, a Appointment) (Appointment, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.appointments[a.TenantID] {
		if existing.Active() && (existing.StartTime.Equal(a.StartTime) || existing.Overlaps(a.StartTime, a.EndTime)) {
			return Appointment{}, ErrConflict
		}
	}
	s.appointments[a.TenantID] = append(s.appointments[a.TenantID], a)
	return a, nil
}

func (s *InMemoryStore) SaveTurn(_ context.Context, record TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	key := sessionKey{record.CallID, record.TenantID}
	s.turns[key] = append(s.turns[key], record)
	return nil
}

func (s *InMemoryStore) CallTranscript(_ context.Context, callID, tenantID string) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.turns[sessionKey{callID, tenantID}]
	out := make([]TurnRecord, len(arr))
	copy(out, arr)
	return out, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
