package store

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/voicedesk/internal/dialogue"
	"github.com/ent0n29/voicedesk/internal/tenant"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when an appointment would overlap an active one.
	ErrConflict = errors.New("appointment overlaps an existing booking")
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// Appointment is a booked time range for one tenant.
type Appointment struct {
	ID            string            `json:"id"`
	TenantID      string            `json:"tenant_id"`
	CustomerName  string            `json:"customer_name"`
	CustomerPhone string            `json:"customer_phone,omitempty"`
	ServiceName   string            `json:"service_name,omitempty"`
	StartTime     time.Time         `json:"start_time"`
	EndTime       time.Time         `json:"end_time"`
	Status        AppointmentStatus `json:"status"`
	Source        string            `json:"source"`
	BookedBy      string            `json:"booked_by"`
	Notes         string            `json:"notes,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Active reports whether the appointment blocks its time range.
func (a Appointment) Active() bool {
	return a.Status == StatusScheduled || a.Status == StatusConfirmed
}

// Overlaps reports whether [start, end) intersects the appointment.
func (a Appointment) Overlaps(start, end time.Time) bool {
	return start.Before(a.EndTime) && end.After(a.StartTime)
}

// TurnRecord is one line of a call transcript.
type TurnRecord struct {
	ID          string    `json:"id"`
	CallID      string    `json:"call_id"`
	TenantID    string    `json:"tenant_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Sessions persists dialogue sessions keyed by (call id, tenant id).
type Sessions interface {
	LoadSession(ctx context.Context, callID, tenantID string) (dialogue.Session, error)
	SaveSession(ctx context.Context, s dialogue.Session) error
	ArchiveSession(ctx context.Context, callID, tenantID string) error
}

// Appointments lists and creates bookings. CreateAppointment returns
// ErrConflict when the range overlaps an active appointment of the tenant.
type Appointments interface {
	ListAppointments(ctx context.Context, tenantID string, from, to time.Time) ([]Appointment, error)
	CreateAppointment(ctx context.Context, a Appointment) (Appointment, error)
}

// Transcripts keeps the per-call turn log.
type Transcripts interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	CallTranscript(ctx context.Context, callID, tenantID string) ([]TurnRecord, error)
}

// Store is the complete persistence surface.
type Store interface {
	tenant.Directory
	Sessions
	Appointments
	Transcripts
	UpsertTenant(ctx context.Context, t tenant.Tenant) error
	Ping(ctx context.Context) error
	Close() error
}
