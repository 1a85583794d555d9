// Package booking turns a confirmed dialogue into exactly one appointment.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ent0n29/voicedesk/internal/dialogue"
	"github.com/ent0n29/voicedesk/internal/store"
	"github.com/ent0n29/voicedesk/internal/tenant"
)

var (
	// ErrMissingFields is returned when name, date or time is empty.
	ErrMissingFields = errors.New("booking requires name, date and time")
	// ErrSlotJustBooked is returned when the slot was taken between the
	// availability check and the insert.
	ErrSlotJustBooked = errors.New("slot was just booked")
)

const (
	SourcePhone = "phone"
	SourceChat  = "chat"

	bookedByAI = "ai"
)

// Request describes one booking attempt.
type Request struct {
	Tenant tenant.Tenant
	CallID string
	Slots  dialogue.Slots
	Source string
}

// Booker inserts appointments with an overlap pre-check. The storage
// constraint settles races the pre-check cannot see.
type Booker struct {
	appointments    store.Appointments
	location        *time.Location
	defaultDuration time.Duration
	logger          *slog.Logger
}

func NewBooker(appointments store.Appointments, loc *time.Location, defaultDuration time.Duration, logger *slog.Logger) *Booker {
	if loc == nil {
		loc = time.UTC
	}
	if defaultDuration <= 0 {
		defaultDuration = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Booker{appointments: appointments, location: loc, defaultDuration: defaultDuration, logger: logger}
}

// Duration returns how long an appointment for service lasts at t.
func (b *Booker) Duration(t tenant.Tenant, service string) time.Duration {
	return t.ServiceDuration(service, b.defaultDuration)
}

// Book creates the appointment. Any overlap, seen by the pre-check or by the
// store, is reported as ErrSlotJustBooked.
func (b *Booker) Book(ctx context.Context, req Request) (store.Appointment, error) {
	s := req.Slots
	if s.Name == "" || s.Date == "" || s.Time == "" {
		return store.Appointment{}, ErrMissingFields
	}
	loc := req.Tenant.Location(b.location)
	start, err := time.ParseInLocation("2006-01-02 15:04", s.Date+" "+s.Time, loc)
	if err != nil {
		return store.Appointment{}, fmt.Errorf("parse booking time: %w", err)
	}
	end := start.Add(b.Duration(req.Tenant, s.Service))

	existing, err := b.appointments.ListAppointments(ctx, req.Tenant.ID, start, end)
	if err != nil {
		return store.Appointment{}, fmt.Errorf("pre-check overlap: %w", err)
	}
	for _, a := range existing {
		if a.Active() && a.Overlaps(start, end) {
			b.logger.Info("booking pre-check found overlap", "tenant_id", req.Tenant.ID, "call_id", req.CallID, "start", start)
			return store.Appointment{}, ErrSlotJustBooked
		}
	}

	source := req.Source
	if source == "" {
		source = SourcePhone
	}
	appt, err := b.appointments.CreateAppointment(ctx, store.Appointment{
		TenantID:      req.Tenant.ID,
		CustomerName:  s.Name,
		CustomerPhone: s.Phone,
		ServiceName:   s.Service,
		StartTime:     start,
		EndTime:       end,
		Status:        store.StatusScheduled,
		Source:        source,
		BookedBy:      bookedByAI,
		Notes:         "call " + req.CallID,
	})
	if errors.Is(err, store.ErrConflict) {
		b.logger.Info("booking lost race to concurrent insert", "tenant_id", req.Tenant.ID, "call_id", req.CallID, "start", start)
		return store.Appointment{}, ErrSlotJustBooked
	}
	if err != nil {
		return store.Appointment{}, fmt.Errorf("create appointment: %w", err)
	}
	return appt, nil
}
