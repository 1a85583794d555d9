// Package availability answers whether a tenant can take an appointment at a
// given local date and time, and lists the bookable slots of a day.
package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ent0n29/voicedesk/internal/store"
	"github.com/ent0n29/voicedesk/internal/tenant"
)

// Reason explains an unavailable result.
type Reason string

const (
	ReasonClosed       Reason = "closed"
	ReasonOutsideHours Reason = "outside_hours"
	ReasonPast         Reason = "past"
	ReasonOccupied     Reason = "occupied"
)

const (
	alternativeStep = 30 * time.Minute
	maxAlternatives = 2
	defaultDuration = 30 * time.Minute
	dateLayout      = "2006-01-02"
	clockLayout     = "15:04"
	dateClockLayout = dateLayout + " " + clockLayout
)

// Calendar lists the active appointments of a tenant overlapping [from, to).
type Calendar interface {
	ListAppointments(ctx context.Context, tenantID string, from, to time.Time) ([]store.Appointment, error)
}

// Result is the outcome of a single slot check.
type Result struct {
	Available    bool          `json:"available"`
	Reason       Reason        `json:"reason,omitempty"`
	Alternatives []string      `json:"alternatives,omitempty"`
	Hours        *tenant.Hours `json:"opening_hours,omitempty"`
}

// Slot is one bookable interval of a day, in local HH:MM.
type Slot struct {
	Time      string `json:"time"`
	EndTime   string `json:"end_time"`
	Available bool   `json:"available"`
}

// Day lists the slots of one date.
type Day struct {
	Date           string        `json:"date"`
	Open           bool          `json:"is_open"`
	Hours          *tenant.Hours `json:"opening_hours,omitempty"`
	Slots          []Slot        `json:"slots"`
	AvailableCount int           `json:"available_count"`
}

// Checker evaluates availability against opening hours and the calendar.
type Checker struct {
	calendar Calendar
	now      func() time.Time
	location *time.Location
}

// NewChecker builds a Checker. now defaults to time.Now and loc is used for
// tenants without their own time zone.
func NewChecker(cal Calendar, now func() time.Time, loc *time.Location) *Checker {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Checker{calendar: cal, now: now, location: loc}
}

// Check reports whether date (YYYY-MM-DD) at clock (HH:MM) can hold an
// appointment of the given duration.
func (c *Checker) Check(ctx context.Context, t tenant.Tenant, date, clock string, duration time.Duration) (Result, error) {
	if duration <= 0 {
		duration = defaultDuration
	}
	loc := t.Location(c.location)
	start, err := time.ParseInLocation(dateClockLayout, date+" "+clock, loc)
	if err != nil {
		return Result{}, fmt.Errorf("parse slot %s %s: %w", date, clock, err)
	}
	end := start.Add(duration)

	hours, open := t.HoursOn(start.Weekday())
	if !open {
		return Result{Reason: ReasonClosed}, nil
	}
	opensAt, closesAt, err := dayBounds(start, hours)
	if err != nil {
		return Result{}, err
	}
	if start.Before(opensAt) || end.After(closesAt) {
		return Result{Reason: ReasonOutsideHours, Hours: &hours}, nil
	}
	if start.Before(c.now()) {
		return Result{Reason: ReasonPast, Hours: &hours}, nil
	}

	booked, err := c.calendar.ListAppointments(ctx, t.ID, opensAt, closesAt)
	if err != nil {
		return Result{}, fmt.Errorf("list appointments: %w", err)
	}
	if conflicts(booked, start, end) {
		return Result{
			Reason:       ReasonOccupied,
			Alternatives: c.alternatives(booked, start, duration, opensAt, closesAt),
			Hours:        &hours,
		}, nil
	}
	return Result{Available: true, Hours: &hours}, nil
}

// Slots discretizes the opening hours of date into duration-sized slots.
// A closed day yields Open=false and no slots.
func (c *Checker) Slots(ctx context.Context, t tenant.Tenant, date string, duration time.Duration) (Day, error) {
	if duration <= 0 {
		duration = defaultDuration
	}
	loc := t.Location(c.location)
	day, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return Day{}, fmt.Errorf("parse date %s: %w", date, err)
	}
	out := Day{Date: date, Slots: []Slot{}}
	hours, open := t.HoursOn(day.Weekday())
	if !open {
		return out, nil
	}
	out.Open = true
	out.Hours = &hours

	opensAt, closesAt, err := dayBounds(day, hours)
	if err != nil {
		return Day{}, err
	}
	booked, err := c.calendar.ListAppointments(ctx, t.ID, opensAt, closesAt)
	if err != nil {
		return Day{}, fmt.Errorf("list appointments: %w", err)
	}
	now := c.now()
	for s := opensAt; !s.Add(duration).After(closesAt); s = s.Add(duration) {
		e := s.Add(duration)
		free := !s.Before(now) && !conflicts(booked, s, e)
		out.Slots = append(out.Slots, Slot{Time: s.Format(clockLayout), EndTime: e.Format(clockLayout), Available: free})
		if free {
			out.AvailableCount++
		}
	}
	return out, nil
}

func (c *Checker) alternatives(booked []store.Appointment, requested time.Time, duration time.Duration, opensAt, closesAt time.Time) []string {
	type candidate struct {
		at       time.Time
		distance time.Duration
	}
	now := c.now()
	var found []candidate
	for s := opensAt; !s.Add(duration).After(closesAt); s = s.Add(alternativeStep) {
		if s.Equal(requested) || s.Before(now) || conflicts(booked, s, s.Add(duration)) {
			continue
		}
		d := s.Sub(requested)
		if d < 0 {
			d = -d
		}
		found = append(found, candidate{at: s, distance: d})
	}
	// Nearest first; ties keep the earlier slot.
	sort.SliceStable(found, func(i, j int) bool { return found[i].distance < found[j].distance })
	if len(found) > maxAlternatives {
		found = found[:maxAlternatives]
	}
	out := make([]string, 0, len(found))
	for _, f := range found {
		out = append(out, f.at.Format(clockLayout))
	}
	return out
}

func conflicts(booked []store.Appointment, start, end time.Time) bool {
	for _, a := range booked {
		if a.Active() && a.Overlaps(start, end) {
			return true
		}
	}
	return false
}

// dayBounds returns the opening and closing instants of the day containing ref.
func dayBounds(ref time.Time, h tenant.Hours) (time.Time, time.Time, error) {
	open, err := clockOn(ref, h.Open)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	closing, err := clockOn(ref, h.Close)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return open, closing, nil
}

func clockOn(ref time.Time, clock string) (time.Time, error) {
	c, err := time.Parse(clockLayout, clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse opening hour %q: %w", clock, err)
	}
	return time.Date(ref.Year(), ref.Month(), ref.Day(), c.Hour(), c.Minute(), 0, 0, ref.Location()), nil
}
