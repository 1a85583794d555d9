package availability

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/ent0n29/voicedesk/internal/store"
	"github.com/ent0n29/voicedesk/internal/tenant"
)

type fakeCalendar struct {
	appointments []store.Appointment
	err          error
	calls        int
}

func (f *fakeCalendar) ListAppointments(_ context.Context, tenantID string, from, to time.Time) ([]store.Appointment, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []store.Appointment
	for _, a := range f.appointments {
		if a.TenantID == tenantID && a.Overlaps(from, to) {
			out = append(out, a)
		}
	}
	return out, nil
}

func brussels(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Brussels")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func testTenant() tenant.Tenant {
	weekday := tenant.Hours{Open: "09:00", Close: "18:00"}
	return tenant.Tenant{
		ID:       "salon",
		Name:     "Salon Lisa",
		Timezone: "Europe/Brussels",
		OpeningHours: map[string]tenant.Hours{
			"monday":    weekday,
			"tuesday":   weekday,
			"wednesday": weekday,
			"thursday":  weekday,
			"friday":    weekday,
			"saturday":  {Open: "09:00", Close: "13:00"},
			"sunday":    {Closed: true},
		},
	}
}

func newTestChecker(t *testing.T, cal *fakeCalendar) *Checker {
	t.Helper()
	loc := brussels(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, loc) // Monday
	return NewChecker(cal, func() time.Time { return now }, loc)
}

func booked(t *testing.T, date, clock string, minutes int) store.Appointment {
	t.Helper()
	start, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, brussels(t))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return store.Appointment{
		TenantID:  "salon",
		StartTime: start,
		EndTime:   start.Add(time.Duration(minutes) * time.Minute),
		Status:    store.StatusScheduled,
	}
}

func TestCheckReasons(t *testing.T) {
	cal := &fakeCalendar{}
	c := newTestChecker(t, cal)
	tn := testTenant()

	cases := []struct {
		name  string
		date  string
		clock string
		want  Reason
		avail bool
	}{
		{name: "free", date: "2026-03-03", clock: "14:00", avail: true},
		{name: "sunday", date: "2026-03-08", clock: "10:00", want: ReasonClosed},
		{name: "before opening", date: "2026-03-03", clock: "08:00", want: ReasonOutsideHours},
		{name: "runs past closing", date: "2026-03-03", clock: "17:45", want: ReasonOutsideHours},
		{name: "right now", date: "2026-03-02", clock: "09:00", avail: true},
		{name: "yesterday", date: "2026-03-01", clock: "10:00", want: ReasonClosed},
		{name: "last week", date: "2026-02-24", clock: "10:00", want: ReasonPast},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := c.Check(context.Background(), tn, tc.date, tc.clock, 30*time.Minute)
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if got.Available != tc.avail || got.Reason != tc.want {
				t.Fatalf("Check(%s %s) = %+v, want available=%v reason=%q", tc.date, tc.clock, got, tc.avail, tc.want)
			}
		})
	}
}

func TestCheckOccupiedOffersNearestAlternatives(t *testing.T) {
	cal := &fakeCalendar{appointments: []store.Appointment{
		booked(t, "2026-03-03", "14:00", 30),
		booked(t, "2026-03-03", "14:30", 30),
	}}
	c := newTestChecker(t, cal)

	got, err := c.Check(context.Background(), testTenant(), "2026-03-03", "14:00", 30*time.Minute)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if got.Available || got.Reason != ReasonOccupied {
		t.Fatalf("Check() = %+v, want occupied", got)
	}
	want := []string{"13:30", "13:00"}
	if !reflect.DeepEqual(got.Alternatives, want) {
		t.Fatalf("alternatives = %v, want %v", got.Alternatives, want)
	}
}

func TestCheckIgnoresCancelledAppointments(t *testing.T) {
	a := booked(t, "2026-03-03", "14:00", 30)
	a.Status = store.StatusCancelled
	c := newTestChecker(t, &fakeCalendar{appointments: []store.Appointment{a}})

	got, err := c.Check(context.Background(), testTenant(), "2026-03-03", "14:00", 30*time.Minute)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !got.Available {
		t.Fatalf("Check() = %+v, want available", got)
	}
}

func TestCheckPartialOverlapIsOccupied(t *testing.T) {
	c := newTestChecker(t, &fakeCalendar{appointments: []store.Appointment{booked(t, "2026-03-03", "14:15", 30)}})

	got, err := c.Check(context.Background(), testTenant(), "2026-03-03", "14:00", 30*time.Minute)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if got.Reason != ReasonOccupied {
		t.Fatalf("Check() = %+v, want occupied", got)
	}
}

func TestCheckCalendarErrorPropagates(t *testing.T) {
	boom := errors.New("db down")
	c := newTestChecker(t, &fakeCalendar{err: boom})

	_, err := c.Check(context.Background(), testTenant(), "2026-03-03", "14:00", 30*time.Minute)
	if !errors.Is(err, boom) {
		t.Fatalf("Check() error = %v, want %v", err, boom)
	}
}

func TestCheckClosedDaySkipsCalendar(t *testing.T) {
	cal := &fakeCalendar{}
	c := newTestChecker(t, cal)
	if _, err := c.Check(context.Background(), testTenant(), "2026-03-08", "10:00", 0); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if cal.calls != 0 {
		t.Fatalf("calendar queried %d times for a closed day", cal.calls)
	}
}

func TestCheckRejectsMalformedInput(t *testing.T) {
	c := newTestChecker(t, &fakeCalendar{})
	if _, err := c.Check(context.Background(), testTenant(), "3 maart", "14:00", 0); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSlotsDiscretizesOpeningHours(t *testing.T) {
	cal := &fakeCalendar{appointments: []store.Appointment{booked(t, "2026-03-07", "10:00", 60)}}
	c := newTestChecker(t, cal)

	day, err := c.Slots(context.Background(), testTenant(), "2026-03-07", time.Hour) // Saturday 09-13
	if err != nil {
		t.Fatalf("Slots() error = %v", err)
	}
	if !day.Open || len(day.Slots) != 4 {
		t.Fatalf("Slots() = %+v, want 4 slots", day)
	}
	if day.Slots[0].Time != "09:00" || day.Slots[3].EndTime != "13:00" {
		t.Fatalf("slot bounds = %+v", day.Slots)
	}
	if day.Slots[1].Available || day.AvailableCount != 3 {
		t.Fatalf("10:00 should be taken: %+v", day)
	}
}

func TestSlotsClosedDay(t *testing.T) {
	c := newTestChecker(t, &fakeCalendar{})
	day, err := c.Slots(context.Background(), testTenant(), "2026-03-08", 30*time.Minute)
	if err != nil {
		t.Fatalf("Slots() error = %v", err)
	}
	if day.Open || len(day.Slots) != 0 {
		t.Fatalf("Slots() = %+v, want closed", day)
	}
}

func TestSlotsMarksPastSlotsUnavailable(t *testing.T) {
	loc := brussels(t)
	now := time.Date(2026, 3, 2, 12, 10, 0, 0, loc)
	c := NewChecker(&fakeCalendar{}, func() time.Time { return now }, loc)

	day, err := c.Slots(context.Background(), testTenant(), "2026-03-02", time.Hour)
	if err != nil {
		t.Fatalf("Slots() error = %v", err)
	}
	for _, s := range day.Slots {
		wantFree := s.Time >= "13:00"
		if s.Available != wantFree {
			t.Fatalf("slot %s available = %v, want %v", s.Time, s.Available, wantFree)
		}
	}
}
