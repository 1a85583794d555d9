package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegistryRegisterGetEnd(t *testing.T) {
	r := NewRegistry(time.Minute)
	c := r.Register(RegisterRequest{CallSID: "CA1", StreamSID: "MZ1", TenantID: "salon"})
	if c.ID == "" {
		t.Fatalf("call ID should not be empty")
	}

	got, err := r.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.CallSID != "CA1" || got.TenantID != "salon" || got.Status != StatusActive {
		t.Fatalf("unexpected call: %+v", got)
	}
	if r.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", r.ActiveCount())
	}

	ended, err := r.End(c.ID, "stop")
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded || ended.EndReason != "stop" {
		t.Fatalf("ended = %+v", ended)
	}
	if r.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() after End = %d, want 0", r.ActiveCount())
	}
	if _, err := r.End("missing", "stop"); err != ErrNotFound {
		t.Fatalf("End(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRegistryInterruptCountsBargeIns(t *testing.T) {
	r := NewRegistry(time.Minute)
	c := r.Register(RegisterRequest{CallSID: "CA1"})
	if err := r.SetSpeaking(c.ID, true); err != nil {
		t.Fatalf("SetSpeaking() error = %v", err)
	}
	if err := r.Interrupt(c.ID); err != nil {
		t.Fatalf("Interrupt() error = %v", err)
	}
	if err := r.RecordTurn(c.ID, "COLLECT_DATE"); err != nil {
		t.Fatalf("RecordTurn() error = %v", err)
	}

	got, _ := r.Get(c.ID)
	if got.Speaking || got.BargeInCount != 1 || got.TurnCount != 1 || got.DialogueState != "COLLECT_DATE" {
		t.Fatalf("call = %+v", got)
	}
}

func TestRegistryJanitorCancelsInactiveCalls(t *testing.T) {
	r := NewRegistry(30 * time.Millisecond)
	var cancelled, hooked atomic.Int32
	r.SetExpireHook(func(Call) { hooked.Add(1) })
	c := r.Register(RegisterRequest{CallSID: "CA1", Cancel: func() { cancelled.Add(1) }})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(90 * time.Millisecond)
	got, err := r.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded || got.EndReason != "inactive" {
		t.Fatalf("call = %+v, want ended by inactivity", got)
	}
	if cancelled.Load() != 1 || hooked.Load() != 1 {
		t.Fatalf("cancelled = %d hooked = %d, want 1 and 1", cancelled.Load(), hooked.Load())
	}
}

func TestRegistryPrunesEndedCalls(t *testing.T) {
	r := NewRegistry(time.Minute)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	c := r.Register(RegisterRequest{CallSID: "CA1"})
	if _, err := r.End(c.ID, "stop"); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	now = now.Add(11 * time.Minute)
	r.sweep()
	if _, err := r.Get(c.ID); err != ErrNotFound {
		t.Fatalf("Get() after retention error = %v, want ErrNotFound", err)
	}
	if len(r.List()) != 0 {
		t.Fatalf("List() = %+v", r.List())
	}
}
