// Package session tracks the live telephony calls of this process for
// introspection and cleanup. It does not own call state; each call's runner
// does.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("call not found")

// Call is a snapshot of one registered call.
type Call struct {
	ID             string    `json:"id"`
	CallSID        string    `json:"call_sid"`
	StreamSID      string    `json:"stream_sid"`
	TenantID       string    `json:"tenant_id"`
	CallerID       string    `json:"caller_id,omitempty"`
	Status         Status    `json:"status"`
	DialogueState  string    `json:"dialogue_state,omitempty"`
	Speaking       bool      `json:"speaking"`
	TurnCount      int       `json:"turn_count"`
	BargeInCount   int       `json:"barge_in_count"`
	EndReason      string    `json:"end_reason,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// ConversationID is the id the call's dialogue session and transcript are
// stored under.
func (c Call) ConversationID() string {
	if c.CallSID != "" {
		return c.CallSID
	}
	return c.StreamSID
}

// RegisterRequest describes a call that just started streaming.
type RegisterRequest struct {
	CallSID   string
	StreamSID string
	TenantID  string
	CallerID  string
	// Cancel tears the call down; the janitor invokes it on inactivity.
	Cancel context.CancelFunc
}

type entry struct {
	call   Call
	cancel context.CancelFunc
}

// Registry is safe for concurrent use.
type Registry struct {
	mu                sync.RWMutex
	calls             map[string]*entry
	inactivityTimeout time.Duration
	retention         time.Duration
	onExpire          func(Call)
	now               func() time.Time
}

func NewRegistry(inactivityTimeout time.Duration) *Registry {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Registry{
		calls:             make(map[string]*entry),
		inactivityTimeout: inactivityTimeout,
		retention:         10 * time.Minute,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) SetExpireHook(hook func(Call)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

func (r *Registry) Register(req RegisterRequest) Call {
	now := r.now()
	e := &entry{
		call: Call{
			ID:             uuid.NewString(),
			CallSID:        req.CallSID,
			StreamSID:      req.StreamSID,
			TenantID:       req.TenantID,
			CallerID:       req.CallerID,
			Status:         StatusActive,
			StartedAt:      now,
			LastActivityAt: now,
		},
		cancel: req.Cancel,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[e.call.ID] = e
	return e.call
}

func (r *Registry) Get(id string) (Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return e.call, nil
}

// List returns all known calls, newest first.
func (r *Registry) List() []Call {
	r.mu.RLock()
	out := make([]Call, 0, len(r.calls))
	for _, e := range r.calls {
		out = append(out, e.call)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (r *Registry) update(id string, fn func(*Call)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.calls[id]
	if !ok {
		return ErrNotFound
	}
	fn(&e.call)
	e.call.LastActivityAt = r.now()
	return nil
}

func (r *Registry) Touch(id string) error {
	return r.update(id, func(*Call) {})
}

// RecordTurn stores the dialogue state reached by the latest turn.
func (r *Registry) RecordTurn(id, state string) error {
	return r.update(id, func(c *Call) {
		c.TurnCount++
		c.DialogueState = state
	})
}

func (r *Registry) SetSpeaking(id string, speaking bool) error {
	return r.update(id, func(c *Call) { c.Speaking = speaking })
}

// Interrupt records a barge-in.
func (r *Registry) Interrupt(id string) error {
	return r.update(id, func(c *Call) {
		c.BargeInCount++
		c.Speaking = false
	})
}

// End marks the call ended. The snapshot stays listed until the janitor prunes it.
func (r *Registry) End(id, reason string) (Call, error) {
	var out Call
	err := r.update(id, func(c *Call) {
		if c.Status != StatusEnded {
			c.EndReason = reason
		}
		c.Status = StatusEnded
		c.Speaking = false
		out = *c
	})
	return out, err
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.calls {
		if e.call.Status == StatusActive {
			n++
		}
	}
	return n
}

func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

// sweep ends calls idle past the inactivity timeout, cancelling them, and
// forgets ended calls older than the retention window.
func (r *Registry) sweep() {
	now := r.now()
	var (
		expired []Call
		cancels []context.CancelFunc
	)

	r.mu.Lock()
	for id, e := range r.calls {
		switch {
		case e.call.Status == StatusEnded && now.Sub(e.call.LastActivityAt) >= r.retention:
			delete(r.calls, id)
		case e.call.Status == StatusActive && now.Sub(e.call.LastActivityAt) >= r.inactivityTimeout:
			e.call.Status = StatusEnded
			e.call.Speaking = false
			e.call.EndReason = "inactive"
			e.call.LastActivityAt = now
			expired = append(expired, e.call)
			if e.cancel != nil {
				cancels = append(cancels, e.cancel)
			}
		}
	}
	hook := r.onExpire
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if hook != nil {
		for _, c := range expired {
			hook(c)
		}
	}
}
