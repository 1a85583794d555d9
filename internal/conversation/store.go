// Package conversation owns the lifecycle of a call's dialogue session:
// loading, saving, archiving, and rebuilding it from a transcript when the
// backing store cannot be reached.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ent0n29/voicedesk/internal/dialogue"
	"github.com/ent0n29/voicedesk/internal/store"
)

// Store reads and writes sessions keyed by (call id, tenant id).
type Store struct {
	sessions store.Sessions
	now      func() time.Time
}

func NewStore(sessions store.Sessions, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{sessions: sessions, now: now}
}

// Get returns the persisted session, or a fresh GREETING session when none
// exists. Backend failures are returned so the caller can fall back to
// Reconstruct.
func (s *Store) Get(ctx context.Context, callID, tenantID string) (dialogue.Session, error) {
	sess, err := s.sessions.LoadSession(ctx, callID, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return dialogue.NewSession(callID, tenantID, s.now().UTC()), nil
	}
	if err != nil {
		return dialogue.Session{}, fmt.Errorf("load session: %w", err)
	}
	if sess.Retries == nil {
		sess.Retries = map[dialogue.Slot]int{}
	}
	return sess, nil
}

// Save upserts the session and stamps UpdatedAt.
func (s *Store) Save(ctx context.Context, sess dialogue.Session) error {
	sess.UpdatedAt = s.now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = sess.UpdatedAt
	}
	if err := s.sessions.SaveSession(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Archive saves the final state and marks the session archived.
func (s *Store) Archive(ctx context.Context, sess dialogue.Session) error {
	if err := s.Save(ctx, sess); err != nil {
		return err
	}
	if err := s.sessions.ArchiveSession(ctx, sess.CallID, sess.TenantID); err != nil {
		return fmt.Errorf("archive session: %w", err)
	}
	return nil
}
