package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/voicedesk/internal/dialogue"
	"github.com/ent0n29/voicedesk/internal/tenant"
)

const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"
)

// PostgresStore persists tenants, sessions, appointments and transcripts in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects and applies pending migrations.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertTenant(ctx context.Context, t tenant.Tenant) error {
	hours, err := json.Marshal(t.OpeningHours)
	if err != nil {
		return fmt.Errorf("encode opening hours: %w", err)
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO tenants (id, name, ai_name, agent_id, timezone, opening_hours, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, now())
			 ON CONFLICT (id) DO UPDATE SET
			   name = EXCLUDED.name,
			   ai_name = EXCLUDED.ai_name,
			   agent_id = EXCLUDED.agent_id,
			   timezone = EXCLUDED.timezone,
			   opening_hours = EXCLUDED.opening_hours,
			   updated_at = now()`,
			t.ID, t.Name, t.AIName, nullIfEmpty(t.AgentID), t.Timezone, hours,
		)
		if err != nil {
			return fmt.Errorf("upsert tenant: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM services WHERE tenant_id = $1`, t.ID); err != nil {
			return fmt.Errorf("reset services: %w", err)
		}
		for i, svc := range t.Services {
			if _, err := tx.Exec(ctx,
				`INSERT INTO services (tenant_id, name, duration_minutes, position) VALUES ($1, $2, $3, $4)`,
				t.ID, svc.Name, svc.DurationMinutes, i,
			); err != nil {
				return fmt.Errorf("insert service %q: %w", svc.Name, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) Tenant(ctx context.Context, id string) (tenant.Tenant, error) {
	return s.loadTenant(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) TenantByAgent(ctx context.Context, agentID string) (tenant.Tenant, error) {
	if agentID == "" {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	return s.loadTenant(ctx, `WHERE agent_id = $1`, agentID)
}

func (s *PostgresStore) loadTenant(ctx context.Context, where string, arg string) (tenant.Tenant, error) {
	var (
		t     tenant.Tenant
		hours []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, ai_name, COALESCE(agent_id, ''), timezone, opening_hours FROM tenants `+where,
		arg,
	).Scan(&t.ID, &t.Name, &t.AIName, &t.AgentID, &t.Timezone, &hours)
	if errors.Is(err, pgx.ErrNoRows) {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	if err != nil {
		return tenant.Tenant{}, fmt.Errorf("query tenant: %w", err)
	}
	if len(hours) > 0 {
		if err := json.Unmarshal(hours, &t.OpeningHours); err != nil {
			return tenant.Tenant{}, fmt.Errorf("decode opening hours: %w", err)
		}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT name, duration_minutes FROM services
		 WHERE tenant_id = $1 AND is_active ORDER BY position, name`,
		t.ID,
	)
	if err != nil {
		return tenant.Tenant{}, fmt.Errorf("query services: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var svc tenant.Service
		if err := rows.Scan(&svc.Name, &svc.DurationMinutes); err != nil {
			return tenant.Tenant{}, fmt.Errorf("scan service row: %w", err)
		}
		t.Services = append(t.Services, svc)
	}
	if err := rows.Err(); err != nil {
		return tenant.Tenant{}, fmt.Errorf("iterate service rows: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) LoadSession(ctx context.Context, callID, tenantID string) (dialogue.Session, error) {
	var (
		sess      dialogue.Session
		state     string
		collected []byte
		retries   []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT state, collected, retries, created_at, updated_at
		 FROM call_sessions WHERE call_id = $1 AND tenant_id = $2`,
		callID, tenantID,
	).Scan(&state, &collected, &retries, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return dialogue.Session{}, ErrNotFound
	}
	if err != nil {
		return dialogue.Session{}, fmt.Errorf("query session: %w", err)
	}
	sess.CallID = callID
	sess.TenantID = tenantID
	sess.State = dialogue.State(state)
	if err := json.Unmarshal(collected, &sess.Collected); err != nil {
		return dialogue.Session{}, fmt.Errorf("decode collected slots: %w", err)
	}
	sess.Retries = map[dialogue.Slot]int{}
	if err := json.Unmarshal(retries, &sess.Retries); err != nil {
		return dialogue.Session{}, fmt.Errorf("decode retries: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, sess dialogue.Session) error {
	collected, err := json.Marshal(sess.Collected)
	if err != nil {
		return fmt.Errorf("encode collected slots: %w", err)
	}
	retries, err := json.Marshal(sess.Retries)
	if err != nil {
		return fmt.Errorf("encode retries: %w", err)
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO call_sessions (call_id, tenant_id, state, collected, retries, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (call_id, tenant_id) DO UPDATE SET
		   state = EXCLUDED.state,
		   collected = EXCLUDED.collected,
		   retries = EXCLUDED.retries,
		   updated_at = EXCLUDED.updated_at`,
		sess.CallID, sess.TenantID, string(sess.State), collected, retries, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) ArchiveSession(ctx context.Context, callID, tenantID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE call_sessions SET status = 'archived', updated_at = now()
		 WHERE call_id = $1 AND tenant_id = $2`,
		callID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("archive session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListAppointments(ctx context.Context, tenantID string, from, to time.Time) ([]Appointment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, customer_name, customer_phone, service_name, start_time, end_time,
		        status, source, booked_by, notes, created_at
		 FROM appointments
		 WHERE tenant_id = $1 AND status IN ('scheduled', 'confirmed')
		   AND start_time < $3 AND end_time > $2
		 ORDER BY start_time`,
		tenantID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		var (
			a      Appointment
			id     uuid.UUID
			status string
		)
		if err := rows.Scan(&id, &a.TenantID, &a.CustomerName, &a.CustomerPhone, &a.ServiceName,
			&a.StartTime, &a.EndTime, &status, &a.Source, &a.BookedBy, &a.Notes, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan appointment row: %w", err)
		}
		a.ID = id.String()
		a.Status = AppointmentStatus(status)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate appointment rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CreateAppointment(ctx context.Context, a Appointment) (Appointment, error) {
	id := uuid.New()
	if a.ID != "" {
		parsed, err := uuid.Parse(a.ID)
		if err != nil {
			return Appointment{}, fmt.Errorf("appointment id: %w", err)
		}
		id = parsed
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO appointments (id, tenant_id, customer_name, customer_phone, service_name,
		                           start_time, end_time, status, source, booked_by, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING created_at`,
		id, a.TenantID, a.CustomerName, a.CustomerPhone, a.ServiceName,
		a.StartTime, a.EndTime, string(a.Status), a.Source, a.BookedBy, a.Notes,
	).Scan(&a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == pgUniqueViolation || pgErr.Code == pgExclusionViolation) {
			return Appointment{}, ErrConflict
		}
		return Appointment{}, fmt.Errorf("insert appointment: %w", err)
	}
	a.ID = id.String()
	return a, nil
}

func (s *PostgresStore) SaveTurn(ctx context.Context, record TurnRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_turns (id, call_id, tenant_id, role, content, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID, record.CallID, record.TenantID, record.Role, record.Content, record.PIIRedacted, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) CallTranscript(ctx context.Context, callID, tenantID string) ([]TurnRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, call_id, tenant_id, role, content, pii_redacted, created_at
		 FROM call_turns WHERE call_id = $1 AND tenant_id = $2 ORDER BY created_at`,
		callID, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var items []TurnRecord
	for rows.Next() {
		var r TurnRecord
		if err := rows.Scan(&r.ID, &r.CallID, &r.TenantID, &r.Role, &r.Content, &r.PIIRedacted, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
