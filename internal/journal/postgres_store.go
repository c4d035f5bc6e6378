package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rgupta21/vigil/internal/idgen"
)

// PostgresStore implements Store using PostgreSQL.
//
// Immutability is enforced in the schema itself: the journal_events table
// carries a trigger that raises an exception on UPDATE or DELETE, so even
// code that bypasses this type cannot rewrite history.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed journal store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the journal table and its immutability trigger.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS journal_events (
			id          VARCHAR(36) PRIMARY KEY,
			attempt_id  VARCHAR(36) NOT NULL,
			name        VARCHAR(40) NOT NULL,
			ts          TIMESTAMPTZ NOT NULL,
			seq         BIGINT NOT NULL DEFAULT 0,
			pos         BIGSERIAL,
			metadata    JSONB
		);

		CREATE INDEX IF NOT EXISTS idx_journal_attempt ON journal_events(attempt_id, ts, seq, pos);

		CREATE OR REPLACE FUNCTION journal_events_immutable() RETURNS trigger AS $$
		BEGIN
			RAISE EXCEPTION 'journal events are immutable';
		END $$ LANGUAGE plpgsql;

		DROP TRIGGER IF EXISTS journal_events_no_rewrite ON journal_events;
		CREATE TRIGGER journal_events_no_rewrite
			BEFORE UPDATE OR DELETE ON journal_events
			FOR EACH ROW EXECUTE FUNCTION journal_events_immutable();
	`)
	return err
}

func (s *PostgresStore) AppendBatch(ctx context.Context, events []*Event) error {
	if err := validateBatch(events); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range events {
		if e.ID == "" {
			e.ID = idgen.WithPrefix("evt_")
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now()
		}
		var md []byte
		if e.Metadata != nil {
			md, err = json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("marshal event metadata: %w", err)
			}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO journal_events (id, attempt_id, name, ts, seq, metadata)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, e.ID, e.AttemptID, string(e.Name), e.Timestamp, e.Seq, nullableJSON(md))
		if err != nil {
			return fmt.Errorf("insert event %s: %w", e.Name, err)
		}
	}

	return tx.Commit()
}

// ListByAttempt orders by timestamp, client sequence, then the pos
// insertion counter. Server-synthesized triplets share one timestamp
// and seq 0, so pos is what keeps DETECTED before CLASSIFIED before
// WARNING_SHOWN.
func (s *PostgresStore) ListByAttempt(ctx context.Context, attemptID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, attempt_id, name, ts, seq, metadata
		FROM journal_events
		WHERE attempt_id = $1
		ORDER BY ts ASC, seq ASC, pos ASC
	`, attemptID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var name string
		var md sql.NullString
		if err := rows.Scan(&e.ID, &e.AttemptID, &name, &e.Timestamp, &e.Seq, &md); err != nil {
			return nil, err
		}
		e.Name = EventName(name)
		if md.Valid && md.String != "" {
			m := &Metadata{}
			if err := json.Unmarshal([]byte(md.String), m); err != nil {
				return nil, fmt.Errorf("decode event metadata: %w", err)
			}
			e.Metadata = m
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) CountByName(ctx context.Context, attemptID string, name EventName) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM journal_events WHERE attempt_id = $1 AND name = $2
	`, attemptID, string(name)).Scan(&n)
	return n, err
}

func (s *PostgresStore) CountsForAttempt(ctx context.Context, attemptID string) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE name IN ('IP_CHANGE_DETECTED', 'FULLSCREEN_EXITED', 'TAB_VISIBILITY_CHANGED', 'WINDOW_BLUR'))
		FROM journal_events WHERE attempt_id = $1
	`, attemptID).Scan(&c.Total, &c.Suspicious)
	return c, err
}

// Update always fails: journal events are immutable.
func (s *PostgresStore) Update(context.Context, *Event) error { return ErrImmutable }

// UpdateBatch always fails: journal events are immutable.
func (s *PostgresStore) UpdateBatch(context.Context, []*Event) error { return ErrImmutable }

// Delete always fails: journal events are immutable.
func (s *PostgresStore) Delete(context.Context, string) error { return ErrImmutable }

// DeleteBatch always fails: journal events are immutable.
func (s *PostgresStore) DeleteBatch(context.Context, []string) error { return ErrImmutable }

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
