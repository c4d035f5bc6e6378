package attempt

import (
	"context"
	"database/sql"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed attempt store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the attempts table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS attempts (
			id                VARCHAR(36) PRIMARY KEY,
			username          VARCHAR(200) NOT NULL,
			ip_address        VARCHAR(45) NOT NULL,
			baseline_provider VARCHAR(200) NOT NULL DEFAULT '',
			baseline_region   VARCHAR(200) NOT NULL DEFAULT '',
			last_known_ip     VARCHAR(45) NOT NULL,
			ip_change_count   INTEGER NOT NULL DEFAULT 0,
			browser_name      VARCHAR(100) NOT NULL DEFAULT '',
			host_os           VARCHAR(100) NOT NULL DEFAULT '',
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_attempts_created ON attempts(created_at DESC);
	`)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, a *Attempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attempts (id, username, ip_address, baseline_provider, baseline_region,
			last_known_ip, ip_change_count, browser_name, host_os, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.Username, a.IPAddress, a.BaselineProvider, a.BaselineRegion,
		a.LastKnownIP, a.IPChangeCount, a.BrowserName, a.HostOS, a.CreatedAt)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Attempt, error) {
	a := &Attempt{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, ip_address, baseline_provider, baseline_region,
		       last_known_ip, ip_change_count, browser_name, host_os, created_at
		FROM attempts WHERE id = $1
	`, id).Scan(&a.ID, &a.Username, &a.IPAddress, &a.BaselineProvider, &a.BaselineRegion,
		&a.LastKnownIP, &a.IPChangeCount, &a.BrowserName, &a.HostOS, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, ip_address, baseline_provider, baseline_region,
		       last_known_ip, ip_change_count, browser_name, host_os, created_at
		FROM attempts ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var attempts []*Attempt
	for rows.Next() {
		a := &Attempt{}
		if err := rows.Scan(&a.ID, &a.Username, &a.IPAddress, &a.BaselineProvider, &a.BaselineRegion,
			&a.LastKnownIP, &a.IPChangeCount, &a.BrowserName, &a.HostOS, &a.CreatedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (s *PostgresStore) RecordIPChange(ctx context.Context, id, newIP string, prevCount int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE attempts
		SET last_known_ip = $2, ip_change_count = ip_change_count + 1
		WHERE id = $1 AND ip_change_count = $3
	`, id, newIP, prevCount)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the attempt is gone or the counter moved under us.
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}
