// Package postgres is the default durable implementation of the database
// plugin boundary (internal/database.Plugin), backed by lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/meridianfed/fedres/internal/database"
)

// Store implements database.Plugin against a PostgreSQL database. Schema:
// one table per entity kind, each keyed by id; the reservation and
// delegation tables also carry a slice_id column (indexed for
// reservations) for the lookups the kernel's recovery path needs.
type Store struct {
	db *sql.DB
}

// Open establishes a PostgreSQL connection using dsn, verifies
// connectivity, and ensures the plugin's tables exist.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fedres_reservations (id TEXT PRIMARY KEY, slice_id TEXT NOT NULL, payload BYTEA NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS fedres_delegations (id TEXT PRIMARY KEY, slice_id TEXT NOT NULL, payload BYTEA NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS fedres_slices (id TEXT PRIMARY KEY, payload BYTEA NOT NULL)`,
		`CREATE INDEX IF NOT EXISTS fedres_reservations_slice_id_idx ON fedres_reservations (slice_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) AddReservation(ctx context.Context, r database.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fedres_reservations (id, slice_id, payload) VALUES ($1, $2, $3)`,
		r.ID, r.SliceID, r.Payload)
	return err
}

func (s *Store) UpdateReservation(ctx context.Context, r database.Record) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE fedres_reservations SET slice_id = $2, payload = $3 WHERE id = $1`,
		r.ID, r.SliceID, r.Payload)
	return err
}

func (s *Store) RemoveReservation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM fedres_reservations WHERE id = $1`, id)
	return err
}

func (s *Store) GetReservations(ctx context.Context, sliceID string) ([]database.Record, error) {
	query := `SELECT id, slice_id, payload FROM fedres_reservations`
	var args []any
	if sliceID != "" {
		query += ` WHERE slice_id = $1`
		args = []any{sliceID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []database.Record
	for rows.Next() {
		var r database.Record
		r.Kind = database.EntityReservation
		if err := rows.Scan(&r.ID, &r.SliceID, &r.Payload); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) AddDelegation(ctx context.Context, d database.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fedres_delegations (id, slice_id, payload) VALUES ($1, $2, $3)`,
		d.ID, d.SliceID, d.Payload)
	return err
}

func (s *Store) UpdateDelegation(ctx context.Context, d database.Record) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE fedres_delegations SET slice_id = $2, payload = $3 WHERE id = $1`,
		d.ID, d.SliceID, d.Payload)
	return err
}

func (s *Store) RemoveDelegation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM fedres_delegations WHERE id = $1`, id)
	return err
}

func (s *Store) GetDelegation(ctx context.Context, id string) (database.Record, error) {
	var r database.Record
	r.Kind = database.EntityDelegation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, slice_id, payload FROM fedres_delegations WHERE id = $1`, id,
	).Scan(&r.ID, &r.SliceID, &r.Payload)
	return r, err
}

func (s *Store) AddSlice(ctx context.Context, sl database.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fedres_slices (id, payload) VALUES ($1, $2)`, sl.ID, sl.Payload)
	return err
}

func (s *Store) UpdateSlice(ctx context.Context, sl database.Record) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE fedres_slices SET payload = $2 WHERE id = $1`, sl.ID, sl.Payload)
	return err
}

func (s *Store) RemoveSlice(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM fedres_slices WHERE id = $1`, id)
	return err
}

func (s *Store) GetSlices(ctx context.Context, id string) ([]database.Record, error) {
	var query string
	var args []any
	if id == "" {
		query = `SELECT id, payload FROM fedres_slices`
	} else {
		query = `SELECT id, payload FROM fedres_slices WHERE id = $1`
		args = []any{id}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []database.Record
	for rows.Next() {
		var r database.Record
		r.Kind = database.EntitySlice
		if err := rows.Scan(&r.ID, &r.Payload); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
