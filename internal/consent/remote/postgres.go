// Package remote is the PostgreSQL-backed consent backend the sync layer
// reads from and writes to.
package remote

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"consentsync/internal/consent/models"
	"consentsync/pkg/platform/sentinel"
)

// NotifyChannel is the LISTEN channel fed by the consents trigger.
const NotifyChannel = "consents_changed"

//go:embed migrations/0001_consents.up.sql
var Schema string

const selectConsents = `
SELECT c.id, c.subject, c.purpose_id, p.name, c.notes, c.created_at, c.archived, c.archived_at
FROM consents c
LEFT JOIN purposes p ON p.id = c.purpose_id`

// PostgresBackend implements the consent backend over database/sql.
type PostgresBackend struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// DSN builds a connection string from the backend URL, using key as the
// password. The URL carries host, database, user and any query options.
func DSN(backendURL, key string) (string, error) {
	u, err := url.Parse(backendURL)
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported backend scheme %q", u.Scheme)
	}
	user := "consentsync"
	if u.User != nil && u.User.Username() != "" {
		user = u.User.Username()
	}
	u.User = url.UserPassword(user, key)
	return u.String(), nil
}

// Open opens and pings the pool.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := NewDB(dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping backend: %w", err)
	}
	return db, nil
}

// NewDB prepares a pool without dialing, so a process can start while the
// backend is unreachable.
func NewDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Migrate applies the bundled schema. It is safe to run repeatedly.
func (b *PostgresBackend) Migrate(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping is the health probe: a row count over the small purposes table.
func (b *PostgresBackend) Ping(ctx context.Context) error {
	var n int64
	if err := b.db.QueryRowContext(ctx, `SELECT count(*) FROM purposes`).Scan(&n); err != nil {
		return fmt.Errorf("backend probe: %w", err)
	}
	return nil
}

// FetchConsents returns the raw rows of one partition, newest first.
func (b *PostgresBackend) FetchConsents(ctx context.Context, archived bool) ([]models.Row, error) {
	rows, err := b.db.QueryContext(ctx, selectConsents+`
WHERE c.archived = $1
ORDER BY c.created_at DESC`, archived)
	if err != nil {
		return nil, fmt.Errorf("fetch consents: %w", err)
	}
	defer rows.Close()

	var out []models.Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consent: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch consents: %w", err)
	}
	return out, nil
}

// GetConsent returns one consent row by id.
func (b *PostgresBackend) GetConsent(ctx context.Context, id uuid.UUID) (models.Row, error) {
	row, err := scanRow(b.db.QueryRowContext(ctx, selectConsents+`
WHERE c.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Row{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.Row{}, fmt.Errorf("get consent: %w", err)
	}
	return row, nil
}

// ResolvePurpose maps a purpose name to its id.
func (b *PostgresBackend) ResolvePurpose(ctx context.Context, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := b.db.QueryRowContext(ctx, `SELECT id FROM purposes WHERE name = $1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, sentinel.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve purpose: %w", err)
	}
	return id, nil
}

// InsertConsent inserts rec and returns the stored row with the purpose name
// joined in.
func (b *PostgresBackend) InsertConsent(ctx context.Context, rec models.Record) (models.Row, error) {
	row, err := scanRow(b.db.QueryRowContext(ctx, `
WITH inserted AS (
    INSERT INTO consents (id, subject, purpose_id, notes, created_at)
    VALUES ($1, $2, $3, $4, $5)
    RETURNING id, subject, purpose_id, notes, created_at, archived, archived_at
)
SELECT i.id, i.subject, i.purpose_id, p.name, i.notes, i.created_at, i.archived, i.archived_at
FROM inserted i
LEFT JOIN purposes p ON p.id = i.purpose_id`,
		rec.ID, rec.Subject, rec.PurposeID, rec.Notes, rec.CreatedAt))
	if err != nil {
		return models.Row{}, fmt.Errorf("insert consent: %w", err)
	}
	return row, nil
}

// ArchiveConsent calls archive_consent(id). Repeating the call is harmless.
// An unknown id is sentinel.ErrNotFound.
func (b *PostgresBackend) ArchiveConsent(ctx context.Context, id uuid.UUID) error {
	var found bool
	if err := b.db.QueryRowContext(ctx, `SELECT archive_consent($1)`, id).Scan(&found); err != nil {
		return fmt.Errorf("archive consent: %w", err)
	}
	if !found {
		return sentinel.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (models.Row, error) {
	var r models.Row
	err := s.Scan(&r.ID, &r.Subject, &r.PurposeID, &r.PurposeName, &r.Notes, &r.CreatedAt, &r.Archived, &r.ArchivedAt)
	return r, err
}
