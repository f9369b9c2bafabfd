// Package journal provides durable storage for settled save attempts
// and the confirmed baseline. Uses SQLite with WAL mode for concurrent
// read access; payload values are stored as zstd-compressed canonical
// JSON.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/scribe/internal/record"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added created_at index on attempts
const currentSchemaVersion = 1

// Attempt statuses as stored in the attempts table.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Attempt is one settled save attempt.
type Attempt struct {
	// Seq is the journal-assigned sequence number, set by RecordAttempt.
	Seq int64

	// Token is the UUIDv7 attempt token.
	Token string

	// At is when the attempt started.
	At time.Time

	// RetryCount is the consecutive-failure counter at attempt start.
	RetryCount int

	// Payload holds the attempted field values.
	Payload record.Object

	// Status is StatusOK or StatusFailed.
	Status string

	// Code is the error code category for failed attempts.
	Code string

	// Error is the error text for failed attempts.
	Error string
}

// Stats summarizes the attempt log.
type Stats struct {
	Total     int64
	Succeeded int64
	Failed    int64
	Retried   int64 // attempts that started with a nonzero retry count
}

// Journal is a durable save-attempt log backed by SQLite.
type Journal struct {
	db    *sql.DB
	codec *payloadCodec
}

// Open creates or opens a journal database at the given path.
// Applies required pragmas and migrations automatically; idempotent.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent settles.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	codec, err := newPayloadCodec()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init payload codec: %w", err)
	}
	return &Journal{db: db, codec: codec}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.codec != nil {
		j.codec.Close()
	}
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// RecordAttempt appends one settled attempt, assigning att.Seq.
func (j *Journal) RecordAttempt(ctx context.Context, att *Attempt) error {
	if att.Status != StatusOK && att.Status != StatusFailed {
		return fmt.Errorf("invalid attempt status %q", att.Status)
	}
	blob, err := j.codec.encode(att.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	res, err := j.db.ExecContext(ctx, `
		INSERT INTO attempts (token, created_at, retry_count, payload, status, code, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, att.Token, att.At.UTC().Format(time.RFC3339Nano), att.RetryCount, blob, att.Status, att.Code, att.Error)
	if err != nil {
		return fmt.Errorf("insert attempt %s: %w", att.Token, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("attempt seq: %w", err)
	}
	att.Seq = seq
	return nil
}

// Attempts returns every recorded attempt in sequence order.
func (j *Journal) Attempts(ctx context.Context) ([]Attempt, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, token, created_at, retry_count, payload, status, code, error
		FROM attempts ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var (
			att       Attempt
			createdAt string
			blob      []byte
		)
		if err := rows.Scan(&att.Seq, &att.Token, &createdAt, &att.RetryCount,
			&blob, &att.Status, &att.Code, &att.Error); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		att.At, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse attempt %d timestamp: %w", att.Seq, err)
		}
		att.Payload, err = j.codec.decode(blob)
		if err != nil {
			return nil, fmt.Errorf("decode attempt %d payload: %w", att.Seq, err)
		}
		out = append(out, att)
	}
	return out, rows.Err()
}

// PutBaseline upserts the confirmed value for one top-level field,
// stamped with the confirming attempt's seq. A nil value deletes the
// field.
func (j *Journal) PutBaseline(ctx context.Context, field string, v record.Value, seq int64) error {
	if v == nil {
		_, err := j.db.ExecContext(ctx, `DELETE FROM baseline WHERE field = ?`, field)
		if err != nil {
			return fmt.Errorf("delete baseline field %q: %w", field, err)
		}
		return nil
	}
	blob, err := j.codec.encodeValue(v)
	if err != nil {
		return fmt.Errorf("encode baseline field %q: %w", field, err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO baseline (field, value, updated_seq) VALUES (?, ?, ?)
		ON CONFLICT(field) DO UPDATE SET value = excluded.value, updated_seq = excluded.updated_seq
	`, field, blob, seq)
	if err != nil {
		return fmt.Errorf("upsert baseline field %q: %w", field, err)
	}
	return nil
}

// Baseline reconstructs the confirmed baseline from the journal.
func (j *Journal) Baseline(ctx context.Context) (record.Object, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT field, value FROM baseline ORDER BY field`)
	if err != nil {
		return nil, fmt.Errorf("query baseline: %w", err)
	}
	defer rows.Close()

	obj := record.Object{}
	for rows.Next() {
		var (
			field string
			blob  []byte
		)
		if err := rows.Scan(&field, &blob); err != nil {
			return nil, fmt.Errorf("scan baseline row: %w", err)
		}
		v, err := j.codec.decodeValue(blob)
		if err != nil {
			return nil, fmt.Errorf("decode baseline field %q: %w", field, err)
		}
		obj[field] = v
	}
	return obj, rows.Err()
}

// Stats aggregates the attempt log.
func (j *Journal) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := j.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'ok' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN retry_count > 0 THEN 1 ELSE 0 END), 0)
		FROM attempts
	`).Scan(&s.Total, &s.Succeeded, &s.Failed, &s.Retried)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return s, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on
// user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
		version = 1
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 adds the created_at index for databases created before
// the index existed in schema.sql.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_attempts_created_at
		ON attempts(created_at)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}
