package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/callmind/internal/models"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var recordColumns = []string{
	"call_id", "from_number", "to_number", "status", "failure_reason",
	"recording_url", "transcript_text", "created_at", "updated_at",
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. ":memory:" gives a private in-memory store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// each pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS call_records (
		call_id TEXT PRIMARY KEY,
		from_number TEXT NOT NULL DEFAULT '',
		to_number TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		failure_reason TEXT NOT NULL DEFAULT '',
		recording_url TEXT NOT NULL DEFAULT '',
		transcript_text TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_call_records_status_updated ON call_records(status, updated_at);
	CREATE INDEX IF NOT EXISTS idx_call_records_updated ON call_records(updated_at);

	CREATE TABLE IF NOT EXISTS event_receipts (
		call_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload_hash TEXT NOT NULL,
		received_at INTEGER NOT NULL,
		PRIMARY KEY (call_id, kind, payload_hash)
	);
	`
	_, err := db.Exec(schema)
	return err
}

// GetRecord returns a call record by ID.
func (s *SQLiteStore) GetRecord(ctx context.Context, callID string) (*models.CallRecord, error) {
	query, args, err := sq.Select(recordColumns...).From("call_records").
		Where(sq.Eq{"call_id": callID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, callID)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// SaveRecord upserts rec and, when receipt is non-nil, records the receipt in the same transaction.
func (s *SQLiteStore) SaveRecord(ctx context.Context, rec *models.CallRecord, receipt *Receipt) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO call_records (call_id, from_number, to_number, status, failure_reason,
			recording_url, transcript_text, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(call_id) DO UPDATE SET
			from_number = excluded.from_number,
			to_number = excluded.to_number,
			status = excluded.status,
			failure_reason = excluded.failure_reason,
			recording_url = excluded.recording_url,
			transcript_text = excluded.transcript_text,
			updated_at = excluded.updated_at`,
		rec.CallID, rec.FromNumber, rec.ToNumber, string(rec.Status), rec.FailureReason,
		rec.RecordingURL, rec.TranscriptText, rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save call record %s: %w", rec.CallID, err)
	}

	if receipt != nil {
		at := receipt.ReceivedAt
		if at.IsZero() {
			at = time.Now()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO event_receipts (call_id, kind, payload_hash, received_at)
			 VALUES (?, ?, ?, ?)`,
			receipt.CallID, string(receipt.Kind), receipt.PayloadHash, at.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to save event receipt: %w", err)
		}
	}
	return tx.Commit()
}

// HasReceipt reports whether the event identified by r was already applied.
func (s *SQLiteStore) HasReceipt(ctx context.Context, r Receipt) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM event_receipts WHERE call_id = ? AND kind = ? AND payload_hash = ?`,
		r.CallID, string(r.Kind), r.PayloadHash,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListRecords returns records matching filter, most recently updated first.
func (s *SQLiteStore) ListRecords(ctx context.Context, filter models.RecordFilter) ([]*models.CallRecord, error) {
	q := sq.Select(recordColumns...).From("call_records").OrderBy("updated_at DESC", "call_id")
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		q = q.Where(sq.Eq{"status": statuses})
	}
	if filter.FromNumber != "" {
		q = q.Where(sq.Eq{"from_number": filter.FromNumber})
	}
	if filter.ToNumber != "" {
		q = q.Where(sq.Eq{"to_number": filter.ToNumber})
	}
	if !filter.UpdatedBefore.IsZero() {
		q = q.Where(sq.Lt{"updated_at": filter.UpdatedBefore.UnixNano()})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.CallRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountByStatus returns the number of records in each status.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[models.Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM call_records GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.Status(status)] = n
	}
	return counts, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.CallRecord, error) {
	var rec models.CallRecord
	var status string
	var created, updated int64
	err := row.Scan(&rec.CallID, &rec.FromNumber, &rec.ToNumber, &status, &rec.FailureReason,
		&rec.RecordingURL, &rec.TranscriptText, &created, &updated)
	if err != nil {
		return nil, err
	}
	rec.Status = models.Status(status)
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.UpdatedAt = time.Unix(0, updated).UTC()
	return &rec, nil
}
