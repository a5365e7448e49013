package vector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/callmind/internal/models"
)

// SQLiteIndex persists documents and their embeddings in SQLite and scores them by brute force.
// Suitable for a single node with up to a few hundred thousand calls.
type SQLiteIndex struct {
	db         *sql.DB
	dimensions int
}

// NewSQLiteIndex opens or creates a vector table in the database at dbPath.
func NewSQLiteIndex(dbPath string, dimensions int) (*SQLiteIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if dir := filepath.Dir(dbPath); dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS transcript_vectors (
		doc_id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		from_number TEXT NOT NULL DEFAULT '',
		to_number TEXT NOT NULL DEFAULT '',
		timestamp INTEGER NOT NULL,
		dimensions INTEGER NOT NULL,
		embedding BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transcript_vectors_timestamp ON transcript_vectors(timestamp);
	CREATE TABLE IF NOT EXISTS index_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}
	return &SQLiteIndex{db: db, dimensions: dimensions}, nil
}

// Upsert inserts or replaces the document keyed by doc.DocID.
func (s *SQLiteIndex) Upsert(ctx context.Context, doc *models.TranscriptDocument) error {
	if err := checkDimensions(doc.Embedding, s.dimensions); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcript_vectors (doc_id, text, from_number, to_number, timestamp, dimensions, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(doc_id) DO UPDATE SET
			text = excluded.text,
			from_number = excluded.from_number,
			to_number = excluded.to_number,
			timestamp = excluded.timestamp,
			dimensions = excluded.dimensions,
			embedding = excluded.embedding`,
		doc.DocID, doc.Text, doc.Metadata.FromNumber, doc.Metadata.ToNumber,
		doc.Metadata.Timestamp.UnixNano(), len(doc.Embedding), float32SliceToBytes(doc.Embedding),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", doc.DocID, err)
	}
	return nil
}

// Query scores every stored vector against vector and returns the best limit hits.
func (s *SQLiteIndex) Query(ctx context.Context, vector []float32, limit int) ([]*Hit, error) {
	if err := checkDimensions(vector, s.dimensions); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, text, from_number, to_number, timestamp, embedding
		 FROM transcript_vectors`)
	if err != nil {
		return nil, fmt.Errorf("failed to scan vectors: %w", err)
	}
	defer rows.Close()

	var hits []*Hit
	for rows.Next() {
		doc, blob, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		hits = append(hits, &Hit{
			DocID:    doc.DocID,
			Score:    InnerProduct(vector, bytesToFloat32Slice(blob)),
			Text:     doc.Text,
			Metadata: doc.Metadata,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return topK(hits, limit), nil
}

// ListRecent returns the newest documents by metadata timestamp.
func (s *SQLiteIndex) ListRecent(ctx context.Context, limit int) ([]*models.TranscriptDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, text, from_number, to_number, timestamp, embedding
		 FROM transcript_vectors ORDER BY timestamp DESC, doc_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.TranscriptDocument
	for rows.Next() {
		doc, blob, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		doc.Embedding = bytesToFloat32Slice(blob)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Delete removes a document by id.
func (s *SQLiteIndex) Delete(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM transcript_vectors WHERE doc_id = ?`, docID)
	return err
}

// Count returns the number of stored documents.
func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcript_vectors`).Scan(&n)
	return n, err
}

// bindSpace records space in index_meta on first use and refuses an index built in another.
// An index from before the space was recorded is accepted only when every stored vector has
// the expected dimension.
func (s *SQLiteIndex) bindSpace(ctx context.Context, space Space) error {
	if space.Dimensions != s.dimensions {
		return mismatch(fmt.Sprintf("%d dimensions", s.dimensions), space)
	}
	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = 'embedding_space'`).Scan(&stored)
	switch {
	case err == nil:
		if stored != space.String() {
			return mismatch(stored, space)
		}
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to read index metadata: %w", err)
	}

	var foreign int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transcript_vectors WHERE dimensions != ?`, space.Dimensions).Scan(&foreign); err != nil {
		return fmt.Errorf("failed to check stored vectors: %w", err)
	}
	if foreign > 0 {
		return fmt.Errorf("%w: %d stored vectors do not have %d dimensions", ErrSpaceMismatch, foreign, space.Dimensions)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO index_meta (key, value) VALUES ('embedding_space', ?)`, space.String()); err != nil {
		return fmt.Errorf("failed to record embedding space: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

func scanDocument(rows *sql.Rows) (*models.TranscriptDocument, []byte, error) {
	var doc models.TranscriptDocument
	var ts int64
	var blob []byte
	if err := rows.Scan(&doc.DocID, &doc.Text, &doc.Metadata.FromNumber, &doc.Metadata.ToNumber, &ts, &blob); err != nil {
		return nil, nil, err
	}
	doc.Metadata.Timestamp = time.Unix(0, ts).UTC()
	return &doc, blob, nil
}
