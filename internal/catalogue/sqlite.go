package catalogue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/referwell/matcher/internal/cache"
	"github.com/referwell/matcher/internal/models"
	"github.com/referwell/matcher/internal/storage"
)

// Migration creates the candidates table.
var Migration = storage.Migration{
	Name: "candidates",
	Schema: `
	CREATE TABLE IF NOT EXISTS candidates (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		profile TEXT NOT NULL,
		embedding BLOB,
		embedding_model TEXT,
		indexed_at TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_candidates_embedding_model ON candidates(embedding_model);
	`,
}

// SQLiteStore implements Store using SQLite. The embedding is stored as a
// little-endian float32 blob; every other field is JSON.
type SQLiteStore struct {
	db     *sql.DB
	ownsDB bool
}

// NewSQLiteStore opens or creates the database at dbPath.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	db, err := storage.Open(ctx, dbPath, Migration)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, ownsDB: true}, nil
}

// NewSQLiteStoreFromDB uses an already open database. Close leaves db open.
func NewSQLiteStoreFromDB(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if err := storage.Migrate(ctx, db, Migration); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Upsert creates or replaces a candidate profile.
func (s *SQLiteStore) Upsert(ctx context.Context, c *models.CandidateProfile) error {
	profile := c.Clone()
	profile.Embedding = nil
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	var blob []byte
	if len(c.Embedding) > 0 {
		blob = cache.EncodeVector(c.Embedding)
	}
	var indexedAt any
	if !c.IndexedAt.IsZero() {
		indexedAt = c.IndexedAt
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO candidates (id, text, profile, embedding, embedding_model, indexed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   text = excluded.text,
		   profile = excluded.profile,
		   embedding = excluded.embedding,
		   embedding_model = excluded.embedding_model,
		   indexed_at = excluded.indexed_at,
		   updated_at = excluded.updated_at`,
		c.ID, c.Text, string(profileJSON), blob, c.EmbeddingModel, indexedAt, time.Now().UTC(),
	)
	return err
}

const selectCandidate = `SELECT profile, embedding FROM candidates`

// Get returns a candidate by ID. A missing candidate wraps storage.ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.CandidateProfile, error) {
	row := s.db.QueryRowContext(ctx, selectCandidate+` WHERE id = ?`, id)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("candidate %s: %w", id, storage.ErrNotFound)
	}
	return c, err
}

// Delete removes a candidate by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM candidates WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("candidate %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// List returns candidates ordered by id with offset and limit.
func (s *SQLiteStore) List(ctx context.Context, offset, limit int) ([]*models.CandidateProfile, error) {
	rows, err := s.db.QueryContext(ctx, selectCandidate+` ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// All returns every candidate ordered by id.
func (s *SQLiteStore) All(ctx context.Context) ([]*models.CandidateProfile, error) {
	rows, err := s.db.QueryContext(ctx, selectCandidate+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Count returns the total number of candidates.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM candidates`).Scan(&count)
	return count, err
}

// Close closes the database connection if the store opened it.
func (s *SQLiteStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCandidate(row scanner) (*models.CandidateProfile, error) {
	var (
		profileJSON string
		blob        []byte
	)
	if err := row.Scan(&profileJSON, &blob); err != nil {
		return nil, err
	}
	var c models.CandidateProfile
	if err := json.Unmarshal([]byte(profileJSON), &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	if len(blob) > 0 {
		vec, err := cache.DecodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.ID, err)
		}
		c.Embedding = vec
	}
	return &c, nil
}

func collect(rows *sql.Rows) ([]*models.CandidateProfile, error) {
	defer rows.Close()
	var out []*models.CandidateProfile
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
