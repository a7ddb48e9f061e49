package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id         TEXT PRIMARY KEY,
	tier       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_tier ON memories(tier);
`

// SQLiteStore persists memories in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at path. Use ":memory:"
// for an ephemeral store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate memory db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save stores content under a fresh id.
func (s *SQLiteStore) Save(ctx context.Context, content string, tier Tier) (string, error) {
	if tier != TierShort && tier != TierLong {
		return "", fmt.Errorf("unknown memory tier %q", tier)
	}
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, tier, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(tier), content, now, now)
	if err != nil {
		return "", fmt.Errorf("save memory: %w", err)
	}
	return id, nil
}

// Load fetches one memory by id.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tier, content, created_at, updated_at FROM memories WHERE id = ?`, id)
	var e Entry
	var tier string
	if err := row.Scan(&e.ID, &tier, &e.Content, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("load %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("load memory: %w", err)
	}
	e.Tier = Tier(tier)
	return &e, nil
}

// Search returns memories whose content contains the query substring,
// newest first.
func (s *SQLiteStore) Search(ctx context.Context, query string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tier, content, created_at, updated_at FROM memories
		 WHERE content LIKE '%' || ? || '%' ORDER BY updated_at DESC`, query)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var tier string
		if err := rows.Scan(&e.ID, &tier, &e.Content, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		e.Tier = Tier(tier)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Update replaces the content of an existing memory.
func (s *SQLiteStore) Update(ctx context.Context, id, content string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET content = ?, updated_at = ? WHERE id = ?`,
		content, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	return nil
}
