// Package memory defines the memory adapter contract used to carry
// notes across sessions, plus a SQLite-backed implementation.
package memory

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound marks a lookup of an unknown memory id.
var ErrNotFound = errors.New("memory not found")

// Tier separates short-lived working notes from durable knowledge.
type Tier string

const (
	TierShort Tier = "short"
	TierLong  Tier = "long"
)

// Entry is one stored memory.
type Entry struct {
	ID        string    `json:"id"`
	Tier      Tier      `json:"tier"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the memory adapter contract. The coordination core does not
// know the storage backend behind it.
type Store interface {
	Save(ctx context.Context, content string, tier Tier) (string, error)
	Load(ctx context.Context, id string) (*Entry, error)
	Search(ctx context.Context, query string) ([]Entry, error)
	Update(ctx context.Context, id, content string) error
}
