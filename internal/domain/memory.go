package domain

import (
	"context"
	"time"
)

// Turn is one persisted conversation entry. Only the summary pair (user
// message, final assistant answer) of each processed message is retained;
// intermediate tool traffic stays in the in-flight transcript.
type Turn struct {
	Role      string
	Content   string
	Media     []string
	CreatedAt time.Time
}

// Session is a persisted conversation, one per session key.
type Session struct {
	ID        int64
	Key       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionStore persists per-conversation ordered history. Sessions are
// created lazily on first use and never deleted by the core.
type SessionStore interface {
	GetOrCreate(ctx context.Context, key string) (*Session, error)

	// History returns the most recent turns in chronological order,
	// capped at limit when limit > 0.
	History(ctx context.Context, key string, limit int) ([]Turn, error)

	Append(ctx context.Context, key, role, content string, media []string) error

	Close() error
}
