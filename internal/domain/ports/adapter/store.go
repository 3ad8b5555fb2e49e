package adapter

import (
	"context"
	"time"

	"clinref-chat/internal/domain/model"
)

// SessionSummary is what the remote store returns when listing sessions.
// Summaries never carry message bodies; those are fetched lazily.
type SessionSummary struct {
	ID         string
	Title      string
	Region     string
	Country    string
	IsFavorite bool
	UpdatedAt  time.Time
}

// SessionMeta is the payload for a remote session create.
type SessionMeta struct {
	Title   string
	Region  string
	Country string
}

// SessionStore is the port for the hosted auth/data store.
type SessionStore interface {
	CreateSession(ctx context.Context, identityID string, meta SessionMeta) (string, error)
	ListSessions(ctx context.Context, identityID string) ([]SessionSummary, error)
	GetMessages(ctx context.Context, sessionID string) ([]model.Message, error)
	SaveMessages(ctx context.Context, sessionID string, msgs []model.Message) error
	UpdateSession(ctx context.Context, identityID string, s *model.ChatSession) error
	DeleteSession(ctx context.Context, sessionID string) error

	CurrentIdentity(ctx context.Context, identityID string) (*model.Identity, error)
	GetPreferences(ctx context.Context, identityID string) (*model.Preferences, error)
	PutPreferences(ctx context.Context, identityID string, p *model.Preferences) error
}
