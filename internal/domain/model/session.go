package model

import (
	"time"

	"github.com/google/uuid"
)

// SyncState tags whether a session id is still locally minted or has been
// adopted from the remote store. A session never exists under two ids: the
// reconciler rewrites the id atomically when the remote id arrives.
type SyncState string

const (
	SyncLocallyOwned SyncState = "local"
	SyncSynced       SyncState = "synced"
)

// LoadState tracks lazy message hydration for sessions rebuilt from remote
// summaries (which carry no message bodies).
type LoadState string

const (
	// LoadPlaceholder means the session came from a remote summary and its
	// messages have not been fetched yet.
	LoadPlaceholder LoadState = "placeholder"
	LoadLoading     LoadState = "loading"
	LoadLoaded      LoadState = "loaded"
)

// ChatSession is one conversation thread.
type ChatSession struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Messages   []Message `json:"messages"`
	Region     string    `json:"region"`
	Country    string    `json:"country"`
	IsFavorite bool      `json:"is_favorite"`
	UpdatedAt  time.Time `json:"updated_at"`

	Sync SyncState `json:"-"`
	Load LoadState `json:"-"`
}

// NewChatSession creates a locally-owned session with a timestamp title.
// The id may later be replaced by a store-issued one via Adopt.
func NewChatSession(region, country string) *ChatSession {
	now := time.Now()
	return &ChatSession{
		ID:        uuid.NewString(),
		Title:     now.Format("2006-01-02 15:04"),
		Messages:  make([]Message, 0, 4),
		Region:    region,
		Country:   country,
		UpdatedAt: now,
		Sync:      SyncLocallyOwned,
		Load:      LoadLoaded,
	}
}

// PlaceholderSession rebuilds a session shell from a remote summary. Its
// messages stay empty until loaded on demand.
func PlaceholderSession(id, title, region, country string, favorite bool, updatedAt time.Time) *ChatSession {
	return &ChatSession{
		ID:         id,
		Title:      title,
		Region:     region,
		Country:    country,
		IsFavorite: favorite,
		UpdatedAt:  updatedAt,
		Sync:       SyncSynced,
		Load:       LoadPlaceholder,
	}
}

// Adopt switches the session to the store-issued canonical id.
func (s *ChatSession) Adopt(remoteID string) {
	if remoteID == "" || s.Sync == SyncSynced {
		return
	}
	s.ID = remoteID
	s.Sync = SyncSynced
}

func (s *ChatSession) Append(m Message) {
	s.Messages = append(s.Messages, m)
	s.UpdatedAt = time.Now()
}

// LastAssistant returns a pointer to the trailing assistant message, or nil.
func (s *ChatSession) LastAssistant() *Message {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return &s.Messages[i]
		}
	}
	return nil
}

// Touch refreshes the snapshot fields after a turn: title is preserved when
// already set, region/country reflect the most recent turn, updatedAt governs
// list order.
func (s *ChatSession) Touch(region, country string) {
	if region != "" {
		s.Region = region
	}
	if country != "" {
		s.Country = country
	}
	s.UpdatedAt = time.Now()
}
