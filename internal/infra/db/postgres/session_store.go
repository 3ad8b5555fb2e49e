package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"clinref-chat/internal/domain"
	"clinref-chat/internal/domain/model"
	"clinref-chat/internal/domain/ports/adapter"
	"clinref-chat/internal/infra/redis"
	"clinref-chat/internal/infra/security"
)

var _ adapter.SessionStore = (*SessionStore)(nil)

// SessionStore is the Postgres reference implementation of the remote
// session/identity store. Message bodies are encrypted at rest when an
// encryption service is supplied; hot session snapshots are cached in redis.
type SessionStore struct {
	pool  *pgxpool.Pool
	cache *redis.SessionCache
	enc   *security.EncryptionService
}

func NewSessionStore(pool *pgxpool.Pool, cache *redis.SessionCache, enc *security.EncryptionService) *SessionStore {
	return &SessionStore{pool: pool, cache: cache, enc: enc}
}

func (s *SessionStore) CreateSession(ctx context.Context, identityID string, meta adapter.SessionMeta) (string, error) {
	id := uuid.NewString()
	const q = `
INSERT INTO chat_sessions (id, identity_id, title, region, country, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW());`
	if _, err := s.pool.Exec(ctx, q, id, identityID, meta.Title, meta.Region, meta.Country); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

func (s *SessionStore) ListSessions(ctx context.Context, identityID string) ([]adapter.SessionSummary, error) {
	const q = `
SELECT id, title, region, country, is_favorite, updated_at
FROM chat_sessions WHERE identity_id = $1
ORDER BY updated_at DESC;`
	rows, err := s.pool.Query(ctx, q, identityID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []adapter.SessionSummary
	for rows.Next() {
		var sum adapter.SessionSummary
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Region, &sum.Country, &sum.IsFavorite, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SessionStore) GetMessages(ctx context.Context, sessionID string) ([]model.Message, error) {
	// Hot path: a snapshot cached on the last upsert already carries the
	// full message list in the clear, so a hit skips both the query and
	// the per-message decrypt. Any cache error falls through to Postgres.
	if s.cache != nil {
		if cached, err := s.cache.GetSession(ctx, sessionID); err == nil && len(cached.Messages) > 0 {
			_ = s.cache.ExtendSession(ctx, sessionID)
			return cached.Messages, nil
		}
	}
	const q = `
SELECT id, role, content, encrypted, is_error, created_at
FROM chat_messages WHERE session_id = $1
ORDER BY id;`
	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		var role string
		var encrypted bool
		if err := rows.Scan(&m.ID, &role, &m.Text, &encrypted, &m.IsError, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = model.MessageRole(role)
		if encrypted && s.enc != nil {
			plain, err := s.enc.Decrypt(m.Text)
			if err != nil {
				return nil, fmt.Errorf("decrypt message %s: %w", m.ID, err)
			}
			m.Text = plain
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveMessages upserts the full message list for a session. Message ids are
// sortable, so primary-key order reproduces conversation order on read.
func (s *SessionStore) SaveMessages(ctx context.Context, sessionID string, msgs []model.Message) error {
	const q = `
INSERT INTO chat_messages (id, session_id, role, content, encrypted, is_error, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  content = EXCLUDED.content,
  encrypted = EXCLUDED.encrypted,
  is_error = EXCLUDED.is_error;`
	for _, m := range msgs {
		payload := m.Text
		encFlag := false
		if s.enc != nil {
			enc, err := s.enc.Encrypt(m.Text)
			if err != nil {
				return fmt.Errorf("encrypt message: %w", err)
			}
			payload = enc
			encFlag = true
		}
		if _, err := s.pool.Exec(ctx, q, m.ID, sessionID, string(m.Role), payload, encFlag, m.IsError, m.Timestamp); err != nil {
			return fmt.Errorf("save message: %w", err)
		}
	}
	return nil
}

func (s *SessionStore) UpdateSession(ctx context.Context, identityID string, sess *model.ChatSession) error {
	const q = `
INSERT INTO chat_sessions (id, identity_id, title, region, country, is_favorite, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  title = EXCLUDED.title,
  region = EXCLUDED.region,
  country = EXCLUDED.country,
  is_favorite = EXCLUDED.is_favorite,
  updated_at = EXCLUDED.updated_at;`
	if _, err := s.pool.Exec(ctx, q, sess.ID, identityID, sess.Title, sess.Region, sess.Country, sess.IsFavorite, sess.UpdatedAt); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if s.cache != nil {
		_ = s.cache.StoreSession(ctx, sess)
	}
	return nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	const q = `DELETE FROM chat_sessions WHERE id = $1;`
	if _, err := s.pool.Exec(ctx, q, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if s.cache != nil {
		_ = s.cache.DeleteSession(ctx, sessionID)
	}
	return nil
}

func (s *SessionStore) CurrentIdentity(ctx context.Context, identityID string) (*model.Identity, error) {
	const q = `SELECT id, email, role, sub_active, COALESCE(sub_renews_at, 'epoch'::timestamptz) FROM identities WHERE id = $1;`
	var ident model.Identity
	err := s.pool.QueryRow(ctx, q, identityID).Scan(
		&ident.ID, &ident.Email, &ident.Role,
		&ident.Subscription.Active, &ident.Subscription.RenewsAt,
	)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("identity lookup: %w", err)
	}
	return &ident, nil
}

func (s *SessionStore) GetPreferences(ctx context.Context, identityID string) (*model.Preferences, error) {
	const q = `
SELECT remember, region, country, language, font_size, short_answer
FROM preferences WHERE identity_id = $1;`
	var p model.Preferences
	err := s.pool.QueryRow(ctx, q, identityID).Scan(
		&p.Remember, &p.Region, &p.Country, &p.Language, &p.FontSize, &p.ShortAnswer,
	)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("preferences lookup: %w", err)
	}
	return &p, nil
}

func (s *SessionStore) PutPreferences(ctx context.Context, identityID string, p *model.Preferences) error {
	const q = `
INSERT INTO preferences (identity_id, remember, region, country, language, font_size, short_answer)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (identity_id) DO UPDATE SET
  remember = EXCLUDED.remember,
  region = EXCLUDED.region,
  country = EXCLUDED.country,
  language = EXCLUDED.language,
  font_size = EXCLUDED.font_size,
  short_answer = EXCLUDED.short_answer;`
	if _, err := s.pool.Exec(ctx, q, identityID, p.Remember, p.Region, p.Country, p.Language, p.FontSize, p.ShortAnswer); err != nil {
		return fmt.Errorf("put preferences: %w", err)
	}
	return nil
}
