package redis

import (
	"context"
	"encoding/json"
	"time"

	"clinref-chat/internal/domain/model"
)

// SessionCache keeps recently persisted session snapshots so the remote
// store can serve hot reads without a round trip.
type SessionCache struct {
	client *redClient
	ttl    time.Duration
}

func NewSessionCache(client *redClient, ttl time.Duration) *SessionCache {
	return &SessionCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *SessionCache) StoreSession(ctx context.Context, session *model.ChatSession) error {
	key := "chat_session:" + session.ID
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl)
}

func (c *SessionCache) GetSession(ctx context.Context, sessionID string) (*model.ChatSession, error) {
	key := "chat_session:" + sessionID
	data, err := c.client.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var session model.ChatSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *SessionCache) DeleteSession(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, "chat_session:"+sessionID)
}

func (c *SessionCache) ExtendSession(ctx context.Context, sessionID string) error {
	return c.client.Expire(ctx, "chat_session:"+sessionID, c.ttl)
}
