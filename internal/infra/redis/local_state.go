package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"clinref-chat/internal/domain/model"
	"clinref-chat/internal/domain/ports/repository"
)

var _ repository.LocalState = (*LocalStateRepo)(nil)

// LocalStateRepo is the device-local key/value store: usage counters, the
// last-active-session pointer, and preference echoes. Counters are written
// with INCR so the charge is durable before the generation request leaves.
type LocalStateRepo struct {
	client *redClient
}

func NewLocalStateRepo(client *redClient) *LocalStateRepo {
	return &LocalStateRepo{client: client}
}

func counterKey(scope model.CounterScope, key string) string {
	return fmt.Sprintf("usage:%s:%s", scope, key)
}

func (r *LocalStateRepo) IncrCounter(ctx context.Context, scope model.CounterScope, key string) (int, error) {
	n, err := r.client.Incr(ctx, counterKey(scope, key))
	if err != nil {
		return 0, fmt.Errorf("incr counter: %w", err)
	}
	return int(n), nil
}

func (r *LocalStateRepo) GetCounter(ctx context.Context, scope model.CounterScope, key string) (int, error) {
	v, err := r.client.Get(ctx, counterKey(scope, key))
	if err != nil {
		if IsNil(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("get counter: %w", err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("counter value %q: %w", v, err)
	}
	return n, nil
}

func (r *LocalStateRepo) ResetCounter(ctx context.Context, scope model.CounterScope, key string) error {
	return r.client.Del(ctx, counterKey(scope, key))
}

func (r *LocalStateRepo) SetLastActiveSession(ctx context.Context, deviceID, sessionID string) error {
	return r.client.Set(ctx, "last_session:"+deviceID, sessionID, 0)
}

func (r *LocalStateRepo) LastActiveSession(ctx context.Context, deviceID string) (string, error) {
	v, err := r.client.Get(ctx, "last_session:"+deviceID)
	if err != nil {
		if IsNil(err) {
			return "", nil
		}
		return "", err
	}
	return v, nil
}

func (r *LocalStateRepo) SetPreferences(ctx context.Context, deviceID string, p *model.Preferences) error {
	key := "prefs:" + deviceID
	if p == nil || !p.Remember {
		// Remember off means nothing is echoed locally.
		return r.client.Del(ctx, key)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, 0)
}

func (r *LocalStateRepo) GetPreferences(ctx context.Context, deviceID string) (*model.Preferences, error) {
	data, err := r.client.Get(ctx, "prefs:"+deviceID)
	if err != nil {
		if IsNil(err) {
			return nil, nil
		}
		return nil, err
	}
	var p model.Preferences
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
