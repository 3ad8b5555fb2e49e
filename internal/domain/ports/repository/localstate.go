package repository

import (
	"context"

	"clinref-chat/internal/domain/model"
)

// LocalState is the device-local key/value store backing the usage counters,
// the last-active-session pointer and the preference echoes. It must persist
// a charged counter before the generation request goes out, so a reload
// mid-turn cannot undo the charge.
type LocalState interface {
	// IncrCounter advances the counter for a scope key and returns the new
	// value. The write is durable before the call returns.
	IncrCounter(ctx context.Context, scope model.CounterScope, key string) (int, error)
	GetCounter(ctx context.Context, scope model.CounterScope, key string) (int, error)
	// ResetCounter exists for external reset events only (guest sign-out).
	ResetCounter(ctx context.Context, scope model.CounterScope, key string) error

	SetLastActiveSession(ctx context.Context, deviceID, sessionID string) error
	LastActiveSession(ctx context.Context, deviceID string) (string, error)

	// Preference echoes, gated by the Remember flag inside Preferences.
	SetPreferences(ctx context.Context, deviceID string, p *model.Preferences) error
	GetPreferences(ctx context.Context, deviceID string) (*model.Preferences, error)
}
