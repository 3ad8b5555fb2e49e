package usecase

import (
	"context"
	"sync"
)

// CancelToken guards one generation. The transport is asked to abort on
// Cancel, but a chunk already scheduled may still arrive once; every mutation
// path checks Live first, so the trailing chunk is dropped instead of
// applied. Exactly one token is live per engine instance.
type CancelToken struct {
	mu     sync.Mutex
	live   bool
	cancel context.CancelFunc
}

func NewCancelToken(cancel context.CancelFunc) *CancelToken {
	return &CancelToken{live: true, cancel: cancel}
}

func (t *CancelToken) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// Cancel kills the token and aborts the underlying transport. Idempotent.
func (t *CancelToken) Cancel() {
	t.mu.Lock()
	wasLive := t.live
	t.live = false
	t.mu.Unlock()
	if wasLive && t.cancel != nil {
		t.cancel()
	}
}

// Retire kills the token without aborting anything; used when the turn has
// settled and late callbacks should be ignored.
func (t *CancelToken) Retire() {
	t.mu.Lock()
	t.live = false
	t.mu.Unlock()
}
