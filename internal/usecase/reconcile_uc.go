package usecase

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"clinref-chat/internal/domain"
	"clinref-chat/internal/domain/model"
	"clinref-chat/internal/domain/ports/adapter"
	"clinref-chat/internal/infra/metrics"
	"clinref-chat/internal/infra/worker"
)

// Handle is the stable internal key for a session in the reconciler's arena.
// It never changes, even when the session's externally-visible id is rewritten
// on adoption, so there is no window where a session exists under two ids.
type Handle int

// SessionReconciler owns the local session list and merges it against the
// remote store under optimistic-update semantics. All mutations of the list
// and of session content go through its operations.
type SessionReconciler struct {
	mu    sync.Mutex
	store adapter.SessionStore
	pool  *worker.Pool
	log   *zerolog.Logger

	next     Handle
	sessions map[Handle]*model.ChatSession
	byID     map[string]Handle
	active   Handle // 0 = none
}

func NewSessionReconciler(store adapter.SessionStore, pool *worker.Pool, logger *zerolog.Logger) *SessionReconciler {
	l := logger.With().Str("component", "SessionReconciler").Logger()
	return &SessionReconciler{
		store:    store,
		pool:     pool,
		log:      &l,
		sessions: make(map[Handle]*model.ChatSession),
		byID:     make(map[string]Handle),
	}
}

// CreateSession starts a new thread. Signed-in clients try the remote store
// first and adopt the store-issued id; on failure the locally generated id
// stands until a later sync succeeds.
func (r *SessionReconciler) CreateSession(ctx context.Context, identityID, region, country string) (Handle, *model.ChatSession) {
	s := model.NewChatSession(region, country)

	if identityID != "" {
		remoteID, err := r.store.CreateSession(ctx, identityID, adapter.SessionMeta{
			Title:   s.Title,
			Region:  region,
			Country: country,
		})
		if err != nil {
			r.log.Warn().Err(err).Msg("remote create failed, keeping local id")
		} else {
			s.Adopt(remoteID)
			metrics.IncAdopted()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	h := r.next
	r.sessions[h] = s
	r.byID[s.ID] = h
	r.active = h
	return h, s
}

// Adopt rewrites a session's externally-visible id to the remote canonical
// one. The arena handle stays fixed; only the id index moves.
func (r *SessionReconciler) Adopt(h Handle, remoteID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[h]
	if !ok || s.Sync == model.SyncSynced || remoteID == "" {
		return
	}
	delete(r.byID, s.ID)
	s.Adopt(remoteID)
	r.byID[s.ID] = h
	metrics.IncAdopted()
}

func (r *SessionReconciler) Session(h Handle) (*model.ChatSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[h]
	return s, ok
}

func (r *SessionReconciler) HandleByID(id string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byID[id]
	return h, ok
}

func (r *SessionReconciler) Active() Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *SessionReconciler) SetActive(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[h]; ok {
		r.active = h
	}
}

// Append adds a message to a session and returns its id.
func (r *SessionReconciler) Append(h Handle, m model.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[h]
	if !ok {
		return "", domain.ErrNotFound
	}
	s.Append(m)
	return m.ID, nil
}

// UpdateMessage mutates one message in place under the reconciler's lock.
// This is the only write path for streaming chunk application.
func (r *SessionReconciler) UpdateMessage(h Handle, messageID string, fn func(*model.Message)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[h]
	if !ok {
		return domain.ErrNotFound
	}
	for i := range s.Messages {
		if s.Messages[i].ID == messageID {
			fn(&s.Messages[i])
			return nil
		}
	}
	return domain.ErrNotFound
}

// Messages returns a copy of a session's message list.
func (r *SessionReconciler) Messages(h Handle) []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[h]
	if !ok {
		return nil
	}
	out := make([]model.Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// PersistTurn recomputes the session snapshot after a state change, re-sorts
// the list, and pushes the update to the remote store in the background.
// Remote failure is logged only; the local view is authoritative until the
// next successful sync.
func (r *SessionReconciler) PersistTurn(ctx context.Context, h Handle, identityID, region, country string) {
	r.mu.Lock()
	s, ok := r.sessions[h]
	if !ok {
		r.mu.Unlock()
		return
	}
	s.Touch(region, country)
	snapshot := *s
	msgs := make([]model.Message, len(s.Messages))
	copy(msgs, s.Messages)
	snapshot.Messages = msgs
	r.mu.Unlock()

	if identityID == "" {
		return
	}
	if err := r.pool.Submit(func(ctx context.Context) error {
		// A session created while the store was unreachable syncs on the
		// next successful turn: the remote create is retried and the local
		// id replaced through the same adopt path.
		if snapshot.Sync == model.SyncLocallyOwned {
			remoteID, err := r.store.CreateSession(ctx, identityID, adapter.SessionMeta{
				Title:   snapshot.Title,
				Region:  snapshot.Region,
				Country: snapshot.Country,
			})
			if err != nil {
				r.log.Warn().Err(err).Str("session_id", snapshot.ID).Msg("deferred remote create failed")
				return nil
			}
			r.Adopt(h, remoteID)
			snapshot.ID = remoteID
			snapshot.Sync = model.SyncSynced
		}
		if err := r.store.UpdateSession(ctx, identityID, &snapshot); err != nil {
			r.log.Warn().Err(err).Str("session_id", snapshot.ID).Msg("session update not persisted")
			return nil
		}
		if err := r.store.SaveMessages(ctx, snapshot.ID, msgs); err != nil {
			r.log.Warn().Err(err).Str("session_id", snapshot.ID).Msg("messages not persisted")
		}
		return nil
	}); err != nil {
		r.log.Warn().Err(err).Msg("persist task dropped")
	}
}

// RefreshTitle pulls the remote session list and merges it by id. Remote wins
// title, region, country, favorite and updatedAt; local wins in-memory
// messages (remote summaries carry no bodies). The active session is never
// dropped, even if the refreshed list omits it (a race with the create call).
func (r *SessionReconciler) RefreshTitle(ctx context.Context, identityID string) error {
	if identityID == "" {
		return nil
	}
	summaries, err := r.store.ListSessions(ctx, identityID)
	if err != nil {
		r.log.Warn().Err(err).Msg("title refresh failed")
		return err
	}
	r.MergeRemote(summaries)
	return nil
}

// MergeRemote applies a remote session-summary list to the local arena.
func (r *SessionReconciler) MergeRemote(summaries []adapter.SessionSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	remote := make(map[string]adapter.SessionSummary, len(summaries))
	for _, sum := range summaries {
		remote[sum.ID] = sum
	}

	for id, sum := range remote {
		if h, ok := r.byID[id]; ok {
			s := r.sessions[h]
			s.Title = sum.Title
			s.Region = sum.Region
			s.Country = sum.Country
			s.IsFavorite = sum.IsFavorite
			s.UpdatedAt = sum.UpdatedAt
			metrics.IncMerge("updated")
			continue
		}
		r.next++
		h := r.next
		s := model.PlaceholderSession(sum.ID, sum.Title, sum.Region, sum.Country, sum.IsFavorite, sum.UpdatedAt)
		r.sessions[h] = s
		r.byID[id] = h
		metrics.IncMerge("inserted")
	}

	// Drop synced sessions the remote no longer knows, except the active one
	// and anything still locally owned (it has never reached the store).
	for h, s := range r.sessions {
		if _, ok := remote[s.ID]; ok {
			continue
		}
		if h == r.active {
			metrics.IncMerge("reinserted_active")
			continue
		}
		if s.Sync == model.SyncLocallyOwned {
			continue
		}
		delete(r.byID, s.ID)
		delete(r.sessions, h)
	}
}

// LoadSession hydrates a placeholder session's messages from the remote
// store. On fetch failure the session reverts to an explicit empty Loaded
// state rather than sticking in Loading.
func (r *SessionReconciler) LoadSession(ctx context.Context, h Handle) error {
	r.mu.Lock()
	s, ok := r.sessions[h]
	if !ok {
		r.mu.Unlock()
		return domain.ErrNotFound
	}
	if s.Load != model.LoadPlaceholder {
		r.mu.Unlock()
		return nil
	}
	s.Load = model.LoadLoading
	id := s.ID
	r.mu.Unlock()

	msgs, err := r.store.GetMessages(ctx, id)

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.sessions[h]; !ok {
		return domain.ErrNotFound
	}
	if err != nil {
		r.log.Warn().Err(err).Str("session_id", id).Msg("message load failed")
		s.Messages = make([]model.Message, 0)
		s.Load = model.LoadLoaded
		return err
	}
	s.Messages = msgs
	s.Load = model.LoadLoaded
	return nil
}

// DeleteSession removes the session locally at once and fires a best-effort
// remote delete. Remote failure is logged, not retried, never surfaced.
func (r *SessionReconciler) DeleteSession(h Handle) {
	r.mu.Lock()
	s, ok := r.sessions[h]
	if !ok {
		r.mu.Unlock()
		return
	}
	id := s.ID
	synced := s.Sync == model.SyncSynced
	delete(r.byID, s.ID)
	delete(r.sessions, h)
	if r.active == h {
		r.active = 0
	}
	r.mu.Unlock()

	if !synced {
		return
	}
	if err := r.pool.Submit(func(ctx context.Context) error {
		if err := r.store.DeleteSession(ctx, id); err != nil {
			r.log.Warn().Err(err).Str("session_id", id).Msg("remote delete failed")
		}
		return nil
	}); err != nil {
		r.log.Warn().Err(err).Msg("delete task dropped")
	}
}

// ToggleFavorite flips the user-toggled flag and bumps nothing else.
func (r *SessionReconciler) ToggleFavorite(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[h]; ok {
		s.IsFavorite = !s.IsFavorite
	}
}

// List returns the sessions sorted by updatedAt descending. Equal timestamps
// fall back to id order so the listing is deterministic.
func (r *SessionReconciler) List() []*model.ChatSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.ChatSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}
