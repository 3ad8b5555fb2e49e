package application

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"clinref-chat/internal/domain"
	"clinref-chat/internal/domain/model"
	"clinref-chat/internal/domain/ports/adapter"
	"clinref-chat/internal/domain/ports/repository"
	"clinref-chat/internal/infra/audio"
	"clinref-chat/internal/infra/i18n"
	"clinref-chat/internal/infra/sched"
	"clinref-chat/internal/infra/worker"
	"clinref-chat/internal/usecase"
)

// Engine is one client instance: one current session, one live cancel token,
// one audio playback slot. The web layer resolves a device id to an Engine
// and forwards requests; everything stateful lives below here.
type Engine struct {
	deviceID string

	orch  *usecase.Orchestrator
	rec   *usecase.SessionReconciler
	audio *audio.Manager
	gate  usecase.EntitlementGate
	store adapter.SessionStore
	local repository.LocalState
	log   *zerolog.Logger

	mu       sync.Mutex
	identity *model.Identity
	prefs    model.Preferences
}

func (e *Engine) DeviceID() string { return e.deviceID }

// SignIn caches the identity reported by the remote store for this device.
func (e *Engine) SignIn(ctx context.Context, identityID string) (*model.Identity, error) {
	ident, err := e.store.CurrentIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.identity = ident
	e.mu.Unlock()

	if p, err := e.store.GetPreferences(ctx, identityID); err == nil && p != nil {
		e.mu.Lock()
		e.prefs = *p
		e.mu.Unlock()
	}
	return ident, nil
}

// SignOut drops the cached identity and resets the device-scoped guest
// counter, the one external event that ever resets it. The identity-scoped
// counter persists untouched.
func (e *Engine) SignOut(ctx context.Context) {
	e.mu.Lock()
	e.identity = nil
	e.mu.Unlock()
	if err := e.gate.ResetAnonymous(ctx, e.deviceID); err != nil {
		e.log.Warn().Err(err).Msg("guest counter reset failed")
	}
}

func (e *Engine) Identity() *model.Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.identity
}

// TurnContext assembles the context bundle from current preferences and the
// cached identity's role.
func (e *Engine) TurnContext() model.TurnContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	tc := model.TurnContext{
		Region:      e.prefs.Region,
		Country:     e.prefs.Country,
		Language:    e.prefs.Language,
		ShortAnswer: e.prefs.ShortAnswer,
	}
	if e.identity.SignedIn() {
		tc.RoleHint = e.identity.Role
	}
	return tc
}

// Submit runs one turn. Audio narration for the pending assistant message is
// observed on every chunk, so prefetch fires only once the text settles.
func (e *Engine) Submit(ctx context.Context, text string, onChunk func(cumulative string)) (model.Message, error) {
	tc := e.TurnContext()
	ident := e.Identity()

	final, err := e.orch.Submit(ctx, ident, e.deviceID, text, tc, onChunk)
	if err == nil && final.ID != "" && !final.IsError {
		e.audio.Observe(context.WithoutCancel(ctx), final.ID, final.Text)
	}

	if h := e.rec.Active(); h != 0 {
		if s, ok := e.rec.Session(h); ok {
			if err := e.local.SetLastActiveSession(ctx, e.deviceID, s.ID); err != nil {
				e.log.Debug().Err(err).Msg("last-active session not persisted")
			}
		}
	}
	return final, err
}

// Stop cancels the in-flight generation, if any.
func (e *Engine) Stop() { e.orch.Stop() }

func (e *Engine) Suggestions() []string { return e.orch.Suggestions() }

func (e *Engine) Sessions() []*model.ChatSession { return e.rec.List() }

// SwitchSession cancels any in-flight generation, hydrates the target if it
// is a placeholder, and makes it current.
func (e *Engine) SwitchSession(ctx context.Context, sessionID string) error {
	h, ok := e.rec.HandleByID(sessionID)
	if !ok {
		return domain.ErrNotFound
	}
	if err := e.orch.SwitchSession(ctx, h); err != nil {
		return err
	}
	if err := e.local.SetLastActiveSession(ctx, e.deviceID, sessionID); err != nil {
		e.log.Debug().Err(err).Msg("last-active session not persisted")
	}
	return nil
}

// DeleteSession removes a session optimistically. Audio for a deleted
// session's messages is discarded as part of teardown.
func (e *Engine) DeleteSession(sessionID string) error {
	h, ok := e.rec.HandleByID(sessionID)
	if !ok {
		return domain.ErrNotFound
	}
	for _, m := range e.rec.Messages(h) {
		e.audio.Discard(m.ID)
	}
	e.rec.DeleteSession(h)
	return nil
}

func (e *Engine) ToggleFavorite(sessionID string) error {
	h, ok := e.rec.HandleByID(sessionID)
	if !ok {
		return domain.ErrNotFound
	}
	e.rec.ToggleFavorite(h)
	return nil
}

// RefreshSessions pulls the remote list and merges it.
func (e *Engine) RefreshSessions(ctx context.Context) error {
	ident := e.Identity()
	if !ident.SignedIn() {
		return nil
	}
	return e.rec.RefreshTitle(ctx, ident.ID)
}

// Transcript returns the current session's messages, empty when no session
// is active.
func (e *Engine) Transcript() []model.Message {
	h := e.rec.Active()
	if h == 0 {
		return []model.Message{}
	}
	msgs := e.rec.Messages(h)
	if msgs == nil {
		return []model.Message{}
	}
	return msgs
}

func (e *Engine) PlayAudio(ctx context.Context, messageID string) error {
	return e.audio.Play(ctx, messageID)
}

func (e *Engine) StopAudio(messageID string) { e.audio.Stop(messageID) }

func (e *Engine) AudioClip(messageID string) ([]byte, error) { return e.audio.Clip(messageID) }

func (e *Engine) AudioState(messageID string) model.AudioState { return e.audio.State(messageID) }

// Preferences returns the current preference echoes.
func (e *Engine) Preferences() model.Preferences {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prefs
}

// PutPreferences stores preferences locally (honoring the remember flag) and
// mirrors them to the remote store for signed-in identities.
func (e *Engine) PutPreferences(ctx context.Context, p model.Preferences) error {
	e.mu.Lock()
	e.prefs = p
	ident := e.identity
	e.mu.Unlock()

	if err := e.local.SetPreferences(ctx, e.deviceID, &p); err != nil {
		return err
	}
	if ident.SignedIn() {
		if err := e.store.PutPreferences(ctx, ident.ID, &p); err != nil {
			e.log.Warn().Err(err).Msg("preferences not mirrored to store")
		}
	}
	return nil
}

// Registry hands out one Engine per device id, creating it on first use.
type Registry struct {
	mu      sync.Mutex
	engines map[string]*Engine

	deps Deps
}

// Deps are the shared collaborators every Engine is built from.
type Deps struct {
	AI     adapter.GenerativeService
	Store  adapter.SessionStore
	Output adapter.AudioOutput
	Local  repository.LocalState
	Gate   usecase.EntitlementGate
	Stream *usecase.StreamController
	Pool   *worker.Pool
	Cat    *i18n.Catalog
	Log    *zerolog.Logger

	PrefetchQuiet     time.Duration
	TitleRefreshDelay time.Duration
	PlaybackRate      float64
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{engines: make(map[string]*Engine), deps: deps}
}

// Get returns the engine for a device id, creating it on first use. Each
// engine owns its session arena, orchestrator and audio slot; the AI stack,
// stores and worker pool are shared.
func (r *Registry) Get(ctx context.Context, deviceID string) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[deviceID]; ok {
		return e
	}

	d := r.deps
	l := d.Log.With().Str("device_id", deviceID).Logger()

	rec := usecase.NewSessionReconciler(d.Store, d.Pool, &l)
	apology := func(lang string) string { return d.Cat.For(lang).T("generation_apology") }
	orch := usecase.NewOrchestrator(
		d.Gate, d.Stream, rec, d.Pool,
		sched.NewDebouncer(d.TitleRefreshDelay),
		apology, &l,
	)
	mgr := audio.NewManager(d.AI, d.Output, d.PlaybackRate, d.PrefetchQuiet, &l)

	e := &Engine{
		deviceID: deviceID,
		orch:     orch,
		rec:      rec,
		audio:    mgr,
		gate:     d.Gate,
		store:    d.Store,
		local:    d.Local,
		log:      &l,
	}
	if p, err := d.Local.GetPreferences(ctx, deviceID); err == nil && p != nil {
		e.prefs = *p
	}
	r.engines[deviceID] = e
	return e
}
