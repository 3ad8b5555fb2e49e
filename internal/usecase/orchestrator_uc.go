package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"clinref-chat/internal/domain"
	"clinref-chat/internal/domain/model"
	"clinref-chat/internal/infra/metrics"
	"clinref-chat/internal/infra/sched"
	"clinref-chat/internal/infra/worker"
)

// TurnState is the orchestrator's per-turn state machine.
type TurnState string

const (
	TurnIdle       TurnState = "idle"
	TurnGated      TurnState = "gated"
	TurnGenerating TurnState = "generating"
	TurnSettling   TurnState = "settling"
)

// Orchestrator wires the gate, the stream controller and the reconciler
// together for one client instance. It holds the only live cancel token;
// one turn runs at a time and re-entrant submits are rejected.
type Orchestrator struct {
	mu    sync.Mutex
	state TurnState
	token *CancelToken

	gate         EntitlementGate
	stream       *StreamController
	rec          *SessionReconciler
	pool         *worker.Pool
	titleRefresh *sched.Debouncer
	apology      func(lang string) string
	log          *zerolog.Logger

	suggestMu   sync.Mutex
	suggestions []string
}

func NewOrchestrator(
	gate EntitlementGate,
	stream *StreamController,
	rec *SessionReconciler,
	pool *worker.Pool,
	titleRefresh *sched.Debouncer,
	apology func(lang string) string,
	logger *zerolog.Logger,
) *Orchestrator {
	l := logger.With().Str("component", "Orchestrator").Logger()
	return &Orchestrator{
		state:        TurnIdle,
		gate:         gate,
		stream:       stream,
		rec:          rec,
		pool:         pool,
		titleRefresh: titleRefresh,
		apology:      apology,
		log:          &l,
	}
}

func (o *Orchestrator) State() TurnState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Submit runs one full turn: gate check, pending message append, stream,
// settle. It blocks until the turn settles; onChunk receives cumulative
// assistant text in order. The returned message is the final assistant
// snapshot. Abort and failure are reported through the error (ErrAborted,
// ErrGenerationFailed) with the message still populated; gate denials return
// ErrGuestLimit / ErrFreeTierLimit before anything is appended.
func (o *Orchestrator) Submit(ctx context.Context, identity *model.Identity, deviceID, text string, tc model.TurnContext, onChunk func(cumulative string)) (model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Message{}, domain.ErrInvalidArgument
	}

	// Idle -> Gated. Exactly one turn may be in flight.
	o.mu.Lock()
	if o.state != TurnIdle {
		o.mu.Unlock()
		return model.Message{}, domain.ErrTurnInFlight
	}
	o.state = TurnGated
	o.mu.Unlock()

	decision, err := o.gate.CanStartGeneration(ctx, identity, deviceID)
	if err != nil {
		o.setIdle()
		return model.Message{}, err
	}
	if !decision.Allowed {
		o.setIdle()
		if decision.Reason == DenyGuestLimit {
			return model.Message{}, domain.ErrGuestLimit
		}
		return model.Message{}, domain.ErrFreeTierLimit
	}

	identityID := ""
	if identity.SignedIn() {
		identityID = identity.ID
	}

	h := o.rec.Active()
	newSession := false
	if h == 0 {
		h, _ = o.rec.CreateSession(ctx, identityID, tc.Region, tc.Country)
		newSession = true
	}
	s, _ := o.rec.Session(h)
	newSession = newSession || (s != nil && len(s.Messages) == 0)

	prior := o.rec.Messages(h)
	if _, err := o.rec.Append(h, model.NewUserMessage(text)); err != nil {
		o.setIdle()
		return model.Message{}, err
	}
	pending := model.NewPendingAssistantMessage()
	pendingID, err := o.rec.Append(h, pending)
	if err != nil {
		o.setIdle()
		return model.Message{}, err
	}

	// Gated -> Generating: mint the token.
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	tok := NewCancelToken(cancel)
	o.mu.Lock()
	o.token = tok
	o.state = TurnGenerating
	o.mu.Unlock()

	_, streamErr := o.stream.StreamTurn(streamCtx, prior, text, tc, func(cumulative string) {
		_ = o.rec.UpdateMessage(h, pendingID, func(m *model.Message) { m.Extend(cumulative) })
		if onChunk != nil {
			onChunk(cumulative)
		}
	}, tok)

	// Generating -> Settling, regardless of outcome.
	o.mu.Lock()
	o.state = TurnSettling
	o.mu.Unlock()
	tok.Retire()

	finalText := ""
	_ = o.rec.UpdateMessage(h, pendingID, func(m *model.Message) { finalText = m.Text })

	switch {
	case streamErr == nil:
		metrics.IncTurn("success")
	case errors.Is(streamErr, domain.ErrAborted):
		// The partial text stands as final; no error marker, no apology.
		metrics.IncTurn("aborted")
	default:
		lang := tc.Language
		_ = o.rec.UpdateMessage(h, pendingID, func(m *model.Message) { m.Fail(o.apology(lang)) })
		metrics.IncTurn("failed")
	}

	// Settle: follow-up questions and persistence, both best-effort and
	// independent of the turn's own outcome.
	if streamErr == nil && finalText != "" {
		answer := finalText
		if err := o.pool.Submit(func(ctx context.Context) error {
			qs, err := o.stream.FollowUps(ctx, text, answer, tc)
			if err != nil {
				o.log.Debug().Err(err).Msg("follow-up fetch failed")
				return nil
			}
			o.suggestMu.Lock()
			o.suggestions = qs
			o.suggestMu.Unlock()
			return nil
		}); err != nil {
			o.log.Debug().Err(err).Msg("follow-up task dropped")
		}
	}
	o.rec.PersistTurn(ctx, h, identityID, tc.Region, tc.Country)
	if newSession && streamErr == nil {
		// Brand-new sessions get their summary title a few seconds after the
		// turn completes; re-triggering resets the delay.
		o.titleRefresh.Trigger(context.WithoutCancel(ctx), func(ctx context.Context) {
			_ = o.rec.RefreshTitle(ctx, identityID)
		})
	}

	// Settling -> Idle: the token is discarded.
	o.mu.Lock()
	o.token = nil
	o.state = TurnIdle
	o.mu.Unlock()

	var final model.Message
	_ = o.rec.UpdateMessage(h, pendingID, func(m *model.Message) { final = *m })
	return final, streamErr
}

// Stop cancels the in-flight generation, if any. The assistant message keeps
// whatever partial text it has; Submit observes the abort and settles.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	tok := o.token
	o.mu.Unlock()
	if tok != nil {
		tok.Cancel()
	}
}

// SwitchSession makes another session current. Any in-flight generation
// belonging to the previous session is cancelled first, and a placeholder
// session gets its messages loaded.
func (o *Orchestrator) SwitchSession(ctx context.Context, h Handle) error {
	o.Stop()
	if err := o.rec.LoadSession(ctx, h); err != nil && !errors.Is(err, domain.ErrNotFound) {
		// Load failure leaves an explicit empty session; switching still
		// proceeds.
		o.log.Warn().Err(err).Msg("session load failed")
	}
	if _, ok := o.rec.Session(h); !ok {
		return domain.ErrNotFound
	}
	o.rec.SetActive(h)
	return nil
}

// Suggestions returns the follow-up questions from the most recent settled
// turn, or nil when none were fetched.
func (o *Orchestrator) Suggestions() []string {
	o.suggestMu.Lock()
	defer o.suggestMu.Unlock()
	if o.suggestions == nil {
		return nil
	}
	out := make([]string, len(o.suggestions))
	copy(out, o.suggestions)
	return out
}

func (o *Orchestrator) setIdle() {
	o.mu.Lock()
	o.state = TurnIdle
	o.mu.Unlock()
}
