package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"

	"clinref-chat/internal/domain"
	"clinref-chat/internal/domain/model"
	"clinref-chat/internal/domain/ports/adapter"
	"clinref-chat/internal/infra/metrics"
)

// StreamController drives one generation request, invoking onChunk with the
// cumulative text for every increment. Cancellation via the token stops chunk
// delivery and yields ErrAborted; transport failures yield
// ErrGenerationFailed. Partial text written before either is never rolled
// back.
type StreamController struct {
	ai              adapter.GenerativeService
	maxPromptTokens int
	historyWindow   int
	log             *zerolog.Logger

	enc *tiktoken.Tiktoken
}

func NewStreamController(ai adapter.GenerativeService, maxPromptTokens, historyWindow int, logger *zerolog.Logger) *StreamController {
	l := logger.With().Str("component", "StreamController").Logger()
	// cl100k_base covers the chat models we target; counting stays
	// best-effort when the encoding is unavailable.
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		l.Warn().Err(err).Msg("tiktoken unavailable, using byte heuristic")
		enc = nil
	}
	return &StreamController{
		ai:              ai,
		maxPromptTokens: maxPromptTokens,
		historyWindow:   historyWindow,
		log:             &l,
		enc:             enc,
	}
}

func (s *StreamController) countTokens(text string) int {
	if s.enc != nil {
		return len(s.enc.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// trimHistory keeps the newest messages that fit the prompt token budget,
// never splitting a message.
func (s *StreamController) trimHistory(prior []model.Message, newText string) []model.Message {
	if len(prior) > s.historyWindow {
		prior = prior[len(prior)-s.historyWindow:]
	}
	budget := s.maxPromptTokens - s.countTokens(newText)
	total := 0
	start := len(prior)
	for i := len(prior) - 1; i >= 0; i-- {
		t := s.countTokens(prior[i].Text)
		if total+t > budget {
			break
		}
		total += t
		start = i
	}
	return prior[start:]
}

// StreamTurn blocks until the stream ends. onChunk runs on the calling
// goroutine, in chunk send order. The returned string is the final cumulative
// text (partial on abort or failure).
func (s *StreamController) StreamTurn(ctx context.Context, prior []model.Message, newText string, tc model.TurnContext, onChunk func(cumulative string), tok *CancelToken) (string, error) {
	history := s.trimHistory(prior, newText)
	start := time.Now()

	chunks, errc := s.ai.GenerateStream(ctx, history, newText, tc)

	var cumulative string
	for {
		select {
		case ch, ok := <-chunks:
			if !ok {
				// Adapters send a terminal error before closing the chunk
				// channel, so by the time the close is observed any failure
				// is already buffered in errc. A closed chunk channel alone
				// does not mean success.
				select {
				case err := <-errc:
					if err != nil {
						return s.classify(cumulative, err, tok, start)
					}
				default:
				}
				metrics.ObserveStream("success", float64(time.Since(start).Milliseconds()))
				return cumulative, nil
			}
			// A chunk scheduled before the abort was observed may still
			// arrive once; the token decides whether it lands.
			if !tok.Live() {
				metrics.ObserveStream("aborted", float64(time.Since(start).Milliseconds()))
				return cumulative, domain.ErrAborted
			}
			cumulative += ch.Text
			metrics.IncStreamChunk()
			onChunk(cumulative)
		case err, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			if err == nil {
				continue
			}
			return s.classify(cumulative, err, tok, start)
		case <-ctx.Done():
			metrics.ObserveStream("aborted", float64(time.Since(start).Milliseconds()))
			return cumulative, domain.ErrAborted
		}
	}
}

// classify maps a terminal stream error to the turn outcome: cancellation is
// distinguished from transport failure, partial text is kept either way.
func (s *StreamController) classify(cumulative string, err error, tok *CancelToken, start time.Time) (string, error) {
	if errors.Is(err, context.Canceled) || !tok.Live() {
		metrics.ObserveStream("aborted", float64(time.Since(start).Milliseconds()))
		return cumulative, domain.ErrAborted
	}
	metrics.ObserveStream("failed", float64(time.Since(start).Milliseconds()))
	s.log.Error().Err(err).Msg("generation stream failed")
	return cumulative, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
}

// FollowUps fetches suggested follow-up questions for a finished turn.
// Best-effort; the caller swallows errors.
func (s *StreamController) FollowUps(ctx context.Context, userText, answerText string, tc model.TurnContext) ([]string, error) {
	return s.ai.RelatedQuestions(ctx, userText, answerText, tc.RoleHint, tc.Language)
}
