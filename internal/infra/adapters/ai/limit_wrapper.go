package ai

import (
	"context"

	"clinref-chat/internal/domain/model"
	"clinref-chat/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.GenerativeService = (*limitedAI)(nil)

type limitedAI struct {
	inner adapter.GenerativeService
	sem   chan struct{}
}

// NewLimitedAI caps concurrent calls against the inner provider. For streams
// the slot is held until the stream drains.
func NewLimitedAI(inner adapter.GenerativeService, maxConcurrent int) adapter.GenerativeService {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedAI{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedAI) GenerateStream(ctx context.Context, history []model.Message, newText string, tc model.TurnContext) (<-chan adapter.Chunk, <-chan error) {
	chunks := make(chan adapter.Chunk, 16)
	errc := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errc)

		select {
		case l.sem <- struct{}{}:
		case <-ctx.Done():
			errc <- ctx.Err()
			return
		}
		defer func() { <-l.sem }()

		innerChunks, innerErrc := l.inner.GenerateStream(ctx, history, newText, tc)
		// Drain both inner channels fully before surfacing any terminal
		// error, so buffered trailing chunks are forwarded and the error is
		// sent before this wrapper closes its own channels.
		var terminal error
		for innerChunks != nil || innerErrc != nil {
			select {
			case ch, ok := <-innerChunks:
				if !ok {
					innerChunks = nil
					continue
				}
				chunks <- ch
			case err, ok := <-innerErrc:
				if !ok {
					innerErrc = nil
					continue
				}
				if err != nil && terminal == nil {
					terminal = err
				}
			}
		}
		if terminal != nil {
			errc <- terminal
		}
	}()

	return chunks, errc
}

func (l *limitedAI) RelatedQuestions(ctx context.Context, userText, answerText, roleHint, language string) ([]string, error) {
	l.sem <- struct{}{}
	defer func() { <-l.sem }()
	return l.inner.RelatedQuestions(ctx, userText, answerText, roleHint, language)
}

func (l *limitedAI) Narrate(ctx context.Context, text string) ([]byte, error) {
	l.sem <- struct{}{}
	defer func() { <-l.sem }()
	return l.inner.Narrate(ctx, text)
}
