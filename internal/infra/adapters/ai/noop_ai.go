package ai

import (
	"context"
	"strings"
	"time"

	"clinref-chat/internal/domain/model"
	"clinref-chat/internal/domain/ports/adapter"
)

var _ adapter.GenerativeService = (*NoopAI)(nil)

// NoopAI is the dev-mode provider: it streams a canned reply word by word so
// the whole pipeline can be exercised without credentials.
type NoopAI struct {
	Reply string
	Delay time.Duration
}

func NewNoopAI() *NoopAI {
	return &NoopAI{
		Reply: "This is a canned development answer. Configure a real provider for clinical content.",
		Delay: 30 * time.Millisecond,
	}
}

func (n *NoopAI) GenerateStream(ctx context.Context, history []model.Message, newText string, tc model.TurnContext) (<-chan adapter.Chunk, <-chan error) {
	chunks := make(chan adapter.Chunk, 4)
	errc := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errc)
		for _, w := range strings.SplitAfter(n.Reply, " ") {
			select {
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			case <-time.After(n.Delay):
			}
			select {
			case chunks <- adapter.Chunk{Text: w}:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	return chunks, errc
}

func (n *NoopAI) RelatedQuestions(ctx context.Context, userText, answerText, roleHint, language string) ([]string, error) {
	return []string{
		"What are the first-line treatment options?",
		"Which red flags warrant referral?",
		"How should dosing change with renal impairment?",
	}, nil
}

func (n *NoopAI) Narrate(ctx context.Context, text string) ([]byte, error) {
	// A fake clip sized to the text so pacing is observable in dev.
	return make([]byte, len(text)*64), nil
}
