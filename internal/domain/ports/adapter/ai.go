package adapter

import (
	"context"

	"clinref-chat/internal/domain/model"
)

// Chunk is one increment of an in-progress generation. Text carries the
// delta since the previous chunk; the stream controller accumulates.
type Chunk struct {
	Text string
}

// GenerativeService is the port for the hosted generative-text backend.
type GenerativeService interface {
	// GenerateStream issues one generation request carrying the prior
	// history plus the new turn. Chunks are delivered in send order on the
	// returned channel, which is closed on completion. A single error (or
	// the ctx error on cancellation) is delivered on the error channel.
	GenerateStream(ctx context.Context, history []model.Message, newText string, tc model.TurnContext) (<-chan Chunk, <-chan error)

	// RelatedQuestions asks for a short list of follow-up questions once
	// the primary answer is final. Best-effort; failures are swallowed by
	// the caller.
	RelatedQuestions(ctx context.Context, userText, answerText, roleHint, language string) ([]string, error)

	// Narrate renders text to an encoded audio clip.
	Narrate(ctx context.Context, text string) ([]byte, error)
}
