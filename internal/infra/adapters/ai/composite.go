package ai

import (
	"context"

	"clinref-chat/internal/domain/model"
	"clinref-chat/internal/domain/ports/adapter"
)

var _ adapter.GenerativeService = (*CompositeAdapter)(nil)

// CompositeAdapter routes chat to one provider and narration to another, for
// stacks where the text provider has no speech endpoint (Gemini chat with
// OpenAI narration, for example).
type CompositeAdapter struct {
	chat     adapter.GenerativeService
	narrator adapter.GenerativeService
}

func NewCompositeAdapter(chat, narrator adapter.GenerativeService) *CompositeAdapter {
	return &CompositeAdapter{chat: chat, narrator: narrator}
}

func (c *CompositeAdapter) GenerateStream(ctx context.Context, history []model.Message, newText string, tc model.TurnContext) (<-chan adapter.Chunk, <-chan error) {
	return c.chat.GenerateStream(ctx, history, newText, tc)
}

func (c *CompositeAdapter) RelatedQuestions(ctx context.Context, userText, answerText, roleHint, language string) ([]string, error) {
	return c.chat.RelatedQuestions(ctx, userText, answerText, roleHint, language)
}

func (c *CompositeAdapter) Narrate(ctx context.Context, text string) ([]byte, error) {
	return c.narrator.Narrate(ctx, text)
}
