package ai

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"clinref-chat/internal/domain/model"
	"clinref-chat/internal/domain/ports/adapter"
)

var _ adapter.GenerativeService = (*GeminiAdapter)(nil)

// GeminiAdapter implements the generative-text port using the official SDK.
// It has no narration endpoint; compose it with an adapter that does.
type GeminiAdapter struct {
	client *genai.Client
	model  string
}

func NewGeminiAdapter(ctx context.Context, apiKey, baseURL, model string) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiAdapter{client: c, model: model}, nil
}

func toContents(history []model.Message, newText string) []*genai.Content {
	out := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		role := genai.RoleUser
		if m.Role == model.RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Text, genai.Role(role)))
	}
	out = append(out, genai.NewContentFromText(newText, genai.RoleUser))
	return out
}

func (g *GeminiAdapter) GenerateStream(ctx context.Context, history []model.Message, newText string, tc model.TurnContext) (<-chan adapter.Chunk, <-chan error) {
	chunks := make(chan adapter.Chunk, 16)
	errc := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errc)

		cfg := &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt(tc), genai.RoleUser),
		}
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, toContents(history, newText), cfg) {
			if err != nil {
				errc <- fmt.Errorf("gemini stream: %w", err)
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			select {
			case chunks <- adapter.Chunk{Text: text}:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	return chunks, errc
}

func (g *GeminiAdapter) RelatedQuestions(ctx context.Context, userText, answerText, roleHint, language string) ([]string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(relatedPrompt(userText, answerText, roleHint, language), genai.RoleUser)},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("gemini related questions: %w", err)
	}
	return parseQuestionList(resp.Text()), nil
}

func (g *GeminiAdapter) Narrate(ctx context.Context, text string) ([]byte, error) {
	return nil, errors.New("gemini: narration not supported")
}
