package ai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"clinref-chat/internal/domain/model"
	"clinref-chat/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.GenerativeService = (*OpenAIAdapter)(nil)

// OpenAIAdapter implements the generative-text port over the Chat Completions
// streaming API and the speech endpoint for narration. A non-empty baseURL
// points it at any OpenAI-compatible service.
type OpenAIAdapter struct {
	client openai.Client
	model  string
	voice  string
}

func NewOpenAIAdapter(apiKey, model, baseURL, voice string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if voice == "" {
		voice = "alloy"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIAdapter{
		client: openai.NewClient(opts...),
		model:  model,
		voice:  voice,
	}, nil
}

func toParams(history []model.Message, newText string, tc model.TurnContext) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	msgs = append(msgs, openai.SystemMessage(systemPrompt(tc)))
	for _, m := range history {
		switch m.Role {
		case model.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Text))
		default:
			msgs = append(msgs, openai.UserMessage(m.Text))
		}
	}
	msgs = append(msgs, openai.UserMessage(newText))
	return msgs
}

func (o *OpenAIAdapter) GenerateStream(ctx context.Context, history []model.Message, newText string, tc model.TurnContext) (<-chan adapter.Chunk, <-chan error) {
	chunks := make(chan adapter.Chunk, 16)
	errc := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errc)

		stream := o.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(o.model),
			Messages: toParams(history, newText, tc),
		})
		defer func() { _ = stream.Close() }()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case chunks <- adapter.Chunk{Text: delta}:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		if err := stream.Err(); err != nil {
			errc <- fmt.Errorf("openai stream: %w", err)
		}
	}()

	return chunks, errc
}

func (o *OpenAIAdapter) RelatedQuestions(ctx context.Context, userText, answerText, roleHint, language string) ([]string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(relatedPrompt(userText, answerText, roleHint, language)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai related questions: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no choice content")
	}
	return parseQuestionList(resp.Choices[0].Message.Content), nil
}

func (o *OpenAIAdapter) Narrate(ctx context.Context, text string) ([]byte, error) {
	res, err := o.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model: openai.SpeechModelTTS1,
		Voice: openai.AudioSpeechNewParamsVoice(o.voice),
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	defer res.Body.Close()
	clip, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech body: %w", err)
	}
	return clip, nil
}
