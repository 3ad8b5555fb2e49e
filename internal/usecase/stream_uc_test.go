package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"clinref-chat/internal/domain"
	"clinref-chat/internal/domain/model"
)

func TestStreamTurnAccumulates(t *testing.T) {
	ai := &scriptedAI{deltas: []string{"Hyper", "tension ", "is common."}}
	sc := NewStreamController(ai, 6000, 30, testLogger())

	var seen []string
	tok := NewCancelToken(nil)
	final, err := sc.StreamTurn(context.Background(), nil, "what is hypertension", model.TurnContext{}, func(c string) {
		seen = append(seen, c)
	}, tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if final != "Hypertension is common." {
		t.Fatalf("final text %q", final)
	}
	// Every onChunk call extends the previous one; nothing shrinks or skips.
	for i := 1; i < len(seen); i++ {
		if !strings.HasPrefix(seen[i], seen[i-1]) {
			t.Fatalf("chunk %d %q does not extend %q", i, seen[i], seen[i-1])
		}
	}
	if seen[len(seen)-1] != final {
		t.Fatalf("last chunk %q != final %q", seen[len(seen)-1], final)
	}
}

func TestStreamTurnCancelKeepsPartialExact(t *testing.T) {
	ai := &scriptedAI{deltas: []string{"Alpha ", "beta ", "gamma"}, perChunk: make(chan struct{}, 2)}
	sc := NewStreamController(ai, 6000, 30, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tok := NewCancelToken(cancel)

	n := 0
	// Release the first two chunks; the third stays gated until the abort
	// propagates through the context.
	ai.perChunk <- struct{}{}
	ai.perChunk <- struct{}{}
	final, err := sc.StreamTurn(ctx, nil, "q", model.TurnContext{}, func(c string) {
		n++
		if n == 2 {
			tok.Cancel()
		}
	}, tok)

	if !errors.Is(err, domain.ErrAborted) {
		t.Fatalf("want ErrAborted, got %v", err)
	}
	// The partial text is exactly what was delivered, not truncated or
	// rounded to a boundary.
	if final != "Alpha beta " {
		t.Fatalf("partial text %q", final)
	}
	if n != 2 {
		t.Fatalf("chunks after cancel were applied: %d", n)
	}
}

func TestStreamTurnDropsTrailingChunkAfterCancel(t *testing.T) {
	ai := &scriptedAI{deltas: []string{"one ", "two"}}
	sc := NewStreamController(ai, 6000, 30, testLogger())

	tok := NewCancelToken(nil)
	tok.Cancel() // dead before the first chunk lands

	n := 0
	final, err := sc.StreamTurn(context.Background(), nil, "q", model.TurnContext{}, func(string) { n++ }, tok)
	if !errors.Is(err, domain.ErrAborted) {
		t.Fatalf("want ErrAborted, got %v", err)
	}
	if n != 0 || final != "" {
		t.Fatalf("dead token still applied chunks: n=%d text=%q", n, final)
	}
}

func TestStreamTurnFailureWrapsErrGenerationFailed(t *testing.T) {
	ai := &scriptedAI{deltas: []string{"partial "}, finalErr: errors.New("upstream 500")}
	sc := NewStreamController(ai, 6000, 30, testLogger())

	tok := NewCancelToken(nil)
	final, err := sc.StreamTurn(context.Background(), nil, "q", model.TurnContext{}, func(string) {}, tok)
	if !errors.Is(err, domain.ErrGenerationFailed) {
		t.Fatalf("want ErrGenerationFailed, got %v", err)
	}
	if final != "partial " {
		t.Fatalf("partial text lost on failure: %q", final)
	}
}

func TestStreamTurnFailureWinsOverClosedChunks(t *testing.T) {
	// The adapter buffers the terminal error and then closes both channels,
	// so the consumer can see a ready error and a closed chunk channel in
	// the same select. The outcome must not depend on which case the select
	// happens to pick.
	for i := 0; i < 200; i++ {
		ai := &scriptedAI{deltas: []string{"partial "}, finalErr: errors.New("upstream reset")}
		sc := NewStreamController(ai, 6000, 30, testLogger())

		tok := NewCancelToken(nil)
		final, err := sc.StreamTurn(context.Background(), nil, "q", model.TurnContext{}, func(string) {}, tok)
		if !errors.Is(err, domain.ErrGenerationFailed) {
			t.Fatalf("run %d: transport failure reported as %v", i, err)
		}
		if final != "partial " {
			t.Fatalf("run %d: partial text %q", i, final)
		}
	}
}

func TestStreamTurnContextCancelIsAbort(t *testing.T) {
	ai := &scriptedAI{deltas: []string{"x"}, perChunk: make(chan struct{})}
	sc := NewStreamController(ai, 6000, 30, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	tok := NewCancelToken(cancel)
	cancel()

	_, err := sc.StreamTurn(ctx, nil, "q", model.TurnContext{}, func(string) {}, tok)
	if !errors.Is(err, domain.ErrAborted) {
		t.Fatalf("want ErrAborted on ctx cancel, got %v", err)
	}
}

func TestTrimHistoryKeepsNewestWholeMessages(t *testing.T) {
	ai := &scriptedAI{}
	sc := NewStreamController(ai, 6000, 3, testLogger())

	prior := []model.Message{
		model.NewUserMessage("oldest"),
		model.NewUserMessage("older"),
		model.NewUserMessage("recent"),
		model.NewUserMessage("newest"),
	}
	got := sc.trimHistory(prior, "question")
	if len(got) != 3 {
		t.Fatalf("window of 3, got %d messages", len(got))
	}
	if got[0].Text != "older" || got[2].Text != "newest" {
		t.Fatalf("wrong tail kept: %q .. %q", got[0].Text, got[2].Text)
	}
}

func TestTrimHistoryTokenBudget(t *testing.T) {
	ai := &scriptedAI{}
	sc := NewStreamController(ai, 40, 30, testLogger())

	big := model.NewUserMessage(strings.Repeat("hypertension management guidance ", 40))
	small := model.NewUserMessage("ok")
	got := sc.trimHistory([]model.Message{big, small}, "q")
	// The oversized message cannot fit; the newest small one survives.
	if len(got) != 1 || got[0].Text != "ok" {
		t.Fatalf("budget trim kept %d messages", len(got))
	}
}
