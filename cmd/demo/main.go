package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"clinref-chat/internal/config"
	"clinref-chat/internal/domain"
	"clinref-chat/internal/domain/model"
	"clinref-chat/internal/domain/ports/adapter"
	"clinref-chat/internal/infra/adapters/ai"
	"clinref-chat/internal/infra/audio"
	"clinref-chat/internal/infra/logging"
	"clinref-chat/internal/infra/sched"
	"clinref-chat/internal/infra/worker"
	"clinref-chat/internal/usecase"
)

// demo runs a scripted conversation against the canned offline provider:
// one full streamed answer, one aborted mid-stream, a denial at the guest
// limit, and a narration prefetch-and-play. No services required.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.New(config.LogConfig{Level: "warn", Format: "console"}, true)
	provider := ai.NewNoopAI()

	workers := worker.NewPool(2, logger)
	workers.Start(ctx)
	defer workers.Stop()

	local := &memState{counters: map[string]int{}}
	gate := usecase.NewEntitlementGate(local, []string{"admin"}, 2, logger)
	stream := usecase.NewStreamController(provider, 6000, 30, logger)
	rec := usecase.NewSessionReconciler(noStore{}, workers, logger)
	orch := usecase.NewOrchestrator(gate, stream, rec, workers,
		sched.NewDebouncer(time.Second),
		func(string) string { return "Sorry, something went wrong." },
		logger,
	)
	mgr := audio.NewManager(provider, audio.NewWriterOutput(func() (io.WriteCloser, error) {
		return nopCloser{io.Discard}, nil
	}, 256*1024), 1.15, 200*time.Millisecond, logger)

	fmt.Println("=== turn 1: full stream ===")
	final, err := orch.Submit(ctx, nil, "demo-device", "How is stage 1 hypertension managed?", model.TurnContext{}, func(c string) {
		fmt.Printf("\r%s", c)
	})
	fmt.Println()
	if err != nil {
		fmt.Println("turn 1 error:", err)
	}
	mgr.Observe(ctx, final.ID, final.Text)

	fmt.Println("=== turn 2: stopped mid-stream ===")
	chunkCount := 0
	final2, err := orch.Submit(ctx, nil, "demo-device", "And for stage 2?", model.TurnContext{}, func(c string) {
		chunkCount++
		if chunkCount == 4 {
			orch.Stop()
		}
	})
	if errors.Is(err, domain.ErrAborted) {
		fmt.Printf("stopped after %d chunks, partial kept: %q\n", chunkCount, final2.Text)
	}

	fmt.Println("=== turn 3: guest limit ===")
	_, err = orch.Submit(ctx, nil, "demo-device", "One more?", model.TurnContext{}, nil)
	if errors.Is(err, domain.ErrGuestLimit) {
		fmt.Println("denied: guest limit reached after 2 turns")
	}

	fmt.Println("=== narration ===")
	for mgr.State(final.ID) != model.AudioReady {
		time.Sleep(50 * time.Millisecond)
	}
	if err := mgr.Play(ctx, final.ID); err != nil {
		fmt.Println("play:", err)
		return
	}
	fmt.Println("playing", final.ID)
	time.Sleep(300 * time.Millisecond)
	mgr.Stop(final.ID)
	fmt.Println("stopped")
}

type memState struct {
	mu       sync.Mutex
	counters map[string]int
}

func (m *memState) IncrCounter(_ context.Context, scope model.CounterScope, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[string(scope)+":"+key]++
	return m.counters[string(scope)+":"+key], nil
}

func (m *memState) GetCounter(_ context.Context, scope model.CounterScope, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[string(scope)+":"+key], nil
}

func (m *memState) ResetCounter(_ context.Context, scope model.CounterScope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counters, string(scope)+":"+key)
	return nil
}

func (m *memState) SetLastActiveSession(context.Context, string, string) error { return nil }
func (m *memState) LastActiveSession(context.Context, string) (string, error)  { return "", nil }
func (m *memState) SetPreferences(context.Context, string, *model.Preferences) error {
	return nil
}
func (m *memState) GetPreferences(context.Context, string) (*model.Preferences, error) {
	return nil, nil
}

// noStore satisfies the remote store port for the anonymous-only demo; no
// call should ever reach it.
type noStore struct{}

var errNoStore = errors.New("demo has no remote store")

func (noStore) CreateSession(context.Context, string, adapter.SessionMeta) (string, error) {
	return "", errNoStore
}
func (noStore) ListSessions(context.Context, string) ([]adapter.SessionSummary, error) {
	return nil, errNoStore
}
func (noStore) GetMessages(context.Context, string) ([]model.Message, error) { return nil, errNoStore }
func (noStore) SaveMessages(context.Context, string, []model.Message) error  { return errNoStore }
func (noStore) UpdateSession(context.Context, string, *model.ChatSession) error {
	return errNoStore
}
func (noStore) DeleteSession(context.Context, string) error { return errNoStore }
func (noStore) CurrentIdentity(context.Context, string) (*model.Identity, error) {
	return nil, errNoStore
}
func (noStore) GetPreferences(context.Context, string) (*model.Preferences, error) {
	return nil, errNoStore
}
func (noStore) PutPreferences(context.Context, string, *model.Preferences) error {
	return errNoStore
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
