package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"clinref-chat/internal/domain/model"
	"clinref-chat/internal/domain/ports/adapter"
	"clinref-chat/internal/infra/worker"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func testPool(t interface{ Cleanup(func()) }) *worker.Pool {
	p := worker.NewPool(2, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	t.Cleanup(func() {
		cancel()
		p.Stop()
	})
	return p
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// memLocalState is an in-memory LocalState.
type memLocalState struct {
	mu       sync.Mutex
	counters map[string]int
	last     map[string]string
	prefs    map[string]model.Preferences
	failIncr error
}

func newMemLocalState() *memLocalState {
	return &memLocalState{
		counters: make(map[string]int),
		last:     make(map[string]string),
		prefs:    make(map[string]model.Preferences),
	}
}

func counterKey(scope model.CounterScope, key string) string {
	return string(scope) + ":" + key
}

func (m *memLocalState) IncrCounter(_ context.Context, scope model.CounterScope, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIncr != nil {
		return 0, m.failIncr
	}
	m.counters[counterKey(scope, key)]++
	return m.counters[counterKey(scope, key)], nil
}

func (m *memLocalState) GetCounter(_ context.Context, scope model.CounterScope, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[counterKey(scope, key)], nil
}

func (m *memLocalState) ResetCounter(_ context.Context, scope model.CounterScope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counters, counterKey(scope, key))
	return nil
}

func (m *memLocalState) SetLastActiveSession(_ context.Context, deviceID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[deviceID] = sessionID
	return nil
}

func (m *memLocalState) LastActiveSession(_ context.Context, deviceID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last[deviceID], nil
}

func (m *memLocalState) SetPreferences(_ context.Context, deviceID string, p *model.Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p == nil || !p.Remember {
		delete(m.prefs, deviceID)
		return nil
	}
	m.prefs[deviceID] = *p
	return nil
}

func (m *memLocalState) GetPreferences(_ context.Context, deviceID string) (*model.Preferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.prefs[deviceID]; ok {
		return &p, nil
	}
	return nil, nil
}

func (m *memLocalState) count(scope model.CounterScope, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[counterKey(scope, key)]
}

// fakeStore is an in-memory SessionStore with scriptable failures.
type fakeStore struct {
	mu        sync.Mutex
	nextID    int
	sessions  map[string]adapter.SessionSummary
	messages  map[string][]model.Message
	deleted   []string
	saves     int
	updates   int
	failNext  map[string]error // method name -> error, consumed per call
	listReply []adapter.SessionSummary
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]adapter.SessionSummary),
		messages: make(map[string][]model.Message),
		failNext: make(map[string]error),
	}
}

func (f *fakeStore) fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[method] = err
}

func (f *fakeStore) take(method string) error {
	if err, ok := f.failNext[method]; ok {
		delete(f.failNext, method)
		return err
	}
	return nil
}

func (f *fakeStore) CreateSession(_ context.Context, _ string, meta adapter.SessionMeta) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.take("CreateSession"); err != nil {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("remote-%d", f.nextID)
	f.sessions[id] = adapter.SessionSummary{ID: id, Title: meta.Title, Region: meta.Region, Country: meta.Country}
	return id, nil
}

func (f *fakeStore) ListSessions(_ context.Context, _ string) ([]adapter.SessionSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.take("ListSessions"); err != nil {
		return nil, err
	}
	if f.listReply != nil {
		return f.listReply, nil
	}
	out := make([]adapter.SessionSummary, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) GetMessages(_ context.Context, sessionID string) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.take("GetMessages"); err != nil {
		return nil, err
	}
	return f.messages[sessionID], nil
}

func (f *fakeStore) SaveMessages(_ context.Context, sessionID string, msgs []model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.take("SaveMessages"); err != nil {
		return err
	}
	f.messages[sessionID] = append([]model.Message(nil), msgs...)
	f.saves++
	return nil
}

func (f *fakeStore) UpdateSession(_ context.Context, _ string, s *model.ChatSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.take("UpdateSession"); err != nil {
		return err
	}
	f.sessions[s.ID] = adapter.SessionSummary{
		ID: s.ID, Title: s.Title, Region: s.Region, Country: s.Country,
		IsFavorite: s.IsFavorite, UpdatedAt: s.UpdatedAt,
	}
	f.updates++
	return nil
}

func (f *fakeStore) DeleteSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.take("DeleteSession"); err != nil {
		return err
	}
	delete(f.sessions, sessionID)
	f.deleted = append(f.deleted, sessionID)
	return nil
}

func (f *fakeStore) CurrentIdentity(_ context.Context, identityID string) (*model.Identity, error) {
	return &model.Identity{ID: identityID}, nil
}

func (f *fakeStore) GetPreferences(_ context.Context, _ string) (*model.Preferences, error) {
	return nil, nil
}

func (f *fakeStore) PutPreferences(_ context.Context, _ string, _ *model.Preferences) error {
	return nil
}

func (f *fakeStore) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// scriptedAI emits a fixed sequence of deltas, optionally pausing on a gate
// channel between chunks, then closes or fails.
type scriptedAI struct {
	deltas    []string
	finalErr  error
	perChunk  chan struct{} // when set, one receive is required per chunk
	followUps []string
}

func (s *scriptedAI) GenerateStream(ctx context.Context, _ []model.Message, _ string, _ model.TurnContext) (<-chan adapter.Chunk, <-chan error) {
	chunks := make(chan adapter.Chunk)
	errc := make(chan error, 1)
	go func() {
		// Same shutdown discipline as the real adapters: terminal error
		// buffered first, then both channels closed.
		defer close(chunks)
		defer close(errc)
		for _, d := range s.deltas {
			if s.perChunk != nil {
				select {
				case <-s.perChunk:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
			select {
			case chunks <- adapter.Chunk{Text: d}:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		if s.finalErr != nil {
			errc <- s.finalErr
		}
	}()
	return chunks, errc
}

func (s *scriptedAI) RelatedQuestions(_ context.Context, _, _, _, _ string) ([]string, error) {
	return s.followUps, nil
}

func (s *scriptedAI) Narrate(_ context.Context, text string) ([]byte, error) {
	return []byte(text), nil
}
