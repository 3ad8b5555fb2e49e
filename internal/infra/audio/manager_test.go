package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"clinref-chat/internal/domain"
	"clinref-chat/internal/domain/model"
	"clinref-chat/internal/domain/ports/adapter"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

type fakeNarrator struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeNarrator) Narrate(_ context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, text)
	return []byte(text), nil
}

func (f *fakeNarrator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePlayback struct {
	done     chan struct{}
	stopOnce sync.Once
	stopped  bool
}

func (p *fakePlayback) Done() <-chan struct{} { return p.done }

func (p *fakePlayback) Stop() {
	p.stopOnce.Do(func() {
		p.stopped = true
		close(p.done)
	})
}

// finish simulates the track reaching its natural end.
func (p *fakePlayback) finish() {
	p.stopOnce.Do(func() { close(p.done) })
}

type fakeOutput struct {
	mu         sync.Mutex
	starts     []*fakePlayback
	ctxs       []context.Context
	err        error
	startDelay time.Duration
}

func (f *fakeOutput) Start(ctx context.Context, _ []byte, _ float64) (adapter.Playback, error) {
	if f.startDelay > 0 {
		time.Sleep(f.startDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	pb := &fakePlayback{done: make(chan struct{})}
	f.starts = append(f.starts, pb)
	f.ctxs = append(f.ctxs, ctx)
	return pb, nil
}

func (f *fakeOutput) last() *fakePlayback {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.starts) == 0 {
		return nil
	}
	return f.starts[len(f.starts)-1]
}

func newTestManager(quiet time.Duration) (*Manager, *fakeNarrator, *fakeOutput) {
	n := &fakeNarrator{}
	out := &fakeOutput{}
	return NewManager(n, out, 1.15, quiet, testLogger()), n, out
}

// readyTrack prefetches a clip synchronously via a zero quiet window.
func readyTrack(t *testing.T, m *Manager, id, text string) {
	t.Helper()
	m.Observe(context.Background(), id, text)
	if !waitFor(time.Second, func() bool { return m.State(id) == model.AudioReady }) {
		t.Fatalf("track %s never became ready (state %v)", id, m.State(id))
	}
}

func TestObserveDebouncesUntilTextSettles(t *testing.T) {
	m, n, _ := newTestManager(30 * time.Millisecond)

	// Text still changing: each observation restarts the quiet window, so
	// no narration request goes out mid-stream.
	m.Observe(context.Background(), "m1", "Hyper")
	time.Sleep(10 * time.Millisecond)
	m.Observe(context.Background(), "m1", "Hypertension ")
	time.Sleep(10 * time.Millisecond)
	m.Observe(context.Background(), "m1", "Hypertension is common.")
	if n.callCount() != 0 {
		t.Fatalf("prefetch fired mid-stream")
	}

	if !waitFor(time.Second, func() bool { return m.State("m1") == model.AudioReady }) {
		t.Fatalf("prefetch never fired after quiet window")
	}
	if n.callCount() != 1 {
		t.Fatalf("narrate calls %d", n.callCount())
	}
	if n.calls[0] != "Hypertension is common." {
		t.Fatalf("narrated stale text %q", n.calls[0])
	}
}

func TestObserveFetchesOncePerMessage(t *testing.T) {
	m, n, _ := newTestManager(5 * time.Millisecond)

	readyTrack(t, m, "m1", "final text")
	// Re-observing settled text must not refetch.
	m.Observe(context.Background(), "m1", "final text")
	time.Sleep(20 * time.Millisecond)
	if n.callCount() != 1 {
		t.Fatalf("refetched a ready track: %d calls", n.callCount())
	}
}

func TestPrefetchFailureIsTerminal(t *testing.T) {
	m, n, _ := newTestManager(5 * time.Millisecond)
	n.err = errors.New("tts down")

	m.Observe(context.Background(), "m1", "text")
	if !waitFor(time.Second, func() bool { return m.State("m1") == model.AudioFailed }) {
		t.Fatalf("failure state never reached")
	}
	if err := m.Play(context.Background(), "m1"); !errors.Is(err, domain.ErrNoAudio) {
		t.Fatalf("failed track playable: %v", err)
	}
	if _, err := m.Clip("m1"); !errors.Is(err, domain.ErrNoAudio) {
		t.Fatalf("failed track clip: %v", err)
	}
}

func TestPlaySecondStopsFirst(t *testing.T) {
	m, _, out := newTestManager(5 * time.Millisecond)
	readyTrack(t, m, "a", "first clip")
	readyTrack(t, m, "b", "second clip")

	if err := m.Play(context.Background(), "a"); err != nil {
		t.Fatalf("play a: %v", err)
	}
	first := out.last()
	if m.PlayingID() != "a" {
		t.Fatalf("playing %q", m.PlayingID())
	}

	if err := m.Play(context.Background(), "b"); err != nil {
		t.Fatalf("play b: %v", err)
	}
	// Exactly one track playing: the first was stopped, not paused.
	if !first.stopped {
		t.Fatalf("first playback still running")
	}
	if !waitFor(time.Second, func() bool { return m.PlayingID() == "b" }) {
		t.Fatalf("playing %q after preemption", m.PlayingID())
	}
	if len(out.starts) != 2 {
		t.Fatalf("output starts %d", len(out.starts))
	}
}

func TestPlayOutlivesCallerContext(t *testing.T) {
	m, _, out := newTestManager(5 * time.Millisecond)
	readyTrack(t, m, "a", "clip")

	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Play(ctx, "a"); err != nil {
		t.Fatalf("play: %v", err)
	}
	// The caller's context ends the moment an HTTP handler returns; playback
	// keeps the slot until Stop or natural end.
	cancel()
	time.Sleep(20 * time.Millisecond)
	if err := out.ctxs[0].Err(); err != nil {
		t.Fatalf("pacing context died with caller: %v", err)
	}
	if out.last().stopped {
		t.Fatalf("playback stopped by caller context cancel")
	}
	if m.PlayingID() != "a" {
		t.Fatalf("slot released early: playing %q", m.PlayingID())
	}
}

func TestConcurrentPlaysKeepSingleSlot(t *testing.T) {
	m, _, out := newTestManager(5 * time.Millisecond)
	out.startDelay = 20 * time.Millisecond
	readyTrack(t, m, "a", "clip a")
	readyTrack(t, m, "b", "clip b")

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := m.Play(context.Background(), id); err != nil {
				t.Errorf("play %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	running := 0
	for _, pb := range out.starts {
		if !pb.stopped {
			running++
		}
	}
	if running != 1 {
		t.Fatalf("%d tracks playing at once", running)
	}
	if id := m.PlayingID(); id != "a" && id != "b" {
		t.Fatalf("playing %q after the race", id)
	}
}

func TestPlayTogglesSameTrack(t *testing.T) {
	m, _, out := newTestManager(5 * time.Millisecond)
	readyTrack(t, m, "a", "clip")

	if err := m.Play(context.Background(), "a"); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := m.Play(context.Background(), "a"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !out.last().stopped {
		t.Fatalf("toggle did not stop playback")
	}
	if !waitFor(time.Second, func() bool { return m.PlayingID() == "" }) {
		t.Fatalf("slot not released after toggle")
	}
	// No second start: toggle means stop, not restart.
	if len(out.starts) != 1 {
		t.Fatalf("output starts %d", len(out.starts))
	}
}

func TestNaturalEndReleasesSlot(t *testing.T) {
	m, _, out := newTestManager(5 * time.Millisecond)
	readyTrack(t, m, "a", "clip")

	if err := m.Play(context.Background(), "a"); err != nil {
		t.Fatalf("play: %v", err)
	}
	out.last().finish()
	if !waitFor(time.Second, func() bool { return m.PlayingID() == "" }) {
		t.Fatalf("slot not released at end of track")
	}
	// The slot is free: the same track can start again.
	if err := m.Play(context.Background(), "a"); err != nil {
		t.Fatalf("replay: %v", err)
	}
}

func TestPlayStatesBeforeReady(t *testing.T) {
	m, _, _ := newTestManager(time.Hour) // debounce never fires in this test

	if err := m.Play(context.Background(), "unknown"); !errors.Is(err, domain.ErrNoAudio) {
		t.Fatalf("unknown track: %v", err)
	}
	m.Observe(context.Background(), "m1", "text")
	if _, err := m.Clip("m1"); !errors.Is(err, domain.ErrNoAudio) && !errors.Is(err, domain.ErrAudioPending) {
		t.Fatalf("pending clip: %v", err)
	}
}

func TestStopOnlyAffectsPlayingTrack(t *testing.T) {
	m, _, out := newTestManager(5 * time.Millisecond)
	readyTrack(t, m, "a", "clip a")
	readyTrack(t, m, "b", "clip b")

	if err := m.Play(context.Background(), "a"); err != nil {
		t.Fatalf("play: %v", err)
	}
	m.Stop("b") // not the playing track
	if out.last().stopped {
		t.Fatalf("stop of non-playing track halted playback")
	}
	m.Stop("a")
	if !out.last().stopped {
		t.Fatalf("stop of playing track ignored")
	}
}

func TestDiscardStopsAndForgets(t *testing.T) {
	m, n, out := newTestManager(5 * time.Millisecond)
	readyTrack(t, m, "a", "clip")

	if err := m.Play(context.Background(), "a"); err != nil {
		t.Fatalf("play: %v", err)
	}
	m.Discard("a")
	if !out.last().stopped {
		t.Fatalf("discard did not stop playback")
	}
	if m.State("a") != model.AudioNotRequested {
		t.Fatalf("discard left track state %v", m.State("a"))
	}

	// The id can be observed fresh afterwards.
	m.Observe(context.Background(), "a", "new text")
	if !waitFor(time.Second, func() bool { return n.callCount() == 2 }) {
		t.Fatalf("discarded id cannot be refetched")
	}
}
