package audio

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"clinref-chat/internal/domain"
	"clinref-chat/internal/domain/model"
	"clinref-chat/internal/domain/ports/adapter"
	"clinref-chat/internal/infra/metrics"
	"clinref-chat/internal/infra/sched"
)

// Narrator is the slice of the generative service the manager needs.
type Narrator interface {
	Narrate(ctx context.Context, text string) ([]byte, error)
}

// Manager is the process-wide single-flight playback controller. At most one
// track is playing at any instant; starting another stops the current one
// first through the shared stopCurrent callback. Prefetch is decoupled from
// playback: each message's narration is fetched once its text has been quiet
// for the configured window, so it never runs mid-stream.
type Manager struct {
	mu sync.Mutex

	// playMu serializes the stop-then-start transition in Play. Two
	// concurrent plays must never both observe a free slot.
	playMu sync.Mutex

	narrator Narrator
	out      adapter.AudioOutput
	rate     float64
	quiet    time.Duration
	log      *zerolog.Logger

	tracks    map[string]*model.AudioTrack
	debounces map[string]*sched.Debouncer
	lastText  map[string]string

	playingID   string
	stopCurrent func()
}

func NewManager(narrator Narrator, out adapter.AudioOutput, rate float64, quiet time.Duration, logger *zerolog.Logger) *Manager {
	l := logger.With().Str("component", "audio.Manager").Logger()
	return &Manager{
		narrator:  narrator,
		out:       out,
		rate:      rate,
		quiet:     quiet,
		log:       &l,
		tracks:    make(map[string]*model.AudioTrack),
		debounces: make(map[string]*sched.Debouncer),
		lastText:  make(map[string]string),
	}
}

// Observe tells the manager a message's current text. Every change restarts
// the quiet window; the prefetch fires only once the text has settled.
func (m *Manager) Observe(ctx context.Context, messageID, text string) {
	if text == "" {
		return
	}
	m.mu.Lock()
	if t, ok := m.tracks[messageID]; ok && t.State != model.AudioNotRequested {
		// Already fetched (or failed, which is terminal for this text).
		m.mu.Unlock()
		return
	}
	if m.lastText[messageID] == text {
		m.mu.Unlock()
		return
	}
	m.lastText[messageID] = text
	d, ok := m.debounces[messageID]
	if !ok {
		d = sched.NewDebouncer(m.quiet)
		m.debounces[messageID] = d
	}
	m.mu.Unlock()

	d.Trigger(ctx, func(ctx context.Context) {
		m.prefetch(ctx, messageID, text)
	})
}

func (m *Manager) prefetch(ctx context.Context, messageID, text string) {
	m.mu.Lock()
	if t, ok := m.tracks[messageID]; ok && t.State != model.AudioNotRequested {
		m.mu.Unlock()
		return
	}
	m.tracks[messageID] = &model.AudioTrack{MessageID: messageID, State: model.AudioPrefetching}
	m.mu.Unlock()

	clip, err := m.narrator.Narrate(ctx, text)

	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tracks[messageID]
	if err != nil {
		// Terminal: the message keeps no play affordance for this text.
		t.State = model.AudioFailed
		metrics.IncAudio("prefetch_failed")
		m.log.Debug().Err(err).Str("message_id", messageID).Msg("narration prefetch failed")
		return
	}
	t.State = model.AudioReady
	t.Clip = clip
	metrics.IncAudio("prefetch_ok")
}

// State reports the track state for a message (AudioNotRequested when the
// manager has never seen it).
func (m *Manager) State(messageID string) model.AudioState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tracks[messageID]; ok {
		return t.State
	}
	return model.AudioNotRequested
}

// PlayingID returns the id of the message currently playing, or "".
func (m *Manager) PlayingID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playingID
}

// Play starts the message's narration. If the same track is already playing
// it stops instead (toggle). Any other playing track is stopped first,
// unconditionally, before the new one starts.
func (m *Manager) Play(ctx context.Context, messageID string) error {
	m.playMu.Lock()
	defer m.playMu.Unlock()

	m.mu.Lock()
	if m.playingID == messageID {
		stop := m.stopCurrent
		m.mu.Unlock()
		if stop != nil {
			stop()
		}
		return nil
	}
	t, ok := m.tracks[messageID]
	if !ok || t.State == model.AudioFailed {
		m.mu.Unlock()
		return domain.ErrNoAudio
	}
	if t.State != model.AudioReady {
		m.mu.Unlock()
		return domain.ErrAudioPending
	}
	stop := m.stopCurrent
	clip := t.Clip
	m.mu.Unlock()

	if stop != nil {
		metrics.IncAudio("preempted")
		stop()
	}

	// Playback outlives the request that started it: the slot is released
	// by Stop or by the track's natural end, not by the caller's context.
	pb, err := m.out.Start(context.WithoutCancel(ctx), clip, m.rate)
	if err != nil {
		m.log.Debug().Err(err).Str("message_id", messageID).Msg("playback start failed")
		return domain.ErrNoAudio
	}

	m.mu.Lock()
	m.playingID = messageID
	var once sync.Once
	release := func() {
		once.Do(func() {
			pb.Stop()
			m.mu.Lock()
			if m.playingID == messageID {
				m.playingID = ""
				m.stopCurrent = nil
			}
			m.mu.Unlock()
		})
	}
	m.stopCurrent = release
	m.mu.Unlock()

	// Natural end of track releases the slot the same way a stop does.
	go func() {
		<-pb.Done()
		release()
	}()

	metrics.IncAudio("play")
	return nil
}

// Stop halts the message's playback if it is the one playing. Always safe to
// call; releases the output device handle rather than pausing it.
func (m *Manager) Stop(messageID string) {
	m.mu.Lock()
	stop := m.stopCurrent
	playing := m.playingID
	m.mu.Unlock()
	if playing == messageID && stop != nil {
		metrics.IncAudio("stop")
		stop()
	}
}

// Discard drops all bookkeeping for a message as part of its teardown.
// A currently playing track is stopped synchronously first.
func (m *Manager) Discard(messageID string) {
	m.Stop(messageID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.debounces[messageID]; ok {
		d.Cancel()
		delete(m.debounces, messageID)
	}
	delete(m.tracks, messageID)
	delete(m.lastText, messageID)
}

// Clip returns the ready narration bytes for a message.
func (m *Manager) Clip(messageID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracks[messageID]
	if !ok || t.State == model.AudioFailed {
		return nil, domain.ErrNoAudio
	}
	if t.State != model.AudioReady {
		return nil, domain.ErrAudioPending
	}
	return t.Clip, nil
}
