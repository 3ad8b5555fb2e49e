package adapter

import "context"

// Playback is one running clip on the output device. Stop releases the
// device handle (not just pauses); Done closes when the clip ends for any
// reason, including Stop.
type Playback interface {
	Done() <-chan struct{}
	Stop()
}

// AudioOutput is the port for the audio output device. rate is the fixed
// playback-rate override applied to every narrated clip.
type AudioOutput interface {
	Start(ctx context.Context, clip []byte, rate float64) (Playback, error)
}
