package model

type AudioState string

const (
	AudioNotRequested AudioState = "not_requested"
	AudioPrefetching  AudioState = "prefetching"
	AudioReady        AudioState = "ready"
	// AudioFailed is terminal for the message's current text; there is no
	// retry and the play affordance simply never appears.
	AudioFailed AudioState = "failed"
)

// AudioTrack is the cached narration derived from one message. The "at most
// one playing" invariant lives in the playback manager, not here.
type AudioTrack struct {
	MessageID string
	State     AudioState
	Clip      []byte
}
