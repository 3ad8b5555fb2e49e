package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrInvalidArgument = errors.New("invalid argument")

	// Turn lifecycle
	ErrTurnInFlight     = errors.New("a generation is already in flight")
	ErrAborted          = errors.New("generation aborted")
	ErrGenerationFailed = errors.New("generation failed")

	// Entitlement outcomes. Policy decisions, not faults; callers map them
	// to a blocking prompt rather than an error banner.
	ErrGuestLimit    = errors.New("guest usage limit reached")
	ErrFreeTierLimit = errors.New("free tier usage limit reached")

	// Audio
	ErrNoAudio      = errors.New("no narration available for message")
	ErrAudioPending = errors.New("narration still being fetched")
)
