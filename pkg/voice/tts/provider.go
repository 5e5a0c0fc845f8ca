// Package tts provides text-to-speech synthesis for call playback.
package tts

import "context"

// Provider converts text to audio in the telephony format (mulaw, 8kHz,
// mono). An empty result with a nil error means synthesis is unavailable;
// callers skip playback rather than fail the call.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize renders text as mulaw-8k audio bytes.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
