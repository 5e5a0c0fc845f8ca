// Package stt provides streaming speech-to-text over the call audio.
package stt

import "context"

// Delta is a streaming transcript update. Interim deltas signal caller
// activity; only final deltas carry answer text worth processing.
type Delta struct {
	Text    string
	IsFinal bool
}

// Stream is one live transcription session.
type Stream interface {
	// SendAudio forwards raw audio in the negotiated encoding.
	SendAudio(data []byte) error

	// Transcripts returns the channel of transcript deltas.
	Transcripts() <-chan Delta

	// Done returns a channel that is closed when the stream ends for good.
	Done() <-chan struct{}

	// Close ends the session. Safe to call more than once.
	Close() error
}

// Provider creates transcription streams.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// NewStream opens a streaming session.
	NewStream(ctx context.Context, opts StreamOptions) (Stream, error)
}

// StreamOptions configures a transcription stream.
type StreamOptions struct {
	Model          string // provider-specific model
	Language       string // ISO language code (default: "en")
	Encoding       string // audio encoding (default: "mulaw")
	SampleRate     int    // sample rate in Hz (default: 8000)
	InterimResults bool   // emit non-final deltas
	UtteranceEndMS int    // silence window that ends an utterance
}
