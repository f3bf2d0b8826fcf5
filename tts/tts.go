package tts

import "context"

// Audio is a synthesized speech payload.
type Audio struct {
	// Data is the encoded audio bytes.
	Data []byte

	// VoiceID identifies the voice used for synthesis.
	VoiceID string

	// Format names the audio container/codec (e.g. "mp3").
	Format string
}

// Synthesizer converts text to speech.
type Synthesizer interface {
	// Synthesize returns an audio rendition of text, or a failure.
	Synthesize(ctx context.Context, text string) (Audio, error)

	// CheckConnectivity verifies the synthesis service is reachable with
	// the configured credentials. Used by readiness probes.
	CheckConnectivity(ctx context.Context) error
}
