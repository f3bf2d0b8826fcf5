package elevenlabs

import (
	"context"
	"fmt"
	"time"

	"github.com/haguro/elevenlabs-go"
	"github.com/rs/zerolog"

	"github.com/tiagosor/voicechat/tts"
)

const outputFormat = "mp3"

// ttsClient is a local interface that wraps the methods we need from
// elevenlabs.Client to enable easier testing
type ttsClient interface {
	TextToSpeech(voiceID string, ttsReq elevenlabs.TextToSpeechRequest, queries ...elevenlabs.QueryFunc) ([]byte, error)
	GetVoices() ([]elevenlabs.Voice, error)
}

// Synthesizer implements the tts.Synthesizer interface using the
// ElevenLabs API.
type Synthesizer struct {
	// The SDK client binds its context at construction, so one is built
	// per call to honor the caller's cancellation.
	clientFor func(ctx context.Context) ttsClient
	voiceID   string
	modelID   string
	log       zerolog.Logger
}

// Options configures an ElevenLabs synthesizer.
type Options struct {
	// APIKey authenticates against the ElevenLabs API.
	APIKey string

	// VoiceID selects the voice used for synthesis.
	VoiceID string

	// ModelID selects the synthesis model (e.g. "eleven_multilingual_v2").
	ModelID string

	// Timeout bounds each API request.
	Timeout time.Duration
}

// NewSynthesizer creates an ElevenLabs synthesizer.
func NewSynthesizer(opts Options, logger zerolog.Logger) *Synthesizer {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Synthesizer{
		clientFor: func(ctx context.Context) ttsClient {
			return elevenlabs.NewClient(ctx, opts.APIKey, timeout)
		},
		voiceID: opts.VoiceID,
		modelID: opts.ModelID,
		log:     logger,
	}
}

// Synthesize renders text as mp3 speech with the configured voice.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	audio, err := s.clientFor(ctx).TextToSpeech(s.voiceID, elevenlabs.TextToSpeechRequest{
		Text:    text,
		ModelID: s.modelID,
		VoiceSettings: &elevenlabs.VoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Style:           0.0,
			SpeakerBoost:    true,
		},
	})
	if err != nil {
		s.log.Error().Err(err).Str("voiceId", s.voiceID).Msg("speech synthesis failed")
		return tts.Audio{}, fmt.Errorf("tts generation failed: %w", err)
	}

	s.log.Debug().
		Int("textLength", len(text)).
		Int("audioSize", len(audio)).
		Str("voiceId", s.voiceID).
		Msg("speech generated")

	return tts.Audio{
		Data:    audio,
		VoiceID: s.voiceID,
		Format:  outputFormat,
	}, nil
}

// CheckConnectivity verifies the API key by listing available voices.
func (s *Synthesizer) CheckConnectivity(ctx context.Context) error {
	if _, err := s.clientFor(ctx).GetVoices(); err != nil {
		return fmt.Errorf("elevenlabs connectivity check: %w", err)
	}
	return nil
}
