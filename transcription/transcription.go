package transcription

import (
	"context"
	"fmt"
	"time"
)

// Provider creates live transcription sessions for streaming speech-to-text
// conversion. Different providers can implement this interface to support
// various speech services like Deepgram, Google Speech, AWS Transcribe, etc.
type Provider interface {
	// Name returns the name of the provider.
	Name() string

	// NewSession opens a streaming transcription session with the given
	// configuration. The context can be used to cancel the session.
	NewSession(ctx context.Context, config SessionConfig) (Session, error)

	// CheckConnectivity verifies that the provider is reachable with the
	// configured credentials. Used by readiness probes.
	CheckConnectivity(ctx context.Context) error
}

// Session handles streaming transcription for a single recording.
// It manages the lifecycle of audio streaming and transcription result
// retrieval.
type Session interface {
	// SendAudio sends raw audio data to the transcription service.
	// Audio data must match the format specified in SessionConfig.
	SendAudio(audioData []byte) error

	// Ready reports whether the underlying stream is open and accepting
	// audio. Callers must not send audio while Ready returns false.
	Ready() bool

	// ReceiveTranscription blocks until a transcription result is available.
	// It returns io.EOF when the stream is closed and no more results will
	// arrive. A *StreamError return indicates a recoverable provider error;
	// the stream stays open and ReceiveTranscription may be called again.
	ReceiveTranscription() (Result, error)

	// Close gracefully closes the transcription session and releases
	// resources. After Close, SendAudio and ReceiveTranscription must not
	// be called.
	Close() error
}

// SessionConfig holds provider-agnostic configuration for transcription
// sessions.
type SessionConfig struct {
	// Model selects the provider's recognition model (e.g. "nova-2").
	Model string

	// Language specifies the language for transcription (e.g. "en-US").
	Language string

	// SampleRate is the audio sample rate in Hz (e.g. 16000).
	SampleRate int

	// Encoding names the audio encoding. The orchestration layer always
	// sends mono signed 16-bit little-endian PCM ("linear16").
	Encoding string

	// SmartFormat enables provider-side punctuation and formatting.
	SmartFormat bool

	// InterimResults indicates whether to return interim (non-final)
	// results in addition to finals.
	InterimResults bool

	// EndpointingMs is the provider's silence detection window in
	// milliseconds, where supported.
	EndpointingMs int
}

// Word is a single recognized word with timing, when the provider
// supplies it. Start and End are offsets in seconds.
type Word struct {
	Word       string
	Start      float64
	End        float64
	Confidence float64
}

// Result represents a transcription result with metadata.
type Result struct {
	// Text is the transcribed text.
	Text string

	// IsFinal indicates whether this is a final result or interim.
	IsFinal bool

	// Confidence is the confidence score (0.0 to 1.0) if available.
	Confidence float64

	// Words carries per-word timing and confidence if available.
	Words []Word

	// ReceivedAt is when the result arrived from the provider.
	ReceivedAt time.Time
}

// StreamError is a provider error raised while the stream remains open.
// The provider may recover on its own; callers should surface the error
// and keep reading.
type StreamError struct {
	Provider string
	Message  string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s stream error: %s", e.Provider, e.Message)
}
