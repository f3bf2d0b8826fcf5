package google

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tiagosor/voicechat/transcription"
)

const providerName = "google"

// streamingRecognizeClient is a local interface that wraps the methods we need
// from speechpb.Speech_StreamingRecognizeClient to enable easier testing
type streamingRecognizeClient interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

// Provider implements the transcription.Provider interface for Google
// Speech-to-Text.
type Provider struct {
	client *speech.Client
}

// NewProvider creates a new Google Speech provider with the given client.
func NewProvider(client *speech.Client) *Provider {
	return &Provider{
		client: client,
	}
}

// Name returns the name of the provider.
func (p *Provider) Name() string {
	return providerName
}

// NewSession creates a new Google Speech transcription session.
func (p *Provider) NewSession(ctx context.Context, config transcription.SessionConfig) (transcription.Session, error) {
	stream, err := p.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, err
	}

	// Send initial configuration
	req := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:              speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz:       int32(config.SampleRate),
					LanguageCode:          config.Language,
					EnableWordTimeOffsets: true,
				},
				InterimResults: config.InterimResults,
			},
		},
	}

	if err := stream.Send(req); err != nil {
		stream.CloseSend()
		return nil, err
	}

	s := &Session{
		stream: stream,
		ctx:    ctx,
	}
	// The gRPC stream accepts audio as soon as the config frame is sent.
	s.ready.Store(true)
	return s, nil
}

// CheckConnectivity verifies the Google Speech client can open a stream.
func (p *Provider) CheckConnectivity(ctx context.Context) error {
	stream, err := p.client.StreamingRecognize(ctx)
	if err != nil {
		return err
	}
	return stream.CloseSend()
}

// Session implements the transcription.Session interface for Google
// Speech-to-Text.
type Session struct {
	stream streamingRecognizeClient
	ctx    context.Context
	ready  atomic.Bool
}

// SendAudio sends audio data to the Google Speech stream.
func (s *Session) SendAudio(audioData []byte) error {
	req := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audioData,
		},
	}
	return s.stream.Send(req)
}

// Ready reports whether the stream accepts audio.
func (s *Session) Ready() bool {
	return s.ready.Load()
}

// ReceiveTranscription receives transcription results from the Google Speech
// stream. It blocks until a result with non-empty text is available or the
// stream closes (io.EOF).
func (s *Session) ReceiveTranscription() (transcription.Result, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
			s.ready.Store(false)
			return transcription.Result{}, io.EOF
		}
		if err != nil {
			s.ready.Store(false)
			return transcription.Result{}, err
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			alt := result.Alternatives[0]
			if alt.Transcript == "" {
				continue
			}

			words := make([]transcription.Word, 0, len(alt.Words))
			for _, w := range alt.Words {
				words = append(words, transcription.Word{
					Word:       w.Word,
					Start:      w.StartTime.AsDuration().Seconds(),
					End:        w.EndTime.AsDuration().Seconds(),
					Confidence: float64(w.Confidence),
				})
			}

			return transcription.Result{
				Text:       alt.Transcript,
				IsFinal:    result.IsFinal,
				Confidence: float64(alt.Confidence),
				Words:      words,
				ReceivedAt: time.Now(),
			}, nil
		}
		// Continue loop if the response carried no usable results
	}
}

// Close closes the Google Speech stream.
func (s *Session) Close() error {
	s.ready.Store(false)
	return s.stream.CloseSend()
}
