package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/tiagosor/voicechat/transcription"
)

const providerName = "deepgram"

// dgWriter is a local interface that wraps the methods we need
// from listenv1ws.WSCallback to enable easier testing
type dgWriter interface {
	io.Writer
	Stop()
}

// ChannelHandler implements the LiveMessageChan interface for receiving Deepgram messages
type ChannelHandler struct {
	openChan          chan *api.OpenResponse
	messageChan       chan *api.MessageResponse
	metadataChan      chan *api.MetadataResponse
	speechStartedChan chan *api.SpeechStartedResponse
	utteranceEndChan  chan *api.UtteranceEndResponse
	closeChan         chan *api.CloseResponse
	errorChan         chan *api.ErrorResponse
	unhandledChan     chan *[]byte
}

// NewChannelHandler creates a new handler with initialized channels
func NewChannelHandler() *ChannelHandler {
	return &ChannelHandler{
		openChan:          make(chan *api.OpenResponse, 1),
		messageChan:       make(chan *api.MessageResponse, 10),
		metadataChan:      make(chan *api.MetadataResponse, 1),
		speechStartedChan: make(chan *api.SpeechStartedResponse, 1),
		utteranceEndChan:  make(chan *api.UtteranceEndResponse, 1),
		closeChan:         make(chan *api.CloseResponse, 1),
		errorChan:         make(chan *api.ErrorResponse, 1),
		unhandledChan:     make(chan *[]byte, 1),
	}
}

// GetOpen returns slice of channels for open events
func (ch *ChannelHandler) GetOpen() []*chan *api.OpenResponse {
	return []*chan *api.OpenResponse{&ch.openChan}
}

// GetMessage returns slice of channels for message events
func (ch *ChannelHandler) GetMessage() []*chan *api.MessageResponse {
	return []*chan *api.MessageResponse{&ch.messageChan}
}

// GetMetadata returns slice of channels for metadata events
func (ch *ChannelHandler) GetMetadata() []*chan *api.MetadataResponse {
	return []*chan *api.MetadataResponse{&ch.metadataChan}
}

// GetSpeechStarted returns slice of channels for speech started events
func (ch *ChannelHandler) GetSpeechStarted() []*chan *api.SpeechStartedResponse {
	return []*chan *api.SpeechStartedResponse{&ch.speechStartedChan}
}

// GetUtteranceEnd returns slice of channels for utterance end events
func (ch *ChannelHandler) GetUtteranceEnd() []*chan *api.UtteranceEndResponse {
	return []*chan *api.UtteranceEndResponse{&ch.utteranceEndChan}
}

// GetClose returns slice of channels for close events
func (ch *ChannelHandler) GetClose() []*chan *api.CloseResponse {
	return []*chan *api.CloseResponse{&ch.closeChan}
}

// GetError returns slice of channels for error events
func (ch *ChannelHandler) GetError() []*chan *api.ErrorResponse {
	return []*chan *api.ErrorResponse{&ch.errorChan}
}

// GetUnhandled returns slice of channels for unhandled events
func (ch *ChannelHandler) GetUnhandled() []*chan *[]byte {
	return []*chan *[]byte{&ch.unhandledChan}
}

// Provider implements the transcription.Provider interface for Deepgram's
// live speech-to-text API.
type Provider struct {
	apiKey string
}

// NewProvider creates a new Deepgram provider with the given API key.
func NewProvider(apiKey string) *Provider {
	client.InitWithDefault()

	return &Provider{
		apiKey: apiKey,
	}
}

// Name returns the name of the provider.
func (p *Provider) Name() string {
	return providerName
}

// NewSession opens a Deepgram live transcription stream.
func (p *Provider) NewSession(ctx context.Context, config transcription.SessionConfig) (transcription.Session, error) {
	cOptions := &interfaces.ClientOptions{
		APIKey:          p.apiKey,
		EnableKeepAlive: true,
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          config.Model,
		Language:       config.Language,
		SmartFormat:    config.SmartFormat,
		Encoding:       config.Encoding,
		Channels:       1,
		SampleRate:     config.SampleRate,
		VadEvents:      true,
		InterimResults: config.InterimResults,
		Endpointing:    strconv.Itoa(config.EndpointingMs),
		UtteranceEndMs: "1000",
	}

	channelHandler := NewChannelHandler()

	dgClient, err := client.NewWSUsingChan(ctx, "", cOptions, tOptions, channelHandler)
	if err != nil {
		return nil, err
	}

	session := &Session{
		ctx:            ctx,
		client:         dgClient,
		channelHandler: channelHandler,
	}

	if success := dgClient.Connect(); !success {
		return nil, errors.New("failed to connect to deepgram")
	}

	return session, nil
}

// CheckConnectivity verifies the API key against the Deepgram projects
// endpoint.
func (p *Provider) CheckConnectivity(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.deepgram.com/v1/projects", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("deepgram connectivity check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deepgram connectivity check: status %d", resp.StatusCode)
	}
	return nil
}

// Session implements the transcription.Session interface for Deepgram's
// live speech-to-text API.
type Session struct {
	ctx            context.Context
	client         dgWriter
	channelHandler *ChannelHandler
	ready          atomic.Bool
}

// SendAudio sends audio data to the Deepgram stream.
func (s *Session) SendAudio(audioData []byte) error {
	_, err := s.client.Write(audioData)
	return err
}

// Ready reports whether Deepgram has acknowledged the stream open and has
// not closed it since.
func (s *Session) Ready() bool {
	return s.ready.Load()
}

// ReceiveTranscription receives transcription results from the Deepgram
// stream. It blocks until a result with non-empty text is available, a
// recoverable provider error occurs (*transcription.StreamError), or the
// stream closes (io.EOF).
func (s *Session) ReceiveTranscription() (transcription.Result, error) {
	for {
		select {
		case msg := <-s.channelHandler.messageChan:
			if msg == nil {
				continue
			}
			result := s.processMessage(msg)
			if result != nil {
				return *result, nil
			}
		case errResp := <-s.channelHandler.errorChan:
			if errResp != nil {
				// Deepgram may recover; the stream stays open.
				return transcription.Result{}, &transcription.StreamError{
					Provider: providerName,
					Message:  fmt.Sprintf("%v", errResp),
				}
			}
		case <-s.channelHandler.closeChan:
			// Connection closed by Deepgram
			s.ready.Store(false)
			return transcription.Result{}, io.EOF
		case <-s.channelHandler.openChan:
			s.ready.Store(true)
		case <-s.channelHandler.metadataChan:
			// Consume metadata events (no action needed)
		case <-s.channelHandler.speechStartedChan:
			// Consume speech started events (no action needed)
		case <-s.channelHandler.utteranceEndChan:
			// Consume utterance end events (no action needed)
		case <-s.channelHandler.unhandledChan:
			// Consume unhandled events (no action needed)
		case <-s.ctx.Done():
			if s.ctx.Err() == context.Canceled {
				return transcription.Result{}, io.EOF
			}
			return transcription.Result{}, s.ctx.Err()
		}
	}
}

// processMessage converts a Deepgram message into a result, or nil when the
// transcript is empty.
func (s *Session) processMessage(msg *api.MessageResponse) *transcription.Result {
	if len(msg.Channel.Alternatives) == 0 {
		return nil
	}

	alternative := msg.Channel.Alternatives[0]
	sentence := strings.TrimSpace(alternative.Transcript)
	if sentence == "" {
		return nil
	}

	words := make([]transcription.Word, 0, len(alternative.Words))
	for _, w := range alternative.Words {
		words = append(words, transcription.Word{
			Word:       w.Word,
			Start:      w.Start,
			End:        w.End,
			Confidence: w.Confidence,
		})
	}

	return &transcription.Result{
		Text:       sentence,
		IsFinal:    msg.IsFinal,
		Confidence: alternative.Confidence,
		Words:      words,
		ReceivedAt: time.Now(),
	}
}

// Close closes the Deepgram session.
func (s *Session) Close() error {
	s.ready.Store(false)
	if s.client != nil {
		s.client.Stop()
	}

	// Closing the channels manually leads to race conditions because
	// the deepgram client still tries to send any in-flight messages to
	// those channels. Even the deepgram demo doesn't close the channels.
	// So we leave it like this.
	return nil
}
