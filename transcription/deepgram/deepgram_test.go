package deepgram

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"

	"github.com/tiagosor/voicechat/transcription"
)

// fakeWriter records audio writes and Stop calls.
type fakeWriter struct {
	written [][]byte
	err     error
	stopped bool
}

func (f *fakeWriter) Write(p []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.written = append(f.written, p)
	return len(p), nil
}

func (f *fakeWriter) Stop() {
	f.stopped = true
}

func createTestSession() (*Session, *ChannelHandler) {
	channelHandler := NewChannelHandler()
	session := &Session{
		ctx:            context.Background(),
		channelHandler: channelHandler,
	}
	return session, channelHandler
}

func TestSessionProcessMessage(t *testing.T) {
	tests := []struct {
		name         string
		messageResp  *api.MessageResponse
		expectResult bool
		expected     transcription.Result
	}{
		{
			name: "final result with transcript",
			messageResp: &api.MessageResponse{
				IsFinal: true,
				Channel: api.Channel{
					Alternatives: []api.Alternative{
						{Transcript: "hello world", Confidence: 0.95},
					},
				},
			},
			expectResult: true,
			expected: transcription.Result{
				Text:       "hello world",
				IsFinal:    true,
				Confidence: 0.95,
			},
		},
		{
			name: "interim result with transcript",
			messageResp: &api.MessageResponse{
				IsFinal: false,
				Channel: api.Channel{
					Alternatives: []api.Alternative{
						{Transcript: "hello wor", Confidence: 0.6},
					},
				},
			},
			expectResult: true,
			expected: transcription.Result{
				Text:       "hello wor",
				IsFinal:    false,
				Confidence: 0.6,
			},
		},
		{
			name: "whitespace trimmed",
			messageResp: &api.MessageResponse{
				IsFinal: true,
				Channel: api.Channel{
					Alternatives: []api.Alternative{
						{Transcript: "  hello world  ", Confidence: 0.9},
					},
				},
			},
			expectResult: true,
			expected: transcription.Result{
				Text:       "hello world",
				IsFinal:    true,
				Confidence: 0.9,
			},
		},
		{
			name: "empty transcript skipped",
			messageResp: &api.MessageResponse{
				IsFinal: true,
				Channel: api.Channel{
					Alternatives: []api.Alternative{
						{Transcript: "   ", Confidence: 0.9},
					},
				},
			},
			expectResult: false,
		},
		{
			name: "no alternatives skipped",
			messageResp: &api.MessageResponse{
				IsFinal: true,
				Channel: api.Channel{Alternatives: []api.Alternative{}},
			},
			expectResult: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, _ := createTestSession()
			result := session.processMessage(tt.messageResp)

			if !tt.expectResult {
				assert.Nil(t, result)
				return
			}

			require.NotNil(t, result)
			assert.Equal(t, tt.expected.Text, result.Text)
			assert.Equal(t, tt.expected.IsFinal, result.IsFinal)
			assert.InDelta(t, tt.expected.Confidence, result.Confidence, 0.0001)
			assert.WithinDuration(t, time.Now(), result.ReceivedAt, time.Second)
		})
	}
}

func TestSessionProcessMessageWords(t *testing.T) {
	session, _ := createTestSession()

	result := session.processMessage(&api.MessageResponse{
		IsFinal: true,
		Channel: api.Channel{
			Alternatives: []api.Alternative{
				{
					Transcript: "hello world",
					Confidence: 0.95,
					Words: []api.Word{
						{Word: "hello", Start: 0.1, End: 0.4, Confidence: 0.96},
						{Word: "world", Start: 0.5, End: 0.9, Confidence: 0.94},
					},
				},
			},
		},
	})

	require.NotNil(t, result)
	require.Len(t, result.Words, 2)
	assert.Equal(t, "hello", result.Words[0].Word)
	assert.InDelta(t, 0.1, result.Words[0].Start, 0.0001)
	assert.InDelta(t, 0.9, result.Words[1].End, 0.0001)
}

func TestSessionReceiveTranscription(t *testing.T) {
	session, handler := createTestSession()

	handler.messageChan <- &api.MessageResponse{
		IsFinal: true,
		Channel: api.Channel{
			Alternatives: []api.Alternative{
				{Transcript: "streamed text", Confidence: 0.9},
			},
		},
	}

	result, err := session.ReceiveTranscription()
	require.NoError(t, err)
	assert.Equal(t, "streamed text", result.Text)
	assert.True(t, result.IsFinal)
}

func TestSessionReceiveSkipsEmptyMessages(t *testing.T) {
	session, handler := createTestSession()

	handler.messageChan <- &api.MessageResponse{
		Channel: api.Channel{Alternatives: []api.Alternative{{Transcript: ""}}},
	}
	handler.messageChan <- &api.MessageResponse{
		IsFinal: true,
		Channel: api.Channel{
			Alternatives: []api.Alternative{{Transcript: "real text", Confidence: 0.8}},
		},
	}

	result, err := session.ReceiveTranscription()
	require.NoError(t, err)
	assert.Equal(t, "real text", result.Text)
}

func TestSessionReceiveStreamError(t *testing.T) {
	session, handler := createTestSession()

	handler.errorChan <- &api.ErrorResponse{
		Type:        "error",
		Description: "rate limited",
	}

	_, err := session.ReceiveTranscription()
	var streamErr *transcription.StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, providerName, streamErr.Provider)
}

func TestSessionReceiveClose(t *testing.T) {
	session, handler := createTestSession()

	handler.openChan <- &api.OpenResponse{}
	handler.closeChan <- &api.CloseResponse{}

	_, err := session.ReceiveTranscription()
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, session.Ready())
}

func TestSessionReadyLifecycle(t *testing.T) {
	session, handler := createTestSession()
	assert.False(t, session.Ready())

	// The open event flips readiness; a message after it is returned and
	// readiness persists.
	handler.openChan <- &api.OpenResponse{}
	handler.messageChan <- &api.MessageResponse{
		IsFinal: true,
		Channel: api.Channel{
			Alternatives: []api.Alternative{{Transcript: "ready now", Confidence: 0.9}},
		},
	}

	_, err := session.ReceiveTranscription()
	require.NoError(t, err)
	assert.True(t, session.Ready())
}

func TestSessionReceiveContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	session := &Session{
		ctx:            ctx,
		channelHandler: NewChannelHandler(),
	}

	cancel()

	_, err := session.ReceiveTranscription()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSessionSendAudio(t *testing.T) {
	writer := &fakeWriter{}
	session := &Session{
		ctx:            context.Background(),
		client:         writer,
		channelHandler: NewChannelHandler(),
	}

	require.NoError(t, session.SendAudio([]byte("audio bytes")))
	require.Len(t, writer.written, 1)
	assert.Equal(t, []byte("audio bytes"), writer.written[0])

	writer.err = errors.New("write failed")
	assert.Error(t, session.SendAudio([]byte("more")))
}

func TestSessionClose(t *testing.T) {
	writer := &fakeWriter{}
	session := &Session{
		ctx:            context.Background(),
		client:         writer,
		channelHandler: NewChannelHandler(),
	}
	session.ready.Store(true)

	require.NoError(t, session.Close())
	assert.True(t, writer.stopped)
	assert.False(t, session.Ready())
}
