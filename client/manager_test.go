package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiagosor/voicechat"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// testServer is a minimal voice chat server endpoint. Every accepted
// connection is published on conns so tests can push events through it.
type testServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{
		conns: make(chan *websocket.Conn, 4),
	}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.conns <- conn

		// Drain inbound frames so writes from the client never block.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ts.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func sendEvent(t *testing.T, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()

	evt := voicechat.ServerEvent{Type: eventType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		evt.Payload = raw
	}
	data, err := json.Marshal(evt)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// stateRecorder collects state transitions thread-safely.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (sr *stateRecorder) record(st State) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.states = append(sr.states, st)
}

func (sr *stateRecorder) all() []State {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	out := make([]State, len(sr.states))
	copy(out, sr.states)
	return out
}

func TestManagerConnect(t *testing.T) {
	ts := newTestServer(t)

	recorder := &stateRecorder{}
	mgr := NewManager(ts.url(), Handlers{OnStateChange: recorder.record}, zerolog.Nop())

	mgr.Connect()
	ts.accept(t)

	require.Eventually(t, func() bool {
		return mgr.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, mgr.RetryCount())
	assert.True(t, mgr.CanRetry())
	assert.Equal(t, []State{StateConnecting, StateConnected}, recorder.all())

	mgr.Disconnect()
}

func TestManagerConnectWhileConnectedIsNoop(t *testing.T) {
	ts := newTestServer(t)

	mgr := NewManager(ts.url(), Handlers{}, zerolog.Nop())
	mgr.Connect()
	ts.accept(t)

	require.Eventually(t, func() bool {
		return mgr.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	// A second Connect must not dial again.
	mgr.Connect()

	select {
	case <-ts.conns:
		t.Fatal("duplicate connection opened")
	case <-time.After(100 * time.Millisecond):
	}

	mgr.Disconnect()
}

func TestManagerDisconnectNoRetry(t *testing.T) {
	ts := newTestServer(t)

	mgr := NewManager(ts.url(), Handlers{}, zerolog.Nop())
	mgr.SetBackoff(Backoff{Base: time.Millisecond, Cap: 10 * time.Millisecond, MaxRetries: 5})

	mgr.Connect()
	ts.accept(t)

	require.Eventually(t, func() bool {
		return mgr.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	mgr.Disconnect()
	assert.Equal(t, StateDisconnected, mgr.State())

	// No reconnect may be scheduled after a voluntary disconnect.
	select {
	case <-ts.conns:
		t.Fatal("manager reconnected after voluntary disconnect")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 0, mgr.RetryCount())
	assert.True(t, mgr.CanRetry())
}

func TestManagerDisconnectBeforeRetryArmsNoTimer(t *testing.T) {
	ts := newTestServer(t)

	mgr := NewManager(ts.url(), Handlers{}, zerolog.Nop())
	mgr.SetBackoff(Backoff{Base: time.Millisecond, Cap: 10 * time.Millisecond, MaxRetries: 5})

	mgr.Connect()
	ts.accept(t)

	require.Eventually(t, func() bool {
		return mgr.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	// Model the reader losing the lock between snapshotting userClosed and
	// arming the retry: Disconnect lands first, then the retry scheduling
	// resumes against a stale snapshot. No timer may be armed.
	mgr.Disconnect()
	mgr.scheduleRetry()

	select {
	case <-ts.conns:
		t.Fatal("manager reconnected after voluntary disconnect")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, StateDisconnected, mgr.State())
	assert.Equal(t, 0, mgr.RetryCount())
}

func TestManagerReconnectsAfterServerDrop(t *testing.T) {
	ts := newTestServer(t)

	mgr := NewManager(ts.url(), Handlers{}, zerolog.Nop())
	mgr.SetBackoff(Backoff{Base: time.Millisecond, Cap: 10 * time.Millisecond, MaxRetries: 5})

	mgr.Connect()
	serverConn := ts.accept(t)

	require.Eventually(t, func() bool {
		return mgr.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	// Server drops the connection; the manager must dial again on its own.
	serverConn.Close()
	ts.accept(t)

	require.Eventually(t, func() bool {
		return mgr.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	// A successful reconnect resets the attempt counter.
	assert.Equal(t, 0, mgr.RetryCount())
	assert.True(t, mgr.CanRetry())

	mgr.Disconnect()
}

func TestManagerRetriesExhausted(t *testing.T) {
	var mu sync.Mutex
	var gotErr error

	// Nothing listens here, so every dial fails immediately.
	mgr := NewManager("ws://127.0.0.1:1", Handlers{
		OnError: func(err error) {
			mu.Lock()
			gotErr = err
			mu.Unlock()
		},
	}, zerolog.Nop())
	mgr.SetBackoff(Backoff{Base: time.Millisecond, Cap: 5 * time.Millisecond, MaxRetries: 3})

	mgr.Connect()

	require.Eventually(t, func() bool {
		return mgr.State() == StateFailed
	}, 5*time.Second, 10*time.Millisecond)

	assert.False(t, mgr.CanRetry())
	assert.Equal(t, 4, mgr.RetryCount())

	mu.Lock()
	assert.ErrorIs(t, gotErr, ErrRetriesExhausted)
	mu.Unlock()

	// The terminal state is sticky: Connect must refuse to dial.
	mgr.Connect()
	assert.Equal(t, StateFailed, mgr.State())
}

func TestManagerRecordingLifecycle(t *testing.T) {
	ts := newTestServer(t)

	mgr := NewManager(ts.url(), Handlers{}, zerolog.Nop())
	mgr.Connect()
	serverConn := ts.accept(t)

	require.Eventually(t, func() bool {
		return mgr.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, mgr.Recording())

	sendEvent(t, serverConn, voicechat.EventRecordingStarted, nil)
	require.Eventually(t, mgr.Recording, 2*time.Second, 10*time.Millisecond)

	sendEvent(t, serverConn, voicechat.EventRecordingStopped, nil)
	require.Eventually(t, func() bool {
		return !mgr.Recording()
	}, 2*time.Second, 10*time.Millisecond)

	mgr.Disconnect()
}

func TestManagerStopRecordingDropsFlagImmediately(t *testing.T) {
	ts := newTestServer(t)

	mgr := NewManager(ts.url(), Handlers{}, zerolog.Nop())
	mgr.Connect()
	serverConn := ts.accept(t)

	require.Eventually(t, func() bool {
		return mgr.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	sendEvent(t, serverConn, voicechat.EventRecordingStarted, nil)
	require.Eventually(t, mgr.Recording, 2*time.Second, 10*time.Millisecond)

	// The flag must drop before the server acknowledges the stop.
	require.NoError(t, mgr.StopRecording())
	assert.False(t, mgr.Recording())

	mgr.Disconnect()
}

func TestManagerEventDispatch(t *testing.T) {
	ts := newTestServer(t)

	var mu sync.Mutex
	var transcripts []voicechat.TranscriptionResultPayload
	var replies []voicechat.AIResponsePayload
	var audio []voicechat.TTSAudioPayload
	var errMsgs []string

	mgr := NewManager(ts.url(), Handlers{
		OnTranscription: func(p voicechat.TranscriptionResultPayload) {
			mu.Lock()
			transcripts = append(transcripts, p)
			mu.Unlock()
		},
		OnAIResponse: func(p voicechat.AIResponsePayload) {
			mu.Lock()
			replies = append(replies, p)
			mu.Unlock()
		},
		OnTTSAudio: func(p voicechat.TTSAudioPayload) {
			mu.Lock()
			audio = append(audio, p)
			mu.Unlock()
		},
		OnAIError: func(msg string) {
			mu.Lock()
			errMsgs = append(errMsgs, msg)
			mu.Unlock()
		},
	}, zerolog.Nop())

	mgr.Connect()
	serverConn := ts.accept(t)

	require.Eventually(t, func() bool {
		return mgr.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	sendEvent(t, serverConn, voicechat.EventTranscriptionResult, voicechat.TranscriptionResultPayload{
		Text:       "hello there",
		Confidence: 0.97,
		IsInterim:  false,
		Timestamp:  1712000000000,
	})
	sendEvent(t, serverConn, voicechat.EventAIResponse, voicechat.AIResponsePayload{
		Text:      "Hi! How can I help?",
		Timestamp: 1712000000500,
	})
	sendEvent(t, serverConn, voicechat.EventTTSAudio, voicechat.TTSAudioPayload{
		AudioData: "aGVsbG8=",
		Text:      "Hi! How can I help?",
		VoiceID:   "Rachel",
		Format:    "mp3",
	})
	sendEvent(t, serverConn, voicechat.EventAIError, "Sorry, I encountered an error processing your request.")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transcripts) == 1 && len(replies) == 1 && len(audio) == 1 && len(errMsgs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "hello there", transcripts[0].Text)
	assert.InDelta(t, 0.97, transcripts[0].Confidence, 0.0001)
	assert.Equal(t, "Hi! How can I help?", replies[0].Text)
	assert.Equal(t, "aGVsbG8=", audio[0].AudioData)
	assert.Equal(t, "mp3", audio[0].Format)
	assert.Equal(t, "Sorry, I encountered an error processing your request.", errMsgs[0])
	mu.Unlock()

	mgr.Disconnect()
}

func TestManagerSendCommandWhileDisconnected(t *testing.T) {
	mgr := NewManager("ws://127.0.0.1:1", Handlers{}, zerolog.Nop())

	assert.Error(t, mgr.StartRecording())
	assert.Error(t, mgr.StopRecording())
	assert.Error(t, mgr.ClearConversation())

	// Audio chunks are dropped silently, never an error.
	mgr.SendAudioChunk([]byte{0x01, 0x02})
}

func TestManagerSendAudioRequiresRecording(t *testing.T) {
	ts := newTestServer(t)

	mgr := NewManager(ts.url(), Handlers{}, zerolog.Nop())
	mgr.Connect()
	ts.accept(t)

	require.Eventually(t, func() bool {
		return mgr.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	// Connected but not recording: dropped without error.
	mgr.SendAudioChunk([]byte{0x01, 0x02, 0x03})
	assert.False(t, mgr.Recording())

	mgr.Disconnect()
}
