package client

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tiagosor/voicechat"
)

// State is the connection manager's lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
	StateFailed       State = "failed"
)

// ErrRetriesExhausted is surfaced through Handlers.OnError when the manager
// gives up reconnecting. Recovery requires a fresh manager.
var ErrRetriesExhausted = errors.New("connection failed after maximum retry attempts")

// Handlers receives the manager's side effects: state transitions and
// events forwarded from the server. Nil handlers are skipped.
type Handlers struct {
	OnStateChange        func(State)
	OnTranscription      func(voicechat.TranscriptionResultPayload)
	OnTranscriptionError func(string)
	OnAIResponse         func(voicechat.AIResponsePayload)
	OnAIError            func(string)
	OnTTSAudio           func(voicechat.TTSAudioPayload)
	OnTTSError           func(string)
	OnError              func(error)
}

// Manager owns one logical connection to the voice chat server. Transport
// failures and non-local disconnects are retried with bounded exponential
// backoff; a user-initiated Disconnect never schedules a retry.
type Manager struct {
	url      string
	dialer   *websocket.Dialer
	backoff  Backoff
	handlers Handlers
	log      zerolog.Logger

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	dialing    bool
	retryCount int
	canRetry   bool
	userClosed bool
	retryTimer *time.Timer
	recording  bool
}

// NewManager creates a manager for the given ws:// URL. The connection is
// not opened until Connect is called.
func NewManager(serverURL string, handlers Handlers, logger zerolog.Logger) *Manager {
	return &Manager{
		url: serverURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 5 * time.Second,
		},
		backoff:  DefaultBackoff,
		handlers: handlers,
		log:      logger,
		state:    StateDisconnected,
		canRetry: true,
	}
}

// SetBackoff replaces the retry policy. Call before Connect.
func (m *Manager) SetBackoff(b Backoff) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backoff = b
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RetryCount returns the number of reconnect attempts since the last
// successful connect.
func (m *Manager) RetryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryCount
}

// CanRetry reports whether the manager may still attempt to reconnect.
func (m *Manager) CanRetry() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canRetry
}

// Connect opens the transport connection. It is a no-op while already
// connected, while an attempt is in flight, or after retries are exhausted,
// so duplicate sockets are never created.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.state == StateConnected || m.dialing {
		m.mu.Unlock()
		return
	}
	if !m.canRetry {
		m.mu.Unlock()
		return
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.userClosed = false
	m.dialing = true
	m.state = StateConnecting
	m.mu.Unlock()

	m.notifyState(StateConnecting)
	go m.dial()
}

func (m *Manager) dial() {
	conn, resp, err := m.dialer.Dial(m.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	m.mu.Lock()
	m.dialing = false
	if m.userClosed {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		m.state = StateError
		m.mu.Unlock()
		m.log.Warn().Err(err).Msg("connection attempt failed")
		m.notifyState(StateError)
		m.scheduleRetry()
		return
	}

	m.conn = conn
	m.retryCount = 0
	m.canRetry = true
	m.state = StateConnected
	m.mu.Unlock()

	m.log.Info().Str("url", m.url).Msg("connected")
	m.notifyState(StateConnected)
	go m.reader(conn)
}

// Disconnect closes the connection and cancels any pending retry. The
// disconnect is marked user-initiated so no reconnect is scheduled.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.userClosed = true
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	conn := m.conn
	m.conn = nil
	m.recording = false
	m.state = StateDisconnected
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	m.notifyState(StateDisconnected)
}

// StartRecording asks the server to open a transcription stream.
func (m *Manager) StartRecording() error {
	return m.sendCommand(voicechat.CmdStartRecording)
}

// StopRecording asks the server to close the transcription stream. The
// local recording flag drops immediately so no audio is sent between the
// stop request and the server's acknowledgment.
func (m *Manager) StopRecording() error {
	m.mu.Lock()
	m.recording = false
	m.mu.Unlock()
	return m.sendCommand(voicechat.CmdStopRecording)
}

// ClearConversation asks the server to drop the conversation history.
func (m *Manager) ClearConversation() error {
	return m.sendCommand(voicechat.CmdClearConversation)
}

func (m *Manager) sendCommand(cmdType string) error {
	data, err := json.Marshal(voicechat.ClientCommand{Type: cmdType})
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected || m.conn == nil {
		return errors.New("not connected to server")
	}
	return m.conn.WriteMessage(websocket.TextMessage, data)
}

// SendAudioChunk forwards one PCM chunk to the server. Chunks are silently
// dropped unless the manager is connected and the session is recording;
// audio in flight during a disconnect is lost by design of the protocol.
func (m *Manager) SendAudioChunk(chunk []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected || !m.recording || m.conn == nil {
		return
	}
	if err := m.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		m.log.Warn().Err(err).Msg("failed to send audio chunk")
	}
}

// Recording reports the locally tracked recording state.
func (m *Manager) Recording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recording
}

func (m *Manager) reader(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				m.log.Warn().Err(err).Msg("websocket read error")
			}
			break
		}
		m.handleEvent(data)
	}

	m.mu.Lock()
	owned := m.conn == conn
	if owned {
		m.conn = nil
		m.recording = false
		m.state = StateDisconnected
	}
	userClosed := m.userClosed
	m.mu.Unlock()

	if !owned {
		return
	}

	m.notifyState(StateDisconnected)
	if !userClosed {
		m.scheduleRetry()
	}
}

// scheduleRetry advances the attempt counter and either arms the backoff
// timer or, past the configured maximum, transitions to the terminal
// failed state.
func (m *Manager) scheduleRetry() {
	m.mu.Lock()
	if m.userClosed {
		// Disconnect won between the caller dropping m.mu and this call;
		// arming a timer now would reconnect a voluntarily closed manager.
		m.mu.Unlock()
		return
	}
	m.retryCount++
	attempt := m.retryCount

	if m.backoff.Exhausted(attempt) {
		m.canRetry = false
		m.state = StateFailed
		m.mu.Unlock()

		m.log.Error().Int("attempts", attempt-1).Msg("reconnect attempts exhausted")
		m.notifyState(StateFailed)
		if m.handlers.OnError != nil {
			m.handlers.OnError(ErrRetriesExhausted)
		}
		return
	}

	delay := m.backoff.Delay(attempt)
	m.retryTimer = time.AfterFunc(delay, m.Connect)
	m.mu.Unlock()

	m.log.Info().
		Int("attempt", attempt).
		Int("maxRetries", m.backoff.MaxRetries).
		Dur("delay", delay).
		Msg("reconnect scheduled")
}

func (m *Manager) handleEvent(data []byte) {
	var evt voicechat.ServerEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		m.log.Warn().Err(err).Msg("failed to unmarshal server event")
		return
	}

	switch evt.Type {
	case voicechat.EventConnectionStatus:
		// Informational; transport-level state transitions are tracked
		// locally.
	case voicechat.EventRecordingStarted:
		m.mu.Lock()
		m.recording = true
		m.mu.Unlock()
	case voicechat.EventRecordingStopped:
		m.mu.Lock()
		m.recording = false
		m.mu.Unlock()
	case voicechat.EventTranscriptionResult:
		var payload voicechat.TranscriptionResultPayload
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			m.log.Warn().Err(err).Msg("bad transcription-result payload")
			return
		}
		if m.handlers.OnTranscription != nil {
			m.handlers.OnTranscription(payload)
		}
	case voicechat.EventTranscriptionError:
		m.dispatchError(evt.Payload, m.handlers.OnTranscriptionError)
	case voicechat.EventAIResponse:
		var payload voicechat.AIResponsePayload
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			m.log.Warn().Err(err).Msg("bad ai-response payload")
			return
		}
		if m.handlers.OnAIResponse != nil {
			m.handlers.OnAIResponse(payload)
		}
	case voicechat.EventAIError:
		m.dispatchError(evt.Payload, m.handlers.OnAIError)
	case voicechat.EventTTSAudio:
		var payload voicechat.TTSAudioPayload
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			m.log.Warn().Err(err).Msg("bad tts-audio payload")
			return
		}
		if m.handlers.OnTTSAudio != nil {
			m.handlers.OnTTSAudio(payload)
		}
	case voicechat.EventTTSError:
		m.dispatchError(evt.Payload, m.handlers.OnTTSError)
	default:
		m.log.Warn().Str("type", evt.Type).Msg("unknown server event")
	}
}

func (m *Manager) dispatchError(payload json.RawMessage, handler func(string)) {
	var msg string
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.log.Warn().Err(err).Msg("bad error payload")
		return
	}
	if handler != nil {
		handler(msg)
	}
}

func (m *Manager) notifyState(st State) {
	if m.handlers.OnStateChange != nil {
		m.handlers.OnStateChange(st)
	}
}
