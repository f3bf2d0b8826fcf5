package voicechat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tiagosor/voicechat/llm"
	"github.com/tiagosor/voicechat/transcription"
	"github.com/tiagosor/voicechat/tts"
)

// Session is the server-side record of one live client connection: its
// recording state and its bounded conversation history. A Session is
// reachable through the Registry exactly while its connection is alive.
type Session struct {
	id  string
	log zerolog.Logger

	out  chan []byte   // marshaled server events, drained by the connection writer
	done chan struct{} // closed when the connection goes away

	// mu guards the recording state below. Every handler that touches it
	// (start, stop, audio, provider-close bookkeeping) takes it, so
	// handlers for one session never observe each other mid-transition.
	mu        sync.Mutex
	recording bool
	stream    transcription.Session
	startedAt time.Time

	// histMu serializes conversation appends across pipeline invocations.
	histMu  sync.Mutex
	history []llm.Message
}

// ID returns the session identifier, equal to the connection identifier.
func (s *Session) ID() string {
	return s.id
}

// Recording reports whether a transcription stream is currently owned by
// this session.
func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// send marshals an event and queues it for the connection writer. Events
// for a session whose connection is gone, or whose outbound queue is full,
// are dropped.
func (s *Session) send(eventType string, payload any) {
	evt := ServerEvent{Type: eventType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			s.log.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
			return
		}
		evt.Payload = raw
	}

	data, err := json.Marshal(evt)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("failed to marshal event")
		return
	}

	select {
	case <-s.done:
	case s.out <- data:
	default:
		s.log.Warn().Str("event", eventType).Msg("outbound queue full, dropping event")
	}
}

// historySnapshot returns a copy of the conversation history. Callers must
// hold histMu.
func (s *Session) historySnapshot() []llm.Message {
	snapshot := make([]llm.Message, len(s.history))
	copy(snapshot, s.history)
	return snapshot
}

// Registry maps live connections to sessions and holds the external service
// handles every session shares. It is the only structure touched by
// concurrent session handlers; its own map operations are mutex-guarded.
type Registry struct {
	log zerolog.Logger

	transcriber transcription.Provider
	responder   llm.Responder
	synthesizer tts.Synthesizer
	sttConfig   transcription.SessionConfig

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates a registry with explicitly injected service handles.
func NewRegistry(transcriber transcription.Provider, responder llm.Responder, synthesizer tts.Synthesizer, sttConfig transcription.SessionConfig, logger zerolog.Logger) *Registry {
	return &Registry{
		log:         logger,
		transcriber: transcriber,
		responder:   responder,
		synthesizer: synthesizer,
		sttConfig:   sttConfig,
		sessions:    make(map[string]*Session),
	}
}

// Connect creates and stores the session for a newly established
// connection.
func (r *Registry) Connect(connectionID string) *Session {
	sess := &Session{
		id:   connectionID,
		log:  r.log.With().Str("sessionId", connectionID).Logger(),
		out:  make(chan []byte, 256),
		done: make(chan struct{}),
	}

	r.mu.Lock()
	r.sessions[connectionID] = sess
	r.mu.Unlock()

	sess.log.Info().Msg("client connected")
	return sess
}

// Disconnect removes the session, running the stop-recording sequence as
// cleanup if a recording is still active. In-flight pipeline results for
// the session are discarded when they later fail the id lookup.
func (r *Registry) Disconnect(connectionID string) {
	r.mu.Lock()
	sess, ok := r.sessions[connectionID]
	delete(r.sessions, connectionID)
	r.mu.Unlock()

	if !ok {
		return
	}

	if sess.Recording() {
		r.StopRecording(sess)
	}
	close(sess.done)

	sess.log.Info().Msg("client disconnected")
}

// Get looks up a live session by id.
func (r *Registry) Get(connectionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[connectionID]
	return sess, ok
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ActiveRecordingCount returns the number of sessions currently recording.
func (r *Registry) ActiveRecordingCount() int {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.RUnlock()

	count := 0
	for _, sess := range sessions {
		if sess.Recording() {
			count++
		}
	}
	return count
}

// ClearConversation drops the session's conversation history.
func (r *Registry) ClearConversation(connectionID string) {
	sess, ok := r.Get(connectionID)
	if !ok {
		return
	}
	sess.histMu.Lock()
	sess.history = nil
	sess.histMu.Unlock()
	sess.log.Info().Msg("conversation history cleared")
}

// emit delivers an event to a session if it is still registered; results
// arriving after the session is gone are dropped here.
func (r *Registry) emit(connectionID, eventType string, payload any) {
	if sess, ok := r.Get(connectionID); ok {
		sess.send(eventType, payload)
	}
}

// CheckTranscriberConnectivity probes the transcription provider. Exposed
// for the readiness endpoint.
func (r *Registry) CheckTranscriberConnectivity(ctx context.Context) error {
	return r.transcriber.CheckConnectivity(ctx)
}
