package voicechat

import "encoding/json"

// Client -> server commands. Audio travels as binary WebSocket frames and
// never goes through this envelope.
const (
	CmdStartRecording    = "start-recording"
	CmdStopRecording     = "stop-recording"
	CmdClearConversation = "clear-conversation"
)

// Server -> client event types.
const (
	EventConnectionStatus    = "connection-status"
	EventRecordingStarted    = "recording-started"
	EventRecordingStopped    = "recording-stopped"
	EventTranscriptionResult = "transcription-result"
	EventTranscriptionError  = "transcription-error"
	EventAIResponse          = "ai-response"
	EventAIError             = "ai-error"
	EventTTSAudio            = "tts-audio"
	EventTTSError            = "tts-error"
)

// Connection status values carried by connection-status events.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusError        = "error"
)

// ClientCommand is a JSON text frame sent from the client.
type ClientCommand struct {
	Type string `json:"type"`
}

// ServerEvent is the envelope for every JSON frame sent to the client.
type ServerEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TranscriptionResultPayload relays an interim or final transcript.
type TranscriptionResultPayload struct {
	Text       string     `json:"text"`
	Confidence float64    `json:"confidence"`
	Words      []WordInfo `json:"words,omitempty"`
	IsInterim  bool       `json:"isInterim"`
	Timestamp  int64      `json:"timestamp"`
}

// WordInfo carries per-word timing when the provider supplies it.
// Start and End are offsets in seconds from the beginning of the stream.
type WordInfo struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// AIResponsePayload carries the assistant's text reply.
type AIResponsePayload struct {
	Text       string   `json:"text"`
	Timestamp  int64    `json:"timestamp"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// TTSAudioPayload carries synthesized speech for the assistant reply.
type TTSAudioPayload struct {
	AudioData string `json:"audioData"` // base64
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	VoiceID   string `json:"voiceId"`
	Format    string `json:"format"`
}
