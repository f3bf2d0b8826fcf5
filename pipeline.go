package voicechat

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/tiagosor/voicechat/llm"
)

// respond runs the response pipeline for one final transcript: append the
// user turn, invoke the model, append the assistant turn and emit the reply,
// then synthesize speech for it. The history mutex is held across the
// append/invoke/append sequence so concurrent pipeline invocations for one
// session can never interleave their context writes. All emissions go
// through the registry lookup, so results arriving after the session is
// gone are discarded.
func (r *Registry) respond(sessionID, text string) {
	s, ok := r.Get(sessionID)
	if !ok {
		return
	}

	s.log.Info().Str("text", text).Msg("generating AI response")

	s.histMu.Lock()
	s.history = append(s.history, llm.Message{
		Role:      llm.RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	})
	s.history = llm.Truncate(s.history)
	history := s.historySnapshot()

	// Deliberately context.Background(): a stop or disconnect does not
	// cancel an inference already in flight.
	reply, err := r.responder.GenerateResponse(context.Background(), history)
	if err != nil {
		s.histMu.Unlock()
		s.log.Error().Err(err).Msg("AI response generation failed")
		r.emit(sessionID, EventAIError, llm.UserMessageFor(err))
		return
	}

	s.history = append(s.history, llm.Message{
		Role:      llm.RoleAssistant,
		Content:   reply,
		Timestamp: time.Now(),
	})
	s.history = llm.Truncate(s.history)
	s.histMu.Unlock()

	r.emit(sessionID, EventAIResponse, AIResponsePayload{
		Text:      reply,
		Timestamp: time.Now().UnixMilli(),
	})

	r.synthesize(sessionID, reply)
}

// synthesize converts the assistant reply to speech and delivers the audio.
// Synthesis failure is independent of the already-delivered text response.
func (r *Registry) synthesize(sessionID, text string) {
	audio, err := r.synthesizer.Synthesize(context.Background(), text)
	if err != nil {
		r.log.Error().Err(err).Str("sessionId", sessionID).Msg("speech synthesis failed")
		r.emit(sessionID, EventTTSError, "Failed to synthesize speech")
		return
	}

	r.emit(sessionID, EventTTSAudio, TTSAudioPayload{
		AudioData: base64.StdEncoding.EncodeToString(audio.Data),
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
		VoiceID:   audio.VoiceID,
		Format:    audio.Format,
	})
}
