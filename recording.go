package voicechat

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/tiagosor/voicechat/transcription"
)

// StartRecording opens a transcription stream for the session and starts
// relaying its results. A start while already recording is a logged no-op;
// no duplicate provider stream is ever opened.
func (r *Registry) StartRecording(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recording {
		s.log.Warn().Msg("recording already in progress")
		return
	}

	s.log.Info().Msg("starting recording")

	stream, err := r.transcriber.NewSession(context.Background(), r.sttConfig)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to open transcription stream")
		s.send(EventTranscriptionError, "Failed to start recording")
		return
	}

	s.stream = stream
	s.recording = true
	s.startedAt = time.Now()

	go r.transcriptPump(s, stream)

	s.send(EventRecordingStarted, nil)
	s.log.Info().Msg("recording started")
}

// StopRecording closes the session's transcription stream. A stop with no
// recording in progress is a logged no-op.
func (r *Registry) StopRecording(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.recording {
		s.log.Warn().Msg("no recording in progress")
		return
	}

	if err := s.stream.Close(); err != nil {
		s.log.Error().Err(err).Msg("error closing transcription stream")
	}
	s.stream = nil
	s.recording = false
	duration := time.Since(s.startedAt)
	s.startedAt = time.Time{}

	s.send(EventRecordingStopped, nil)
	s.log.Info().Dur("duration", duration).Msg("recording stopped")
}

// HandleAudioChunk forwards one PCM chunk to the open transcription stream.
// Chunks arriving while not recording, or while the provider stream is not
// yet ready, are dropped, never queued.
func (r *Registry) HandleAudioChunk(s *Session, chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.recording || s.stream == nil {
		s.log.Debug().Int("size", len(chunk)).Msg("audio chunk while not recording, dropping")
		return
	}

	if !s.stream.Ready() {
		s.log.Warn().Int("size", len(chunk)).Msg("transcription stream not ready, dropping chunk")
		return
	}

	if err := s.stream.SendAudio(chunk); err != nil {
		s.log.Error().Err(err).Msg("failed to forward audio chunk")
	}
}

// transcriptPump relays transcription results for one stream until it
// closes. Results are delivered in provider order; every non-empty result
// goes to the client, and final results additionally run the response
// pipeline (synchronously, so per-transcript event ordering is stable).
func (r *Registry) transcriptPump(s *Session, stream transcription.Session) {
	for {
		result, err := stream.ReceiveTranscription()
		if errors.Is(err, io.EOF) {
			break
		}

		var streamErr *transcription.StreamError
		if errors.As(err, &streamErr) {
			// Provider-runtime error: surface it, keep the stream.
			s.log.Error().Err(streamErr).Msg("transcription provider error")
			s.send(EventTranscriptionError, "Transcription error: "+streamErr.Message)
			continue
		}
		if err != nil {
			s.log.Error().Err(err).Msg("transcription stream failed")
			s.send(EventTranscriptionError, "Transcription error: "+err.Error())
			break
		}

		text := strings.TrimSpace(result.Text)
		if text == "" {
			continue
		}

		words := make([]WordInfo, 0, len(result.Words))
		for _, w := range result.Words {
			words = append(words, WordInfo{
				Word:       w.Word,
				Start:      w.Start,
				End:        w.End,
				Confidence: w.Confidence,
			})
		}
		s.send(EventTranscriptionResult, TranscriptionResultPayload{
			Text:       result.Text,
			Confidence: result.Confidence,
			Words:      words,
			IsInterim:  !result.IsFinal,
			Timestamp:  result.ReceivedAt.UnixMilli(),
		})

		if result.IsFinal {
			r.respond(s.id, text)
		}
	}

	r.handleStreamClosed(s, stream)
}

// handleStreamClosed performs implicit-stop bookkeeping when the provider
// closed the stream underneath an active recording. If an explicit stop (or
// a newer stream) already took over, there is nothing to do.
func (r *Registry) handleStreamClosed(s *Session, stream transcription.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.recording || s.stream != stream {
		return
	}

	s.stream = nil
	s.recording = false
	duration := time.Since(s.startedAt)
	s.startedAt = time.Time{}

	s.send(EventRecordingStopped, nil)
	s.log.Info().Dur("duration", duration).Msg("transcription stream closed by provider, recording stopped")
}
