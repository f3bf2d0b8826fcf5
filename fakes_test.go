package voicechat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tiagosor/voicechat/llm"
	"github.com/tiagosor/voicechat/transcription"
	"github.com/tiagosor/voicechat/tts"
)

// streamItem is one scripted ReceiveTranscription return value.
type streamItem struct {
	result transcription.Result
	err    error
}

// fakeStream is a scriptable transcription.Session. Results pushed through
// push() are returned from ReceiveTranscription in order; Close yields
// io.EOF to the reader.
type fakeStream struct {
	mu    sync.Mutex
	ready bool
	sent  [][]byte

	items     chan streamItem
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		ready: true,
		items: make(chan streamItem, 16),
	}
}

func (f *fakeStream) push(result transcription.Result) {
	f.items <- streamItem{result: result}
}

func (f *fakeStream) pushErr(err error) {
	f.items <- streamItem{err: err}
}

func (f *fakeStream) SendAudio(audioData []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, audioData)
	return nil
}

func (f *fakeStream) sentChunks() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeStream) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeStream) setReady(ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = ready
}

func (f *fakeStream) ReceiveTranscription() (transcription.Result, error) {
	item, ok := <-f.items
	if !ok {
		return transcription.Result{}, io.EOF
	}
	return item.result, item.err
}

func (f *fakeStream) Close() error {
	f.closeOnce.Do(func() {
		close(f.items)
	})
	return nil
}

// fakeProvider hands out pre-built fakeStreams, one per NewSession call.
type fakeProvider struct {
	mu       sync.Mutex
	streams  []*fakeStream
	opened   int
	openErr  error
	probeErr error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) NewSession(ctx context.Context, config transcription.SessionConfig) (transcription.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openErr != nil {
		return nil, p.openErr
	}
	if p.opened >= len(p.streams) {
		return nil, errors.New("no scripted stream available")
	}
	stream := p.streams[p.opened]
	p.opened++
	return stream, nil
}

func (p *fakeProvider) sessionsOpened() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened
}

func (p *fakeProvider) CheckConnectivity(ctx context.Context) error {
	return p.probeErr
}

// fakeResponder returns a fixed reply and records the history of each call.
type fakeResponder struct {
	mu        sync.Mutex
	reply     string
	err       error
	histories [][]llm.Message
}

func (r *fakeResponder) GenerateResponse(ctx context.Context, history []llm.Message) (string, error) {
	r.mu.Lock()
	snapshot := make([]llm.Message, len(history))
	copy(snapshot, history)
	r.histories = append(r.histories, snapshot)
	r.mu.Unlock()

	if r.err != nil {
		return "", r.err
	}
	return r.reply, nil
}

func (r *fakeResponder) calls() [][]llm.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]llm.Message, len(r.histories))
	copy(out, r.histories)
	return out
}

func (r *fakeResponder) CheckConnectivity(ctx context.Context) error { return nil }

// fakeSynthesizer returns fixed audio bytes.
type fakeSynthesizer struct {
	audio tts.Audio
	err   error
}

func (s *fakeSynthesizer) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	if s.err != nil {
		return tts.Audio{}, s.err
	}
	return s.audio, nil
}

func (s *fakeSynthesizer) CheckConnectivity(ctx context.Context) error { return nil }

// newTestRegistry wires a registry over the given fakes with test defaults.
func newTestRegistry(provider *fakeProvider, responder *fakeResponder, synthesizer *fakeSynthesizer) *Registry {
	if responder == nil {
		responder = &fakeResponder{reply: "ok"}
	}
	if synthesizer == nil {
		synthesizer = &fakeSynthesizer{audio: tts.Audio{Data: []byte("mp3 bytes"), VoiceID: "Rachel", Format: "mp3"}}
	}
	return NewRegistry(provider, responder, synthesizer, transcription.SessionConfig{
		Model:      "nova-2",
		Language:   "en-US",
		SampleRate: 16000,
		Encoding:   "linear16",
	}, zerolog.Nop())
}

// nextEvent reads and decodes the session's next queued outbound event.
func nextEvent(t *testing.T, sess *Session) ServerEvent {
	t.Helper()
	select {
	case data := <-sess.out:
		var evt ServerEvent
		require.NoError(t, json.Unmarshal(data, &evt))
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return ServerEvent{}
	}
}

// expectNoEvent asserts nothing is queued for the session within the window.
func expectNoEvent(t *testing.T, sess *Session) {
	t.Helper()
	select {
	case data := <-sess.out:
		var evt ServerEvent
		_ = json.Unmarshal(data, &evt)
		t.Fatalf("unexpected event queued: %s", evt.Type)
	case <-time.After(100 * time.Millisecond):
	}
}
