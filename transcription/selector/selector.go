// Package selector implements a transcription.Provider that fans audio out
// to several underlying providers at once and forwards results from
// whichever of them is currently responding fastest. It presents as a
// single provider, so a session still owns exactly one transcription
// stream.
package selector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tiagosor/voicechat/transcription"
)

const providerName = "selector"

// selection window for re-evaluating the active provider.
const selectionWindow = 2 * time.Second

// Provider implements transcription.Provider over a set of underlying
// providers.
type Provider struct {
	providers []transcription.Provider
	log       zerolog.Logger
}

// NewProvider creates a selector over the given providers. At least one
// provider must be reachable when a session is opened.
func NewProvider(logger zerolog.Logger, providers ...transcription.Provider) *Provider {
	return &Provider{
		providers: providers,
		log:       logger,
	}
}

// Name returns the name of the provider.
func (p *Provider) Name() string {
	return providerName
}

// CheckConnectivity succeeds if any underlying provider is reachable.
func (p *Provider) CheckConnectivity(ctx context.Context) error {
	var lastErr error
	for _, provider := range p.providers {
		if err := provider.CheckConnectivity(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if lastErr == nil {
		return errors.New("no providers configured")
	}
	return fmt.Errorf("no provider reachable: %w", lastErr)
}

// taggedResult pairs a result with its originating provider and a
// per-provider sequence number.
type taggedResult struct {
	result   transcription.Result
	provider string
	// Caveat: this WILL wrap around after 1<<64 - 1 times
	// We leave that as a future exercise.
	seqNum uint64
}

// NewSession opens one session per underlying provider and starts the
// fan-out/selection machinery. Interim results are disabled downstream:
// mixing interims from providers with different pacing would interleave
// revisions of the same utterance.
func (p *Provider) NewSession(ctx context.Context, config transcription.SessionConfig) (transcription.Session, error) {
	config.InterimResults = false

	sessionCtx, cancel := context.WithCancel(ctx)

	s := &Session{
		sessions:      make([]transcription.Session, 0, len(p.providers)),
		providerNames: make([]string, 0, len(p.providers)),
		audioInput:    make(chan []byte, 100),
		output:        make(chan transcription.Result, 10),
		buffer:        make(chan taggedResult, 100),
		results:       make(map[string][]taggedResult),
		seqCounters:   make(map[string]uint64),
		ctx:           sessionCtx,
		cancel:        cancel,
		log:           p.log,
	}

	for _, provider := range p.providers {
		session, err := provider.NewSession(sessionCtx, config)
		if err != nil {
			p.log.Warn().Err(err).Str("provider", provider.Name()).Msg("failed to open provider session")
			// Continue with other providers
			continue
		}

		s.sessions = append(s.sessions, session)
		s.providerNames = append(s.providerNames, provider.Name())
	}

	if len(s.sessions) == 0 {
		cancel()
		return nil, errors.New("no providers available")
	}

	s.active = s.providerNames[0]

	s.wg.Add(1)
	go s.audioDistributor()

	s.wg.Add(1)
	go s.selectorLoop()

	for i, session := range s.sessions {
		s.wg.Add(1)
		go s.collector(session, s.providerNames[i])
	}

	return s, nil
}

// Session implements transcription.Session over the fan-out machinery.
type Session struct {
	sessions      []transcription.Session
	providerNames []string
	audioInput    chan []byte
	output        chan transcription.Result
	buffer        chan taggedResult

	// Selection state, owned by selectorLoop.
	active      string
	results     map[string][]taggedResult
	seqCounters map[string]uint64

	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// SendAudio queues audio for distribution to every underlying session.
func (s *Session) SendAudio(audioData []byte) error {
	select {
	case s.audioInput <- audioData:
		return nil
	case <-s.ctx.Done():
		if s.ctx.Err() == context.Canceled {
			return io.EOF
		}
		return s.ctx.Err()
	}
}

// Ready reports whether any underlying session accepts audio.
func (s *Session) Ready() bool {
	for _, session := range s.sessions {
		if session.Ready() {
			return true
		}
	}
	return false
}

// ReceiveTranscription returns the next result from the active provider.
func (s *Session) ReceiveTranscription() (transcription.Result, error) {
	select {
	case result := <-s.output:
		return result, nil
	case <-s.ctx.Done():
		if s.ctx.Err() == context.Canceled {
			return transcription.Result{}, io.EOF
		}
		return transcription.Result{}, s.ctx.Err()
	}
}

// Close shuts down every underlying session and the fan-out goroutines.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		// Cancel first so collectors and the selector loop can exit.
		s.cancel()
		// Close is called after the owning reader stopped sending audio,
		// so nobody writes to audioInput anymore.
		close(s.audioInput)

		for _, session := range s.sessions {
			if err := session.Close(); err != nil {
				s.log.Warn().Err(err).Msg("error closing provider session")
			}
		}

		s.wg.Wait()
	})
	return nil
}

// audioDistributor copies each chunk to every provider session
// synchronously, so no provider falls behind the others.
func (s *Session) audioDistributor() {
	defer s.wg.Done()

	for audioData := range s.audioInput {
		var wg sync.WaitGroup

		for i, session := range s.sessions {
			if !session.Ready() {
				continue
			}

			wg.Add(1)
			go func(sess transcription.Session, name string) {
				defer wg.Done()

				// Copy per provider to avoid sharing the buffer.
				audioCopy := make([]byte, len(audioData))
				copy(audioCopy, audioData)

				if err := sess.SendAudio(audioCopy); err != nil {
					if errors.Is(err, io.EOF) {
						return
					}
					s.log.Warn().Err(err).Str("provider", name).Msg("audio send failed")
				}
			}(session, s.providerNames[i])
		}

		wg.Wait()
	}
}

// collector drains one provider session into the shared buffer.
func (s *Session) collector(session transcription.Session, name string) {
	defer s.wg.Done()

	for {
		result, err := session.ReceiveTranscription()
		if errors.Is(err, io.EOF) {
			return
		}

		var streamErr *transcription.StreamError
		if errors.As(err, &streamErr) {
			s.log.Warn().Err(streamErr).Str("provider", name).Msg("provider stream error")
			continue
		}
		if err != nil {
			s.log.Warn().Err(err).Str("provider", name).Msg("provider failed")
			return
		}

		select {
		case s.buffer <- taggedResult{result: result, provider: name}:
		case <-s.ctx.Done():
			return
		}
	}
}

// selectorLoop forwards buffered results from the active provider and
// periodically re-picks the provider with the most recent activity.
//
// This is a poor-man's latency heuristic: the streaming APIs carry no
// request ids to measure true round trips, so "most recently heard from"
// stands in for "fastest".
func (s *Session) selectorLoop() {
	defer s.wg.Done()

	windowTicker := time.NewTicker(selectionWindow)
	defer windowTicker.Stop()

	for {
		select {
		case tagged := <-s.buffer:
			if !tagged.result.IsFinal {
				continue
			}

			s.seqCounters[tagged.provider]++
			tagged.seqNum = s.seqCounters[tagged.provider]
			s.results[tagged.provider] = append(s.results[tagged.provider], tagged)

			if tagged.provider == s.active {
				select {
				case s.output <- tagged.result:
				case <-s.ctx.Done():
					return
				}
			}

		case <-windowTicker.C:
			s.updateActive()
			s.clearOldResults()

		case <-s.ctx.Done():
			return
		}
	}
}

// updateActive switches to the provider with the most recent final result
// in the selection window.
func (s *Session) updateActive() {
	if len(s.results) == 0 {
		return
	}

	bestProvider := ""
	mostRecent := time.Time{}
	windowStart := time.Now().Add(-selectionWindow)

	for name, results := range s.results {
		for _, tagged := range results {
			if tagged.result.ReceivedAt.After(windowStart) && tagged.result.ReceivedAt.After(mostRecent) {
				mostRecent = tagged.result.ReceivedAt
				bestProvider = name
			}
		}
	}

	if bestProvider != "" && bestProvider != s.active {
		old := s.active
		s.log.Info().Str("from", old).Str("to", bestProvider).Msg("switching active provider")

		s.forwardMissed(old, bestProvider)
		s.active = bestProvider
	}
}

// forwardMissed sends results from the new active provider whose sequence
// numbers are beyond the old provider's last one, on the assumption that
// they cover utterances the old provider never delivered. This assumes
// comparable utterance segmentation across providers, which is good enough
// in practice.
func (s *Session) forwardMissed(oldProvider, newProvider string) {
	oldResults := s.results[oldProvider]
	newResults := s.results[newProvider]

	if len(oldResults) == 0 || len(newResults) == 0 {
		return
	}

	lastOldSeq := oldResults[len(oldResults)-1].seqNum

	for _, tagged := range newResults {
		if tagged.seqNum > lastOldSeq {
			select {
			case s.output <- tagged.result:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// clearOldResults drops results outside the comparison horizon to bound
// memory.
func (s *Session) clearOldResults() {
	cutoff := time.Now().Add(-5 * time.Second)

	for name, results := range s.results {
		filtered := results[:0]
		for _, tagged := range results {
			if tagged.result.ReceivedAt.After(cutoff) {
				filtered = append(filtered, tagged)
			}
		}
		s.results[name] = filtered
	}
}
