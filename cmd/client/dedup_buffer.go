package main

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// TranscriptBuffer remembers a sliding window of recent final transcripts so
// near-identical repeats the provider sometimes emits around utterance
// boundaries can be suppressed. Entries are stored normalized.
type TranscriptBuffer struct {
	mu     sync.Mutex
	recent []string
	limit  int
}

// NewTranscriptBuffer creates a buffer remembering the last limit
// transcripts.
func NewTranscriptBuffer(limit int) *TranscriptBuffer {
	if limit <= 0 {
		limit = 1
	}

	return &TranscriptBuffer{
		recent: make([]string, 0, limit),
		limit:  limit,
	}
}

// Add records a transcript, dropping the oldest entry once the window is
// full.
func (tb *TranscriptBuffer) Add(text string) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.recent = append(tb.recent, normalizeTranscript(text))
	if len(tb.recent) > tb.limit {
		tb.recent = tb.recent[1:]
	}
}

// IsSimilar reports whether text is within the similarity threshold of any
// remembered transcript. Threshold is a ratio in [0,1]; 1 means exact match
// only.
func (tb *TranscriptBuffer) IsSimilar(text string, threshold float64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	candidate := normalizeTranscript(text)

	for _, prev := range tb.recent {
		if similarity(candidate, prev) >= threshold {
			return true
		}
	}
	return false
}

// normalizeTranscript lowercases, collapses whitespace runs and drops
// trailing sentence punctuation, which providers apply inconsistently across
// otherwise identical finals.
func normalizeTranscript(text string) string {
	text = strings.Join(strings.Fields(strings.ToLower(text)), " ")
	return strings.TrimRight(text, ".,!?")
}

// similarity is the Levenshtein ratio of two normalized transcripts,
// relative to the longer one. Lengths are counted in runes to match the
// distance metric.
func similarity(a, b string) float64 {
	if a == b && a != "" {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}

	distance := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(distance)/float64(maxLen)
}
