package llm

import (
	"context"
	"time"
)

// Message roles for conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MaxHistory bounds the conversation context sent to the model. Older turns
// are dropped first.
const MaxHistory = 10

// Message is one role-tagged turn of a conversation.
type Message struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// Responder generates an assistant reply for an ordered conversation
// history. Implementations apply their own fixed system instruction and
// sampling parameters.
type Responder interface {
	// GenerateResponse returns the assistant's reply text for the given
	// history (oldest first, ending with the latest user turn). Failures
	// are returned as *Error where the cause can be classified.
	GenerateResponse(ctx context.Context, history []Message) (string, error)

	// CheckConnectivity verifies the model endpoint is reachable with the
	// configured credentials. Used by readiness probes.
	CheckConnectivity(ctx context.Context) error
}

// Truncate returns history bounded to the most recent MaxHistory entries,
// preserving relative order.
func Truncate(history []Message) []Message {
	if len(history) <= MaxHistory {
		return history
	}
	return history[len(history)-MaxHistory:]
}
