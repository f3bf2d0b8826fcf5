package llm

import "errors"

// Category classifies inference failures into the known buckets surfaced to
// users. Each category maps to a distinct user-facing message; anything
// unclassified falls back to CategoryUnknown.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryAccessDenied
	CategoryModelNotReady
	CategoryRateLimited
	CategoryValidation
	CategoryNetwork
)

var userMessages = map[Category]string{
	CategoryUnknown:       "Internal AI service error. Please try again.",
	CategoryAccessDenied:  "Access to the AI model was denied. Check the configured credentials.",
	CategoryModelNotReady: "The AI model is not ready yet. Try again in a few moments.",
	CategoryRateLimited:   "Request limit exceeded. Wait a moment and try again.",
	CategoryValidation:    "The request to the AI model was rejected as invalid.",
	CategoryNetwork:       "Could not reach the AI service.",
}

// Error is a classified inference failure.
type Error struct {
	Category Category
	Err      error
}

func (e *Error) Error() string {
	return e.UserMessage()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage returns the message shown to the end user for this failure.
func (e *Error) UserMessage() string {
	if msg, ok := userMessages[e.Category]; ok {
		return msg
	}
	return userMessages[CategoryUnknown]
}

// UserMessageFor maps any error to its user-facing message. Non-classified
// errors get the generic message.
func UserMessageFor(err error) string {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.UserMessage()
	}
	return userMessages[CategoryUnknown]
}
