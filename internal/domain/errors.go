package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidQuery        = errors.New("invalid query")
	ErrValidationFailed    = errors.New("descriptor validation failed")
	ErrFeedUnavailable     = errors.New("feed unavailable")
	ErrRegistryUnavailable = errors.New("registry unavailable")
	ErrNotFound            = errors.New("not found")
)

// Rejection codes sent back to clients.
const (
	CodeInvalidQuery     = "invalid_query"
	CodeValidationFailed = "validation_failed"
	CodeFeedUnavailable  = "feed_unavailable"
	CodeRegistryDown     = "registry_unavailable"
	CodeUnknownEvent     = "unknown_event"
	CodeRateLimited      = "rate_limited"
	CodeInternal         = "internal"
)

// Rejection is the structured, user-visible answer to a request that was refused.
type Rejection struct {
	Event  string `json:"event"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s rejected (%s): %s", r.Event, r.Code, r.Reason)
}

// CodeOf maps an error onto its rejection code.
func CodeOf(err error) string {
	switch {
	case errors.Is(err, ErrInvalidQuery):
		return CodeInvalidQuery
	case errors.Is(err, ErrValidationFailed):
		return CodeValidationFailed
	case errors.Is(err, ErrFeedUnavailable):
		return CodeFeedUnavailable
	case errors.Is(err, ErrRegistryUnavailable):
		return CodeRegistryDown
	default:
		return CodeInternal
	}
}

// Reject builds the rejection for err raised while handling event.
func Reject(event string, err error) *Rejection {
	return &Rejection{Event: event, Code: CodeOf(err), Reason: err.Error()}
}
