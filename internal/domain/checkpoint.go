package domain

import (
	"time"

	"dnsscanner/internal/ipv4"
)

// Checkpoint records how far the active span got, so a new process can pick
// the span up where the previous one stopped.
type Checkpoint struct {
	Mode          string        `json:"mode"`
	Span          Span          `json:"span"`
	LastCompleted *ipv4.Address `json:"lastCompleted,omitempty"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Remaining is the part of the span that still needs scanning. ok is false
// when nothing is left.
func (c Checkpoint) Remaining() (Span, bool) {
	return RemainingAfter(c.Span, c.LastCompleted)
}

// RemainingAfter returns the part of span after the watermark. A nil watermark
// means nothing was persisted yet.
func RemainingAfter(span Span, lastCompleted *ipv4.Address) (Span, bool) {
	if lastCompleted == nil {
		return span, span.Valid()
	}
	if *lastCompleted >= span.End {
		return Span{}, false
	}
	start := *lastCompleted + 1
	if start < span.Start {
		start = span.Start
	}
	return Span{Start: start, End: span.End}, true
}
