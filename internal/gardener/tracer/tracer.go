// Package tracer provides a lightweight tracing abstraction for reviewer
// selection.
//
// Selection is the one governance path that leaves the process (the external
// capability scorer), so it is the one path worth tracing. The interface keeps
// the gardener decoupled from OpenTelemetry APIs.
//
// Implementations:
//   - NoopTracer: for tests (zero overhead)
//   - OTelTracer: OpenTelemetry adapter for production
package tracer

import (
	"context"
	"time"
)

// Span represents an active trace span.
type Span interface {
	// End completes the span, recording any error that occurred.
	// End must be called exactly once, typically via defer.
	End(err error)

	// SetAttributes adds key-value pairs to the span.
	SetAttributes(attrs ...Attribute)

	// AddEvent records a timestamped event within the span.
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	// Start creates a new span with the given name and attributes. The
	// returned context carries the span and should be passed to child
	// operations.
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute represents a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

// String creates a string attribute.
func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

// Bool creates a boolean attribute.
func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

// Int64 creates an int64 attribute.
func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration creates a duration attribute in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// Span names used by the gardener module.
const (
	SpanSelectReviewers = "gardener.select_reviewers"
	SpanScorerCall      = "gardener.scorer.call"
	SpanFallbackRank    = "gardener.fallback_rank"
)

// Attribute keys used by the gardener module.
const (
	AttrProposalID    = "proposal_id"
	AttrZoneID        = "zone_id"
	AttrCandidates    = "candidate_count"
	AttrRequiredCount = "required_count"
	AttrStrategy      = "strategy"
	AttrBreakerOpen   = "breaker.open"
)

// Event names used by the gardener module.
const (
	EventScorerFallback = "scorer.fallback"
)
