// Package gardener selects reviewers for proposals. The primary strategy
// delegates to an external capability scorer; on failure or timeout the
// selection degrades to a deterministic rule-based ranking.
package gardener

import (
	"time"

	"arbor/internal/zone/models"
	id "arbor/pkg/domain"
)

// Candidate is one member eligible for selection, together with the track
// record the fallback ranking sorts on.
type Candidate struct {
	MemberID id.MemberID
	Role     models.Role

	Reputation      float64
	ReviewAccuracy  float64
	ResponseRate    float64
	PastReviewCount int
	LastSelectedAt  time.Time // zero when never selected
}

// Selection is one chosen reviewer. Reason is persisted on the approval
// request so "why this reviewer" stays reconstructable without re-invoking
// the scorer.
type Selection struct {
	MemberID id.MemberID
	Role     models.Role
	Rank     int
	Reason   string
}

// Strategy names recorded in selection reasons.
const (
	StrategyScorer   = "capability_scorer"
	StrategyFallback = "rule_ranking"
	StrategyStatic   = "static_reviewers"
)

// ReviewerStats is the per-member selection history the gardener maintains.
// Accuracy and response rate are updated when proposals resolve.
type ReviewerStats struct {
	MemberID        id.MemberID
	ReviewCount     int
	InTimeCount     int
	OverturnedCount int
	LastSelectedAt  time.Time
	UpdatedAt       time.Time
}

// Accuracy is the share of reviews that were not overturned.
func (s ReviewerStats) Accuracy() float64 {
	if s.ReviewCount == 0 {
		return 0
	}
	return 1 - float64(s.OverturnedCount)/float64(s.ReviewCount)
}

// ResponseRate is the share of reviews completed in time.
func (s ReviewerStats) ResponseRate() float64 {
	if s.ReviewCount == 0 {
		return 0
	}
	return float64(s.InTimeCount) / float64(s.ReviewCount)
}

// ReviewOutcome feeds the stats update when a proposal resolves.
type ReviewOutcome struct {
	MemberID       id.MemberID
	ReviewedInTime bool
	Overturned     bool
}
