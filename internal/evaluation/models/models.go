// Package models defines evaluations of completed delegated work and the
// incentive signals their finalization produces.
package models

import (
	"strings"
	"time"

	id "arbor/pkg/domain"
	dErrors "arbor/pkg/domain-errors"
)

// Status is the evaluation lifecycle state. Finalization is irreversible.
type Status string

const (
	StatusOpen      Status = "open"
	StatusFinalized Status = "finalized"
)

// Evaluation scores one executor's completed work under a proposal.
type Evaluation struct {
	ID         id.EvaluationID
	OrgID      id.OrgID
	ZoneID     id.ZoneID
	ProposalID id.ProposalID
	ExecutorID id.MemberID
	Status     Status

	// AggregateScore is the weighted mean over all score entries. Zero until
	// finalized.
	AggregateScore float64

	CreatedAt   time.Time
	UpdatedAt   time.Time
	FinalizedAt time.Time // zero until finalized
}

// Finalized reports whether the evaluation is closed.
func (e *Evaluation) Finalized() bool { return e.Status == StatusFinalized }

// ScoreEntry is one evaluator's score on one criterion.
type ScoreEntry struct {
	ID           id.ScoreEntryID
	EvaluationID id.EvaluationID
	EvaluatorID  id.MemberID
	Criterion    string
	Weight       float64
	Score        float64 // in [0, 1]
	Rationale    string
	CreatedAt    time.Time
}

// SignalType classifies an incentive signal's direction.
type SignalType string

const (
	SignalPositive SignalType = "positive"
	SignalNeutral  SignalType = "neutral"
	SignalNegative SignalType = "negative"
)

// IncentiveSignal is a reputation delta produced by a finalized evaluation.
// Recording and application are separate steps: the signal row commits with
// the finalization, the Applied flag tracks the best-effort reputation write.
type IncentiveSignal struct {
	ID           id.SignalID
	EvaluationID id.EvaluationID
	TargetID     id.MemberID
	Type         SignalType
	Magnitude    float64 // signed delta applied to the target's reputation
	Reason       string
	Applied      bool
	AppliedAt    time.Time // zero until applied
	CreatedAt    time.Time
}

// NewScoreEntry validates one scoring input.
func NewScoreEntry(entryID id.ScoreEntryID, evaluationID id.EvaluationID, evaluatorID id.MemberID,
	criterion string, weight, score float64, rationale string, now time.Time) (*ScoreEntry, error) {
	criterion = strings.TrimSpace(criterion)
	if criterion == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "score criterion is required")
	}
	if weight <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "score weight must be positive")
	}
	if score < 0 || score > 1 {
		return nil, dErrors.New(dErrors.CodeValidation, "score must be between 0 and 1")
	}
	return &ScoreEntry{
		ID:           entryID,
		EvaluationID: evaluationID,
		EvaluatorID:  evaluatorID,
		Criterion:    criterion,
		Weight:       weight,
		Score:        score,
		Rationale:    rationale,
		CreatedAt:    now,
	}, nil
}

// Aggregate computes the weighted mean over the entries. Zero weight sums
// yield zero rather than dividing by zero.
func Aggregate(entries []*ScoreEntry) float64 {
	var weighted, total float64
	for _, e := range entries {
		weighted += e.Score * e.Weight
		total += e.Weight
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// CriterionAverages computes the unweighted mean score per criterion.
func CriterionAverages(entries []*ScoreEntry) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, e := range entries {
		sums[e.Criterion] += e.Score
		counts[e.Criterion]++
	}
	out := make(map[string]float64, len(sums))
	for criterion, sum := range sums {
		out[criterion] = sum / float64(counts[criterion])
	}
	return out
}

// Magnitudes for the executor signal. The thresholds come from the zone's
// evaluation policy.
const (
	maxPositiveMagnitude = 2.0
	neutralMagnitude     = 0.5
	minNegativeMagnitude = 0.5

	// ReviewerRewardMagnitude is the small positive signal paid to reviewers
	// who decided within the review window.
	ReviewerRewardMagnitude = 0.25
)

// DeriveExecutorSignal maps the aggregate score to the executor's incentive
// signal using the given thresholds. Magnitudes scale with how far the score
// sits from the midpoint so exceptional and disastrous work both stand out.
func DeriveExecutorSignal(aggregate, positiveThreshold, negativeThreshold float64) (SignalType, float64) {
	switch {
	case aggregate >= positiveThreshold:
		magnitude := aggregate * 1.5
		if magnitude > maxPositiveMagnitude {
			magnitude = maxPositiveMagnitude
		}
		return SignalPositive, magnitude
	case aggregate >= negativeThreshold:
		return SignalNeutral, neutralMagnitude
	default:
		magnitude := 1.0 - aggregate
		if magnitude < minNegativeMagnitude {
			magnitude = minNegativeMagnitude
		}
		return SignalNegative, -magnitude
	}
}

// NewEvaluation validates and constructs an open evaluation.
func NewEvaluation(evaluationID id.EvaluationID, orgID id.OrgID, zoneID id.ZoneID,
	proposalID id.ProposalID, executorID id.MemberID, now time.Time) (*Evaluation, error) {
	if executorID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "evaluation executor is required")
	}
	return &Evaluation{
		ID:         evaluationID,
		OrgID:      orgID,
		ZoneID:     zoneID,
		ProposalID: proposalID,
		ExecutorID: executorID,
		Status:     StatusOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}
