package gardener

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"arbor/internal/gardener/tracer"
	"arbor/internal/zone/models"
	id "arbor/pkg/domain"
	dErrors "arbor/pkg/domain-errors"
)

// SelectionRequest asks for reviewers on one proposal. Candidates must
// already exclude conflicted members and actors without review eligibility;
// the selector only ranks and cuts.
type SelectionRequest struct {
	ProposalID   id.ProposalID
	ZoneID       id.ZoneID
	ProposalType string
	RiskLevel    string
	Candidates   []Candidate
	Required     int
}

// Selector picks reviewers. The external scorer ranks when reachable;
// otherwise the deterministic rule ranking applies so selection never fails
// for scorer reasons.
type Selector struct {
	scorer Scorer // nil disables the primary strategy
	stats  StatsStore
	tracer tracer.Tracer
	logger *slog.Logger
	now    func() time.Time
}

type SelectorOption func(*Selector)

func WithScorer(s Scorer) SelectorOption {
	return func(sel *Selector) {
		sel.scorer = s
	}
}

func WithTracer(t tracer.Tracer) SelectorOption {
	return func(sel *Selector) {
		if t != nil {
			sel.tracer = t
		}
	}
}

func WithSelectorLogger(logger *slog.Logger) SelectorOption {
	return func(sel *Selector) {
		sel.logger = logger
	}
}

// WithSelectorClock overrides the timestamp source. Used in tests.
func WithSelectorClock(now func() time.Time) SelectorOption {
	return func(sel *Selector) {
		if now != nil {
			sel.now = now
		}
	}
}

func NewSelector(stats StatsStore, opts ...SelectorOption) *Selector {
	sel := &Selector{
		stats:  stats,
		tracer: tracer.NewNoop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(sel)
	}
	return sel
}

// SelectReviewers returns an ordered reviewer list with per-selection reasons.
func (sel *Selector) SelectReviewers(ctx context.Context, req SelectionRequest) ([]Selection, error) {
	ctx, span := sel.tracer.Start(ctx, tracer.SpanSelectReviewers,
		tracer.String(tracer.AttrProposalID, req.ProposalID.String()),
		tracer.String(tracer.AttrZoneID, req.ZoneID.String()),
		tracer.Int64(tracer.AttrCandidates, int64(len(req.Candidates))),
		tracer.Int64(tracer.AttrRequiredCount, int64(req.Required)),
	)

	selections, err := sel.selectReviewers(ctx, req, span)
	span.End(err)
	if err != nil {
		return nil, err
	}

	for _, s := range selections {
		if statErr := sel.stats.MarkSelected(ctx, s.MemberID, sel.now()); statErr != nil && sel.logger != nil {
			sel.logger.Warn("failed to mark reviewer selected", "member_id", s.MemberID, "error", statErr)
		}
	}
	return selections, nil
}

func (sel *Selector) selectReviewers(ctx context.Context, req SelectionRequest, span tracer.Span) ([]Selection, error) {
	if req.Required < 1 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "required reviewer count must be at least 1")
	}
	if len(req.Candidates) < req.Required {
		return nil, dErrors.New(dErrors.CodeConflict,
			fmt.Sprintf("zone has %d eligible reviewers, %d required", len(req.Candidates), req.Required))
	}

	if sel.scorer != nil {
		scores, err := sel.scorer.Score(ctx, ScoreRequest{
			ProposalID:   req.ProposalID,
			ZoneID:       req.ZoneID,
			ProposalType: req.ProposalType,
			RiskLevel:    req.RiskLevel,
			Candidates:   req.Candidates,
		})
		if err == nil {
			span.SetAttributes(tracer.String(tracer.AttrStrategy, StrategyScorer))
			return sel.rankByScore(req.Candidates, scores, req.Required), nil
		}
		// Scorer failure is recovered locally, never surfaced to the caller.
		span.AddEvent(tracer.EventScorerFallback)
		if sel.logger != nil {
			sel.logger.Warn("capability scorer failed, using rule ranking",
				"proposal_id", req.ProposalID, "error", err)
		}
	}

	span.SetAttributes(tracer.String(tracer.AttrStrategy, StrategyFallback))
	return sel.rankByRules(req.Candidates, req.Required), nil
}

func (sel *Selector) rankByScore(candidates []Candidate, scores map[id.MemberID]float64, required int) []Selection {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := scores[ranked[i].MemberID], scores[ranked[j].MemberID]
		if si != sj {
			return si > sj
		}
		return ranked[i].MemberID.String() < ranked[j].MemberID.String()
	})

	out := make([]Selection, 0, required)
	for i := 0; i < required; i++ {
		c := ranked[i]
		out = append(out, Selection{
			MemberID: c.MemberID,
			Role:     c.Role,
			Rank:     i + 1,
			Reason:   fmt.Sprintf("%s: score %.3f", StrategyScorer, scores[c.MemberID]),
		})
	}
	return out
}

// rankByRules is the deterministic fallback: approvers before gardeners, then
// review accuracy, response rate, reputation, least-recently-selected, and
// finally stable id order so equal candidates always rank the same way.
func (sel *Selector) rankByRules(candidates []Candidate, required int) []Selection {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if pa, pb := rolePriority(a.Role), rolePriority(b.Role); pa != pb {
			return pa < pb
		}
		if a.ReviewAccuracy != b.ReviewAccuracy {
			return a.ReviewAccuracy > b.ReviewAccuracy
		}
		if a.ResponseRate != b.ResponseRate {
			return a.ResponseRate > b.ResponseRate
		}
		if a.Reputation != b.Reputation {
			return a.Reputation > b.Reputation
		}
		if !a.LastSelectedAt.Equal(b.LastSelectedAt) {
			return a.LastSelectedAt.Before(b.LastSelectedAt)
		}
		return a.MemberID.String() < b.MemberID.String()
	})

	out := make([]Selection, 0, required)
	for i := 0; i < required; i++ {
		c := ranked[i]
		out = append(out, Selection{
			MemberID: c.MemberID,
			Role:     c.Role,
			Rank:     i + 1,
			Reason: fmt.Sprintf("%s: role %s, accuracy %.2f, response rate %.2f, reputation %.1f",
				StrategyFallback, c.Role, c.ReviewAccuracy, c.ResponseRate, c.Reputation),
		})
	}
	return out
}

func rolePriority(r models.Role) int {
	switch r {
	case models.RoleApprover:
		return 0
	case models.RoleGardener:
		return 1
	default:
		return 2
	}
}
