package gardener

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"arbor/internal/gardener/tracer"
	id "arbor/pkg/domain"
	dErrors "arbor/pkg/domain-errors"
	"arbor/pkg/platform/circuit"
)

// ScoreRequest is the input to the external capability scorer.
type ScoreRequest struct {
	ProposalID   id.ProposalID
	ZoneID       id.ZoneID
	ProposalType string
	RiskLevel    string
	Candidates   []Candidate
}

// Scorer ranks candidates for a proposal. The external implementation may be
// slow or unavailable; callers must treat any error as "fall back", never as
// a request failure.
type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) (map[id.MemberID]float64, error)
}

const defaultScorerTimeout = 3 * time.Second

// HTTPScorer calls the external capability scoring service. Calls are bounded
// by a timeout and guarded by a circuit breaker; while the breaker is open
// each call still probes the service so the breaker can close again.
type HTTPScorer struct {
	url     string
	apiKey  string
	client  *http.Client
	breaker *circuit.Breaker
	tracer  tracer.Tracer
	logger  *slog.Logger
}

// ScorerOption configures the HTTPScorer.
type ScorerOption func(*HTTPScorer)

func WithScorerTimeout(d time.Duration) ScorerOption {
	return func(s *HTTPScorer) {
		if d > 0 {
			s.client.Timeout = d
		}
	}
}

func WithScorerBreaker(b *circuit.Breaker) ScorerOption {
	return func(s *HTTPScorer) {
		if b != nil {
			s.breaker = b
		}
	}
}

func WithScorerTracer(t tracer.Tracer) ScorerOption {
	return func(s *HTTPScorer) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithScorerLogger(logger *slog.Logger) ScorerOption {
	return func(s *HTTPScorer) {
		s.logger = logger
	}
}

func WithScorerHTTPClient(c *http.Client) ScorerOption {
	return func(s *HTTPScorer) {
		if c != nil {
			s.client = c
		}
	}
}

func NewHTTPScorer(url, apiKey string, opts ...ScorerOption) *HTTPScorer {
	s := &HTTPScorer{
		url:     url,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultScorerTimeout},
		breaker: circuit.New("gardener-scorer", circuit.WithFailureThreshold(3)),
		tracer:  tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type scoreRequestBody struct {
	ProposalID   string               `json:"proposal_id"`
	ZoneID       string               `json:"zone_id"`
	ProposalType string               `json:"proposal_type"`
	RiskLevel    string               `json:"risk_level"`
	Candidates   []scoreCandidateBody `json:"candidates"`
}

type scoreCandidateBody struct {
	MemberID        string  `json:"member_id"`
	Role            string  `json:"role"`
	Reputation      float64 `json:"reputation"`
	ReviewAccuracy  float64 `json:"review_accuracy"`
	ResponseRate    float64 `json:"response_rate"`
	PastReviewCount int     `json:"past_review_count"`
}

type scoreResponseBody struct {
	Scores []struct {
		MemberID string  `json:"member_id"`
		Score    float64 `json:"score"`
	} `json:"scores"`
}

func (s *HTTPScorer) Score(ctx context.Context, req ScoreRequest) (map[id.MemberID]float64, error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanScorerCall,
		tracer.String(tracer.AttrProposalID, req.ProposalID.String()),
		tracer.Int64(tracer.AttrCandidates, int64(len(req.Candidates))),
		tracer.Bool(tracer.AttrBreakerOpen, s.breaker.IsOpen()),
	)

	scores, err := s.call(ctx, req)
	span.End(err)
	if err != nil {
		if useFallback, change := s.breaker.RecordFailure(); useFallback && change.Opened && s.logger != nil {
			s.logger.Warn("scorer circuit opened", "breaker", s.breaker.Name(), "error", err)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "capability scorer unavailable")
	}

	if usePrimary, change := s.breaker.RecordSuccess(); !usePrimary {
		// Probe succeeded but the breaker wants more before closing.
		return nil, dErrors.New(dErrors.CodeInternal, "capability scorer still recovering")
	} else if change.Closed && s.logger != nil {
		s.logger.Info("scorer circuit closed", "breaker", s.breaker.Name())
	}
	return scores, nil
}

func (s *HTTPScorer) call(ctx context.Context, req ScoreRequest) (map[id.MemberID]float64, error) {
	body := scoreRequestBody{
		ProposalID:   req.ProposalID.String(),
		ZoneID:       req.ZoneID.String(),
		ProposalType: req.ProposalType,
		RiskLevel:    req.RiskLevel,
	}
	for _, c := range req.Candidates {
		body.Candidates = append(body.Candidates, scoreCandidateBody{
			MemberID:        c.MemberID.String(),
			Role:            string(c.Role),
			Reputation:      c.Reputation,
			ReviewAccuracy:  c.ReviewAccuracy,
			ResponseRate:    c.ResponseRate,
			PastReviewCount: c.PastReviewCount,
		})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode score request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build score request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("score request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scorer returned status %d", resp.StatusCode)
	}

	var decoded scoreResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode score response: %w", err)
	}

	scores := make(map[id.MemberID]float64, len(decoded.Scores))
	for _, entry := range decoded.Scores {
		memberID, err := id.ParseMemberID(entry.MemberID)
		if err != nil {
			continue
		}
		scores[memberID] = entry.Score
	}
	return scores, nil
}

// Verify interface.
var _ Scorer = (*HTTPScorer)(nil)
