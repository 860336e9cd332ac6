package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"arbor/internal/evaluation/models"
	evaluationservice "arbor/internal/evaluation/service"
	transportjson "arbor/internal/transport/http/json"
	id "arbor/pkg/domain"
	dErrors "arbor/pkg/domain-errors"
)

type evaluationResponse struct {
	ID             string        `json:"id"`
	OrgID          string        `json:"org_id"`
	ZoneID         string        `json:"zone_id"`
	ProposalID     string        `json:"proposal_id,omitempty"`
	ExecutorID     string        `json:"executor_id"`
	Status         models.Status `json:"status"`
	AggregateScore float64       `json:"aggregate_score,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	FinalizedAt    *time.Time    `json:"finalized_at,omitempty"`
}

func toEvaluationResponse(e *models.Evaluation) evaluationResponse {
	resp := evaluationResponse{
		ID:             e.ID.String(),
		OrgID:          e.OrgID.String(),
		ZoneID:         e.ZoneID.String(),
		ExecutorID:     e.ExecutorID.String(),
		Status:         e.Status,
		AggregateScore: e.AggregateScore,
		CreatedAt:      e.CreatedAt,
	}
	if !e.ProposalID.IsNil() {
		resp.ProposalID = e.ProposalID.String()
	}
	if !e.FinalizedAt.IsZero() {
		finalizedAt := e.FinalizedAt
		resp.FinalizedAt = &finalizedAt
	}
	return resp
}

type scoreEntryResponse struct {
	EvaluatorID string  `json:"evaluator_id"`
	Criterion   string  `json:"criterion"`
	Weight      float64 `json:"weight"`
	Score       float64 `json:"score"`
	Rationale   string  `json:"rationale,omitempty"`
}

type createEvaluationRequest struct {
	ZoneID     string `json:"zone_id"`
	ProposalID string `json:"proposal_id,omitempty"`
	ExecutorID string `json:"executor_id"`
}

func (h *Handler) handleEvaluationCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "missing actor"))
		return
	}
	var req createEvaluationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	zoneID, err := id.ParseZoneID(req.ZoneID)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid zone ID"))
		return
	}
	executorID, err := id.ParseMemberID(req.ExecutorID)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid executor ID"))
		return
	}
	params := evaluationservice.CreateParams{ZoneID: zoneID, ExecutorID: executorID}
	if req.ProposalID != "" {
		proposalID, err := id.ParseProposalID(req.ProposalID)
		if err != nil {
			writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid proposal ID"))
			return
		}
		params.ProposalID = proposalID
	}

	e, err := h.evaluations.Create(r.Context(), actor, params)
	if err != nil {
		writeError(w, err)
		return
	}
	transportjson.WriteJSON(w, http.StatusCreated, toEvaluationResponse(e))
}

func (h *Handler) evaluationID(r *http.Request) (id.EvaluationID, error) {
	evaluationID, err := id.ParseEvaluationID(chi.URLParam(r, "evaluationID"))
	if err != nil {
		return id.EvaluationID{}, dErrors.New(dErrors.CodeBadRequest, "invalid evaluation ID")
	}
	return evaluationID, nil
}

func (h *Handler) handleEvaluationGet(w http.ResponseWriter, r *http.Request) {
	evaluationID, err := h.evaluationID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	e, entries, err := h.evaluations.Get(r.Context(), evaluationID)
	if err != nil {
		writeError(w, err)
		return
	}
	scores := make([]scoreEntryResponse, 0, len(entries))
	for _, entry := range entries {
		scores = append(scores, scoreEntryResponse{
			EvaluatorID: entry.EvaluatorID.String(),
			Criterion:   entry.Criterion,
			Weight:      entry.Weight,
			Score:       entry.Score,
			Rationale:   entry.Rationale,
		})
	}
	transportjson.WriteJSON(w, http.StatusOK, map[string]any{
		"evaluation": toEvaluationResponse(e),
		"scores":     scores,
	})
}

type scoreRequest struct {
	Criterion string  `json:"criterion"`
	Weight    float64 `json:"weight"`
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale,omitempty"`
}

func (h *Handler) handleEvaluationScore(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "missing actor"))
		return
	}
	evaluationID, err := h.evaluationID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req scoreRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	entry, err := h.evaluations.Score(r.Context(), actor, evaluationID, evaluationservice.ScoreParams{
		Criterion: req.Criterion,
		Weight:    req.Weight,
		Score:     req.Score,
		Rationale: req.Rationale,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	transportjson.WriteJSON(w, http.StatusCreated, scoreEntryResponse{
		EvaluatorID: entry.EvaluatorID.String(),
		Criterion:   entry.Criterion,
		Weight:      entry.Weight,
		Score:       entry.Score,
		Rationale:   entry.Rationale,
	})
}

func (h *Handler) handleEvaluationFinalize(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "missing actor"))
		return
	}
	evaluationID, err := h.evaluationID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	e, err := h.evaluations.Finalize(r.Context(), actor, evaluationID)
	if err != nil {
		writeError(w, err)
		return
	}
	transportjson.WriteJSON(w, http.StatusOK, toEvaluationResponse(e))
}
