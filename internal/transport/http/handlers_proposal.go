package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"arbor/internal/proposal/models"
	proposalservice "arbor/internal/proposal/service"
	transportjson "arbor/internal/transport/http/json"
	id "arbor/pkg/domain"
	dErrors "arbor/pkg/domain-errors"
)

type proposalResponse struct {
	ID            string           `json:"id"`
	ZoneID        string           `json:"zone_id"`
	OrgID         string           `json:"org_id"`
	AuthorID      string           `json:"author_id"`
	Type          models.Type      `json:"type"`
	Status        models.Status    `json:"status"`
	RiskLevel     models.RiskLevel `json:"risk_level"`
	Title         string           `json:"title"`
	Payload       models.Payload   `json:"payload"`
	SubjectID     string           `json:"subject_id,omitempty"`
	ConflictFlags []string         `json:"conflict_flags,omitempty"`
	ExpiresAt     time.Time        `json:"expires_at"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func toProposalResponse(p *models.Proposal) proposalResponse {
	resp := proposalResponse{
		ID:            p.ID.String(),
		ZoneID:        p.ZoneID.String(),
		OrgID:         p.OrgID.String(),
		AuthorID:      p.AuthorID.String(),
		Type:          p.Type,
		Status:        p.Status,
		RiskLevel:     p.RiskLevel,
		Title:         p.Title,
		Payload:       p.Payload,
		ConflictFlags: p.ConflictFlags,
		ExpiresAt:     p.ExpiresAt,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
	if !p.SubjectID.IsNil() {
		resp.SubjectID = p.SubjectID.String()
	}
	return resp
}

type approvalRequestResponse struct {
	ReviewerID      string          `json:"reviewer_id"`
	SelectionReason string          `json:"selection_reason,omitempty"`
	Decision        models.Decision `json:"decision,omitempty"`
	Rationale       string          `json:"rationale,omitempty"`
	DecidedAt       *time.Time      `json:"decided_at,omitempty"`
}

func toApprovalResponses(requests []*models.ApprovalRequest) []approvalRequestResponse {
	out := make([]approvalRequestResponse, 0, len(requests))
	for _, req := range requests {
		resp := approvalRequestResponse{
			ReviewerID:      req.ReviewerID.String(),
			SelectionReason: req.SelectionReason,
			Decision:        req.Decision,
			Rationale:       req.Rationale,
		}
		if !req.DecidedAt.IsZero() {
			decidedAt := req.DecidedAt
			resp.DecidedAt = &decidedAt
		}
		out = append(out, resp)
	}
	return out
}

type createProposalRequest struct {
	ZoneID  string         `json:"zone_id"`
	Type    models.Type    `json:"type"`
	Title   string         `json:"title"`
	Payload models.Payload `json:"payload"`
}

func (h *Handler) handleProposalCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "missing actor"))
		return
	}
	var req createProposalRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	zoneID, err := id.ParseZoneID(req.ZoneID)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid zone ID"))
		return
	}

	p, err := h.proposals.Create(r.Context(), actor, proposalservice.CreateParams{
		ZoneID:  zoneID,
		Type:    req.Type,
		Title:   req.Title,
		Payload: req.Payload,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	transportjson.WriteJSON(w, http.StatusCreated, toProposalResponse(p))
}

func (h *Handler) proposalID(r *http.Request) (id.ProposalID, error) {
	proposalID, err := id.ParseProposalID(chi.URLParam(r, "proposalID"))
	if err != nil {
		return id.ProposalID{}, dErrors.New(dErrors.CodeBadRequest, "invalid proposal ID")
	}
	return proposalID, nil
}

func (h *Handler) handleProposalGet(w http.ResponseWriter, r *http.Request) {
	proposalID, err := h.proposalID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	p, requests, err := h.proposals.Get(r.Context(), proposalID)
	if err != nil {
		writeError(w, err)
		return
	}
	transportjson.WriteJSON(w, http.StatusOK, map[string]any{
		"proposal": toProposalResponse(p),
		"reviews":  toApprovalResponses(requests),
	})
}

func (h *Handler) handleProposalList(w http.ResponseWriter, r *http.Request) {
	zoneID, err := h.zoneID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	proposals, err := h.proposals.ListByZone(r.Context(), zoneID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]proposalResponse, 0, len(proposals))
	for _, p := range proposals {
		out = append(out, toProposalResponse(p))
	}
	transportjson.WriteJSON(w, http.StatusOK, map[string]any{"proposals": out})
}

type decisionRequest struct {
	Decision  models.Decision `json:"decision"`
	Rationale string          `json:"rationale,omitempty"`
}

func (h *Handler) handleProposalDecide(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "missing actor"))
		return
	}
	proposalID, err := h.proposalID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req decisionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := h.proposals.RecordDecision(r.Context(), actor.MemberID, proposalID, req.Decision, req.Rationale)
	if err != nil {
		writeError(w, err)
		return
	}
	transportjson.WriteJSON(w, http.StatusOK, toProposalResponse(p))
}
