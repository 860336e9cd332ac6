package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"arbor/internal/escalation/models"
	transportjson "arbor/internal/transport/http/json"
	id "arbor/pkg/domain"
	dErrors "arbor/pkg/domain-errors"
)

type escalationResponse struct {
	ID                  string        `json:"id"`
	OrgID               string        `json:"org_id"`
	SourceZoneID        string        `json:"source_zone_id"`
	TargetZoneID        string        `json:"target_zone_id"`
	Type                models.Type   `json:"type"`
	Status              models.Status `json:"status"`
	Reason              string        `json:"reason"`
	RaisedBy            string        `json:"raised_by,omitempty"`
	ProposalID          string        `json:"proposal_id,omitempty"`
	ResultingProposalID string        `json:"resulting_proposal_id,omitempty"`
	CosignersRequired   int           `json:"cosigners_required,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	ResolvedAt          *time.Time    `json:"resolved_at,omitempty"`
}

func toEscalationResponse(e *models.Escalation) escalationResponse {
	resp := escalationResponse{
		ID:                e.ID.String(),
		OrgID:             e.OrgID.String(),
		SourceZoneID:      e.SourceZoneID.String(),
		TargetZoneID:      e.TargetZoneID.String(),
		Type:              e.Type,
		Status:            e.Status,
		Reason:            e.Reason,
		CosignersRequired: e.CosignersRequired,
		CreatedAt:         e.CreatedAt,
	}
	if !e.RaisedBy.IsNil() {
		resp.RaisedBy = e.RaisedBy.String()
	}
	if !e.ProposalID.IsNil() {
		resp.ProposalID = e.ProposalID.String()
	}
	if !e.ResultingProposalID.IsNil() {
		resp.ResultingProposalID = e.ResultingProposalID.String()
	}
	if !e.ResolvedAt.IsZero() {
		resolvedAt := e.ResolvedAt
		resp.ResolvedAt = &resolvedAt
	}
	return resp
}

type raiseEscalationRequest struct {
	Reason string `json:"reason"`
}

// handleEscalationRaiseAction contests a proposal decision upward.
func (h *Handler) handleEscalationRaiseAction(w http.ResponseWriter, r *http.Request) {
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
	var req raiseEscalationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	e, err := h.escalations.RaiseAction(r.Context(), actor, proposalID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	transportjson.WriteJSON(w, http.StatusCreated, toEscalationResponse(e))
}

// handleEscalationRaiseGovernance contests the zone's deciding body itself.
func (h *Handler) handleEscalationRaiseGovernance(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "missing actor"))
		return
	}
	zoneID, err := h.zoneID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req raiseEscalationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	e, err := h.escalations.RaiseGovernance(r.Context(), actor, zoneID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	transportjson.WriteJSON(w, http.StatusCreated, toEscalationResponse(e))
}

func (h *Handler) escalationID(r *http.Request) (id.EscalationID, error) {
	escalationID, err := id.ParseEscalationID(chi.URLParam(r, "escalationID"))
	if err != nil {
		return id.EscalationID{}, dErrors.New(dErrors.CodeBadRequest, "invalid escalation ID")
	}
	return escalationID, nil
}

func (h *Handler) handleEscalationGet(w http.ResponseWriter, r *http.Request) {
	escalationID, err := h.escalationID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	e, cosigners, err := h.escalations.Get(r.Context(), escalationID)
	if err != nil {
		writeError(w, err)
		return
	}
	signers := make([]string, 0, len(cosigners))
	for _, c := range cosigners {
		signers = append(signers, c.MemberID.String())
	}
	transportjson.WriteJSON(w, http.StatusOK, map[string]any{
		"escalation": toEscalationResponse(e),
		"cosigners":  signers,
	})
}

func (h *Handler) handleEscalationList(w http.ResponseWriter, r *http.Request) {
	zoneID, err := h.zoneID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	escalations, err := h.escalations.ListByTargetZone(r.Context(), zoneID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]escalationResponse, 0, len(escalations))
	for _, e := range escalations {
		out = append(out, toEscalationResponse(e))
	}
	transportjson.WriteJSON(w, http.StatusOK, map[string]any{"escalations": out})
}

func (h *Handler) handleEscalationCosign(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "missing actor"))
		return
	}
	escalationID, err := h.escalationID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	e, err := h.escalations.Cosign(r.Context(), actor, escalationID)
	if err != nil {
		writeError(w, err)
		return
	}
	transportjson.WriteJSON(w, http.StatusOK, toEscalationResponse(e))
}

type resolveEscalationRequest struct {
	Approve bool `json:"approve"`
}

func (h *Handler) handleEscalationResolve(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "missing actor"))
		return
	}
	escalationID, err := h.escalationID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req resolveEscalationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	e, err := h.escalations.Resolve(r.Context(), actor, escalationID, req.Approve)
	if err != nil {
		writeError(w, err)
		return
	}
	transportjson.WriteJSON(w, http.StatusOK, toEscalationResponse(e))
}
