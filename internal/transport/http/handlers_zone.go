package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	transportjson "arbor/internal/transport/http/json"
	"arbor/internal/zone/models"
	zoneservice "arbor/internal/zone/service"
	id "arbor/pkg/domain"
	dErrors "arbor/pkg/domain-errors"
)

type zoneResponse struct {
	ID               string                      `json:"id"`
	OrgID            string                      `json:"org_id"`
	ParentID         string                      `json:"parent_id,omitempty"`
	Name             string                      `json:"name"`
	Slug             string                      `json:"slug"`
	Description      string                      `json:"description,omitempty"`
	Responsibilities string                      `json:"responsibilities,omitempty"`
	Status           models.Status               `json:"status"`
	ResourceScope    *models.ResourceScope       `json:"resource_scope,omitempty"`
	Constraints      *models.Constraints         `json:"constraints,omitempty"`
	DecisionModel    models.DecisionModelConfig  `json:"decision_model"`
	ApprovalPolicy   *models.ApprovalPolicy      `json:"approval_policy,omitempty"`
	EscalationPolicy *models.EscalationPolicy    `json:"escalation_policy,omitempty"`
	EvaluationPolicy *models.EvaluationPolicy    `json:"evaluation_policy,omitempty"`
	CreatedAt        time.Time                   `json:"created_at"`
	UpdatedAt        time.Time                   `json:"updated_at"`
}

func toZoneResponse(z *models.TrustZone) zoneResponse {
	resp := zoneResponse{
		ID:               z.ID.String(),
		OrgID:            z.OrgID.String(),
		Name:             z.Name,
		Slug:             z.Slug,
		Description:      z.Description,
		Responsibilities: z.Responsibilities,
		Status:           z.Status,
		ResourceScope:    z.ResourceScope,
		Constraints:      z.Constraints,
		DecisionModel:    z.DecisionModel,
		ApprovalPolicy:   z.ApprovalPolicy,
		EscalationPolicy: z.EscalationPolicy,
		EvaluationPolicy: z.EvaluationPolicy,
		CreatedAt:        z.CreatedAt,
		UpdatedAt:        z.UpdatedAt,
	}
	if !z.ParentID.IsNil() {
		resp.ParentID = z.ParentID.String()
	}
	return resp
}

func toZoneListResponse(zones []*models.TrustZone) []zoneResponse {
	out := make([]zoneResponse, 0, len(zones))
	for _, z := range zones {
		out = append(out, toZoneResponse(z))
	}
	return out
}

type createZoneRequest struct {
	ParentID         string                      `json:"parent_id,omitempty"`
	Name             string                      `json:"name"`
	Slug             string                      `json:"slug,omitempty"`
	Description      string                      `json:"description,omitempty"`
	Responsibilities string                      `json:"responsibilities,omitempty"`
	ResourceScope    *models.ResourceScope       `json:"resource_scope,omitempty"`
	Constraints      *models.Constraints         `json:"constraints,omitempty"`
	DecisionModel    *models.DecisionModelConfig `json:"decision_model,omitempty"`
	ApprovalPolicy   *models.ApprovalPolicy      `json:"approval_policy,omitempty"`
	EscalationPolicy *models.EscalationPolicy    `json:"escalation_policy,omitempty"`
	EvaluationPolicy *models.EvaluationPolicy    `json:"evaluation_policy,omitempty"`
}

func (h *Handler) handleZoneCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "missing actor"))
		return
	}
	var req createZoneRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	params := zoneservice.CreateZoneParams{
		OrgID:            actor.OrgID,
		Name:             req.Name,
		Slug:             req.Slug,
		Description:      req.Description,
		Responsibilities: req.Responsibilities,
		ResourceScope:    req.ResourceScope,
		Constraints:      req.Constraints,
		DecisionModel:    req.DecisionModel,
		ApprovalPolicy:   req.ApprovalPolicy,
		EscalationPolicy: req.EscalationPolicy,
		EvaluationPolicy: req.EvaluationPolicy,
	}
	if req.ParentID != "" {
		parentID, err := id.ParseZoneID(req.ParentID)
		if err != nil {
			writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid parent zone ID"))
			return
		}
		params.ParentID = parentID
	}

	z, err := h.zones.CreateZone(r.Context(), actor.MemberID, params)
	if err != nil {
		writeError(w, err)
		return
	}
	transportjson.WriteJSON(w, http.StatusCreated, toZoneResponse(z))
}

func (h *Handler) handleZoneList(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "missing actor"))
		return
	}
	if slug := r.URL.Query().Get("slug"); slug != "" {
		z, err := h.zones.GetZoneBySlug(r.Context(), actor.OrgID, slug)
		if err != nil {
			writeError(w, err)
			return
		}
		transportjson.WriteJSON(w, http.StatusOK, toZoneResponse(z))
		return
	}
	zones, err := h.zones.ListZones(r.Context(), actor.OrgID)
	if err != nil {
		writeError(w, err)
		return
	}
	transportjson.WriteJSON(w, http.StatusOK, map[string]any{"zones": toZoneListResponse(zones)})
}

func (h *Handler) zoneID(r *http.Request) (id.ZoneID, error) {
	zoneID, err := id.ParseZoneID(chi.URLParam(r, "zoneID"))
	if err != nil {
		return id.ZoneID{}, dErrors.New(dErrors.CodeBadRequest, "invalid zone ID")
	}
	return zoneID, nil
}

func (h *Handler) handleZoneGet(w http.ResponseWriter, r *http.Request) {
	zoneID, err := h.zoneID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	z, err := h.zones.GetZone(r.Context(), zoneID)
	if err != nil {
		writeError(w, err)
		return
	}
	transportjson.WriteJSON(w, http.StatusOK, toZoneResponse(z))
}

type updateZoneRequest struct {
	Name             *string                     `json:"name,omitempty"`
	Description      *string                     `json:"description,omitempty"`
	Responsibilities *string                     `json:"responsibilities,omitempty"`
	ResourceScope    *models.ResourceScope       `json:"resource_scope,omitempty"`
	Constraints      *models.Constraints         `json:"constraints,omitempty"`
	DecisionModel    *models.DecisionModelConfig `json:"decision_model,omitempty"`
	ApprovalPolicy   *models.ApprovalPolicy      `json:"approval_policy,omitempty"`
	EscalationPolicy *models.EscalationPolicy    `json:"escalation_policy,omitempty"`
	EvaluationPolicy *models.EvaluationPolicy    `json:"evaluation_policy,omitempty"`
}

func (h *Handler) handleZoneUpdate(w http.ResponseWriter, r *http.Request) {
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
	var req updateZoneRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	z, err := h.zones.UpdateZone(r.Context(), zoneID, actor.MemberID, zoneservice.UpdateZoneParams{
		Name:             req.Name,
		Description:      req.Description,
		Responsibilities: req.Responsibilities,
		ResourceScope:    req.ResourceScope,
		Constraints:      req.Constraints,
		DecisionModel:    req.DecisionModel,
		ApprovalPolicy:   req.ApprovalPolicy,
		EscalationPolicy: req.EscalationPolicy,
		EvaluationPolicy: req.EvaluationPolicy,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	transportjson.WriteJSON(w, http.StatusOK, toZoneResponse(z))
}

func (h *Handler) handleZoneDelete(w http.ResponseWriter, r *http.Request) {
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
	if err := h.zones.DeleteZone(r.Context(), zoneID, actor.MemberID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type zoneStatusRequest struct {
	Status models.Status `json:"status"`
}

func (h *Handler) handleZoneStatus(w http.ResponseWriter, r *http.Request) {
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
	var req zoneStatusRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	z, err := h.zones.ChangeStatus(r.Context(), zoneID, actor.MemberID, req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	transportjson.WriteJSON(w, http.StatusOK, toZoneResponse(z))
}

type zoneMoveRequest struct {
	NewParentID string `json:"new_parent_id"`
}

func (h *Handler) handleZoneMove(w http.ResponseWriter, r *http.Request) {
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
	var req zoneMoveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	newParentID, err := id.ParseZoneID(req.NewParentID)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid parent zone ID"))
		return
	}
	z, err := h.zones.MoveZone(r.Context(), zoneID, newParentID, actor.MemberID)
	if err != nil {
		writeError(w, err)
		return
	}
	transportjson.WriteJSON(w, http.StatusOK, toZoneResponse(z))
}

func (h *Handler) handleZoneChildren(w http.ResponseWriter, r *http.Request) {
	zoneID, err := h.zoneID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	children, err := h.zones.ListChildren(r.Context(), zoneID)
	if err != nil {
		writeError(w, err)
		return
	}
	transportjson.WriteJSON(w, http.StatusOK, map[string]any{"zones": toZoneListResponse(children)})
}

func (h *Handler) handleZoneAncestors(w http.ResponseWriter, r *http.Request) {
	zoneID, err := h.zoneID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ancestors, err := h.zones.Ancestors(r.Context(), zoneID)
	if err != nil {
		writeError(w, err)
		return
	}
	transportjson.WriteJSON(w, http.StatusOK, map[string]any{"zones": toZoneListResponse(ancestors)})
}

type assignmentRequest struct {
	MemberID string      `json:"member_id"`
	Role     models.Role `json:"role"`
}

type assignmentResponse struct {
	ID         string      `json:"id"`
	ZoneID     string      `json:"zone_id"`
	MemberID   string      `json:"member_id"`
	Role       models.Role `json:"role"`
	AssignedBy string      `json:"assigned_by,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

func toAssignmentResponse(a *models.ZoneAssignment) assignmentResponse {
	resp := assignmentResponse{
		ID:        a.ID.String(),
		ZoneID:    a.ZoneID.String(),
		MemberID:  a.MemberID.String(),
		Role:      a.Role,
		CreatedAt: a.CreatedAt,
	}
	if !a.AssignedBy.IsNil() {
		resp.AssignedBy = a.AssignedBy.String()
	}
	return resp
}

func (h *Handler) handleAssignmentCreate(w http.ResponseWriter, r *http.Request) {
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
	var req assignmentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	memberID, err := id.ParseMemberID(req.MemberID)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid member ID"))
		return
	}
	assignment, err := h.zones.AssignRole(r.Context(), zoneID, memberID, req.Role, actor.MemberID)
	if err != nil {
		writeError(w, err)
		return
	}
	transportjson.WriteJSON(w, http.StatusCreated, toAssignmentResponse(assignment))
}

func (h *Handler) handleAssignmentList(w http.ResponseWriter, r *http.Request) {
	zoneID, err := h.zoneID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	assignments, err := h.zones.ListAssignments(r.Context(), zoneID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]assignmentResponse, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, toAssignmentResponse(a))
	}
	transportjson.WriteJSON(w, http.StatusOK, map[string]any{"assignments": out})
}

func (h *Handler) handleAssignmentRemove(w http.ResponseWriter, r *http.Request) {
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
	var req assignmentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	memberID, err := id.ParseMemberID(req.MemberID)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid member ID"))
		return
	}
	if err := h.zones.RemoveRole(r.Context(), zoneID, memberID, req.Role, actor.MemberID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
