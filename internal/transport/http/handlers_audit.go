package httptransport

import (
	"net/http"
	"strconv"
	"time"

	"arbor/internal/audit"
	transportjson "arbor/internal/transport/http/json"
	id "arbor/pkg/domain"
	dErrors "arbor/pkg/domain-errors"
)

type auditEntryResponse struct {
	ID         string         `json:"id"`
	OrgID      string         `json:"org_id"`
	ZoneID     string         `json:"zone_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	ActorType  string         `json:"actor_type"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type,omitempty"`
	TargetID   string         `json:"target_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// handleAuditList reads the org's audit trail. The trail is append-only;
// this is the only surface over it.
func (h *Handler) handleAuditList(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "missing actor"))
		return
	}

	filter := audit.Filter{OrgID: actor.OrgID}
	query := r.URL.Query()
	if v := query.Get("zone_id"); v != "" {
		zoneID, err := id.ParseZoneID(v)
		if err != nil {
			writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid zone ID"))
			return
		}
		filter.ZoneID = zoneID
	}
	if v := query.Get("actor_id"); v != "" {
		actorID, err := id.ParseMemberID(v)
		if err != nil {
			writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid actor ID"))
			return
		}
		filter.ActorID = actorID
	}
	filter.Action = query.Get("action")
	if v := query.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, dErrors.New(dErrors.CodeBadRequest, "since must be RFC 3339"))
			return
		}
		filter.Since = since
	}
	if v := query.Get("until"); v != "" {
		until, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, dErrors.New(dErrors.CodeBadRequest, "until must be RFC 3339"))
			return
		}
		filter.Until = until
	}
	if v := query.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			writeError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		filter.Limit = limit
	}

	entries, err := h.auditTrail.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]auditEntryResponse, 0, len(entries))
	for _, entry := range entries {
		resp := auditEntryResponse{
			ID:         entry.ID.String(),
			OrgID:      entry.OrgID.String(),
			ActorType:  string(entry.ActorType),
			Action:     entry.Action,
			TargetType: entry.TargetType,
			TargetID:   entry.TargetID,
			Metadata:   entry.Metadata,
			CreatedAt:  entry.CreatedAt,
		}
		if !entry.ZoneID.IsNil() {
			resp.ZoneID = entry.ZoneID.String()
		}
		if !entry.ActorID.IsNil() {
			resp.ActorID = entry.ActorID.String()
		}
		out = append(out, resp)
	}
	transportjson.WriteJSON(w, http.StatusOK, map[string]any{"entries": out})
}
