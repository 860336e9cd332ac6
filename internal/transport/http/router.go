// Package httptransport is the thin HTTP layer over the governance services.
// Handlers decode, delegate, and encode; business rules live in the services.
package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"arbor/internal/audit"
	escalationservice "arbor/internal/escalation/service"
	evaluationservice "arbor/internal/evaluation/service"
	"arbor/internal/member"
	"arbor/internal/platform/middleware"
	proposalservice "arbor/internal/proposal/service"
	zoneservice "arbor/internal/zone/service"
	"arbor/internal/zone/resolver"
	transportjson "arbor/internal/transport/http/json"
	dErrors "arbor/pkg/domain-errors"
	httpErrors "arbor/pkg/http-errors"
)

// HealthChecker reports backing store reachability for /healthz.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler carries the governance services the routes delegate to.
type Handler struct {
	zones       *zoneservice.Service
	proposals   *proposalservice.Service
	escalations *escalationservice.Service
	evaluations *evaluationservice.Service
	auditTrail  *audit.Recorder
	health      HealthChecker
	logger      *slog.Logger
}

func NewHandler(zones *zoneservice.Service, proposals *proposalservice.Service,
	escalations *escalationservice.Service, evaluations *evaluationservice.Service,
	auditTrail *audit.Recorder, health HealthChecker, logger *slog.Logger) *Handler {
	return &Handler{
		zones:       zones,
		proposals:   proposals,
		escalations: escalations,
		evaluations: evaluations,
		auditTrail:  auditTrail,
		health:      health,
		logger:      logger,
	}
}

// NewRouter wires all endpoints with the middleware stack. Everything under
// /v1 requires an authenticated actor.
func NewRouter(h *Handler, signingKey []byte, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ContentTypeJSON)

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.ActorAuth(signingKey, logger))

		r.Route("/zones", func(r chi.Router) {
			r.Post("/", h.handleZoneCreate)
			r.Get("/", h.handleZoneList)
			r.Get("/{zoneID}", h.handleZoneGet)
			r.Patch("/{zoneID}", h.handleZoneUpdate)
			r.Delete("/{zoneID}", h.handleZoneDelete)
			r.Post("/{zoneID}/status", h.handleZoneStatus)
			r.Post("/{zoneID}/move", h.handleZoneMove)
			r.Get("/{zoneID}/children", h.handleZoneChildren)
			r.Get("/{zoneID}/ancestors", h.handleZoneAncestors)
			r.Post("/{zoneID}/assignments", h.handleAssignmentCreate)
			r.Get("/{zoneID}/assignments", h.handleAssignmentList)
			r.Delete("/{zoneID}/assignments", h.handleAssignmentRemove)
			r.Get("/{zoneID}/proposals", h.handleProposalList)
			r.Get("/{zoneID}/escalations", h.handleEscalationList)
			r.Post("/{zoneID}/escalations", h.handleEscalationRaiseGovernance)
		})

		r.Route("/proposals", func(r chi.Router) {
			r.Post("/", h.handleProposalCreate)
			r.Get("/{proposalID}", h.handleProposalGet)
			r.Post("/{proposalID}/decisions", h.handleProposalDecide)
			r.Post("/{proposalID}/escalations", h.handleEscalationRaiseAction)
		})

		r.Route("/escalations", func(r chi.Router) {
			r.Get("/{escalationID}", h.handleEscalationGet)
			r.Post("/{escalationID}/cosign", h.handleEscalationCosign)
			r.Post("/{escalationID}/resolve", h.handleEscalationResolve)
		})

		r.Route("/evaluations", func(r chi.Router) {
			r.Post("/", h.handleEvaluationCreate)
			r.Get("/{evaluationID}", h.handleEvaluationGet)
			r.Post("/{evaluationID}/scores", h.handleEvaluationScore)
			r.Post("/{evaluationID}/finalize", h.handleEvaluationFinalize)
		})

		r.Get("/audit", h.handleAuditList)
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Health(r.Context()); err != nil {
			transportjson.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	transportjson.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// actor pulls the authenticated caller off the context in the resolver's
// shape. ActorAuth guarantees presence on /v1 routes.
func (h *Handler) actor(r *http.Request) (resolver.Actor, bool) {
	a, ok := middleware.ActorFrom(r.Context())
	if !ok {
		return resolver.Actor{}, false
	}
	return resolver.Actor{
		MemberID: a.MemberID,
		OrgID:    a.OrgID,
		OrgRole:  member.OrgRole(a.OrgRole),
	}, true
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return dErrors.New(dErrors.CodeBadRequest, "invalid request body")
	}
	return nil
}

// writeError translates domain errors into the JSON error envelope.
// Rate-limit errors additionally carry a Retry-After header.
func writeError(w http.ResponseWriter, err error) {
	response := map[string]string{"error": string(httpErrors.CodeOf(err))}
	var de *dErrors.Error
	if errors.As(err, &de) && de.Message != "" {
		response["error_description"] = de.Message
	}
	if retryAfter, ok := httpErrors.RetryAfterOf(err); ok {
		seconds := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	}
	transportjson.WriteJSON(w, httpErrors.Status(err), response)
}
