package audit

import (
	"time"

	id "arbor/pkg/domain"
)

// ActorType distinguishes who performed a governance action.
type ActorType string

const (
	ActorHuman  ActorType = "human"
	ActorAgent  ActorType = "agent"
	ActorSystem ActorType = "system"
)

// Entry is an append-only record of a governance action. Entries are written
// in the same transaction as the state change they describe and are never
// updated or deleted.
type Entry struct {
	ID         id.AuditEntryID
	OrgID      id.OrgID
	ZoneID     id.ZoneID // zero when the action is not zone-scoped
	ActorID    id.MemberID
	ActorType  ActorType
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
	CreatedAt  time.Time
}

// Filter narrows audit trail reads. Zero fields are ignored.
type Filter struct {
	OrgID   id.OrgID
	ZoneID  id.ZoneID
	ActorID id.MemberID
	Action  string
	Since   time.Time
	Until   time.Time
	Limit   int
}

// Governance actions recorded in the audit trail.
const (
	ActionZoneCreate        = "zone.create"
	ActionZoneUpdate        = "zone.update"
	ActionZoneArchive       = "zone.archive"
	ActionZoneStatusChange  = "zone.status_change"
	ActionAssignmentCreate  = "zone.assignment.create"
	ActionAssignmentRemove  = "zone.assignment.remove"
	ActionProposalCreate    = "proposal.create"
	ActionProposalDecision  = "proposal.decision"
	ActionProposalResolve   = "proposal.resolve"
	ActionProposalExecute   = "proposal.execute"
	ActionProposalExpire    = "proposal.expire"
	ActionEscalationAction  = "escalation.action.create"
	ActionEscalationGov     = "escalation.governance.create"
	ActionEscalationCosign  = "escalation.cosign"
	ActionEscalationResolve = "escalation.resolve"
	ActionEvaluationCreate  = "evaluation.create"
	ActionEvaluationScore   = "evaluation.score"
	ActionEvaluationFinal   = "evaluation.finalize"
	ActionSignalApply       = "incentive.apply"
)
