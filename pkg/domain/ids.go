// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "arbor/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing a MemberID where a ZoneID is expected.
type (
	OrgID             uuid.UUID
	MemberID          uuid.UUID
	ZoneID            uuid.UUID
	AssignmentID      uuid.UUID
	ProposalID        uuid.UUID
	ApprovalRequestID uuid.UUID
	EscalationID      uuid.UUID
	EvaluationID      uuid.UUID
	ScoreEntryID      uuid.UUID
	SignalID          uuid.UUID
	AuditEntryID      uuid.UUID
)

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseOrgID(s string) (OrgID, error) {
	id, err := parseUUID(s, "organization ID")
	return OrgID(id), err
}

func ParseMemberID(s string) (MemberID, error) {
	id, err := parseUUID(s, "member ID")
	return MemberID(id), err
}

func ParseZoneID(s string) (ZoneID, error) {
	id, err := parseUUID(s, "zone ID")
	return ZoneID(id), err
}

func ParseProposalID(s string) (ProposalID, error) {
	id, err := parseUUID(s, "proposal ID")
	return ProposalID(id), err
}

func ParseEscalationID(s string) (EscalationID, error) {
	id, err := parseUUID(s, "escalation ID")
	return EscalationID(id), err
}

func ParseEvaluationID(s string) (EvaluationID, error) {
	id, err := parseUUID(s, "evaluation ID")
	return EvaluationID(id), err
}

// New functions - use where entities are minted.

func NewOrgID() OrgID                         { return OrgID(uuid.New()) }
func NewMemberID() MemberID                   { return MemberID(uuid.New()) }
func NewZoneID() ZoneID                       { return ZoneID(uuid.New()) }
func NewAssignmentID() AssignmentID           { return AssignmentID(uuid.New()) }
func NewProposalID() ProposalID               { return ProposalID(uuid.New()) }
func NewApprovalRequestID() ApprovalRequestID { return ApprovalRequestID(uuid.New()) }
func NewEscalationID() EscalationID           { return EscalationID(uuid.New()) }
func NewEvaluationID() EvaluationID           { return EvaluationID(uuid.New()) }
func NewScoreEntryID() ScoreEntryID           { return ScoreEntryID(uuid.New()) }
func NewSignalID() SignalID                   { return SignalID(uuid.New()) }
func NewAuditEntryID() AuditEntryID           { return AuditEntryID(uuid.New()) }

// String methods - for logging and debugging.

func (id OrgID) String() string             { return uuid.UUID(id).String() }
func (id MemberID) String() string          { return uuid.UUID(id).String() }
func (id ZoneID) String() string            { return uuid.UUID(id).String() }
func (id AssignmentID) String() string      { return uuid.UUID(id).String() }
func (id ProposalID) String() string        { return uuid.UUID(id).String() }
func (id ApprovalRequestID) String() string { return uuid.UUID(id).String() }
func (id EscalationID) String() string      { return uuid.UUID(id).String() }
func (id EvaluationID) String() string      { return uuid.UUID(id).String() }
func (id ScoreEntryID) String() string      { return uuid.UUID(id).String() }
func (id SignalID) String() string          { return uuid.UUID(id).String() }
func (id AuditEntryID) String() string      { return uuid.UUID(id).String() }

// IsNil checks - used for service-layer validation.

func (id OrgID) IsNil() bool             { return uuid.UUID(id) == uuid.Nil }
func (id MemberID) IsNil() bool          { return uuid.UUID(id) == uuid.Nil }
func (id ZoneID) IsNil() bool            { return uuid.UUID(id) == uuid.Nil }
func (id AssignmentID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id ProposalID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id ApprovalRequestID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id EscalationID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id EvaluationID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id ScoreEntryID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id SignalID) IsNil() bool          { return uuid.UUID(id) == uuid.Nil }
func (id AuditEntryID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }

// parseUUID is the shared validation logic.
// Nil UUIDs are allowed here; use IsNil() at the service layer for business
// validation so store lookups can return proper "not found" errors.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	return id, nil
}
