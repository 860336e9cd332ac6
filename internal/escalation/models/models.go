// Package models defines escalations: contests over a decision (action) or
// over the deciding body itself (governance).
package models

import (
	"strings"
	"time"

	id "arbor/pkg/domain"
	dErrors "arbor/pkg/domain-errors"
)

// Type distinguishes the two escalation tracks.
type Type string

const (
	// TypeAction contests one specific proposal decision.
	TypeAction Type = "action"
	// TypeGovernance contests a zone's deciding body and requires co-signers
	// before it activates.
	TypeGovernance Type = "governance"
)

// ValidType reports whether the type is one of the closed set.
func ValidType(t Type) bool { return t == TypeAction || t == TypeGovernance }

// Status is the escalation lifecycle state. Both tracks share the machine;
// only governance escalations pass through accepted (activation).
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusDismissed Status = "dismissed"
	StatusResolved  Status = "resolved"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusDismissed || s == StatusResolved
}

// Escalation is a contest raised from a source zone against its parent (the
// target). Action escalations carry the contested proposal; an activated
// escalation may open a replacement or meta proposal in the target zone.
type Escalation struct {
	ID           id.EscalationID
	OrgID        id.OrgID
	SourceZoneID id.ZoneID
	TargetZoneID id.ZoneID
	Type         Type
	Status       Status
	Reason       string
	RaisedBy     id.MemberID // zero when raised by the system on deadlock

	// ProposalID is the contested proposal. Set for action escalations only.
	ProposalID id.ProposalID
	// ResultingProposalID is the proposal opened in the target zone when the
	// escalation activates.
	ResultingProposalID id.ProposalID

	// CosignersRequired is fixed at creation from the source zone's policy so
	// later policy edits cannot retroactively activate a pending escalation.
	CosignersRequired int

	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt time.Time // zero until terminal
}

// Cosigner is one member's endorsement of a governance escalation. Unique per
// (escalation, member); duplicate co-signs are no-ops.
type Cosigner struct {
	EscalationID id.EscalationID
	MemberID     id.MemberID
	CreatedAt    time.Time
}

// NewEscalation validates and constructs a pending escalation.
func NewEscalation(escalationID id.EscalationID, orgID id.OrgID, source, target id.ZoneID, t Type, reason string, raisedBy id.MemberID, now time.Time) (*Escalation, error) {
	if !ValidType(t) {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown escalation type: "+string(t))
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "escalation reason is required")
	}
	if target.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "escalation target zone is required")
	}
	return &Escalation{
		ID:           escalationID,
		OrgID:        orgID,
		SourceZoneID: source,
		TargetZoneID: target,
		Type:         t,
		Status:       StatusPending,
		Reason:       reason,
		RaisedBy:     raisedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}
