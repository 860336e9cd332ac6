package service

import (
	"context"

	"arbor/internal/proposal/models"
	zone "arbor/internal/zone/models"
	zoneservice "arbor/internal/zone/service"
	dErrors "arbor/pkg/domain-errors"
)

// ZoneExecutor applies approved governance payloads against the zone service.
// Task execution and resource allocation have no in-core side effect; the
// approved proposal record is itself the grant downstream systems act on.
type ZoneExecutor struct {
	zones *zoneservice.Service
}

func NewZoneExecutor(zones *zoneservice.Service) *ZoneExecutor {
	return &ZoneExecutor{zones: zones}
}

func (e *ZoneExecutor) Execute(ctx context.Context, p *models.Proposal) error {
	switch p.Type {
	case models.TypeZoneChange:
		return e.applyZoneChange(ctx, p)
	case models.TypeMembershipChange:
		return e.applyMembershipChange(ctx, p)
	case models.TypeTaskExecution, models.TypeResourceAllocation:
		return nil
	default:
		return dErrors.New(dErrors.CodeValidation, "unknown proposal type: "+string(p.Type))
	}
}

func (e *ZoneExecutor) applyZoneChange(ctx context.Context, p *models.Proposal) error {
	target := p.Payload.TargetZone
	if target.IsNil() {
		target = p.ZoneID
	}

	var params zoneservice.UpdateZoneParams
	for key, value := range p.Payload.Changes {
		str, _ := value.(string)
		switch key {
		case "name":
			params.Name = &str
		case "description":
			params.Description = &str
		case "responsibilities":
			params.Responsibilities = &str
		}
	}
	if status, ok := p.Payload.Changes["status"].(string); ok {
		if _, err := e.zones.ChangeStatus(ctx, target, p.AuthorID, zone.Status(status)); err != nil {
			return err
		}
	}
	if params == (zoneservice.UpdateZoneParams{}) {
		return nil
	}
	_, err := e.zones.UpdateZone(ctx, target, p.AuthorID, params)
	return err
}

func (e *ZoneExecutor) applyMembershipChange(ctx context.Context, p *models.Proposal) error {
	if p.Payload.TargetMember.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "membership change requires a target member")
	}
	role := zone.Role(p.Payload.Role)
	if !zone.ValidRole(role) {
		return dErrors.New(dErrors.CodeValidation, "membership change requires a valid zone role")
	}
	target := p.Payload.TargetZone
	if target.IsNil() {
		target = p.ZoneID
	}

	if p.Payload.Remove {
		return e.zones.RemoveRole(ctx, target, p.Payload.TargetMember, role, p.AuthorID)
	}
	_, err := e.zones.AssignRole(ctx, target, p.Payload.TargetMember, role, p.AuthorID)
	return err
}

// Verify interface.
var _ Executor = (*ZoneExecutor)(nil)
