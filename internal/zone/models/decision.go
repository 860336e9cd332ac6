package models

import (
	"time"

	dErrors "arbor/pkg/domain-errors"
)

// ModelType tags the closed set of decision models. The set is fixed;
// evaluation exhaustively matches on it so a missing case is a compile-time
// concern, not a runtime surprise.
type ModelType string

const (
	ModelUnilateral ModelType = "unilateral"
	ModelThreshold  ModelType = "threshold"
	ModelMajority   ModelType = "majority"
	ModelWeighted   ModelType = "weighted"
	ModelConsensus  ModelType = "consensus"
)

// DecisionModelConfig is the zone's decision rule. Threshold doubles as the
// consensus fallback threshold; Weights are per-role multipliers for the
// weighted model; TimeoutHours bounds consensus before it degrades to
// threshold evaluation.
type DecisionModelConfig struct {
	Type         ModelType        `json:"type"`
	Threshold    int              `json:"threshold,omitempty"`
	Weights      map[Role]float64 `json:"weights,omitempty"`
	TimeoutHours float64          `json:"timeout_hours,omitempty"`
}

// Validate rejects malformed configurations at write time.
func (c DecisionModelConfig) Validate() error {
	switch c.Type {
	case ModelUnilateral, ModelMajority:
		return nil
	case ModelThreshold, ModelConsensus:
		if c.Threshold < 1 {
			return dErrors.New(dErrors.CodeValidation, "decision model threshold must be at least 1")
		}
		return nil
	case ModelWeighted:
		for role, w := range c.Weights {
			if !ValidRole(role) {
				return dErrors.New(dErrors.CodeValidation, "unknown role in decision model weights: "+string(role))
			}
			if w <= 0 {
				return dErrors.New(dErrors.CodeValidation, "decision model weights must be positive")
			}
		}
		return nil
	default:
		return dErrors.New(dErrors.CodeValidation, "unknown decision model type: "+string(c.Type))
	}
}

// Timeout returns the consensus timeout, defaulting to 48 hours.
func (c DecisionModelConfig) Timeout() time.Duration {
	if c.TimeoutHours <= 0 {
		return 48 * time.Hour
	}
	return time.Duration(float64(time.Hour) * c.TimeoutHours)
}

// RoleWeight returns the configured weight for a role, defaulting to 1.
func (c DecisionModelConfig) RoleWeight(role Role) float64 {
	if w, ok := c.Weights[role]; ok {
		return w
	}
	return 1.0
}
