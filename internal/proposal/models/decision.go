package models

import (
	"time"

	zone "arbor/internal/zone/models"
)

// Outcome is the result of evaluating a decision model against the current
// approval request set.
type Outcome struct {
	Final    bool
	Approved bool
	// Deadlocked means every reviewer has decided and no model branch can be
	// reached. The escalation engine takes over from here.
	Deadlocked bool
}

func pending() Outcome    { return Outcome{} }
func approved() Outcome   { return Outcome{Final: true, Approved: true} }
func rejected() Outcome   { return Outcome{Final: true} }
func deadlocked() Outcome { return Outcome{Deadlocked: true} }

// Evaluate runs the zone's decision model over the approval request set. The
// model set is closed; an unknown type evaluates as pending so a bad config
// can never auto-approve anything.
func Evaluate(model zone.DecisionModelConfig, requests []*ApprovalRequest, createdAt, now time.Time) Outcome {
	switch model.Type {
	case zone.ModelUnilateral:
		return evaluateUnilateral(requests)
	case zone.ModelThreshold:
		return evaluateThreshold(model.Threshold, requests)
	case zone.ModelMajority:
		return evaluateMajority(requests)
	case zone.ModelWeighted:
		return evaluateWeighted(model, requests)
	case zone.ModelConsensus:
		return evaluateConsensus(model, requests, createdAt, now)
	default:
		return pending()
	}
}

// evaluateUnilateral: the first non-abstain decision is final.
func evaluateUnilateral(requests []*ApprovalRequest) Outcome {
	for _, r := range requests {
		switch r.Decision {
		case DecisionApprove:
			return approved()
		case DecisionReject:
			return rejected()
		}
	}
	if allDecided(requests) {
		return deadlocked()
	}
	return pending()
}

// evaluateThreshold: k approvals approve, (n-k+1) rejections reject. Abstains
// count toward neither side.
func evaluateThreshold(k int, requests []*ApprovalRequest) Outcome {
	n := len(requests)
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	approvals, rejections := tally(requests)
	if approvals >= k {
		return approved()
	}
	if rejections >= n-k+1 {
		return rejected()
	}
	if allDecided(requests) {
		return deadlocked()
	}
	return pending()
}

// evaluateMajority: strictly more than half of n decide the same way.
// Abstains count toward n but toward neither side.
func evaluateMajority(requests []*ApprovalRequest) Outcome {
	n := len(requests)
	approvals, rejections := tally(requests)
	if 2*approvals > n {
		return approved()
	}
	if 2*rejections > n {
		return rejected()
	}
	if allDecided(requests) {
		return deadlocked()
	}
	return pending()
}

// evaluateWeighted: each reviewer carries their role's configured weight;
// final once one side exceeds half the panel's total weight.
func evaluateWeighted(model zone.DecisionModelConfig, requests []*ApprovalRequest) Outcome {
	var total, approveSum, rejectSum float64
	for _, r := range requests {
		w := model.RoleWeight(r.ReviewerRole)
		total += w
		switch r.Decision {
		case DecisionApprove:
			approveSum += w
		case DecisionReject:
			rejectSum += w
		}
	}
	if total <= 0 {
		return pending()
	}
	if 2*approveSum > total {
		return approved()
	}
	if 2*rejectSum > total {
		return rejected()
	}
	if allDecided(requests) {
		return deadlocked()
	}
	return pending()
}

// evaluateConsensus: unanimity among non-abstainers once every reviewer has
// decided. Past the timeout the model degrades to threshold evaluation with
// the same threshold value.
func evaluateConsensus(model zone.DecisionModelConfig, requests []*ApprovalRequest, createdAt, now time.Time) Outcome {
	if now.Sub(createdAt) >= model.Timeout() {
		return evaluateThreshold(model.Threshold, requests)
	}
	if !allDecided(requests) {
		return pending()
	}
	approvals, rejections := tally(requests)
	switch {
	case approvals > 0 && rejections == 0:
		return approved()
	case rejections > 0 && approvals == 0:
		return rejected()
	case approvals == 0 && rejections == 0:
		// Everyone abstained.
		return deadlocked()
	default:
		// Mixed verdicts wait for unanimity or the timeout fallback.
		return pending()
	}
}

func tally(requests []*ApprovalRequest) (approvals, rejections int) {
	for _, r := range requests {
		switch r.Decision {
		case DecisionApprove:
			approvals++
		case DecisionReject:
			rejections++
		}
	}
	return approvals, rejections
}

func allDecided(requests []*ApprovalRequest) bool {
	if len(requests) == 0 {
		return false
	}
	for _, r := range requests {
		if !r.Decided() {
			return false
		}
	}
	return true
}
