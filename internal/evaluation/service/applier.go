package service

import (
	"context"
	"sync/atomic"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"arbor/internal/audit"
	"arbor/internal/evaluation/models"
	"arbor/internal/member"
	id "arbor/pkg/domain"
	dErrors "arbor/pkg/domain-errors"
)

// applyConcurrency bounds the signal-application fan-out so a large backlog
// cannot exhaust store connections.
const applyConcurrency = 4

// Applier pushes recorded incentive signals into member reputation.
// Application is best-effort and runs outside the finalizing transaction:
// each signal gets its own transaction, a bounded retry, and an applied flag
// so a crash mid-batch never double-applies a delta.
type Applier struct {
	signals     signalApplierStore
	reputations member.ReputationStore
	recorder    Recorder
	logger      loggerLike
	metrics     metricsLike
	tx          StoreTx
	maxTries    uint
}

// Narrow views of the service's collaborators keep the applier testable
// without the full service wiring.
type signalApplierStore interface {
	FindByID(ctx context.Context, signalID id.SignalID) (*models.IncentiveSignal, error)
	ListUnapplied(ctx context.Context, limit int) ([]*models.IncentiveSignal, error)
	MarkApplied(ctx context.Context, signalID id.SignalID) (bool, error)
}

type loggerLike interface {
	Warn(msg string, args ...any)
}

type metricsLike interface {
	IncrementSignalsApplied()
	IncrementApplyFailures()
}

// NewApplier builds the applier from a service's stores.
func (s *Service) NewApplier(reputations member.ReputationStore) *Applier {
	a := &Applier{
		signals:     s.signals,
		reputations: reputations,
		recorder:    s.recorder,
		tx:          s.tx,
		maxTries:    3,
	}
	if s.logger != nil {
		a.logger = s.logger
	}
	if s.metrics != nil {
		a.metrics = s.metrics
	}
	return a
}

// ApplyPending applies up to limit unapplied signals concurrently. A signal
// that exhausts its retries stays unapplied for the next run; the error never
// propagates because reputation application must not block governance flow.
// Returns how many signals were applied.
func (a *Applier) ApplyPending(ctx context.Context, limit int) (int, error) {
	pending, err := a.signals.ListUnapplied(ctx, limit)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list unapplied signals")
	}

	var applied atomic.Int32
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(applyConcurrency)

	for _, sig := range pending {
		g.Go(func() error {
			_, err := backoff.Retry(groupCtx, func() (struct{}, error) {
				return struct{}{}, a.applyOne(groupCtx, sig)
			}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(a.maxTries))
			if err != nil {
				if a.metrics != nil {
					a.metrics.IncrementApplyFailures()
				}
				if a.logger != nil {
					a.logger.Warn("incentive signal application exhausted retries",
						"signal_id", sig.ID, "target_id", sig.TargetID, "error", err)
				}
				return nil
			}
			if a.metrics != nil {
				a.metrics.IncrementSignalsApplied()
			}
			applied.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(applied.Load()), err
	}
	return int(applied.Load()), nil
}

// applyOne applies a single signal in its own transaction. The applied-flag
// transition and the reputation write commit together, so a duplicate call
// for the same signal id is a no-op.
func (a *Applier) applyOne(ctx context.Context, sig *models.IncentiveSignal) error {
	return a.tx.RunInTx(ctx, func(txCtx context.Context) error {
		transitioned, err := a.signals.MarkApplied(txCtx, sig.ID)
		if err != nil {
			return err
		}
		if !transitioned {
			return nil
		}
		if _, err := a.reputations.Adjust(txCtx, sig.TargetID, sig.Magnitude); err != nil {
			return err
		}
		return a.recorder.Record(txCtx, audit.Entry{
			ActorType:  audit.ActorSystem,
			Action:     audit.ActionSignalApply,
			TargetType: "incentive_signal",
			TargetID:   sig.ID.String(),
			Metadata: map[string]any{
				"target_id": sig.TargetID.String(),
				"magnitude": sig.Magnitude,
				"type":      string(sig.Type),
			},
		})
	})
}

// ApplySignal applies one signal by id, for targeted retries. Idempotent.
func (a *Applier) ApplySignal(ctx context.Context, signalID id.SignalID) error {
	sig, err := a.signals.FindByID(ctx, signalID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "signal not found")
	}
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, a.applyOne(ctx, sig)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(a.maxTries))
	return err
}
