package audit

import (
	"context"
	"log/slog"
	"time"

	id "arbor/pkg/domain"
	dErrors "arbor/pkg/domain-errors"
)

// Recorder writes audit entries synchronously through the store. Unlike a
// buffered publisher, a failed append fails the enclosing transaction: the
// governance invariant is all-or-nothing, not best-effort.
type Recorder struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// RecorderOption configures the Recorder.
type RecorderOption func(*Recorder)

// WithLogger sets a logger for append diagnostics.
func WithLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithClock overrides the timestamp source. Used in tests.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends one entry, stamping ID and timestamp if unset.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	if entry.ID.IsNil() {
		entry.ID = id.NewAuditEntryID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}
	if err := r.store.Append(ctx, entry); err != nil {
		if r.logger != nil {
			r.logger.Error("failed to append audit entry",
				"error", err,
				"action", entry.Action,
				"actor_id", entry.ActorID,
			)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit entry")
	}
	return nil
}

// List reads the audit trail with the given filter.
func (r *Recorder) List(ctx context.Context, filter Filter) ([]Entry, error) {
	entries, err := r.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read audit trail")
	}
	return entries, nil
}
