package audit

import "context"

// Store persists audit entries. Append must participate in the caller's
// transaction when one is carried on the context, so an entry never exists
// without its corresponding state change (and vice versa).
type Store interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context, filter Filter) ([]Entry, error)
}
