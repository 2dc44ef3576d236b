// Package reconcile turns canonical envelopes into stored contacts,
// conversations and messages. Every find-or-create goes through
// ResolveOrCreate so concurrent producers converge on one row.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"omnichannel-backend/internal/store"
)

// ResolveOrCreate looks a row up with find and, when it is missing, inserts
// it with create. create must be a conditional insert that reports
// store.ErrConflict when another writer got there first; the row is then
// read back. The bool reports whether this call created the row.
func ResolveOrCreate[T any](ctx context.Context, find, create func(context.Context) (T, error)) (T, bool, error) {
	var zero T

	found, err := find(ctx)
	if err == nil {
		return found, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return zero, false, fmt.Errorf("find: %w", err)
	}

	created, err := create(ctx)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return zero, false, fmt.Errorf("create: %w", err)
	}

	found, err = find(ctx)
	if err != nil {
		return zero, false, fmt.Errorf("find after conflict: %w", err)
	}
	return found, false, nil
}
