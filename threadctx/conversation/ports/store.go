package convports

import (
	"context"
	"errors"
)

// ErrNotFound is returned by ThreadStore.Get when no state exists for an id.
var ErrNotFound = errors.New("thread not found")

// ThreadStore persists whole thread states by id.
//
// Save either fully replaces the prior state or fails without changing it.
// Implementations make no concurrency promises; callers serialize access per id.
type ThreadStore interface {
	Get(ctx context.Context, threadID string) (ThreadState, error)
	Save(ctx context.Context, state ThreadState) error
}

// ThreadLister is an optional ThreadStore capability used by maintenance sweeps.
type ThreadLister interface {
	// IDs returns every stored thread id with the given prefix, in lexical order.
	IDs(ctx context.Context, prefix string) ([]string, error)
}

// ErrListingUnsupported is returned when a sweep needs ThreadLister but the
// configured store cannot enumerate ids.
var ErrListingUnsupported = errors.New("thread store does not support listing")
