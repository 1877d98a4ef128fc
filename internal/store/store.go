// Package store defines the persistence contract for posts and
// first-page membership facts.
// By using an interface, we decouple the application from a specific
// database implementation, allowing for easier testing and flexibility.
package store

import (
	"context"

	"github.com/hnwatch/hnwatch/internal/hn"
)

// Store is the durable snapshot ledger. CommitSnapshot is the only write
// path; both reads are side-effect-free and safe to call concurrently
// with each other and with an in-flight commit.
type Store interface {
	// CommitSnapshot reconciles one observation set as a single
	// all-or-nothing transaction: upsert every item, append a membership
	// fact for each first-page member. Committing the same set twice
	// leaves the same durable state as committing it once.
	CommitSnapshot(ctx context.Context, set hn.ObservationSet) error

	// TopPosts returns the items referenced by membership facts of the
	// most recent snapshot, in the rank order recorded for that run.
	// Empty when no run has ever completed.
	TopPosts(ctx context.Context) ([]hn.Post, error)

	// UserPosts returns the items authored by user, restricted to
	// ever-first-page items when the filter says so. No match yields an
	// empty slice, not an error.
	UserPosts(ctx context.Context, user string, filter hn.UserPostFilter) ([]hn.Post, error)

	// Close terminates the connection and releases any resources.
	Close() error
}
