// Package notify defines the outbound event surface for completed
// harvest runs.
package notify

import (
	"context"
	"time"
)

// RunCompleted is the payload published after a snapshot commits.
type RunCompleted struct {
	SnapshotMoment time.Time `json:"snapshot_moment"`
	Observed       int       `json:"observed"`
	FirstPage      int       `json:"first_page"`
	PagesFailed    []int     `json:"pages_failed,omitempty"`
}

// Publisher delivers run events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Noop discards every publish. It is the default when no broker is
// configured.
type Noop struct{}

// Publish drops the payload.
func (Noop) Publish(context.Context, string, any) (string, error) {
	return "", nil
}
