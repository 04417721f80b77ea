// Package notify carries "something changed" signals from the write path
// to the leaderboard projector.  A change carries no state: receivers
// re-read the store, so coalescing or dropping duplicate signals never
// loses information.
package notify

import (
	"context"
	"time"
)

// Kind names the operation that produced a change.
type Kind string

const (
	KindRegistered Kind = "registered"
	KindPressed    Kind = "pressed"
	KindReset      Kind = "reset"
	KindPurged     Kind = "purged"
)

// Change is one notification on the bus.
type Change struct {
	Kind Kind      `json:"kind"`
	Name string    `json:"name,omitempty"`
	At   time.Time `json:"at"`
}

// Bus fans changes out to every subscriber.  Publish must not block on slow
// subscribers.  The channel returned by Subscribe is closed once ctx is
// done.
type Bus interface {
	Publish(ctx context.Context, c Change) error
	Subscribe(ctx context.Context) (<-chan Change, error)
}
