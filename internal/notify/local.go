package notify

import (
	"context"
	"sync"
)

// LocalBus is an in-process Bus for a single server instance.  Each
// subscriber owns a one-slot buffer; when the slot is full the new change
// is dropped because the pending one already tells the receiver to re-read.
type LocalBus struct {
	mu   sync.Mutex
	subs map[chan Change]struct{}
}

// NewLocalBus returns an empty LocalBus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[chan Change]struct{})}
}

// Publish delivers c to every subscriber without blocking.
func (b *LocalBus) Publish(_ context.Context, c Change) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- c:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber until ctx is cancelled.
func (b *LocalBus) Subscribe(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}
