// Package leaderboard derives the ranking from the participant store and
// pushes complete snapshots to subscribers whenever the change bus reports
// a mutation.
package leaderboard

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/iliyamo/bazar-buzzer/internal/model"
	"github.com/iliyamo/bazar-buzzer/internal/notify"
)

// DefaultLimit is the number of entries kept in the cached ranking.
const DefaultLimit = 100

// retryDelay spaces recompute attempts while the source is failing.
const retryDelay = time.Second

// Source reads the ranking from storage.
type Source interface {
	Ranking(ctx context.Context, limit int) ([]model.RankEntry, error)
}

type subscriber struct {
	ch   chan model.Snapshot
	stop chan struct{}
}

// Projector caches the top entries of the ranking and fans snapshots out to
// subscribers.  Run is the only goroutine that touches the subscriber set;
// Subscribe and its cancel func talk to it over channels.
type Projector struct {
	src   Source
	bus   notify.Bus
	limit int
	now   func() time.Time

	mu      sync.Mutex
	cached  *model.Snapshot
	last    *model.Snapshot // survives Invalidate
	version uint64

	retryDelay time.Duration

	register chan *subscriber
	unreg    chan *subscriber
	done     chan struct{}
}

// New returns a Projector that keeps at most limit entries.  A nil now
// defaults to the UTC wall clock.
func New(src Source, bus notify.Bus, limit int, now func() time.Time) *Projector {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Projector{
		src:        src,
		bus:        bus,
		limit:      limit,
		now:        now,
		retryDelay: retryDelay,
		register:   make(chan *subscriber),
		unreg:      make(chan *subscriber),
		done:       make(chan struct{}),
	}
}

// Limit reports the size of the cached ranking.
func (p *Projector) Limit() int { return p.limit }

// Current returns the first limit entries of the ranking.  A limit above
// Limit() is clamped to Limit(); a limit of zero or less yields no entries.
// The result is always a prefix of the same cached snapshot, so two calls
// between mutations agree.
func (p *Projector) Current(ctx context.Context, limit int) (model.Snapshot, error) {
	if limit > p.limit {
		limit = p.limit
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached == nil {
		entries, err := p.src.Ranking(ctx, p.limit)
		if err != nil {
			return model.Snapshot{}, err
		}
		p.version++
		p.cached = &model.Snapshot{
			Version:     p.version,
			Entries:     entries,
			GeneratedAt: p.now(),
		}
		p.last = p.cached
	}
	if limit <= 0 {
		out := *p.cached
		out.Entries = []model.RankEntry{}
		return out, nil
	}
	return p.cached.Prefix(limit), nil
}

// lastKnown returns the most recent snapshot ever computed, if any.
func (p *Projector) lastKnown() (model.Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return model.Snapshot{}, false
	}
	return p.last.Prefix(p.limit), true
}

// Invalidate drops the cached ranking; the next read recomputes it.
func (p *Projector) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}

// Subscribe registers interest in ranking snapshots.  The first value on
// the channel is the current ranking; later values follow every change.
// Only the latest undelivered snapshot is kept for a slow reader.  The
// channel is closed after cancel is called, ctx ends or Run returns.
func (p *Projector) Subscribe(ctx context.Context) (<-chan model.Snapshot, func()) {
	s := &subscriber{ch: make(chan model.Snapshot, 1), stop: make(chan struct{})}
	select {
	case p.register <- s:
	case <-ctx.Done():
		close(s.ch)
		return s.ch, func() {}
	case <-p.done:
		close(s.ch)
		return s.ch, func() {}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(s.stop)
			select {
			case p.unreg <- s:
			case <-p.done:
			}
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-s.stop:
		case <-p.done:
		}
	}()
	return s.ch, cancel
}

// Run consumes the change bus until ctx is cancelled.  Each change drops
// the cache, recomputes once and delivers the new snapshot to every
// subscriber.  While the source fails, subscribers are served the last
// known snapshot and the recompute is retried every retryDelay.
func (p *Projector) Run(ctx context.Context) error {
	changes, err := p.bus.Subscribe(ctx)
	if err != nil {
		close(p.done)
		return err
	}

	subs := make(map[*subscriber]struct{})
	defer func() {
		for s := range subs {
			close(s.ch)
		}
		close(p.done)
	}()

	var retry <-chan time.Time
	refresh := func(targets map[*subscriber]struct{}) {
		snap, err := p.Current(ctx, p.limit)
		if err != nil {
			log.Printf("leaderboard: recompute failed: %v", err)
			if retry == nil {
				retry = time.After(p.retryDelay)
			}
			last, ok := p.lastKnown()
			if !ok {
				return
			}
			for s := range targets {
				deliver(s, last)
			}
			return
		}
		for s := range targets {
			deliver(s, snap)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case s := <-p.register:
			subs[s] = struct{}{}
			refresh(map[*subscriber]struct{}{s: {}})

		case s := <-p.unreg:
			if _, ok := subs[s]; ok {
				delete(subs, s)
				close(s.ch)
			}

		case <-retry:
			retry = nil
			if len(subs) > 0 {
				refresh(subs)
			}

		case _, ok := <-changes:
			// Pending changes are coalesced by the bus, so every signal
			// recomputes regardless of its kind.
			if !ok {
				return nil
			}
			p.Invalidate()
			if len(subs) > 0 {
				refresh(subs)
			}
		}
	}
}

// deliver replaces any snapshot the subscriber has not read yet.  Only Run
// sends on s.ch, so the send after draining cannot block.
func deliver(s *subscriber, snap model.Snapshot) {
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snap:
	default:
	}
}
