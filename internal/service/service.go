// Package service implements the buzzer core: the identity registry with
// its capacity rule, the write arbitrator, the press ledger and the admin
// maintenance operations.  Services hold no locks; every check-then-write
// is a single conditional statement in the store.
package service

import (
	"context"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/iliyamo/bazar-buzzer/internal/model"
	"github.com/iliyamo/bazar-buzzer/internal/notify"
	"github.com/iliyamo/bazar-buzzer/internal/queue"
	"github.com/iliyamo/bazar-buzzer/internal/repository"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultMaxParticipants = 10
	DefaultLeaseDuration   = 8 * time.Hour
	MaxTokenLength         = model.MaxTokenLength
)

// ParticipantStore is the storage contract the services rely on.
// *repository.ParticipantRepo satisfies it.
type ParticipantStore interface {
	GetByName(ctx context.Context, name string) (model.Participant, error)
	List(ctx context.Context) ([]model.Participant, error)
	Renew(ctx context.Context, name, token string, now, expiry time.Time) (model.Participant, error)
	CreateWithinCapacity(ctx context.Context, name, token string, now, expiry time.Time, capacity int) (model.Participant, error)
	RecordPress(ctx context.Context, name, token string, now time.Time) (model.Participant, error)
	ResetPresses(ctx context.Context) (int64, error)
	PurgeAll(ctx context.Context) (int64, error)
}

// Invalidator drops a cached ranking.  *leaderboard.Projector satisfies it.
type Invalidator interface {
	Invalidate()
}

// AuditSink accepts audit events without blocking.  *queue.Publisher
// satisfies it.
type AuditSink interface {
	Enqueue(ev queue.AuditEvent) bool
}

// Options tunes the core.  Zero values select the defaults.
type Options struct {
	MaxParticipants int
	LeaseDuration   time.Duration
	Now             func() time.Time
	NewToken        func() string
}

func (o Options) withDefaults() Options {
	if o.MaxParticipants <= 0 {
		o.MaxParticipants = DefaultMaxParticipants
	}
	if o.LeaseDuration <= 0 {
		o.LeaseDuration = DefaultLeaseDuration
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// notifier bundles the side channels every mutation reports to.  Each of
// them is optional.
type notifier struct {
	bus   notify.Bus
	cache Invalidator
	audit AuditSink
}

// changed runs after a committed write.  The write already happened, so
// failures here are logged rather than returned, and the request context
// is detached so a client hanging up cannot suppress the notification.
func (n notifier) changed(ctx context.Context, c notify.Change, ev *queue.AuditEvent) {
	if n.cache != nil && c.Kind != notify.KindRegistered {
		n.cache.Invalidate()
	}
	if n.bus != nil {
		if err := n.bus.Publish(context.WithoutCancel(ctx), c); err != nil {
			log.Printf("service: publish %s change: %v", c.Kind, err)
		}
	}
	if n.audit != nil && ev != nil {
		n.audit.Enqueue(*ev)
	}
}

// normalizeName trims surrounding whitespace and enforces the length rule.
func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > model.MaxNameLength {
		return "", repository.ErrInvalidInput
	}
	return name, nil
}

func validToken(token string) bool {
	return token != "" && len(token) <= MaxTokenLength
}
