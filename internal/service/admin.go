package service

import (
	"context"

	"github.com/iliyamo/bazar-buzzer/internal/model"
	"github.com/iliyamo/bazar-buzzer/internal/notify"
	"github.com/iliyamo/bazar-buzzer/internal/queue"
)

// Admin runs maintenance operations.  They bypass the arbitrator; callers
// are expected to have authenticated the operator.
type Admin struct {
	store ParticipantStore
	opts  Options
	n     notifier
}

// NewAdmin returns an Admin.  bus, cache and audit may be nil.
func NewAdmin(store ParticipantStore, bus notify.Bus, cache Invalidator, audit AuditSink, opts Options) *Admin {
	return &Admin{store: store, opts: opts.withDefaults(), n: notifier{bus: bus, cache: cache, audit: audit}}
}

// ResetPresses clears every press while keeping names and leases.
func (a *Admin) ResetPresses(ctx context.Context) (int64, error) {
	n, err := a.store.ResetPresses(ctx)
	if err != nil {
		return 0, err
	}
	a.done(ctx, notify.KindReset, queue.KindReset, n)
	return n, nil
}

// PurgeAll deletes every participant, freeing all capacity.
func (a *Admin) PurgeAll(ctx context.Context) (int64, error) {
	n, err := a.store.PurgeAll(ctx)
	if err != nil {
		return 0, err
	}
	a.done(ctx, notify.KindPurged, queue.KindPurged, n)
	return n, nil
}

// List returns the full roster in registration order.
func (a *Admin) List(ctx context.Context) ([]model.Participant, error) {
	return a.store.List(ctx)
}

func (a *Admin) done(ctx context.Context, kind notify.Kind, auditKind string, affected int64) {
	now := a.opts.Now()
	a.n.changed(ctx,
		notify.Change{Kind: kind, At: now},
		&queue.AuditEvent{Kind: auditKind, Affected: affected, OccurredAt: now},
	)
}
