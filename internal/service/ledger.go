package service

import (
	"context"
	"strings"

	"github.com/iliyamo/bazar-buzzer/internal/model"
	"github.com/iliyamo/bazar-buzzer/internal/notify"
	"github.com/iliyamo/bazar-buzzer/internal/queue"
	"github.com/iliyamo/bazar-buzzer/internal/repository"
)

// Ledger records buzzer presses.
type Ledger struct {
	store ParticipantStore
	opts  Options
	n     notifier
}

// NewLedger returns a Ledger.  bus, cache and audit may be nil.
func NewLedger(store ParticipantStore, bus notify.Bus, cache Invalidator, audit AuditSink, opts Options) *Ledger {
	return &Ledger{store: store, opts: opts.withDefaults(), n: notifier{bus: bus, cache: cache, audit: audit}}
}

// RecordPress accepts a press for name from deviceToken when the device may
// write the name.  pressed_at is taken from the server clock and every
// accepted press moves it forward, so a repeated press re-ranks the
// participant behind earlier presses.  Rejections are ErrNotFound and
// ErrNameConflict; neither writes anything.
func (l *Ledger) RecordPress(ctx context.Context, name, deviceToken string) (model.PressReceipt, error) {
	name, err := normalizeName(name)
	if err != nil {
		return model.PressReceipt{}, err
	}
	token := strings.TrimSpace(deviceToken)
	if !validToken(token) {
		return model.PressReceipt{}, repository.ErrInvalidInput
	}

	p, err := l.store.RecordPress(ctx, name, token, l.opts.Now())
	if err != nil {
		return model.PressReceipt{}, err
	}
	receipt := model.PressReceipt{Name: p.Name, PressCount: p.PressCount}
	if p.PressedAt != nil {
		receipt.PressedAt = *p.PressedAt
	}

	l.n.changed(ctx,
		notify.Change{Kind: notify.KindPressed, Name: p.Name, At: receipt.PressedAt},
		&queue.AuditEvent{
			Kind:       queue.KindPressed,
			Name:       p.Name,
			PressedAt:  p.PressedAt,
			PressCount: p.PressCount,
			OccurredAt: receipt.PressedAt,
		},
	)
	return receipt, nil
}
