package service

import (
	"context"
	"strings"
	"time"

	"github.com/iliyamo/bazar-buzzer/internal/model"
)

// Arbitrator answers whether a device may currently write a name.  It is
// a read-only guard; the ledger re-checks the same rule inside its write.
type Arbitrator struct {
	store ParticipantStore
	now   func() time.Time
}

// NewArbitrator returns an Arbitrator.
func NewArbitrator(store ParticipantStore, opts Options) *Arbitrator {
	opts = opts.withDefaults()
	return &Arbitrator{store: store, now: opts.Now}
}

// Authorize reports whether deviceToken may write name: the lease must be
// unset, expired or held by deviceToken.  An unknown name yields
// ErrNotFound.
func (a *Arbitrator) Authorize(ctx context.Context, name, deviceToken string) (model.Authorization, error) {
	name, err := normalizeName(name)
	if err != nil {
		return model.Authorization{}, err
	}
	p, err := a.store.GetByName(ctx, name)
	if err != nil {
		return model.Authorization{}, err
	}
	if p.WritableBy(strings.TrimSpace(deviceToken), a.now()) {
		return model.Authorization{Authorized: true}, nil
	}
	return model.Authorization{Reason: model.ReasonOwnedByOtherSession}, nil
}
