package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/bazar-buzzer/internal/model"
	"github.com/iliyamo/bazar-buzzer/internal/notify"
	"github.com/iliyamo/bazar-buzzer/internal/queue"
	"github.com/iliyamo/bazar-buzzer/internal/repository"
)

// Registry binds a display name to a device through a time-limited lease
// and admits new names only while capacity remains.
type Registry struct {
	store ParticipantStore
	opts  Options
	n     notifier
}

// NewRegistry returns a Registry.  bus and audit may be nil.
func NewRegistry(store ParticipantStore, bus notify.Bus, audit AuditSink, opts Options) *Registry {
	opts = opts.withDefaults()
	if opts.NewToken == nil {
		opts.NewToken = uuid.NewString
	}
	return &Registry{store: store, opts: opts, n: notifier{bus: bus, audit: audit}}
}

// Register claims name for deviceToken.
//
//   - An existing name whose lease is unset, expired or already held by
//     deviceToken is re-leased to deviceToken; its press state is kept.
//   - An existing name leased to another live token fails with
//     ErrNameConflict and nothing is written.
//   - A new name is created only while fewer than MaxParticipants rows
//     exist, otherwise ErrCapacityExceeded.
//
// An empty deviceToken asks the server to issue one; the token in the
// returned Registration is the one the device must present afterwards.
func (r *Registry) Register(ctx context.Context, name, deviceToken string) (model.Registration, error) {
	name, err := normalizeName(name)
	if err != nil {
		return model.Registration{}, err
	}
	token := strings.TrimSpace(deviceToken)
	if token == "" {
		token = r.opts.NewToken()
	}
	if !validToken(token) {
		return model.Registration{}, repository.ErrInvalidInput
	}

	now := r.opts.Now()
	expiry := now.Add(r.opts.LeaseDuration)

	// The second pass only runs when a concurrent request created the same
	// name between our renew and insert.
	for attempt := 0; attempt < 2; attempt++ {
		p, err := r.store.Renew(ctx, name, token, now, expiry)
		switch {
		case err == nil:
			return r.accepted(ctx, p, token, expiry, false), nil
		case !errors.Is(err, repository.ErrNotFound):
			return model.Registration{}, err
		}

		p, err = r.store.CreateWithinCapacity(ctx, name, token, now, expiry, r.opts.MaxParticipants)
		if errors.Is(err, repository.ErrDuplicateName) {
			continue
		}
		if err != nil {
			return model.Registration{}, err
		}
		return r.accepted(ctx, p, token, expiry, true), nil
	}
	return model.Registration{}, fmt.Errorf("register %q: %w", name, repository.ErrNameConflict)
}

func (r *Registry) accepted(ctx context.Context, p model.Participant, token string, expiry time.Time, created bool) model.Registration {
	kind := queue.KindRenewed
	if created {
		kind = queue.KindRegistered
	}
	r.n.changed(ctx,
		notify.Change{Kind: notify.KindRegistered, Name: p.Name, At: p.RegisteredAt},
		&queue.AuditEvent{Kind: kind, Name: p.Name, OccurredAt: p.RegisteredAt},
	)
	return model.Registration{
		Participant: p,
		LeaseToken:  token,
		LeaseExpiry: expiry,
		Created:     created,
	}
}
