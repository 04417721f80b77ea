package model

import "time"

// MaxNameLength bounds the participant name accepted at registration, in
// characters.  MaxTokenLength bounds a device token, in bytes.  Both must
// fit the participants columns of every dialect.
const (
	MaxNameLength  = 100
	MaxTokenLength = 255
)

// Participant represents one registered name as stored in the
// `participants` table.  The name is the only external lookup key; the
// numeric ID only exists to break ranking ties deterministically.
//
// Fields:
//
//	ID           – participants.id, assigned at creation, immutable.
//	Name         – participants.name, unique and case-sensitive.
//	SessionToken – device token of the current lease holder (nullable).
//	LeaseExpiry  – instant after which SessionToken no longer counts (nullable).
//	RegisteredAt – creation or latest lease renewal.
//	PressedAt    – latest accepted press (nil means "has not buzzed").
//	PressCount   – number of accepted presses since the last reset.
//	CreatedAt    – row creation time.
type Participant struct {
	ID           uint64     `json:"id"`
	Name         string     `json:"name"`
	SessionToken *string    `json:"-"`
	LeaseExpiry  *time.Time `json:"lease_expiry,omitempty"`
	RegisteredAt time.Time  `json:"registered_at"`
	PressedAt    *time.Time `json:"pressed_at,omitempty"`
	PressCount   uint64     `json:"press_count"`
	CreatedAt    time.Time  `json:"created_at"`
}

// LeaseLive reports whether a device currently holds the write lease.  A
// lease is live only when a token is attached and its expiry lies strictly
// after now; expiry is evaluated lazily at the moment of the check.
func (p Participant) LeaseLive(now time.Time) bool {
	return p.SessionToken != nil && p.LeaseExpiry != nil && p.LeaseExpiry.After(now)
}

// WritableBy reports whether token may change this participant's state at
// now: the lease is unset, expired, or already held by token.
func (p Participant) WritableBy(token string, now time.Time) bool {
	if !p.LeaseLive(now) {
		return true
	}
	return *p.SessionToken == token
}

// HasPressed reports whether the participant appears on the leaderboard.
func (p Participant) HasPressed() bool { return p.PressedAt != nil }

// Registration is the outcome of a successful register call.
type Registration struct {
	Participant Participant `json:"participant"`
	LeaseToken  string      `json:"lease_token"`
	LeaseExpiry time.Time   `json:"lease_expires_at"`
	Created     bool        `json:"created"`
}

// Authorization is the outcome of a lease ownership check.
type Authorization struct {
	Authorized bool   `json:"authorized"`
	Reason     string `json:"reason,omitempty"`
}

// ReasonOwnedByOtherSession is reported when a different device holds a
// live lease on the name.
const ReasonOwnedByOtherSession = "owned-by-other-session"

// PressReceipt confirms an accepted press.
type PressReceipt struct {
	Name       string    `json:"name"`
	PressedAt  time.Time `json:"pressed_at"`
	PressCount uint64    `json:"press_count"`
}
