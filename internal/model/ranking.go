package model

import "time"

// RankEntry is one row of the leaderboard.  Rank starts at 1 for the
// earliest press.
type RankEntry struct {
	Rank       int       `json:"rank"`
	ID         uint64    `json:"-"`
	Name       string    `json:"name"`
	PressedAt  time.Time `json:"pressed_at"`
	PressCount uint64    `json:"press_count"`
}

// Snapshot is a complete ranking as delivered to subscribers.  Version
// increases every time the projector recomputes.
type Snapshot struct {
	Version     uint64      `json:"version"`
	Entries     []RankEntry `json:"entries"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// Prefix returns a copy of s truncated to at most limit entries.  A
// non-positive limit returns every entry.
func (s Snapshot) Prefix(limit int) Snapshot {
	n := len(s.Entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := s
	out.Entries = make([]RankEntry, n)
	copy(out.Entries, s.Entries[:n])
	return out
}
