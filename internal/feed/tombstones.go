package feed

import "time"

const defaultTombstoneTTL = 10 * time.Minute

// Tombstones remembers removed post ids for a while so that a snapshot
// resolving after the removal event does not bring the post back.
type Tombstones struct {
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

// NewTombstones creates a tombstone set whose entries live for ttl.
func NewTombstones(ttl time.Duration) *Tombstones {
	if ttl <= 0 {
		ttl = defaultTombstoneTTL
	}
	return &Tombstones{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Add tombstones id and returns its expiry.
func (t *Tombstones) Add(id string) time.Time {
	exp := t.now().Add(t.ttl)
	t.entries[id] = exp
	return exp
}

// Restore merges tombstones loaded from storage, keeping the later expiry.
func (t *Tombstones) Restore(entries map[string]time.Time) {
	for id, exp := range entries {
		if cur, ok := t.entries[id]; !ok || exp.After(cur) {
			t.entries[id] = exp
		}
	}
}

// Has reports whether id is tombstoned. Expired entries are dropped.
func (t *Tombstones) Has(id string) bool {
	exp, ok := t.entries[id]
	if !ok {
		return false
	}
	if !t.now().Before(exp) {
		delete(t.entries, id)
		return false
	}
	return true
}

// Sweep drops every expired entry and returns how many were dropped.
func (t *Tombstones) Sweep() int {
	now := t.now()
	n := 0
	for id, exp := range t.entries {
		if !now.Before(exp) {
			delete(t.entries, id)
			n++
		}
	}
	return n
}

// Len returns the number of entries, including expired ones not yet swept.
func (t *Tombstones) Len() int {
	return len(t.entries)
}
