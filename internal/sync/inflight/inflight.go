// Package inflight tracks organizations with a sync in progress, so
// destructive commands can refuse to run concurrently with a sync.
package inflight

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

type Tracker struct {
	mu       sync.Mutex
	busy     map[snowflake.ID]int
	deleting map[snowflake.ID]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{
		busy:     make(map[snowflake.ID]int),
		deleting: make(map[snowflake.ID]struct{}),
	}
}

// Acquire marks the organization as syncing and reports whether the mark was
// taken. Overlapping syncs of the same organization are allowed; idempotency
// in the ledger and subscription upsert keeps them safe, so this counts
// rather than locks. The only refusal is an organization mid-delete.
func (t *Tracker) Acquire(orgID snowflake.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.deleting[orgID]; ok {
		return false
	}
	t.busy[orgID]++
	return true
}

// Release undoes one Acquire. Safe to call for an unmarked org.
func (t *Tracker) Release(orgID snowflake.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.busy[orgID] <= 1 {
		delete(t.busy, orgID)
		return
	}
	t.busy[orgID]--
}

// Busy reports whether a sync is in flight for the organization.
func (t *Tracker) Busy(orgID snowflake.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.busy[orgID] > 0
}

// BeginDelete reserves the organization for deletion. It refuses while any
// sync holds the org; once taken, Acquire refuses until EndDelete. The check
// and the reservation happen under one lock, so a sync can never slip in
// between them.
func (t *Tracker) BeginDelete(orgID snowflake.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.busy[orgID] > 0 {
		return false
	}
	if _, ok := t.deleting[orgID]; ok {
		return false
	}
	t.deleting[orgID] = struct{}{}
	return true
}

// EndDelete lifts the deletion reservation.
func (t *Tracker) EndDelete(orgID snowflake.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.deleting, orgID)
}
