package executor

import (
	"sort"
	"sync"

	"github.com/dreamware/kotare/internal/ledger"
)

// LockTable hands out one mutex per account. Batch workers and the shard's
// transfer coordinator acquire account locks through the same table, which
// is what makes their ledger mutations mutually exclusive per account.
//
// Locks are created lazily and never reclaimed; an account's mutex lives as
// long as the table. Acquisition is always in sorted identifier order so
// two holders wanting overlapping sets cannot deadlock.
type LockTable struct {
	mu    sync.Mutex
	locks map[ledger.AccountID]*sync.Mutex
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[ledger.AccountID]*sync.Mutex)}
}

func (t *LockTable) lockFor(id ledger.AccountID) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.locks[id]
	if !ok {
		l = &sync.Mutex{}
		t.locks[id] = l
	}
	return l
}

// Acquire takes the locks of every given account in canonical order and
// returns a release function. Duplicate ids are collapsed so a
// self-transfer does not self-deadlock.
func (t *LockTable) Acquire(ids []ledger.AccountID) (release func()) {
	unique := make([]ledger.AccountID, 0, len(ids))
	seen := make(map[ledger.AccountID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			unique = append(unique, id)
		}
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })

	held := make([]*sync.Mutex, 0, len(unique))
	for _, id := range unique {
		l := t.lockFor(id)
		l.Lock()
		held = append(held, l)
	}

	return func() {
		// Release in reverse acquisition order
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
