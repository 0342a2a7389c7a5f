// Package gas implements per-principal CPU-credit accounting. The core
// only reports a principal's remaining credit; spending it down is a
// user-space scheduling decision (the DAG executor, for instance, may
// call Spend once per node run), never something the kernel triggers on
// its own.
package gas

import "sync"

// Ledger tracks one credit counter per principal id.
type Ledger struct {
	mu      sync.Mutex
	credits map[uint32]uint64
}

// NewLedger builds an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{credits: make(map[uint32]uint64)}
}

// Set assigns principal's credit balance outright.
func (l *Ledger) Set(principal uint32, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credits[principal] = amount
}

// Get returns principal's current balance (zero if never set).
func (l *Ledger) Get(principal uint32) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credits[principal]
}

// Spend deducts n from principal's balance if it can afford it, and
// reports whether the deduction happened. A principal with insufficient
// credit is left untouched.
func (l *Ledger) Spend(principal uint32, n uint64) (ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.credits[principal]
	if bal < n {
		return false
	}
	l.credits[principal] = bal - n
	return true
}
