// Package arbitrate implements resource arbitration: a fixed-size table
// of (type, resource id) -> owner bindings, with a pluggable policy
// callback deciding whether a new owner may displace the current one.
package arbitrate

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// numSlots is the table's fixed capacity.
const numSlots = 16

// ErrDenied is returned when a request is rejected, either by policy or
// because the table is full and the resource is new.
var ErrDenied = errors.New("exocore: arbitrate: request denied")

// Entry names one live binding.
type Entry struct {
	Type       uint32
	ResourceID uint32
	Owner      uint32
}

// Policy decides whether newOwner may take typ/resourceID away from
// currentOwner. It runs with the table's lock held, so it must not call
// back into the table.
type Policy func(t *Table, typ, resourceID, currentOwner, newOwner uint32) bool

// Table is a fixed 16-slot arbitration table.
type Table struct {
	mu      sync.Mutex
	entries [numSlots]Entry
	used    [numSlots]bool
}

// NewTable builds an empty table.
func NewTable() *Table {
	return &Table{}
}

var (
	defaultMu    sync.Mutex
	defaultTable = NewTable()
	activePolicy Policy
)

// Init installs the process-wide policy and resets the active table to a
// fresh empty one. Call once during kernel bootstrap.
func Init(policy Policy) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	activePolicy = policy
	defaultTable = NewTable()
}

// UseTable swaps the active table, primarily so tests can exercise
// Request against a table they control directly.
func UseTable(t *Table) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultTable = t
}

func active() (*Table, Policy) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultTable, activePolicy
}

// Request asks for (typ, resourceID) on behalf of newOwner against the
// active table. Protocol, per the table's single lock:
//  1. scan for an existing entry matching (typ, resourceID)
//  2. if absent, insert at the first free slot, or return ErrDenied
//     wrapping resource exhaustion if the table is full
//  3. if present and already owned by newOwner, succeed as a no-op
//     (idempotent re-request)
//  4. if present and owned by someone else, ask the policy; grant
//     (rebinding the slot) only if it returns true
func Request(typ, resourceID, newOwner uint32) error {
	t, policy := active()
	return t.Request(policy, typ, resourceID, newOwner)
}

// Request runs the arbitration protocol against t directly.
func (t *Table) Request(policy Policy, typ, resourceID, newOwner uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	freeSlot := -1
	for i := 0; i < numSlots; i++ {
		if !t.used[i] {
			if freeSlot == -1 {
				freeSlot = i
			}
			continue
		}
		e := &t.entries[i]
		if e.Type != typ || e.ResourceID != resourceID {
			continue
		}
		if e.Owner == newOwner {
			return nil // idempotent
		}
		if policy == nil || !policy(t, typ, resourceID, e.Owner, newOwner) {
			logrus.WithFields(logrus.Fields{
				"type": typ, "resource_id": resourceID,
				"current_owner": e.Owner, "new_owner": newOwner,
			}).Warn("arbitration denied")
			return ErrDenied
		}
		e.Owner = newOwner
		return nil
	}

	if freeSlot == -1 {
		return errors.Wrap(ErrDenied, "arbitration table full")
	}
	t.entries[freeSlot] = Entry{Type: typ, ResourceID: resourceID, Owner: newOwner}
	t.used[freeSlot] = true
	return nil
}

// OwnerOf reports the current owner of (typ, resourceID), if bound.
func (t *Table) OwnerOf(typ, resourceID uint32) (owner uint32, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i < numSlots; i++ {
		if t.used[i] && t.entries[i].Type == typ && t.entries[i].ResourceID == resourceID {
			return t.entries[i].Owner, true
		}
	}
	return 0, false
}
