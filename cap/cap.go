package cap

import (
	"crypto/subtle"
	"encoding/binary"
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Kind identifies the resource a capability table entry names.
type Kind uint8

const (
	Page Kind = iota + 1
	Block
	IOPort
	IRQ
	DMA
	Context
	Endpoint
)

func (k Kind) String() string {
	switch k {
	case Page:
		return "page"
	case Block:
		return "block"
	case IOPort:
		return "ioport"
	case IRQ:
		return "irq"
	case DMA:
		return "dma"
	case Context:
		return "context"
	case Endpoint:
		return "endpoint"
	default:
		return "unknown"
	}
}

// Sentinel errors. Every recoverable failure a syscall boundary sees
// maps to exactly one of these (see exosyscall), mirroring the small
// negative-int error kinds this core's source used in C.
var (
	ErrInvalidCapability = errors.New("exocore: capability failed verification")
	ErrResourceExhausted = errors.New("exocore: resource exhausted")
	ErrUnauthorized      = errors.New("exocore: capability rights insufficient")
	ErrNotFound          = errors.New("exocore: capability id not present")
)

// CapWireSize is the on-the-wire size of a marshaled Cap: three u32
// fields followed by a four-word 64-bit tag.
const CapWireSize = 4 + 4 + 4 + 4*8

// Cap is the fundamental capability token. It verifies iff recomputing
// Tag from (ID, Rights, Owner) under the owning table's secret yields
// the stored value; an ID may be reused after a free, at which point its
// tag changes because a new Cap is minted for it.
type Cap struct {
	ID     uint32
	Rights uint32
	Owner  uint32
	Tag    Hash256
}

// ComputeTag derives the integrity tag for (id, rights, owner)
// under secret. The input record is secret || {u32 id; u32 rights; u32
// owner} in native little-endian order, hashed byte-wise.
func ComputeTag(secret [32]byte, id, rights, owner uint32) Hash256 {
	buf := make([]byte, 0, len(secret)+12)
	buf = append(buf, secret[:]...)
	var tmp [12]byte
	binary.LittleEndian.PutUint32(tmp[0:4], id)
	binary.LittleEndian.PutUint32(tmp[4:8], rights)
	binary.LittleEndian.PutUint32(tmp[8:12], owner)
	buf = append(buf, tmp[:]...)
	return computeHash256(buf)
}

// New mints a capability. Deterministic: calling New twice with the
// same arguments under the same secret produces the same tag.
func New(secret [32]byte, id, rights, owner uint32) Cap {
	return Cap{
		ID:     id,
		Rights: rights,
		Owner:  owner,
		Tag:    ComputeTag(secret, id, rights, owner),
	}
}

// Verify recomputes the tag and compares it to the stored one in
// constant time. A capability with any single field mutated in
// isolation fails verification.
func Verify(secret [32]byte, c Cap) bool {
	want := ComputeTag(secret, c.ID, c.Rights, c.Owner)
	return subtle.ConstantTimeCompare(tagBytes(want), tagBytes(c.Tag)) == 1
}

func tagBytes(h Hash256) []byte {
	b := make([]byte, 32)
	for i, w := range h.Parts {
		binary.LittleEndian.PutUint64(b[i*8:i*8+8], w)
	}
	return b
}

// MarshalBinary encodes c per the core's wire format: id, rights, owner
// as little-endian u32s, followed by the four tag words as
// little-endian u64s.
func (c Cap) MarshalBinary() ([]byte, error) {
	b := make([]byte, CapWireSize)
	binary.LittleEndian.PutUint32(b[0:4], c.ID)
	binary.LittleEndian.PutUint32(b[4:8], c.Rights)
	binary.LittleEndian.PutUint32(b[8:12], c.Owner)
	for i, w := range c.Tag.Parts {
		binary.LittleEndian.PutUint64(b[12+i*8:12+i*8+8], w)
	}
	return b, nil
}

// UnmarshalBinary decodes a capability from its wire format.
func (c *Cap) UnmarshalBinary(b []byte) error {
	if len(b) < CapWireSize {
		return errors.Errorf("exocore: short capability buffer: %d bytes", len(b))
	}
	c.ID = binary.LittleEndian.Uint32(b[0:4])
	c.Rights = binary.LittleEndian.Uint32(b[4:8])
	c.Owner = binary.LittleEndian.Uint32(b[8:12])
	for i := range c.Tag.Parts {
		c.Tag.Parts[i] = binary.LittleEndian.Uint64(b[12+i*8 : 12+i*8+8])
	}
	return nil
}

// BlockCap names a raw disk block. It carries no tag of its own; its
// integrity relies on the page or message that carries it also carrying
// a verified Cap (spec: block capabilities are not independently
// authenticated).
type BlockCap struct {
	Dev     uint32
	Blockno uint32
	Rights  uint32
	Owner   uint32
}

const BlockCapWireSize = 4 * 4

func (b BlockCap) MarshalBinary() ([]byte, error) {
	out := make([]byte, BlockCapWireSize)
	binary.LittleEndian.PutUint32(out[0:4], b.Dev)
	binary.LittleEndian.PutUint32(out[4:8], b.Blockno)
	binary.LittleEndian.PutUint32(out[8:12], b.Rights)
	binary.LittleEndian.PutUint32(out[12:16], b.Owner)
	return out, nil
}

func (b *BlockCap) UnmarshalBinary(data []byte) error {
	if len(data) < BlockCapWireSize {
		return errors.Errorf("exocore: short block capability buffer: %d bytes", len(data))
	}
	b.Dev = binary.LittleEndian.Uint32(data[0:4])
	b.Blockno = binary.LittleEndian.Uint32(data[4:8])
	b.Rights = binary.LittleEndian.Uint32(data[8:12])
	b.Owner = binary.LittleEndian.Uint32(data[12:16])
	return nil
}

// ReleaseHook runs when a table entry's refcount drops to zero. Hooks
// are registered per Kind with RegisterReleaseHook so the table stays
// ignorant of resource-specific teardown; no package in this module
// registers one, so outside tests a release only clears the row.
type ReleaseHook func(payload interface{})

type entry struct {
	kind    Kind
	payload interface{}
	rights  uint32
	owner   uint32
	refcnt  atomic.Uint32
}

// Table is the process-wide capability table: every physical resource
// the core hands out is named by a row here.
type Table struct {
	secret [32]byte

	mu      sync.Mutex
	entries map[uint32]*entry
	nextID  uint32
	byKind  map[Kind]mapset.Set

	hooksMu sync.Mutex
	hooks   map[Kind]ReleaseHook
}

// NewTable creates an empty capability table under the given secret.
// Use NewSecret to generate secret at boot (see secret.go); a fixed
// secret is useful only in tests that need reproducible tags.
func NewTable(secret [32]byte) *Table {
	return &Table{
		secret:  secret,
		entries: make(map[uint32]*entry),
		byKind:  make(map[Kind]mapset.Set),
		hooks:   make(map[Kind]ReleaseHook),
	}
}

// RegisterReleaseHook installs the teardown callback invoked when a Kind's
// refcount reaches zero. Intended to be called once per Kind during
// kernel bootstrap.
func (t *Table) RegisterReleaseHook(k Kind, hook ReleaseHook) {
	t.hooksMu.Lock()
	defer t.hooksMu.Unlock()
	t.hooks[k] = hook
}

// Alloc reserves a slot, sets refcnt to 1, and returns a verified Cap
// for it whose ID field is the new table id. Returns ErrResourceExhausted
// if the table cannot grow further (in practice this implementation is
// unbounded by slot count and only fails on id-space exhaustion, which
// callers size their deployment to avoid).
func (t *Table) Alloc(kind Kind, payload interface{}, rights, owner uint32) (Cap, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) >= int(^uint32(0)>>1) {
		return Cap{}, ErrResourceExhausted
	}

	var id uint32
	for {
		t.nextID++
		id = t.nextID
		if id == 0 {
			continue // never hand out id 0: it means "unbound" in numapage's frame descriptors
		}
		if _, taken := t.entries[id]; !taken {
			break
		}
	}

	e := &entry{kind: kind, payload: payload, rights: rights, owner: owner}
	e.refcnt.Store(1)
	t.entries[id] = e

	set, ok := t.byKind[kind]
	if !ok {
		set = mapset.NewSet()
		t.byKind[kind] = set
	}
	set.Add(id)

	c := New(t.secret, id, rights, owner)
	logrus.WithFields(logrus.Fields{"cap_id": id, "kind": kind, "owner": owner}).Debug("capability allocated")
	return c, nil
}

// Verify checks a capability against this table's secret. This is the
// table-level equivalent of the package-level Verify and is what every
// kernel entry point calls before touching a resource.
func (t *Table) Verify(c Cap) bool {
	return Verify(t.secret, c)
}

// Lookup returns the payload and live rights/owner for id, or
// ErrNotFound if the row is unallocated.
func (t *Table) Lookup(id uint32) (kind Kind, payload interface{}, rights, owner uint32, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return 0, nil, 0, 0, ErrNotFound
	}
	return e.kind, e.payload, e.rights, e.owner, nil
}

// CapFor reconstructs a verified Cap for an already-allocated id. Used
// by allocators that persist a capability id in their own bookkeeping
// (numapage's frame descriptors) and need to hand back a fresh, valid
// Cap value without storing the secret themselves.
func (t *Table) CapFor(id uint32) (Cap, error) {
	t.mu.Lock()
	e, ok := t.entries[id]
	t.mu.Unlock()
	if !ok {
		return Cap{}, ErrNotFound
	}
	return New(t.secret, id, e.rights, e.owner), nil
}

// Inc atomically increments id's refcount.
func (t *Table) Inc(id uint32) error {
	t.mu.Lock()
	e, ok := t.entries[id]
	t.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	e.refcnt.Add(1)
	return nil
}

// Dec atomically decrements id's refcount. On dec-to-zero the row is
// cleared and the kind's release hook, if any, runs with the table lock
// released.
func (t *Table) Dec(id uint32) error {
	t.mu.Lock()
	e, ok := t.entries[id]
	t.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	if e.refcnt.Add(^uint32(0)) != 0 { // decrement
		return nil
	}

	t.mu.Lock()
	delete(t.entries, id)
	if set, ok := t.byKind[e.kind]; ok {
		set.Remove(id)
	}
	t.mu.Unlock()

	t.hooksMu.Lock()
	hook := t.hooks[e.kind]
	t.hooksMu.Unlock()
	if hook != nil {
		hook(e.payload)
	}
	logrus.WithFields(logrus.Fields{"cap_id": id, "kind": e.kind}).Debug("capability released")
	return nil
}
