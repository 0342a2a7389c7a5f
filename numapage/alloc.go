package numapage

import (
	"bytes"

	"github.com/arclight-os/exocore/cap"
	"github.com/pkg/errors"
)

// Alloc pops a frame starting at preferredNode and cycling through the
// remaining nodes in increasing index order on a miss. The frame's
// capability is minted on first touch only; a frame that has already
// been bound keeps returning the same capability across its free/alloc
// lifetime (see frameDescriptor's doc comment). Returns
// cap.ErrResourceExhausted, touching nothing in the capability table, if
// every node's free list is empty.
func (a *Allocator) Alloc(preferredNode int, owner uint32) (uintptr, cap.Cap, error) {
	n := a.numNodes()
	start := ((preferredNode % n) + n) % n

	for i := 0; i < n; i++ {
		nodeIdx := (start + i) % n
		nd := a.nodes[nodeIdx]

		locked := a.phase.IsRunning()
		if locked {
			nd.mu.Lock()
		}
		var va uintptr
		var popped bool
		if l := len(nd.free); l > 0 {
			va = nd.free[l-1]
			nd.free = nd.free[:l-1]
			popped = true
		}
		if locked {
			nd.mu.Unlock()
		}

		if !popped {
			continue
		}

		idx := a.vaToIndex[va]
		c, err := a.bindFrame(idx, owner)
		if err != nil {
			return 0, cap.Cap{}, err
		}
		return va, c, nil
	}

	return 0, cap.Cap{}, cap.ErrResourceExhausted
}

// bindFrame mints a Page capability for global frame idx the first time
// it is touched and remembers the id thereafter.
func (a *Allocator) bindFrame(idx int, owner uint32) (cap.Cap, error) {
	fd := &a.frames[idx]
	if fd.capID != 0 {
		if c, err := a.table.CapFor(fd.capID); err == nil {
			return c, nil
		}
		// The table entry is gone (e.g. a test tore it down directly);
		// fall through and mint a fresh one for this frame.
	}

	pa := uintptr(idx) * PGSIZE
	c, err := a.table.Alloc(cap.Page, pa, FullRights, owner)
	if err != nil {
		return cap.Cap{}, err
	}
	fd.capID = c.ID
	return c, nil
}

// Free returns the frame backing va to its owning node's free list.
// Misaligned, below-kernel-end, or above-PHYSTOP addresses are an
// invariant breach and panic rather than returning an error, per the
// core's fatal-on-corruption policy.
func (a *Allocator) Free(va uintptr) {
	idx, ok := a.vaToIndex[va]
	if !ok || va%PGSIZE != 0 || va < a.kernelEnd {
		panic(errors.Errorf("exocore: numapage.Free: invalid frame address %#x", va))
	}
	pa := uintptr(idx) * PGSIZE
	if pa >= a.physTop {
		panic(errors.Errorf("exocore: numapage.Free: physical address %#x exceeds PHYSTOP", pa))
	}

	frame := frameBytes(a, idx)
	for i := range frame {
		frame[i] = 1 // junk pattern: catches dangling reads
	}

	nodeIdx := a.nodeOf(idx)
	nd := a.nodes[nodeIdx]

	locked := a.phase.IsRunning()
	if locked {
		nd.mu.Lock()
		defer nd.mu.Unlock()
	}
	nd.free = append(nd.free, va)
}

// Bytes returns the raw backing memory for an allocated frame, so
// layered allocators (zone) can carve it into smaller objects without
// this package needing to know about their layout.
func (a *Allocator) Bytes(va uintptr) []byte {
	idx, ok := a.vaToIndex[va]
	if !ok {
		panic(errors.Errorf("exocore: numapage.Bytes: %#x is not a frame this allocator owns", va))
	}
	return frameBytes(a, idx)
}

func frameBytes(a *Allocator, idx int) []byte {
	n := a.numNodes()
	nodeIdx := idx % n
	k := idx / n
	nd := a.nodes[nodeIdx]
	off := k * PGSIZE
	return nd.arena[off : off+PGSIZE]
}

// junkPattern is exposed for tests that want to assert a freed frame was
// actually scrubbed.
var junkPattern = bytes.Repeat([]byte{1}, PGSIZE)
