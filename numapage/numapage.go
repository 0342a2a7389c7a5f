// Package numapage implements the NUMA-aware physical page allocator:
// one free list per node, each frame bound lazily to a capability the
// first time it is touched.
package numapage

import (
	"sync"
	"unsafe"

	"github.com/arclight-os/exocore/bootphase"
	"github.com/arclight-os/exocore/cap"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// PGSIZE is the frame size every allocation and free operates on.
const PGSIZE = 4096

// FullRights marks a page capability as unrestricted; the exokernel
// hands out full rights on first touch and leaves rights narrowing to
// whatever maps the page down for sharing (out of scope here, spec §3).
const FullRights = 0xFFFFFFFF

// node is one NUMA partition: an mmap-backed arena carved into PGSIZE
// frames, plus the LIFO free list of currently-unused frames in it.
type node struct {
	mu     sync.Mutex
	free   []uintptr // VA stack, LIFO
	arena  []byte    // mmap'd backing memory for this node
	base   uintptr
}

// frameDescriptor is the per-physical-frame bookkeeping row: either the
// frame has no capability bound yet (capID == 0) or it has been bound
// exactly once, and the binding persists across subsequent free/alloc
// cycles of the same frame (the capability table entry is not torn down
// on free, as in the original source's lazily bound page capabilities).
type frameDescriptor struct {
	capID uint32
}

// Allocator is the NUMA page allocator's kernel-wide state: NNODES
// partitions sharing one capability table.
type Allocator struct {
	table *cap.Table
	phase bootphase.Phase

	nodes         []*node
	framesPerNode int
	pageSize      int

	frames    []frameDescriptor // indexed by global frame index
	vaToIndex map[uintptr]int

	kernelEnd uintptr // lowest valid VA (simulated "end of kernel image")
	physTop   uintptr // simulated PHYSTOP, in bytes
}

// NewAllocator mmaps numNodes independent anonymous arenas of
// framesPerNode*PGSIZE bytes each and wires them to table. No frame is
// on any free list yet; call Kinit1 then Kinit2 to populate them, per
// the two-phase boot protocol.
func NewAllocator(table *cap.Table, numNodes, framesPerNode int) (*Allocator, error) {
	if numNodes <= 0 || framesPerNode <= 0 {
		return nil, errors.New("exocore: numapage requires at least one node and one frame per node")
	}

	a := &Allocator{
		table:         table,
		framesPerNode: framesPerNode,
		pageSize:      PGSIZE,
		vaToIndex:     make(map[uintptr]int),
	}

	totalFrames := numNodes * framesPerNode
	a.frames = make([]frameDescriptor, totalFrames)
	a.physTop = uintptr(totalFrames) * PGSIZE

	for n := 0; n < numNodes; n++ {
		arena, err := unix.Mmap(-1, 0, framesPerNode*PGSIZE,
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
		if err != nil {
			a.releaseArenas(n)
			return nil, errors.Wrapf(err, "exocore: mmap numa node %d arena", n)
		}
		nd := &node{arena: arena, base: uintptr(unsafe.Pointer(&arena[0]))}
		a.nodes = append(a.nodes, nd)

		for k := 0; k < framesPerNode; k++ {
			va := nd.base + uintptr(k)*PGSIZE
			idx := k*numNodes + n // interleave so idx % numNodes == n, matching the canonical node function
			a.vaToIndex[va] = idx
		}
	}
	a.kernelEnd = a.nodes[0].base

	logrus.WithFields(logrus.Fields{"nodes": numNodes, "frames_per_node": framesPerNode}).Info("numapage arenas mapped")
	return a, nil
}

func (a *Allocator) releaseArenas(upTo int) {
	for i := 0; i < upTo; i++ {
		_ = unix.Munmap(a.nodes[i].arena)
	}
}

// Close unmaps every node arena. Not part of the original source (which
// never tears down a running kernel's memory) but necessary here since
// tests create and discard many Allocators in one process.
func (a *Allocator) Close() error {
	var firstErr error
	for _, n := range a.nodes {
		if err := unix.Munmap(n.arena); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *Allocator) numNodes() int { return len(a.nodes) }

func (a *Allocator) nodeOf(idx int) int { return idx % a.numNodes() }
