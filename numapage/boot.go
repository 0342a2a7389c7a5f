package numapage

import "github.com/sirupsen/logrus"

// Kinit1 frees every frame whose global index falls in the first half
// of each node's arena, with locking disabled -- this is the
// single-threaded bring-up walk over the kernel-mapped range in the
// original source. Calling it more than once double-frees frames and is
// a caller error (mirrors the original: kinit1 is called exactly once
// from boot).
func (a *Allocator) Kinit1() {
	a.seedRange(0, a.framesPerNode/2)
	logrus.Debug("numapage: kinit1 complete")
}

// Kinit2 frees the remaining frames in each node's arena and then
// permanently enables per-node locking. After this call returns, the
// allocator's phase can never move back to BringUp.
func (a *Allocator) Kinit2() {
	a.seedRange(a.framesPerNode/2, a.framesPerNode)
	a.phase.AdvanceToRunning()
	logrus.Debug("numapage: kinit2 complete, locking enabled")
}

// seedRange pushes frames [lo, hi) of every node directly onto that
// node's free list, without taking the node lock -- valid only before
// Kinit2 completes.
func (a *Allocator) seedRange(lo, hi int) {
	for _, n := range a.nodes {
		for k := lo; k < hi; k++ {
			va := n.base + uintptr(k)*PGSIZE
			n.free = append(n.free, va)
		}
	}
}
