// Package dag implements a weighted DAG scheduler: nodes become Ready
// once every dependency they wait on has run, and the ready queue orders
// by descending weight with FIFO-of-Ready-moment as the tie-break.
package dag

import (
	"container/heap"
	"context"
	"sync"

	"github.com/arclight-os/exocore/cap"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// State is a node's position in the submission/execution lifecycle.
type State int

const (
	Unsubmitted State = iota
	Submitted
	Ready
	Running
	Done
)

func (s State) String() string {
	switch s {
	case Unsubmitted:
		return "unsubmitted"
	case Submitted:
		return "submitted"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// ErrAlreadySubmitted is returned by AddDep when either endpoint has
// already been submitted: the dependency graph is fixed at submission
// time, not mutated underneath a running scheduler.
var ErrAlreadySubmitted = errors.New("exocore: dag: cannot add a dependency to an already-submitted node")

// Node is a single schedulable vertex. Children/deps are held as plain
// slices of *Node pointing into the arena the caller owns; Node itself
// never allocates or owns another Node.
type Node struct {
	Ctx      cap.Cap
	Pending  int
	Priority int
	Weight   int
	Children []*Node
	Deps     []*Node
	Done     bool
	Failed   bool

	state     State
	readySeq  uint64
	heapIndex int
}

// Init resets n to a fresh Unsubmitted node carrying ctx.
func Init(n *Node, ctx cap.Cap) {
	*n = Node{Ctx: ctx, state: Unsubmitted, heapIndex: -1}
}

// SetPriority records n's informational priority (not used for ordering).
func (n *Node) SetPriority(p int) { n.Priority = p }

// SetWeight sets the ready-queue ordering weight.
func (n *Node) SetWeight(w int) { n.Weight = w }

// AddDep records that child depends on parent: child's Pending count
// rises by one and parent gains child in its Children list. Returns
// ErrAlreadySubmitted if either node has left the Unsubmitted state.
func AddDep(parent, child *Node) error {
	if parent.state != Unsubmitted || child.state != Unsubmitted {
		return ErrAlreadySubmitted
	}
	parent.Children = append(parent.Children, child)
	child.Deps = append(child.Deps, parent)
	child.Pending++
	return nil
}

// Switch performs a context switch from current to target, returning
// true if current should be considered to resume running afterward (the
// spec's "previous_runs_again" trait contract). Scheduler.Switch is
// pluggable per instance; tests install a stub that just records calls.
type Switch func(current, target *Node) bool

type readyHeap []*Node

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].Weight != h[j].Weight {
		return h[i].Weight > h[j].Weight // descending weight
	}
	return h[i].readySeq < h[j].readySeq // FIFO tie-break
}
func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *readyHeap) Push(x interface{}) {
	n := x.(*Node)
	n.heapIndex = len(*h)
	*h = append(*h, n)
}
func (h *readyHeap) Pop() interface{} {
	old := *h
	l := len(old)
	n := old[l-1]
	old[l-1] = nil
	n.heapIndex = -1
	*h = old[:l-1]
	return n
}

// Scheduler owns the weighted ready queue for a set of nodes.
type Scheduler struct {
	mu      sync.Mutex
	ready   readyHeap
	seq     uint64
	current *Node

	table  *cap.Table
	Switch Switch
}

// NewScheduler builds an empty scheduler against table (used to verify
// each node's Ctx before it runs). switchFn may be nil, in which case
// RunNext performs no context-switch side effect (useful in tests that
// only care about ordering).
func NewScheduler(table *cap.Table, switchFn Switch) *Scheduler {
	s := &Scheduler{table: table, Switch: switchFn}
	heap.Init(&s.ready)
	return s
}

// Submit marks n Submitted and, if it has no outstanding dependencies,
// transitions it straight to Ready and pushes it onto the weighted
// ready queue.
func (s *Scheduler) Submit(n *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n.state = Submitted
	if n.Pending == 0 {
		s.makeReadyLocked(n)
	}
}

func (s *Scheduler) makeReadyLocked(n *Node) {
	n.state = Ready
	s.seq++
	n.readySeq = s.seq
	heap.Push(&s.ready, n)
	logrus.WithFields(logrus.Fields{"weight": n.Weight, "ready_seq": n.readySeq}).Debug("dag node ready")
}

// ErrEmpty is returned by RunNext when no node is Ready.
var ErrEmpty = errors.New("exocore: dag: no node ready to run")

// RunNext pops the highest-priority Ready node, runs the context switch
// with the lock released, then — under the lock again — decrements each
// child's Pending and promotes any child that reaches zero to Ready. A
// node whose Ctx fails table verification never runs: it is marked Done
// with Failed set, and its children proceed exactly as if it had
// succeeded. ctx is honored only as an early-out before the pop; the
// context switch itself, once started, always completes.
func (s *Scheduler) RunNext(ctx context.Context) (*Node, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.Lock()
	if s.ready.Len() == 0 {
		s.mu.Unlock()
		return nil, ErrEmpty
	}
	n := heap.Pop(&s.ready).(*Node)
	n.state = Running
	prev := s.current
	s.mu.Unlock()

	if s.table.Verify(n.Ctx) {
		if s.Switch != nil {
			s.Switch(prev, n)
		}
	} else {
		n.Failed = true
		logrus.WithFields(logrus.Fields{"cap_id": n.Ctx.ID}).Error("dag node capability failed verification, skipping run")
	}

	s.mu.Lock()
	s.current = n
	n.state = Done
	n.Done = true
	for _, child := range n.Children {
		child.Pending--
		if child.Pending == 0 && child.state == Submitted {
			s.makeReadyLocked(child)
		}
	}
	s.mu.Unlock()

	return n, nil
}

// Len reports how many nodes currently sit in the ready queue.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready.Len()
}
