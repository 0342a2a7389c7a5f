// Package kernel ties every subsystem together into a single
// explicitly-initialized context object, passed to every syscall entry
// point at init rather than left as ambient package-level state.
package kernel

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arclight-os/exocore/arbitrate"
	"github.com/arclight-os/exocore/bootcfg"
	"github.com/arclight-os/exocore/bootphase"
	"github.com/arclight-os/exocore/cap"
	"github.com/arclight-os/exocore/dag"
	"github.com/arclight-os/exocore/devtree"
	"github.com/arclight-os/exocore/devwatch"
	"github.com/arclight-os/exocore/gas"
	"github.com/arclight-os/exocore/ipc"
	"github.com/arclight-os/exocore/numapage"
	"github.com/arclight-os/exocore/rcu"
	"github.com/arclight-os/exocore/sig"
	"github.com/arclight-os/exocore/zone"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// devtreeKind maps a descriptor's Type string to the capability Kind it
// should be pre-seeded under.
func devtreeKind(t string) (cap.Kind, bool) {
	switch t {
	case "ioport":
		return cap.IOPort, true
	case "irq":
		return cap.IRQ, true
	case "dma":
		return cap.DMA, true
	default:
		return 0, false
	}
}

// ErrAlreadyRunning names the bring-up-only boundary a context crosses
// when it advances to Running. This boundary is permanent: Phase has no
// transition back to BringUp (spec: "must never be cleared once set").
// No function in this package returns it; Bootstrap called after
// Running panics instead.
var ErrAlreadyRunning = errors.New("exocore: kernel: operation only valid during bring-up")

// Context holds every subsystem the core exposes through exosyscall.
type Context struct {
	Phase     bootphase.Phase
	Table     *cap.Table
	Pages     *numapage.Allocator
	Arbitrate *arbitrate.Table
	Scheduler *dag.Scheduler
	RCU       *rcu.State
	Gas       *gas.Ledger
	Signals   *sig.Queue
	DevWatch  *devwatch.Watcher

	zonesMu sync.Mutex
	zones   map[string]*zone.Zone

	// Switch is the pluggable context-switch trait dag.Scheduler invokes.
	// Left nil, RunNext performs no side effect beyond bookkeeping.
	Switch dag.Switch

	cfg bootcfg.Config
}

// NewContext builds an un-booted Context from cfg. Call Bootstrap before
// using it for anything that requires the Running phase.
func NewContext(cfg bootcfg.Config) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	secret := cap.NewSecret()
	table := cap.NewTable(secret)
	pages, err := numapage.NewAllocator(table, cfg.NumNodes, cfg.FramesPerNode)
	if err != nil {
		return nil, errors.Wrap(err, "kernel: building page allocator")
	}

	ctx := &Context{
		Table:     table,
		Pages:     pages,
		Arbitrate: arbitrate.NewTable(),
		RCU:       rcu.NewState(),
		Gas:       gas.NewLedger(),
		Signals:   sig.NewQueue(),
		zones:     make(map[string]*zone.Zone),
		cfg:       cfg,
	}
	ctx.Scheduler = dag.NewScheduler(table, func(current, target *dag.Node) bool {
		if ctx.Switch != nil {
			return ctx.Switch(current, target)
		}
		return true
	})
	return ctx, nil
}

// Zone returns the named slab zone, creating it with the given object
// size on first use.
func (c *Context) Zone(name string, objSize int, owner uint32) *zone.Zone {
	c.zonesMu.Lock()
	defer c.zonesMu.Unlock()
	if z, ok := c.zones[name]; ok {
		return z
	}
	z := zone.New(c.Pages, objSize, name, owner)
	c.zones[name] = z
	return z
}

// Bootstrap runs the two-phase boot sequence: load the device tree,
// run Kinit1, pre-seed the arbitration and capability tables from the
// descriptors, run Kinit2, then advance the phase to Running. It is
// only valid to call once; calling it again panics, since BringUp is
// not reachable once Running.
func (c *Context) Bootstrap(arbitratePolicy arbitrate.Policy) error {
	if c.Phase.IsRunning() {
		panic("exocore: kernel: Bootstrap called after the phase already advanced to Running")
	}

	arbitrate.Init(arbitratePolicy)
	arbitrate.UseTable(c.Arbitrate)

	var descs []devtree.Descriptor
	if c.cfg.DeviceTreeDir != "" {
		var err error
		descs, err = devtree.Load(c.cfg.DeviceTreeDir)
		if err != nil {
			return errors.Wrap(err, "kernel: loading device tree")
		}
	}

	c.Pages.Kinit1()

	// Pre-create the zones bootcfg.Config.SlabSizes names, so the first
	// allocation of each size doesn't pay for a fresh slab under load.
	for _, sz := range c.cfg.SlabSizes {
		c.Zone(fmt.Sprintf("slab-%d", sz), sz, 0)
	}

	sort.Slice(descs, func(i, j int) bool { return descs[i].Path < descs[j].Path })
	for _, d := range descs {
		kind, ok := devtreeKind(d.Type)
		if !ok {
			logrus.WithField("type", d.Type).Warn("kernel: unrecognized device tree entry type, skipping")
			continue
		}
		if _, err := c.Table.Alloc(kind, d.Number, numapage.FullRights, d.DefaultOwner); err != nil {
			return errors.Wrapf(err, "kernel: pre-seeding capability for %s", d.Path)
		}
		if err := c.Arbitrate.Request(arbitratePolicy, uint32(kind), d.Number, d.DefaultOwner); err != nil {
			return errors.Wrapf(err, "kernel: pre-seeding arbitration for %s", d.Path)
		}
	}

	if len(descs) > 0 {
		w, err := devwatch.New(devwatch.Cfg{EventBufSize: 16, PollInterval: 50 * time.Millisecond})
		if err != nil {
			return errors.Wrap(err, "kernel: starting device tree watcher")
		}
		for _, d := range descs {
			w.Add(d.Path)
		}
		c.DevWatch = w
	}

	c.Pages.Kinit2()
	c.Phase.AdvanceToRunning()
	logrus.Info("kernel: bootstrap complete, phase advanced to running")
	return nil
}

// RunNext is a thin convenience wrapper over Scheduler.RunNext so
// callers don't need to reach into Context.Scheduler directly.
func (c *Context) RunNext(ctx context.Context) (*dag.Node, error) {
	return c.Scheduler.RunNext(ctx)
}

// RegisterIPC installs the process-wide send/recv ops table. ipc.Ops is
// held as a single atomically-swapped trait object rather than a field
// on Context, since every process in the address space shares the same
// transport regardless of which Context touched it last.
func (c *Context) RegisterIPC(ops ipc.Ops) {
	ipc.Register(ops)
}

// Close releases the page allocator's backing memory and stops the
// device tree watcher, if one was started during Bootstrap.
func (c *Context) Close() error {
	if c.DevWatch != nil {
		c.DevWatch.Close()
	}
	return c.Pages.Close()
}
