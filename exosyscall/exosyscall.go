// Package exosyscall implements the core's syscall surface: the thin
// marshaling layer between wire-format arguments and the subsystems a
// *kernel.Context holds. Every entry point verifies its capability
// argument before any side effect and reports a recoverable failure as
// an error, never a bare panic: capability and allocation failures use
// the cap package's sentinel kinds, while IPC status failures and an
// invalid NUMA node are reported with errors local to this package.
package exosyscall

import (
	"github.com/arclight-os/exocore/cap"
	"github.com/arclight-os/exocore/ipc"
	"github.com/arclight-os/exocore/kernel"
	"github.com/pkg/errors"
)

// FastIPCSyscall is the dedicated syscall number (spec: hex 0x30) that
// short-circuits the dispatch table straight to ipc.Send/ipc.Recv.
const FastIPCSyscall = 0x30

// ErrNotImplemented describes a syscall named in the wire format for
// context only, one that belongs to an external consumer out of this
// core's scope. No entry point in this package returns it: the
// context-only stubs Mappte and SetTimerUpcall return cap.ErrUnauthorized.
var ErrNotImplemented = errors.New("exocore: exosyscall: not implemented by this core, see owning external subsystem")

// Surface binds a *kernel.Context to the syscall entry points below. All
// methods are safe for concurrent use to the extent the underlying
// subsystems are (cap.Table, numapage.Allocator, etc. are all
// independently synchronized).
type Surface struct {
	Ctx *kernel.Context
}

// NewSurface wraps ctx.
func NewSurface(ctx *kernel.Context) *Surface {
	return &Surface{Ctx: ctx}
}

// ExoAllocPage allocates a frame on preferredNode for owner.
func (s *Surface) ExoAllocPage(preferredNode int, owner uint32) (cap.Cap, error) {
	_, c, err := s.Ctx.Pages.Alloc(preferredNode, owner)
	if err != nil {
		return cap.Cap{}, err
	}
	return c, nil
}

// ExoUnbindPage verifies c, then frees the frame it names. Verification
// happens strictly before any side effect (spec testable property 7).
func (s *Surface) ExoUnbindPage(c cap.Cap, va uintptr) error {
	if !s.Ctx.Table.Verify(c) {
		return cap.ErrInvalidCapability
	}
	s.Ctx.Pages.Free(va)
	return s.Ctx.Table.Dec(c.ID)
}

// ExoAllocBlock mints a Block capability over (dev, rights) for owner.
func (s *Surface) ExoAllocBlock(dev, rights, owner uint32) (cap.Cap, error) {
	return s.Ctx.Table.Alloc(cap.Block, dev, rights, owner)
}

// BlockDevice is the minimal block-storage surface ExoBindBlock,
// ExoFlushBlock, ExoReadDisk, and ExoWriteDisk transfer data through.
// The int64 argument is a block number, not a byte offset
// (FileBlockDevice multiplies it by its block size). Tests back it with
// an afero.MemMapFs file.
type BlockDevice interface {
	ReadBlockAt(off int64, buf []byte) (int, error)
	WriteBlockAt(off int64, buf []byte) (int, error)
}

// ExoBindBlock verifies c and, when write is true, writes data to the
// block device at block blockno. c itself carries no block number.
func (s *Surface) ExoBindBlock(dev BlockDevice, c cap.Cap, blockno int64, data []byte, write bool) error {
	if !s.Ctx.Table.Verify(c) {
		return cap.ErrInvalidCapability
	}
	if !write {
		return nil
	}
	_, err := dev.WriteBlockAt(blockno, data)
	return err
}

// ExoFlushBlock verifies c and persists data to the block device.
//
// Open question resolution: the source defines this syscall twice, once
// propagating exo_bind_block's result and once unconditionally
// returning 0. This implementation keeps the first contract and
// propagates the underlying error, since silently swallowing it
// contradicts the "every recoverable error surfaces to the syscall
// boundary" propagation policy.
func (s *Surface) ExoFlushBlock(dev BlockDevice, c cap.Cap, blockno int64, data []byte) error {
	return s.ExoBindBlock(dev, c, blockno, data, true)
}

// ExoYieldTo verifies the context capability c and returns. It performs
// no context switch: neither the scheduler nor the Context's Switch
// trait is invoked.
func (s *Surface) ExoYieldTo(c cap.Cap) error {
	if !s.Ctx.Table.Verify(c) {
		return cap.ErrInvalidCapability
	}
	return nil
}

// ExoReadDisk verifies c and reads len(dst) bytes from dev into dst,
// starting at block number off.
func (s *Surface) ExoReadDisk(dev BlockDevice, c cap.Cap, dst []byte, off int64) (int, error) {
	if !s.Ctx.Table.Verify(c) {
		return 0, cap.ErrInvalidCapability
	}
	return dev.ReadBlockAt(off, dst)
}

// ExoWriteDisk verifies c and writes src to dev, starting at block
// number off.
func (s *Surface) ExoWriteDisk(dev BlockDevice, c cap.Cap, src []byte, off int64) (int, error) {
	if !s.Ctx.Table.Verify(c) {
		return 0, cap.ErrInvalidCapability
	}
	return dev.WriteBlockAt(off, src)
}

// ExoAllocIOPort mints an IOPort capability naming port, for owner.
func (s *Surface) ExoAllocIOPort(port, owner uint32) (cap.Cap, error) {
	return s.Ctx.Table.Alloc(cap.IOPort, port, 0, owner)
}

// ExoBindIRQ mints an IRQ capability naming irq, for owner.
func (s *Surface) ExoBindIRQ(irq, owner uint32) (cap.Cap, error) {
	return s.Ctx.Table.Alloc(cap.IRQ, irq, 0, owner)
}

// ExoAllocDMA mints a DMA capability naming chan, for owner.
func (s *Surface) ExoAllocDMA(channel, owner uint32) (cap.Cap, error) {
	return s.Ctx.Table.Alloc(cap.DMA, channel, 0, owner)
}

// ExoSend verifies dest and dispatches through the registered IPC ops.
func (s *Surface) ExoSend(dest cap.Cap, buf []byte) (int, error) {
	if !s.Ctx.Table.Verify(dest) {
		return 0, cap.ErrInvalidCapability
	}
	n, status := ipc.Send(dest, buf)
	return n, statusToError(status)
}

// ExoRecv verifies src and dispatches through the registered IPC ops.
func (s *Surface) ExoRecv(src cap.Cap, buf []byte) (int, error) {
	if !s.Ctx.Table.Verify(src) {
		return 0, cap.ErrInvalidCapability
	}
	n, status := ipc.Recv(src, buf)
	return n, statusToError(status)
}

// ExoRecvTimed verifies src, then polls Recv at most timeout times. A
// timeout of 0 returns Timeout immediately without invoking recv at
// all (spec boundary behavior).
func (s *Surface) ExoRecvTimed(src cap.Cap, buf []byte, timeout int) (int, error) {
	if !s.Ctx.Table.Verify(src) {
		return 0, cap.ErrInvalidCapability
	}
	if timeout == 0 {
		return 0, errTimeout
	}
	n, status := ipc.RecvTimed(src, buf, timeout)
	return n, statusToError(status)
}

// EndpointSend is the named-endpoint variant of ExoSend: identical
// dispatch, distinct wire entry point per spec §6.
func (s *Surface) EndpointSend(dest cap.Cap, buf []byte) (int, error) {
	return s.ExoSend(dest, buf)
}

// EndpointRecv is the named-endpoint variant of ExoRecv.
func (s *Surface) EndpointRecv(src cap.Cap, buf []byte) (int, error) {
	return s.ExoRecv(src, buf)
}

// ProcAlloc mints a Context capability for a new process, owned by itself.
func (s *Surface) ProcAlloc(owner uint32) (cap.Cap, error) {
	return s.Ctx.Table.Alloc(cap.Context, nil, 0, owner)
}

// SetGas sets principal's gas balance outright.
func (s *Surface) SetGas(principal uint32, amount uint64) {
	s.Ctx.Gas.Set(principal, amount)
}

// GetGas returns principal's gas balance.
func (s *Surface) GetGas(principal uint32) uint64 {
	return s.Ctx.Gas.Get(principal)
}

// SetNUMANode is a no-op at the syscall layer: the preferred node is an
// argument to ExoAllocPage, not state the core persists per caller.
// Kept as a named entry point because spec §6 lists it on the wire.
func (s *Surface) SetNUMANode(node int) error {
	if node < 0 {
		return errors.New("exocore: exosyscall: negative NUMA node")
	}
	return nil
}

// SigSend overwrites pid's pending signal with sig. This is the
// minimal queue-one notification spec §9 carries in the core; the
// legacy SVR3/SVR4/BSD signal-emulation shims it explicitly excludes
// are not implemented.
func (s *Surface) SigSend(pid uint32, sig int) error {
	s.Ctx.Signals.Send(pid, sig)
	return nil
}

// SigCheck consumes and returns pid's pending signal, if any. Like
// GetGas, pid is passed explicitly: this core has no ambient caller
// identity threaded through the syscall surface.
func (s *Surface) SigCheck(pid uint32) (int, bool) {
	return s.Ctx.Signals.Check(pid)
}

// CapInc increments id's refcount.
func (s *Surface) CapInc(id uint32) error {
	return s.Ctx.Table.Inc(id)
}

// CapDec decrements id's refcount.
func (s *Surface) CapDec(id uint32) error {
	return s.Ctx.Table.Dec(id)
}

// IPCFast is the syscall 0x30 fast path: it dispatches straight into
// ipc.Send/ipc.Recv without going through ExoSend/ExoRecv's additional
// framing, but must still verify the capability first and produce
// results indistinguishable from the table path.
func (s *Surface) IPCFast(send bool, c cap.Cap, buf []byte) (int, error) {
	if !s.Ctx.Table.Verify(c) {
		return 0, cap.ErrInvalidCapability
	}
	if send {
		n, status := ipc.Send(c, buf)
		return n, statusToError(status)
	}
	n, status := ipc.Recv(c, buf)
	return n, statusToError(status)
}

// Mappte and SetTimerUpcall are named in spec §6 as context only: they
// belong to the page-table and timer-upcall consumers this core does
// not implement.
func (s *Surface) Mappte(va, pa uintptr, perm uint32) error {
	return cap.ErrUnauthorized
}

func (s *Surface) SetTimerUpcall(fn uintptr) error {
	return cap.ErrUnauthorized
}

var errTimeout = errors.New("exocore: exosyscall: recv timed out")

func statusToError(status ipc.Status) error {
	switch status {
	case ipc.Success:
		return nil
	case ipc.Timeout:
		return errTimeout
	case ipc.Again:
		return errors.New("exocore: exosyscall: would block")
	case ipc.BadDest:
		return errors.New("exocore: exosyscall: bad ipc destination")
	default:
		return errors.Errorf("exocore: exosyscall: unknown ipc status %d", status)
	}
}
