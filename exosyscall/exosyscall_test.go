package exosyscall

import (
	"testing"

	"github.com/arclight-os/exocore/arbitrate"
	"github.com/arclight-os/exocore/bootcfg"
	"github.com/arclight-os/exocore/cap"
	"github.com/arclight-os/exocore/ipc"
	"github.com/arclight-os/exocore/kernel"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newSurface(t *testing.T) *Surface {
	t.Helper()
	cfg := bootcfg.Config{NumNodes: 1, FramesPerNode: 4}
	ctx, err := kernel.NewContext(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })
	require.NoError(t, ctx.Bootstrap(func(t *arbitrate.Table, typ, resourceID, currentOwner, newOwner uint32) bool { return true }))
	return NewSurface(ctx)
}

// TestScenarioA mirrors spec scenario A: a capability mutated after
// minting must fail verification and ExoUnbindPage must not free
// anything.
func TestScenarioA_ForgeryRejected(t *testing.T) {
	s := newSurface(t)

	va, c, err := s.Ctx.Pages.Alloc(0, 42)
	require.NoError(t, err)

	forged := c
	forged.Rights = 0x7

	err = s.ExoUnbindPage(forged, va)
	require.ErrorIs(t, err, cap.ErrInvalidCapability)

	// The frame must still be bound: once the three frames that were
	// never allocated are taken, a further legitimate alloc call must not
	// be able to reuse it while the original capability is untouched.
	for i := 0; i < 3; i++ {
		_, _, err = s.Ctx.Pages.Alloc(0, 42)
		require.NoError(t, err)
	}
	_, _, err = s.Ctx.Pages.Alloc(0, 42)
	require.ErrorIs(t, err, cap.ErrResourceExhausted)
}

func TestExoAllocPageReturnsVerifiableCapability(t *testing.T) {
	s := newSurface(t)

	c, err := s.ExoAllocPage(0, 7)
	require.NoError(t, err)
	require.True(t, s.Ctx.Table.Verify(c))
}

func TestExoAllocIOPortIRQDMA(t *testing.T) {
	s := newSurface(t)

	c, err := s.ExoAllocIOPort(0x3f8, 1)
	require.NoError(t, err)
	require.True(t, s.Ctx.Table.Verify(c))

	c, err = s.ExoAllocDMA(2, 1)
	require.NoError(t, err)
	require.True(t, s.Ctx.Table.Verify(c))
}

func TestBlockCapWriteReadRoundTrip(t *testing.T) {
	s := newSurface(t)
	fs := afero.NewMemMapFs()
	dev, err := NewFileBlockDevice(fs, "/dev/disk0", 512)
	require.NoError(t, err)

	c, err := s.ExoAllocBlock(1, 0x3, 9)
	require.NoError(t, err)

	payload := make([]byte, 512)
	copy(payload, []byte("hello block device"))

	require.NoError(t, s.ExoBindBlock(dev, c, 0, payload, true))

	out := make([]byte, 512)
	n, err := s.ExoReadDisk(dev, c, out, 0)
	require.NoError(t, err)
	require.Equal(t, 512, n)
	require.Equal(t, payload, out)
}

func TestExoFlushBlockPropagatesVerificationFailure(t *testing.T) {
	s := newSurface(t)
	fs := afero.NewMemMapFs()
	dev, err := NewFileBlockDevice(fs, "/dev/disk0", 512)
	require.NoError(t, err)

	c, err := s.ExoAllocBlock(1, 0x3, 9)
	require.NoError(t, err)
	forged := c
	forged.Owner++

	err = s.ExoFlushBlock(dev, forged, 0, make([]byte, 512))
	require.ErrorIs(t, err, cap.ErrInvalidCapability)
}

// TestIPCFastMatchesTablePath asserts syscall 0x30 produces results
// indistinguishable from going through ExoSend/ExoRecv directly (spec
// §4.6/§6).
func TestIPCFastMatchesTablePath(t *testing.T) {
	s := newSurface(t)
	c, err := s.ProcAlloc(1)
	require.NoError(t, err)

	var sent []byte
	ipc.Register(ipc.Ops{
		Send: func(dest cap.Cap, buf []byte) (int, error) { sent = buf; return len(buf), nil },
		Recv: func(src cap.Cap, buf []byte) (int, error) { return copy(buf, sent), nil },
	})
	t.Cleanup(func() { ipc.Register(ipc.Ops{}) })

	nTable, errTable := s.ExoSend(c, []byte("payload"))
	nFast, errFast := s.IPCFast(true, c, []byte("payload"))
	require.Equal(t, errTable, errFast)
	require.Equal(t, nTable, nFast)

	bufTable := make([]byte, 7)
	bufFast := make([]byte, 7)
	n1, e1 := s.ExoRecv(c, bufTable)
	n2, e2 := s.IPCFast(false, c, bufFast)
	require.Equal(t, e1, e2)
	require.Equal(t, n1, n2)
	require.Equal(t, bufTable, bufFast)
}

func TestExoRecvTimedZeroTimeoutReturnsImmediately(t *testing.T) {
	s := newSurface(t)
	c, err := s.ProcAlloc(1)
	require.NoError(t, err)

	calls := 0
	ipc.Register(ipc.Ops{Recv: func(src cap.Cap, buf []byte) (int, error) { calls++; return 0, nil }})
	t.Cleanup(func() { ipc.Register(ipc.Ops{}) })

	_, err = s.ExoRecvTimed(c, make([]byte, 8), 0)
	require.Error(t, err)
	require.Equal(t, 0, calls)
}

func TestCapIncDecRoundTrip(t *testing.T) {
	s := newSurface(t)
	c, err := s.ProcAlloc(1)
	require.NoError(t, err)

	require.NoError(t, s.CapInc(c.ID))
	require.NoError(t, s.CapDec(c.ID))
	require.NoError(t, s.CapDec(c.ID)) // back to the original refcount of 1, then released
	require.ErrorIs(t, s.CapDec(c.ID), cap.ErrNotFound)
}

func TestGasSetGet(t *testing.T) {
	s := newSurface(t)
	s.SetGas(1, 500)
	require.Equal(t, uint64(500), s.GetGas(1))
}

func TestUnimplementedSyscallsReturnSentinel(t *testing.T) {
	s := newSurface(t)
	require.ErrorIs(t, s.Mappte(0, 0, 0), cap.ErrUnauthorized)
	require.ErrorIs(t, s.SetTimerUpcall(0), cap.ErrUnauthorized)
}

func TestSigSendThenSigCheckDeliversQueueOneSignal(t *testing.T) {
	s := newSurface(t)
	require.NoError(t, s.SigSend(1, 9))

	got, ok := s.SigCheck(1)
	require.True(t, ok)
	require.Equal(t, 9, got)

	_, ok = s.SigCheck(1)
	require.False(t, ok, "a delivered signal must not be checked again")
}

func TestSigSendOverwritesPendingSignal(t *testing.T) {
	s := newSurface(t)
	require.NoError(t, s.SigSend(1, 1))
	require.NoError(t, s.SigSend(1, 2))

	got, ok := s.SigCheck(1)
	require.True(t, ok)
	require.Equal(t, 2, got)
}
