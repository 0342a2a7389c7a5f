package kernel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arclight-os/exocore/arbitrate"
	"github.com/arclight-os/exocore/bootcfg"
	"github.com/arclight-os/exocore/cap"
	"github.com/stretchr/testify/require"
)

func allowAll(t *arbitrate.Table, typ, resourceID, currentOwner, newOwner uint32) bool {
	return true
}

func TestNewContextRejectsInvalidConfig(t *testing.T) {
	cfg := bootcfg.Config{}
	_, err := NewContext(cfg)
	require.Error(t, err)
}

func TestBootstrapAdvancesPhaseAndSeedsDevtree(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "irq0"), []byte("type=irq\nnumber=1\ndefault-owner=7\n"), 0o644))

	cfg := bootcfg.Config{NumNodes: 1, FramesPerNode: 4, DeviceTreeDir: dir}
	ctx, err := NewContext(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })

	require.False(t, ctx.Phase.IsRunning())
	require.NoError(t, ctx.Bootstrap(allowAll))
	require.True(t, ctx.Phase.IsRunning())

	owner, ok := ctx.Arbitrate.OwnerOf(uint32(cap.IRQ), 1)
	require.True(t, ok)
	require.Equal(t, uint32(7), owner)

	require.NotNil(t, ctx.DevWatch)
}

func TestBootstrapWithoutDeviceTreeLeavesDevWatchNil(t *testing.T) {
	cfg := bootcfg.Config{NumNodes: 1, FramesPerNode: 4}
	ctx, err := NewContext(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })

	require.NoError(t, ctx.Bootstrap(allowAll))
	require.Nil(t, ctx.DevWatch)
}

func TestBootstrapCalledTwicePanics(t *testing.T) {
	cfg := bootcfg.Config{NumNodes: 1, FramesPerNode: 4}
	ctx, err := NewContext(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })

	require.NoError(t, ctx.Bootstrap(allowAll))
	require.Panics(t, func() { _ = ctx.Bootstrap(allowAll) })
}

func TestBootstrapPreCreatesConfiguredSlabZones(t *testing.T) {
	cfg := bootcfg.Config{NumNodes: 1, FramesPerNode: 4, SlabSizes: []int{16, 32}}
	ctx, err := NewContext(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })
	require.NoError(t, ctx.Bootstrap(allowAll))

	z := ctx.Zone("slab-16", 16, 0)
	require.Same(t, z, ctx.zones["slab-16"], "Bootstrap should have already created this zone")
	require.Same(t, ctx.Zone("slab-32", 32, 0), ctx.zones["slab-32"])
}

func TestZoneIsCreatedOnceAndReused(t *testing.T) {
	cfg := bootcfg.Config{NumNodes: 1, FramesPerNode: 4}
	ctx, err := NewContext(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })
	require.NoError(t, ctx.Bootstrap(allowAll))

	z1 := ctx.Zone("nodes", 64, 1)
	z2 := ctx.Zone("nodes", 64, 1)
	require.Same(t, z1, z2)
}
