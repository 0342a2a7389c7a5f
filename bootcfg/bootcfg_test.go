package bootcfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "boot.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
num_nodes = 4
frames_per_node = 256
slab_sizes = [8, 24]
device_tree_dir = "/boot/devtree"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.NumNodes)
	require.Equal(t, 256, cfg.FramesPerNode)
	require.Equal(t, "/boot/devtree", cfg.DeviceTreeDir)
	require.Equal(t, []int{8, 24}, cfg.SlabSizes)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestValidateRejectsNonPositiveFields(t *testing.T) {
	cfg := defaultConfig
	cfg.NumNodes = 0
	require.Error(t, cfg.Validate())

	cfg = defaultConfig
	cfg.FramesPerNode = -1
	require.Error(t, cfg.Validate())

	cfg = defaultConfig
	cfg.SlabSizes = []int{16, 0}
	require.Error(t, cfg.Validate())

	cfg = defaultConfig
	require.NoError(t, cfg.Validate())
}
