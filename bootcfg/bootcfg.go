// Package bootcfg loads the kernel's boot-time configuration from a
// TOML file: NUMA topology, the slab sizes to pre-create at bring-up,
// and the device tree directory. The arbitration table size (16) and
// the fast-path IPC syscall number (0x30) are fixed protocol constants
// per spec, not boot-configurable, so they have no field here.
package bootcfg

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config is the fully-decoded boot configuration. kernel.NewContext
// takes exactly one of these, per the design note calling for "a single
// explicitly-initialized kernel context object, passed to every
// subsystem at init".
type Config struct {
	NumNodes      int    `toml:"num_nodes"`
	FramesPerNode int    `toml:"frames_per_node"`
	SlabSizes     []int  `toml:"slab_sizes"`
	DeviceTreeDir string `toml:"device_tree_dir"`
}

// defaultConfig mirrors the values a minimal single-node boot would use
// when a field is left unset in the TOML file.
var defaultConfig = Config{
	NumNodes:      1,
	FramesPerNode: 1024,
	SlabSizes:     []int{16, 32, 64, 128},
}

// Load decodes path into a Config, applying defaultConfig's values for
// any field the file does not set. A field the file sets explicitly,
// even to zero, keeps the file's value.
func Load(path string) (Config, error) {
	cfg := defaultConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("bootcfg: decoding %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports whether cfg is internally consistent enough to boot.
func (c Config) Validate() error {
	if c.NumNodes <= 0 {
		return fmt.Errorf("bootcfg: num_nodes must be positive, got %d", c.NumNodes)
	}
	if c.FramesPerNode <= 0 {
		return fmt.Errorf("bootcfg: frames_per_node must be positive, got %d", c.FramesPerNode)
	}
	for _, sz := range c.SlabSizes {
		if sz <= 0 {
			return fmt.Errorf("bootcfg: slab_sizes entries must be positive, got %d", sz)
		}
	}
	return nil
}
