// Package devtree loads boot-time device descriptors: small key=value
// text files, one per IOPort/IRQ/DMA resource, that tell the boot
// sequence what to pre-seed into the capability table and arbitration
// table before the kernel starts taking requests. This is metadata
// loading only; it implements no driver.
package devtree

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
)

// Descriptor names one resource a boot-time device tree entry reserves.
type Descriptor struct {
	Type         string // "ioport", "irq", or "dma"
	Number       uint32
	DefaultOwner uint32
	Path         string // source file, for diagnostics
}

// Load walks dir for descriptor files and returns them sorted by path,
// so bootstrap sees a deterministic pre-seed order run to run.
func Load(dir string) ([]Descriptor, error) {
	var paths []string
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			paths = append(paths, path)
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "devtree: walking %s", dir)
	}
	sort.Strings(paths)

	descs := make([]Descriptor, 0, len(paths))
	for _, path := range paths {
		d, err := parseDescriptor(path)
		if err != nil {
			return nil, errors.Wrapf(err, "devtree: parsing %s", path)
		}
		descs = append(descs, d)
	}
	return descs, nil
}

func parseDescriptor(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, err
	}

	d := Descriptor{Path: path}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		switch key {
		case "type":
			d.Type = val
		case "number":
			n, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return Descriptor{}, errors.Wrapf(err, "invalid number %q", val)
			}
			d.Number = uint32(n)
		case "default-owner":
			n, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return Descriptor{}, errors.Wrapf(err, "invalid default-owner %q", val)
			}
			d.DefaultOwner = uint32(n)
		}
	}
	if d.Type == "" {
		return Descriptor{}, errors.Errorf("missing required field 'type'")
	}
	return d, nil
}
