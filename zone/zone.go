// Package zone implements the slab/zone allocator: a constant-size
// object pool carved out of pages fetched from numapage. kernel.Context
// creates zones by name and size; the capability table and the DAG
// scheduler keep their own bookkeeping and do not allocate from zones.
package zone

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/arclight-os/exocore/cap"
	"github.com/arclight-os/exocore/numapage"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// cellHeaderSize is the hidden prefix stored before every object: a
// 4-byte zone id (the corruption check) followed by a 4-byte next-free
// link.
const cellHeaderSize = 8

const noNext = -1

var zoneIDSeq atomic.Int32

type slab struct {
	raw    []byte
	cap    cap.Cap
	free   int32 // head of free-cell linked list, or noNext
	inuse  int
	cells  int
}

// Zone is a constant-size object pool. A Zone owns a growing list of
// slabs; each slab is exactly one page.
type Zone struct {
	mu       sync.Mutex
	name     string
	objSize  int
	zoneID   int32
	cellSize int
	cells    int
	pages    *numapage.Allocator
	owner    uint32
	slabs    []*slab
}

// New creates a zone of objects sized objSize, backed by pages.
func New(pages *numapage.Allocator, objSize int, name string, owner uint32) *Zone {
	cellSize := cellHeaderSize + objSize
	cellsPerPage := numapage.PGSIZE / cellSize
	if cellsPerPage < 1 {
		cellsPerPage = 1
	}
	return &Zone{
		name:     name,
		objSize:  objSize,
		zoneID:   zoneIDSeq.Add(1),
		cellSize: cellSize,
		cells:    cellsPerPage,
		pages:    pages,
		owner:    owner,
	}
}

// Handle names one allocated object. Data is the object-sized region the
// caller is free to use; the zone id that protects it lives just before
// Data in the slab's backing memory and is not addressable through Data.
type Handle struct {
	Data []byte

	slab   *slab
	offset int // cell start offset within slab.raw
}

func (z *Zone) newSlab() (*slab, error) {
	va, c, err := z.pages.Alloc(0, z.owner)
	if err != nil {
		return nil, err
	}
	raw := z.pages.Bytes(va)

	s := &slab{raw: raw, cap: c, cells: z.cells}
	for i := 0; i < z.cells; i++ {
		off := i * z.cellSize
		binary.LittleEndian.PutUint32(raw[off:off+4], uint32(z.zoneID))
		next := int32(noNext)
		if i+1 < z.cells {
			next = int32(i + 1)
		}
		binary.LittleEndian.PutUint32(raw[off+4:off+8], uint32(next))
	}
	s.free = 0
	z.slabs = append(z.slabs, s)
	return s, nil
}

// Alloc pops the first free cell of the first non-empty slab, fetching
// a new slab from the page allocator if every existing one is full.
func (z *Zone) Alloc() (Handle, error) {
	z.mu.Lock()
	defer z.mu.Unlock()

	var s *slab
	for _, candidate := range z.slabs {
		if candidate.free != noNext {
			s = candidate
			break
		}
	}
	if s == nil {
		var err error
		s, err = z.newSlab()
		if err != nil {
			return Handle{}, err
		}
	}

	idx := s.free
	off := int(idx) * z.cellSize
	s.free = int32(binary.LittleEndian.Uint32(s.raw[off+4 : off+8]))
	s.inuse++

	dataStart := off + cellHeaderSize
	h := Handle{
		Data:   s.raw[dataStart : dataStart+z.objSize : dataStart+z.objSize],
		slab:   s,
		offset: off,
	}
	return h, nil
}

// Free returns h's cell to its slab's free list. If the cell's stored
// zone id no longer matches this zone's id, Free panics with a zone
// dump rather than returning an error: this is a Fatal, non-recoverable
// condition (spec §7/§8 scenario F), matching numapage.Free's
// fatal-on-violation behavior.
func (z *Zone) Free(h Handle) {
	z.mu.Lock()
	defer z.mu.Unlock()

	gotZoneID := int32(binary.LittleEndian.Uint32(h.slab.raw[h.offset : h.offset+4]))
	if gotZoneID != z.zoneID {
		logrus.WithFields(logrus.Fields{"zone": z.name, "want_zone_id": z.zoneID, "got_zone_id": gotZoneID}).Error("zone corruption detected on free")
		panic(errors.Errorf("exocore: zone.Free: cell zone id mismatch (want %d, got %d)\n%s", z.zoneID, gotZoneID, z.dumpLocked()))
	}

	idx := int32(h.offset / z.cellSize)
	binary.LittleEndian.PutUint32(h.slab.raw[h.offset+4:h.offset+8], uint32(h.slab.free))
	h.slab.free = idx
	h.slab.inuse--
}

// CorruptForTest overwrites h's hidden zone id header with a mismatched
// value. It exists only so tests can reproduce the corruption-detection
// path (spec scenario F) without a real memory-safety bug.
func CorruptForTest(h Handle) {
	binary.LittleEndian.PutUint32(h.slab.raw[h.offset:h.offset+4], uint32(h.slab.free)+0xDEAD0000)
}

// Dump renders every slab's occupancy for this zone, for the fatal
// diagnostic printed alongside a corruption panic.
func (z *Zone) Dump() string {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.dumpLocked()
}

// dumpLocked is Dump's body, callable from paths that already hold mu
// (the corruption panic in Free).
func (z *Zone) dumpLocked() string {
	var b strings.Builder
	fmt.Fprintf(&b, "zone %q (id=%d, obj_size=%d):\n", z.name, z.zoneID, z.objSize)
	for i, s := range z.slabs {
		fmt.Fprintf(&b, "  slab %d: cap_id=%d inuse=%d/%d\n", i, s.cap.ID, s.inuse, s.cells)
	}
	return b.String()
}
