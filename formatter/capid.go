// Package formatter renders kernel identifiers (capability ids, hash
// tags) in the short form operators want in logs and CLI output.
package formatter

import (
	"encoding/hex"

	"github.com/docker/docker/pkg/stringid"
)

// CapID formats a capability table id for display.
type CapID struct {
	ID uint32
}

// Short renders the id as 8 hex digits and passes them through
// stringid.TruncateID, the helper that shortens a container id. That
// helper only cuts values longer than 12 characters, so a 32-bit id is
// always shown in full.
func (c CapID) Short() string {
	return stringid.TruncateID(hex.EncodeToString([]byte{
		byte(c.ID >> 24), byte(c.ID >> 16), byte(c.ID >> 8), byte(c.ID),
	}))
}

func (c CapID) String() string {
	return c.Short()
}

// HashTag formats a Hash256's first word as a short identifying string,
// for dump output where printing all four 64-bit words would be noise.
type HashTag struct {
	FirstWord uint64
}

func (h HashTag) Short() string {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(h.FirstWord >> (56 - 8*i))
	}
	return stringid.TruncateID(hex.EncodeToString(b))
}

func (h HashTag) String() string {
	return h.Short()
}
