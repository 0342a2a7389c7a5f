package cap

import (
	"encoding/hex"

	"github.com/docker/docker/pkg/stringid"
)

// NewSecret generates a fresh per-kernel-context capability secret. The
// original source this package is derived from used a single hardcoded
// 32-byte array shared by every boot; that made the tag reproducible
// across reboots of the same binary, which is unnecessary and makes the
// "process-local secret" the spec calls for moot. stringid.GenerateRandomID
// already draws from crypto/rand, so reusing it here -- truncated to 32
// bytes -- gives every kernel context an independent secret without
// hand-rolling a random source.
func NewSecret() [32]byte {
	var secret [32]byte
	id := stringid.GenerateRandomID() // 64 hex chars == 32 bytes
	raw, err := hex.DecodeString(id)
	if err != nil || len(raw) < 32 {
		// GenerateRandomID always returns 64 valid hex chars; this branch
		// exists only to keep NewSecret total rather than panicking on a
		// dependency behavior change.
		copy(secret[:], []byte(id))
		return secret
	}
	copy(secret[:], raw[:32])
	return secret
}
