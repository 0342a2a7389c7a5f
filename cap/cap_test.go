package cap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedSecret() [32]byte {
	var s [32]byte
	for i := range s {
		s[i] = byte(i)
	}
	return s
}

func TestNewVerifyRoundTrip(t *testing.T) {
	secret := fixedSecret()
	c := New(secret, 7, 0x3, 42)
	assert.True(t, Verify(secret, c))
}

func TestMutationInvalidatesTag(t *testing.T) {
	secret := fixedSecret()
	c := New(secret, 7, 0x3, 42)

	mutatedID := c
	mutatedID.ID = 8
	assert.False(t, Verify(secret, mutatedID))

	mutatedRights := c
	mutatedRights.Rights = 0x7
	assert.False(t, Verify(secret, mutatedRights))

	mutatedOwner := c
	mutatedOwner.Owner = 43
	assert.False(t, Verify(secret, mutatedOwner))
}

// TestScenarioA mirrors spec scenario A: a capability mutated after
// minting must fail verification, so no side effect runs off of it.
func TestScenarioA_ForgeryRejected(t *testing.T) {
	secret := fixedSecret()
	c := New(secret, 7, 0x3, 42)
	c.Rights = 0x7
	assert.False(t, Verify(secret, c))
}

func TestHashDeterministicAcrossCalls(t *testing.T) {
	secret := fixedSecret()
	a := New(secret, 1, 1, 1)
	b := New(secret, 1, 1, 1)
	assert.Equal(t, a.Tag, b.Tag)
}

func TestWireRoundTrip(t *testing.T) {
	secret := fixedSecret()
	c := New(secret, 99, 0xA, 5)

	raw, err := c.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, raw, CapWireSize)

	var out Cap
	require.NoError(t, out.UnmarshalBinary(raw))
	assert.Equal(t, c, out)
}

func TestTableAllocIncDecNoOp(t *testing.T) {
	table := NewTable(fixedSecret())

	c, err := table.Alloc(Page, uintptr(0x1000), 0x7, 1)
	require.NoError(t, err)
	require.True(t, table.Verify(c))

	require.NoError(t, table.Inc(c.ID))
	require.NoError(t, table.Dec(c.ID))

	// refcount should be back to 1, so a single Dec clears the row.
	released := false
	table.RegisterReleaseHook(Page, func(payload interface{}) { released = true })
	require.NoError(t, table.Dec(c.ID))
	assert.True(t, released)

	_, _, _, _, err = table.Lookup(c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTableDump(t *testing.T) {
	table := NewTable(fixedSecret())
	_, err := table.Alloc(IRQ, 4, 0, 9)
	require.NoError(t, err)

	dump := table.Dump()
	assert.Contains(t, dump, "irq: 1 live")
	assert.Contains(t, dump, "tag=")
	assert.Equal(t, 1, table.Count(IRQ))
}

func TestSecretsAreIndependent(t *testing.T) {
	a := NewSecret()
	b := NewSecret()
	assert.NotEqual(t, a, b)
}
