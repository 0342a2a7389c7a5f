package formatter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCapIDShortIsDeterministic(t *testing.T) {
	c := CapID{ID: 0xdeadbeef}
	require.Equal(t, c.Short(), c.Short())
	require.Equal(t, c.String(), c.Short())
}

func TestHashTagShortIsDeterministic(t *testing.T) {
	h := HashTag{FirstWord: 0x0123456789abcdef}
	require.Equal(t, h.Short(), h.Short())
	require.NotEmpty(t, h.Short())
}
