package sig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendThenCheckRoundTrips(t *testing.T) {
	q := NewQueue()
	q.Send(1, 9)

	got, ok := q.Check(1)
	require.True(t, ok)
	require.Equal(t, 9, got)
}

func TestCheckWithoutSendReturnsFalse(t *testing.T) {
	q := NewQueue()
	_, ok := q.Check(1)
	require.False(t, ok)
}

func TestCheckConsumesPendingSignal(t *testing.T) {
	q := NewQueue()
	q.Send(1, 9)
	_, _ = q.Check(1)

	_, ok := q.Check(1)
	require.False(t, ok, "a checked signal must not be delivered twice")
}

func TestSecondSendOverwritesFirstBeforeCheck(t *testing.T) {
	q := NewQueue()
	q.Send(1, 1)
	q.Send(1, 2)

	got, ok := q.Check(1)
	require.True(t, ok)
	require.Equal(t, 2, got, "queue-one semantics: the later send wins")
}

func TestPrincipalsAreIndependent(t *testing.T) {
	q := NewQueue()
	q.Send(1, 5)

	_, ok := q.Check(2)
	require.False(t, ok)
}
