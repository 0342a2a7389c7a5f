package rcu

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSynchronizeReturnsImmediatelyWhenQuiescent(t *testing.T) {
	s := NewState()
	err := s.Synchronize(context.Background())
	require.NoError(t, err)
}

func TestSynchronizeWaitsForReadersToDrain(t *testing.T) {
	s := NewState()
	s.ReadLock()

	done := make(chan error, 1)
	go func() { done <- s.Synchronize(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Synchronize returned before the reader unlocked")
	case <-time.After(20 * time.Millisecond):
	}

	s.ReadUnlock()
	require.NoError(t, <-done)
}

func TestSynchronizeHonorsContextCancellation(t *testing.T) {
	s := NewState()
	s.ReadLock()
	defer s.ReadUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := s.Synchronize(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReadUnlockWithoutLockPanics(t *testing.T) {
	s := NewState()
	require.Panics(t, func() { s.ReadUnlock() })
}

func TestConcurrentReadersCountedCorrectly(t *testing.T) {
	s := NewState()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.ReadLock()
			time.Sleep(time.Millisecond)
			s.ReadUnlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 0, s.Readers())
}
