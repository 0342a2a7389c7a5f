package devwatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReportsRemoval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "irq0")
	require.NoError(t, os.WriteFile(path, []byte("type=irq\n"), 0o644))

	w, err := New(Cfg{EventBufSize: 4, PollInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(w.Close)
	w.Add(path)

	require.NoError(t, os.Remove(path))

	select {
	case events := <-w.Events():
		require.Len(t, events, 1)
		require.Equal(t, path, events[0].Path)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for removal event")
	}
}

func TestRemoveStopsWatchingPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dma0")
	require.NoError(t, os.WriteFile(path, []byte("type=dma\n"), 0o644))

	w, err := New(Cfg{EventBufSize: 4, PollInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(w.Close)
	w.Add(path)
	w.Remove(path)

	require.NoError(t, os.Remove(path))

	select {
	case <-w.Events():
		t.Fatal("unexpected event for a path that was explicitly removed from the watch set")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNewRejectsOutOfRangePollInterval(t *testing.T) {
	_, err := New(Cfg{EventBufSize: 1, PollInterval: 0})
	require.Error(t, err)
}
