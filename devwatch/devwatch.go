// Package devwatch notifies the boot sequence when a device descriptor
// file disappears from the device tree directory (e.g. an operator
// signaling a hot-unplug out of band), so the kernel context can react
// by releasing the corresponding capability. It uses a simple polling
// algorithm, not inotify: the device tree directory is expected to be
// small and checked infrequently compared to the syscall path.
package devwatch

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Cfg bounds the watcher's polling behavior.
type Cfg struct {
	EventBufSize int
	PollInterval time.Duration
}

// Polling interval limits.
const (
	PollMin = 1 * time.Millisecond
	PollMax = 10000 * time.Millisecond
)

// Event reports that path was found missing on a poll.
type Event struct {
	Path string
	Err  error
}

// Watcher polls a set of device descriptor paths for removal.
type Watcher struct {
	mu      sync.Mutex
	cfg     Cfg
	paths   map[string]bool
	eventCh chan []Event
	stopCh  chan struct{}
	running bool
}

// New builds a Watcher from cfg and starts its polling goroutine.
func New(cfg Cfg) (*Watcher, error) {
	if err := validateCfg(cfg); err != nil {
		return nil, err
	}

	w := &Watcher{
		cfg:     cfg,
		paths:   make(map[string]bool),
		eventCh: make(chan []Event, cfg.EventBufSize),
		stopCh:  make(chan struct{}),
		running: true,
	}
	go w.poll()
	return w, nil
}

// Add registers path to be watched for removal.
func (w *Watcher) Add(path string) {
	w.mu.Lock()
	w.paths[path] = true
	w.mu.Unlock()
}

// Remove stops watching path.
func (w *Watcher) Remove(path string) {
	w.mu.Lock()
	delete(w.paths, path)
	w.mu.Unlock()
}

// Events returns the channel removal events are delivered on.
func (w *Watcher) Events() <-chan []Event {
	return w.eventCh
}

// Close stops the polling goroutine.
func (w *Watcher) Close() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()
	close(w.stopCh)
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.checkPaths()
		}
	}
}

func (w *Watcher) checkPaths() {
	var missing []Event
	var toRemove []string

	w.mu.Lock()
	for path := range w.paths {
		exists, err := pathExists(path)
		if err != nil || !exists {
			missing = append(missing, Event{Path: path, Err: err})
			toRemove = append(toRemove, path)
		}
	}
	w.mu.Unlock()

	if len(missing) > 0 {
		w.eventCh <- missing
	}

	w.mu.Lock()
	for _, path := range toRemove {
		delete(w.paths, path)
	}
	w.mu.Unlock()
}

func pathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

func validateCfg(cfg Cfg) error {
	if cfg.PollInterval < PollMin || cfg.PollInterval > PollMax {
		return fmt.Errorf("devwatch: poll interval must be in range [%s, %s], got %s", PollMin, PollMax, cfg.PollInterval)
	}
	return nil
}
