// Package observer runs the event threads that feed a composer: connector
// hotplug and software vsync
package observer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/bnema/hwcplane/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// HotplugEvent reports that the status file of a pipe's connector changed.
// The receiver re-reads the connector to learn the new state.
type HotplugEvent struct {
	Pipe int
	Path string
}

// HotplugObserver watches connector status files for changes
type HotplugObserver struct {
	mu      sync.Mutex
	paths   map[string]int
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHotplugObserver creates an observer for the given status path to pipe
// mapping. Empty paths are ignored.
func NewHotplugObserver(paths map[string]int) *HotplugObserver {
	h := &HotplugObserver{paths: make(map[string]int)}
	for path, pipe := range paths {
		if path == "" {
			continue
		}
		h.paths[filepath.Clean(path)] = pipe
	}
	return h
}

// Len returns the number of watched status files
func (h *HotplugObserver) Len() int {
	return len(h.paths)
}

// Start starts watching. The callback runs on the observer goroutine.
func (h *HotplugObserver) Start(ctx context.Context, callback func(HotplugEvent)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.watcher != nil {
		return fmt.Errorf("hotplug observer already started")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the parent directories so a status file that is replaced rather
	// than rewritten is still seen.
	dirs := make(map[string]bool)
	for path := range h.paths {
		dirs[filepath.Dir(path)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	var runCtx context.Context
	runCtx, h.cancel = context.WithCancel(ctx)
	h.watcher = watcher
	h.done = make(chan struct{})

	go h.run(runCtx, watcher, h.done, callback)

	logger.Debugf("Hotplug observer started on %d status files", len(h.paths))
	return nil
}

func (h *HotplugObserver) run(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}, callback func(HotplugEvent)) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Hotplug observer panic: %v", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			pipe, ok := h.paths[filepath.Clean(event.Name)]
			if !ok {
				continue
			}
			logger.Debugf("Hotplug: %s changed (pipe %d)", event.Name, pipe)
			callback(HotplugEvent{Pipe: pipe, Path: event.Name})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("Hotplug watcher error: %v", err)
		}
	}
}

// Stop stops watching and waits for the observer goroutine to exit
func (h *HotplugObserver) Stop() error {
	h.mu.Lock()
	watcher, cancel, done := h.watcher, h.cancel, h.done
	h.watcher, h.cancel, h.done = nil, nil, nil
	h.mu.Unlock()

	if watcher == nil {
		return nil
	}
	cancel()
	err := watcher.Close()
	<-done
	logger.Debug("Hotplug observer stopped")
	return err
}

// Run starts the observer and blocks until ctx is done
func (h *HotplugObserver) Run(ctx context.Context, callback func(HotplugEvent)) error {
	if err := h.Start(ctx, callback); err != nil {
		return err
	}
	<-ctx.Done()
	return h.Stop()
}
