package coordinator

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// startWatch watches the store directory. Any write to the store file or
// its WAL schedules one refresh of the main context; bursts coalesce.
func (c *Coordinator) startWatch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(c.watchDir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %q: %w", c.watchDir, err)
	}
	c.watcher = w
	c.watchDone = make(chan struct{})
	go c.watchLoop(w, c.watchDone)
	c.logger.Info("watching shared store", "dir", c.watchDir, "file", c.watchName)
	return nil
}

func (c *Coordinator) watchLoop(w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			if !strings.HasPrefix(filepath.Base(ev.Name), c.watchName) {
				continue
			}
			c.scheduleRefresh()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			c.logger.Warn("store watcher error", "error", err)
		}
	}
}

// scheduleRefresh queues a main-context refresh unless one is already queued.
func (c *Coordinator) scheduleRefresh() {
	if !c.refreshPending.CompareAndSwap(false, true) {
		return
	}
	queued := c.main.Perform(func() {
		c.refreshPending.Store(false)
		if n := c.main.Refresh(); n > 0 {
			c.logger.Debug("main context refreshed from shared store", "dropped", n)
		}
	})
	if !queued {
		c.refreshPending.Store(false)
	}
}

func (c *Coordinator) stopWatch() {
	if c.watcher == nil {
		return
	}
	_ = c.watcher.Close()
	<-c.watchDone
	c.watcher = nil
}
