package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a workspace config file when it changes on disk. It never
// mutates a Registry: each successful reload yields a fresh one.
type Watcher struct {
	path     string
	onReload func(*Registry)
	watcher  *fsnotify.Watcher
	stop     chan struct{}
	done     chan struct{}

	mu          sync.Mutex
	fingerprint uint64
	closeOnce   sync.Once
}

// NewWatcher watches path and calls onReload with every new registry whose
// content differs from the last one seen. The directory is watched rather
// than the file so that editors replacing the file by rename are noticed.
func NewWatcher(path string, current *Registry, onReload func(*Registry)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:     abs,
		onReload: onReload,
		watcher:  fw,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if current != nil {
		w.fingerprint = current.Fingerprint()
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.Reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			wlog().Error("config watcher error: %v", err)
		}
	}
}

// Reload re-reads the file now. It reports whether onReload was called.
func (w *Watcher) Reload() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := os.ReadFile(w.path)
	if err != nil {
		// Rename-based saves briefly remove the file; the Create that follows
		// triggers another reload.
		wlog().Debug("reload of %s skipped: %v", w.path, err)
		return false
	}
	reg, err := ParseRegistry(data)
	if err != nil {
		wlog().Error("reload of %s failed, keeping previous registry: %v", w.path, err)
		return false
	}
	if reg.Fingerprint() == w.fingerprint {
		return false
	}
	reg.path = w.path
	w.fingerprint = reg.Fingerprint()
	wlog().Info("workspace config %s changed: %d workspaces", w.path, len(reg.names))
	if w.onReload != nil {
		w.onReload(reg)
	}
	return true
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stop)
		err = w.watcher.Close()
		<-w.done
	})
	return err
}
