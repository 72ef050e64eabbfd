package vault

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// fileWatcher notifies onChange whenever the vault file is written, created,
// or renamed over, whether by another process (e.g. a concurrent passman
// instance on the same host) or by this process's own saves.
// It watches the containing directory rather than the file itself so it
// survives the atomic rename-over pattern saveLocked uses.
type fileWatcher struct {
	w    *fsnotify.Watcher
	done chan struct{}
}

func newFileWatcher(path string, onChange func()) (*fileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	fw := &fileWatcher{w: w, done: make(chan struct{})}
	target := filepath.Clean(path)

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					onChange()
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			case <-fw.done:
				return
			}
		}
	}()

	return fw, nil
}

func (fw *fileWatcher) stop() {
	if fw == nil {
		return
	}
	close(fw.done)
	_ = fw.w.Close()
}
