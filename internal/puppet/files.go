package puppet

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// createdWatcher records files created under a directory for the span of
// one agent call. New subdirectories are added to the watch as they
// appear, since fsnotify watches are not recursive.
type createdWatcher struct {
	root    string
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu      sync.Mutex
	created map[string]bool
}

func watchCreated(root string) (*createdWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	cw := &createdWatcher{
		root:    root,
		watcher: w,
		done:    make(chan struct{}),
		created: make(map[string]bool),
	}
	if err := cw.addTree(root); err != nil {
		w.Close()
		return nil, err
	}
	go cw.run()
	return cw, nil
}

func (cw *createdWatcher) run() {
	for {
		select {
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) {
				continue
			}
			rel, err := filepath.Rel(cw.root, ev.Name)
			if err != nil || ignoredPath(rel) {
				continue
			}
			info, err := os.Stat(ev.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				_ = cw.addTree(ev.Name)
				continue
			}
			cw.mu.Lock()
			cw.created[rel] = true
			cw.mu.Unlock()
		case _, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
		case <-cw.done:
			return
		}
	}
}

// stop ends the watch and returns the created files, sorted.
func (cw *createdWatcher) stop() []string {
	close(cw.done)
	cw.watcher.Close()

	cw.mu.Lock()
	defer cw.mu.Unlock()
	out := make([]string, 0, len(cw.created))
	for f := range cw.created {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (cw *createdWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if rel, relErr := filepath.Rel(cw.root, path); relErr == nil && ignoredPath(rel) {
			return filepath.SkipDir
		}
		return cw.watcher.Add(path)
	})
}

// ignoredPath filters VCS internals and dependency trees out of the
// created-file record.
func ignoredPath(rel string) bool {
	if rel == "." {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		switch part {
		case ".git", "node_modules", ".venv", "__pycache__":
			return true
		}
	}
	return false
}
