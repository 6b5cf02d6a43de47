// Package watcher turns filesystem events under a project root into
// FileChange records: debounced per path, diffed for text files, sized for
// binaries. The watcher never blocks its callback on I/O failures; unreadable
// files are logged and skipped.
package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/CodeHiveAPP/codehive/internal/logging"
	"github.com/CodeHiveAPP/codehive/internal/protocol"
)

const (
	debounceDelay   = 300 * time.Millisecond
	stabilityWindow = 200 * time.Millisecond
	stabilityPoll   = 50 * time.Millisecond
	stabilityCap    = 2 * time.Second
	cacheCapacity   = 500
	maxCachedBytes  = 1 << 20 // don't cache files bigger than the max frame
)

// Watcher watches a project tree and emits FileChange records.
type Watcher struct {
	root     string
	callback func(protocol.FileChange)
	ig       *ignorer
	cache    *contentCache

	fsw  *fsnotify.Watcher
	done chan struct{}

	mu         sync.Mutex
	debouncers map[string]func(func())
	pendingOp  map[string]fsnotify.Op
	closed     bool
}

// New builds a watcher rooted at dir. Events are delivered to callback one
// at a time per path; extraIgnore holds .codehive.yaml patterns.
func New(dir string, extraIgnore []string, callback func(protocol.FileChange)) *Watcher {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return &Watcher{
		root:       abs,
		callback:   callback,
		ig:         &ignorer{root: abs, extra: extraIgnore},
		cache:      newContentCache(cacheCapacity),
		done:       make(chan struct{}),
		debouncers: make(map[string]func(func())),
		pendingOp:  make(map[string]fsnotify.Op),
	}
}

// Start completes the initial recursive scan -- registering every watchable
// directory and priming the content cache -- before returning. Nothing seen
// during the scan is reported.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	if err := w.addTree(w.root); err != nil {
		fsw.Close()
		return err
	}

	go w.run()
	logging.L().Info("watching project", zap.String("root", w.root))
	return nil
}

// Stop tears the watcher down. Pending debounced events are dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	if w.fsw != nil {
		w.fsw.Close()
	}
}

// addTree walks dir, watches every non-ignored directory and primes the
// cache with text file contents so first changes diff against something.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree: skip, keep walking
		}
		if d.IsDir() {
			if path != dir && w.ig.ignoreDir(d.Name()) {
				return filepath.SkipDir
			}
			if werr := w.fsw.Add(path); werr != nil {
				logging.L().Warn("cannot watch directory", zap.String("path", path), zap.Error(werr))
			}
			return nil
		}
		if w.ig.ignorePath(path) || isBinaryPath(path) {
			return nil
		}
		if info, ierr := d.Info(); ierr == nil && info.Size() <= maxCachedBytes {
			if data, rerr := os.ReadFile(path); rerr == nil {
				w.cache.put(path, string(data))
			}
		}
		return nil
	})
}

// run is the fsnotify event loop.
func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.L().Warn("watcher error", zap.Error(err))
		}
	}
}

// handleEvent debounces one event per absolute path. A newer event for the
// same path replaces the pending one; events on different paths never
// coalesce.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name
	if w.ig.ignorePath(path) {
		return
	}

	var op fsnotify.Op
	switch {
	case event.Op.Has(fsnotify.Create):
		op = fsnotify.Create
	case event.Op.Has(fsnotify.Write):
		op = fsnotify.Write
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		op = fsnotify.Remove
	default:
		return // chmod etc.
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	// The latest op for the path is what gets processed after the quiet
	// period, so a remove right after a write wins. A write right after a
	// create keeps the create: the file is still new and reports as an add.
	if prev, pending := w.pendingOp[path]; !pending || prev != fsnotify.Create || op != fsnotify.Write {
		w.pendingOp[path] = op
	}
	deb, ok := w.debouncers[path]
	if !ok {
		deb = debounce.New(debounceDelay)
		w.debouncers[path] = deb
	}
	w.mu.Unlock()

	deb(func() { w.process(path) })
}

// process runs once per debounced path event.
func (w *Watcher) process(path string) {
	w.mu.Lock()
	op, ok := w.pendingOp[path]
	delete(w.pendingOp, path)
	w.mu.Unlock()
	if !ok {
		return
	}

	if op == fsnotify.Remove {
		w.emitUnlink(path)
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		// Created then deleted inside the debounce window.
		w.emitUnlink(path)
		return
	}
	if info.IsDir() {
		if op == fsnotify.Create && !w.ig.ignoreDir(filepath.Base(path)) {
			if werr := w.addTree(path); werr != nil {
				logging.L().Warn("cannot watch new directory", zap.String("path", path), zap.Error(werr))
			}
		}
		return
	}

	w.waitStable(path)

	changeType := protocol.ChangeModify
	if op == fsnotify.Create {
		changeType = protocol.ChangeAdd
	}
	if isBinaryPath(path) {
		w.emitBinary(path, changeType)
		return
	}
	w.emitText(path, changeType)
}

// waitStable polls until size and mtime hold still for the stability
// window, or the cap lapses. Editors that write in bursts settle here.
func (w *Watcher) waitStable(path string) {
	deadline := time.Now().Add(stabilityCap)
	var lastSize int64 = -1
	var lastMod time.Time
	stableFor := time.Duration(0)

	for time.Now().Before(deadline) {
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.Size() == lastSize && info.ModTime().Equal(lastMod) {
			stableFor += stabilityPoll
			if stableFor >= stabilityWindow {
				return
			}
		} else {
			stableFor = 0
			lastSize = info.Size()
			lastMod = info.ModTime()
		}
		time.Sleep(stabilityPoll)
	}
}

func (w *Watcher) rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func (w *Watcher) emitBinary(path, changeType string) {
	info, err := os.Stat(path)
	if err != nil {
		logging.L().Warn("stat failed, skipping event", zap.String("path", path), zap.Error(err))
		return
	}
	size := info.Size()
	w.callback(protocol.FileChange{
		Path:      w.rel(path),
		Type:      changeType,
		Timestamp: protocol.Now(),
		SizeAfter: &size,
	})
}

func (w *Watcher) emitText(path, changeType string) {
	data, err := os.ReadFile(path)
	if err != nil {
		logging.L().Warn("read failed, skipping event", zap.String("path", path), zap.Error(err))
		return
	}
	content := string(data)

	change := protocol.FileChange{
		Path:      w.rel(path),
		Type:      changeType,
		Timestamp: protocol.Now(),
	}

	previous, hadPrevious := w.cache.get(path)
	if changeType == protocol.ChangeAdd || !hadPrevious {
		change.Type = changeType
		change.LinesAdded = countLines(content)
	} else {
		result := diffLines(previous, content)
		change.Diff = result.Excerpt
		change.LinesAdded = result.LinesAdded
		change.LinesRemoved = result.LinesRemoved
	}

	if int64(len(data)) <= maxCachedBytes {
		w.cache.put(path, content)
	} else {
		w.cache.remove(path)
	}
	w.callback(change)
}

func (w *Watcher) emitUnlink(path string) {
	change := protocol.FileChange{
		Path:      w.rel(path),
		Type:      protocol.ChangeUnlink,
		Timestamp: protocol.Now(),
	}
	if !isBinaryPath(path) {
		if previous, ok := w.cache.get(path); ok {
			change.LinesRemoved = countLines(previous)
		}
	}
	w.cache.remove(path)
	w.callback(change)
}
