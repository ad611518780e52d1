// Package watcher turns fsnotify events under the sync root into mirror
// notifications.
//
// fsnotify watches single directories, so every directory below the root is
// added as it is discovered. A directory created with contents already inside
// gets synthetic Created notifications for those contents, since they may
// have appeared before its watch was in place. fsnotify has no move event: a
// Rename of the old path followed by a Create of the new one within the move
// window is reported as Moved, and a Rename with no matching Create becomes
// Deleted.
package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/osfoffline/osfsync/internal/mirror/events"
	"github.com/osfoffline/osfsync/internal/mirror/pathid"
)

// DefaultMoveWindow is how long a Rename waits for its Create.
const DefaultMoveWindow = 250 * time.Millisecond

// Watcher watches the sync root recursively.
type Watcher struct {
	watcher    *fsnotify.Watcher
	moveWindow time.Duration
	log        logrus.FieldLogger

	events  chan events.Notification
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	root    string

	// dirs maps the comparison key of every watched directory to its path.
	// Only the event goroutine touches it once Start returns.
	dirs map[string]string

	pending *rename
	expire  *time.Timer

	// moved holds sources of recently paired moves. A watched directory
	// reports its own Rename as well as its parent's, sometimes after the
	// Create that completed the move.
	moved map[string]time.Time
}

// rename is a Rename event waiting for its Create.
type rename struct {
	path  string
	isDir bool
}

// New creates a Watcher. It emits nothing until Start is called.
func New(log logrus.FieldLogger, moveWindow time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if moveWindow <= 0 {
		moveWindow = DefaultMoveWindow
	}

	return &Watcher{
		watcher:    fw,
		moveWindow: moveWindow,
		log:        log.WithField("component", "watcher"),
		events:     make(chan events.Notification, 256),
		errors:     make(chan error, 10),
		done:       make(chan struct{}),
		dirs:       make(map[string]string),
		moved:      make(map[string]time.Time),
	}, nil
}

// Start watches root and every directory below it.
func (w *Watcher) Start(root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	w.root = root
	if err := w.addTree(root, false); err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	w.log.WithFields(logrus.Fields{"root": root, "dirs": len(w.dirs)}).Info("watching sync root")
	return nil
}

// Stop stops watching and closes the Events and Errors channels. A Rename
// still waiting for its Create is discarded.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.wg.Wait()

	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the notification stream. It is closed by Stop.
func (w *Watcher) Events() <-chan events.Notification {
	return w.events
}

// Errors returns watcher errors, including fsnotify.ErrEventOverflow when
// the kernel queue overflowed and events were lost. It is closed by Stop.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// IsRunning returns true if the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	defer w.stopTimer()

	for {
		var expire <-chan time.Time
		if w.expire != nil {
			expire = w.expire.C
		}

		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.handle(event) {
				return
			}

		case <-expire:
			w.expire = nil
			if !w.flushPending() {
				return
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.log.Warn("event queue overflowed, changes were lost")
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

// handle converts one fsnotify event. It returns false once the watcher is
// shutting down.
func (w *Watcher) handle(event fsnotify.Event) bool {
	path := event.Name

	switch {
	case event.Has(fsnotify.Create):
		isDir := isDirectory(path)
		if w.pending != nil && w.pending.isDir != isDir {
			// A file cannot reappear as a directory; the two are unrelated.
			if !w.flushPending() {
				return false
			}
		}
		if w.pending != nil {
			from := *w.pending
			w.pending = nil
			w.stopTimer()
			w.rememberMove(from.path)
			if !w.emit(events.NewMoved(from.path, path, isDir)) {
				return false
			}
			if isDir {
				w.dropTree(from.path)
				if err := w.addTree(path, false); err != nil {
					w.log.WithError(err).WithField("path", path).Warn("failed to watch moved directory")
				}
			}
			return true
		}
		if !w.emit(events.NewCreated(path, isDir)) {
			return false
		}
		if isDir {
			if err := w.addTree(path, true); err != nil {
				w.log.WithError(err).WithField("path", path).Warn("failed to watch new directory")
			}
		}
		return true

	case event.Has(fsnotify.Rename):
		if w.duplicateRename(path) {
			return true
		}
		if !w.flushPending() {
			return false
		}
		w.pending = &rename{path: path, isDir: w.watched(path)}
		w.expire = time.NewTimer(w.moveWindow)
		return true

	case event.Has(fsnotify.Remove):
		isDir := w.watched(path)
		if isDir {
			w.dropTree(path)
		}
		return w.emit(events.NewDeleted(path, isDir))

	case event.Has(fsnotify.Write):
		if w.watched(path) {
			return true
		}
		return w.emit(events.NewModified(path, false))

	default:
		// Chmod carries no content change.
		return true
	}
}

// flushPending reports an unmatched Rename as Deleted.
func (w *Watcher) flushPending() bool {
	if w.pending == nil {
		return true
	}
	from := *w.pending
	w.pending = nil
	w.stopTimer()
	if from.isDir {
		w.dropTree(from.path)
	}
	return w.emit(events.NewDeleted(from.path, from.isDir))
}

func (w *Watcher) duplicateRename(path string) bool {
	id := pathid.New(path, false)
	if w.pending != nil && pathid.New(w.pending.path, false).SameLocation(id) {
		return true
	}
	at, ok := w.moved[id.Key()]
	if ok && time.Since(at) < w.moveWindow {
		delete(w.moved, id.Key())
		return true
	}
	return false
}

func (w *Watcher) rememberMove(path string) {
	now := time.Now()
	for key, at := range w.moved {
		if now.Sub(at) >= w.moveWindow {
			delete(w.moved, key)
		}
	}
	w.moved[pathid.New(path, false).Key()] = now
}

func (w *Watcher) stopTimer() {
	if w.expire != nil {
		w.expire.Stop()
		w.expire = nil
	}
}

func (w *Watcher) emit(n events.Notification) bool {
	select {
	case w.events <- n:
		return true
	case <-w.done:
		return false
	}
}

// addTree watches dir and every directory below it. With synthesize set,
// each entry found below dir is also emitted as a synthetic Created.
func (w *Watcher) addTree(dir string, synthesize bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path != dir && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			return nil
		}

		if d.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
			w.dirs[pathid.New(path, true).Key()] = path
		}

		if synthesize && path != dir {
			n := events.NewCreated(path, d.IsDir())
			n.Synthetic = true
			if !w.emit(n) {
				return filepath.SkipAll
			}
		}
		return nil
	})
}

// dropTree forgets dir and every watched directory below it.
func (w *Watcher) dropTree(dir string) {
	top := pathid.New(dir, true)
	for key, path := range w.dirs {
		if top.Contains(pathid.New(path, true)) {
			_ = w.watcher.Remove(path)
			delete(w.dirs, key)
		}
	}
}

func (w *Watcher) watched(path string) bool {
	_, ok := w.dirs[pathid.New(path, true).Key()]
	return ok
}

func isDirectory(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.IsDir()
}
