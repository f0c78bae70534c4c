package events

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// renameGrace bounds how long a Rename waits for a correlated Create of the
// destination path before it is reported using the pre-rename path instead.
const renameGrace = 250 * time.Millisecond

// Callback receives every normalized FileEvent. It must not block for long;
// a panicking callback is recovered and logged, the source continues.
type Callback func(FileEvent)

// Source watches one or more directory trees and emits normalized
// FileEvent values to a single callback. A Source is an owned handle:
// there is no package-level shared state, so two Sources can run
// concurrently and each is torn down independently by Stop.
type Source struct {
	watcher  *fsnotify.Watcher
	callback Callback
	recursive bool

	mu       sync.Mutex
	pending  map[string]*pendingRename // keyed by old path
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

type pendingRename struct {
	timer *time.Timer
}

// Start begins asynchronous emission of FileEvents to callback for the
// given paths. It does not block. Invalid paths are logged and skipped;
// other paths continue being watched.
func Start(callback Callback, paths []string, recursive bool) (*Source, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("events: creating watcher: %w", err)
	}

	if len(paths) == 0 {
		home, err := os.UserHomeDir()
		if err != nil {
			watcher.Close()
			return nil, fmt.Errorf("events: resolving default watch path: %w", err)
		}
		paths = []string{home}
	}

	s := &Source{
		watcher:   watcher,
		callback:  callback,
		recursive: recursive,
		pending:   make(map[string]*pendingRename),
		done:      make(chan struct{}),
	}

	watched := 0
	for _, p := range paths {
		if err := s.addTree(p); err != nil {
			log.Printf("events: skipping watch path %q: %v", p, err)
			continue
		}
		watched++
	}
	if watched == 0 {
		watcher.Close()
		return nil, fmt.Errorf("events: no valid watch paths among %v", paths)
	}

	s.wg.Add(1)
	go s.loop()

	return s, nil
}

// addTree adds path (and, if recursive, every subdirectory) to the watcher.
func (s *Source) addTree(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory")
	}

	if !s.recursive {
		return s.watcher.Add(path)
	}

	return filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			log.Printf("events: walk error at %q: %v", p, err)
			return nil
		}
		if fi.IsDir() {
			if werr := s.watcher.Add(p); werr != nil {
				log.Printf("events: cannot watch %q: %v", p, werr)
			}
		}
		return nil
	})
}

// Stop guarantees no further callback invocations after it returns.
// In-flight callbacks are allowed to complete. It joins the watcher
// goroutine with a bounded wait; on timeout it logs and returns rather
// than blocking process exit — the goroutine is daemonic.
func (s *Source) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.watcher.Close()
		// Cancel renames still waiting out their grace window so their
		// timers cannot invoke the callback after Stop returns.
		s.mu.Lock()
		for p, pr := range s.pending {
			pr.timer.Stop()
			delete(s.pending, p)
		}
		s.mu.Unlock()
	})

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		log.Printf("events: source did not stop within 5s, continuing shutdown")
	}
}

func (s *Source) loop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handle(ev)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("events: watcher error: %v", err)
		}
	}
}

func (s *Source) handle(ev fsnotify.Event) {
	info, statErr := os.Stat(ev.Name)
	isDir := statErr == nil && info.IsDir()

	switch {
	case ev.Op&fsnotify.Create != 0:
		if isDir && s.recursive {
			if err := s.addTree(ev.Name); err != nil {
				log.Printf("events: cannot watch new directory %q: %v", ev.Name, err)
			}
		}
		if isDir {
			return
		}
		if s.resolveRename(ev.Name) {
			return
		}
		s.emit(FileEvent{Timestamp: time.Now(), Kind: Create, Path: ev.Name})

	case ev.Op&fsnotify.Write != 0:
		if isDir {
			return
		}
		s.emit(FileEvent{Timestamp: time.Now(), Kind: Modify, Path: ev.Name})

	case ev.Op&fsnotify.Rename != 0:
		// fsnotify (inotify backend) reports a bare Rename on the old path;
		// the destination surfaces as a separate Create shortly after. Hold
		// the old path pending that correlated Create for a short grace
		// window rather than dropping the rename or misreporting the old
		// path as the destination.
		s.holdRename(ev.Name)

	case ev.Op&fsnotify.Remove != 0:
		if isDir {
			return
		}
		s.emit(FileEvent{Timestamp: time.Now(), Kind: Delete, Path: ev.Name})
	}
}

// holdRename registers oldPath as awaiting a correlated Create. If none
// arrives within renameGrace, the rename is reported using oldPath so a
// plain move-without-recreate is never silently dropped.
func (s *Source) holdRename(oldPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return
	default:
	}
	if _, exists := s.pending[oldPath]; exists {
		return
	}

	timer := time.AfterFunc(renameGrace, func() {
		s.mu.Lock()
		_, still := s.pending[oldPath]
		delete(s.pending, oldPath)
		s.mu.Unlock()
		if still {
			s.emit(FileEvent{Timestamp: time.Now(), Kind: Rename, Path: oldPath})
		}
	})
	s.pending[oldPath] = &pendingRename{timer: timer}
}

// resolveRename checks whether newPath's Create correlates with a pending
// rename; if so it fires the Rename event with the destination path and
// reports true (the caller must not also emit a Create for this path).
func (s *Source) resolveRename(newPath string) bool {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return false
	}
	// Any single pending rename within the grace window is treated as the
	// source of this create — fsnotify gives us no stronger correlation key
	// than temporal proximity for a bare rename/create pair.
	var oldPath string
	for p := range s.pending {
		oldPath = p
		break
	}
	pr := s.pending[oldPath]
	delete(s.pending, oldPath)
	s.mu.Unlock()

	pr.timer.Stop()
	s.emit(FileEvent{Timestamp: time.Now(), Kind: Rename, Path: newPath})
	return true
}

func (s *Source) emit(ev FileEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("events: callback panicked for event %+v: %v", ev, r)
		}
	}()
	s.callback(ev)
}
