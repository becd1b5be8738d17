package logwatch

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nimbusdp/slaved/pkg/log"
)

// CrashLogEvent names a crash-log breadcrumb that appeared on disk.
type CrashLogEvent struct {
	PID  int
	Path string
}

// FSWatcher wraps an fsnotify watcher scoped to a single directory.
type FSWatcher struct {
	watcher *fsnotify.Watcher
	events  chan CrashLogEvent
	done    chan struct{}

	seen    map[int]time.Time // touched only from run's goroutine
	dirPath string
}

// New starts watching dir for crash-log files. Callers must call Close
// when done.
func New(dir string) (*FSWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("logwatch: create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("logwatch: watch %s: %w", dir, err)
	}

	fw := &FSWatcher{
		watcher: w,
		events:  make(chan CrashLogEvent, 64),
		done:    make(chan struct{}),
		seen:    make(map[int]time.Time),
		dirPath: dir,
	}
	go fw.run()
	return fw, nil
}

// Events delivers one CrashLogEvent per newly observed crash-log file,
// de-duplicated per pid: an event for a pid less than dedupeWindow after
// the previous event seen for that pid is dropped, so a file written twice
// in quick succession produces a single event.
func (fw *FSWatcher) Events() <-chan CrashLogEvent {
	return fw.events
}

// Close stops the underlying fsnotify watcher.
func (fw *FSWatcher) Close() error {
	close(fw.done)
	return fw.watcher.Close()
}

const dedupeWindow = 2 * time.Second

func (fw *FSWatcher) run() {
	logger := log.WithComponent("logwatch")
	for {
		select {
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			pid, ok := parseSlavePID(ev.Name)
			if !ok {
				continue
			}
			if fw.recentlySeen(pid) {
				continue
			}
			select {
			case fw.events <- CrashLogEvent{PID: pid, Path: ev.Name}:
			case <-fw.done:
				return
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Str("dir", fw.dirPath).Msg("log watcher error")
		case <-fw.done:
			return
		}
	}
}

func (fw *FSWatcher) recentlySeen(pid int) bool {
	now := time.Now()
	last, ok := fw.seen[pid]
	fw.seen[pid] = now
	return ok && now.Sub(last) < dedupeWindow
}

// parseSlavePID extracts the pid from a path of the form
// ".../slave.<pid>".
func parseSlavePID(path string) (int, bool) {
	base := filepath.Base(path)
	suffix := strings.TrimPrefix(base, "slave.")
	if suffix == base {
		return 0, false
	}
	pid, err := strconv.Atoi(suffix)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
