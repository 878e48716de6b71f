package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	pkglog "github.com/pitchside/broadcast-service/pkg/log"
)

var spoolNameRegex = regexp.MustCompile(`^([a-zA-Z0-9_-]+)_segment_(\d+)\.bin$`)

// SpoolFile is a segment file sitting in the local spool directory.
type SpoolFile struct {
	SessionID     string
	SegmentNumber int
	Path          string
}

// SpoolName builds the spool filename for a segment.
func SpoolName(sessionID string, segmentNumber int) string {
	return fmt.Sprintf("%s_segment_%d.bin", sessionID, segmentNumber)
}

// ParseSpoolName extracts the session and segment number from a spool
// filename. Returns false for files that are not spooled segments.
func ParseSpoolName(name string) (sessionID string, segmentNumber int, ok bool) {
	matches := spoolNameRegex.FindStringSubmatch(name)
	if len(matches) != 3 {
		return "", 0, false
	}
	n, err := strconv.Atoi(matches[2])
	if err != nil {
		return "", 0, false
	}
	return matches[1], n, true
}

// SpoolWatcher watches the spool directory and hands leftover segment
// files to a recovery callback. Segments land in the spool before upload
// and are removed after; anything still present after a crash or an
// exhausted retry run is recoverable work.
type SpoolWatcher struct {
	dir          string
	callback     func(SpoolFile)
	pollInterval time.Duration
	settleDelay  time.Duration

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	seen     map[string]bool
	stopOnce sync.Once
	done     chan struct{}
}

// NewSpoolWatcher creates a watcher over the spool directory. callback is
// invoked once per discovered file.
func NewSpoolWatcher(dir string, callback func(SpoolFile)) *SpoolWatcher {
	return &SpoolWatcher{
		dir:          dir,
		callback:     callback,
		pollInterval: 30 * time.Second,
		settleDelay:  2 * time.Second,
		seen:         make(map[string]bool),
		done:         make(chan struct{}),
	}
}

// Start scans the directory for leftovers and begins watching for files
// that stop changing.
func (w *SpoolWatcher) Start() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create spool directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch spool directory: %w", err)
	}

	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	go w.handleEvents(watcher)
	go w.poll()

	// Initial scan picks up files left by a previous run.
	w.scan()

	pkglog.L().Info().Str("dir", w.dir).Msg("spool watcher started")
	return nil
}

// Stop ends the watch.
func (w *SpoolWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.watcher != nil {
			w.watcher.Close()
		}
		w.mu.Unlock()
	})
}

// Forget drops a file from the seen set so a re-spooled segment with the
// same name is picked up again.
func (w *SpoolWatcher) Forget(name string) {
	w.mu.Lock()
	delete(w.seen, name)
	w.mu.Unlock()
}

func (w *SpoolWatcher) handleEvents(watcher *fsnotify.Watcher) {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				// Give the writer time to finish before scanning.
				time.AfterFunc(w.settleDelay, w.scan)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			pkglog.L().Warn().Err(err).Msg("spool watcher error")
		}
	}
}

func (w *SpoolWatcher) poll() {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.scan()
		}
	}
}

func (w *SpoolWatcher) scan() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		pkglog.L().Warn().Err(err).Msg("spool scan failed")
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		sessionID, segmentNumber, ok := ParseSpoolName(name)
		if !ok {
			continue
		}

		path := filepath.Join(w.dir, name)
		if !w.isStable(path) {
			continue
		}

		w.mu.Lock()
		if w.seen[name] {
			w.mu.Unlock()
			continue
		}
		w.seen[name] = true
		w.mu.Unlock()

		if w.callback != nil {
			go w.callback(SpoolFile{
				SessionID:     sessionID,
				SegmentNumber: segmentNumber,
				Path:          path,
			})
		}
	}
}

// isStable reports whether the file has stopped growing.
func (w *SpoolWatcher) isStable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return false
	}
	time.Sleep(50 * time.Millisecond)
	info2, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Size() == info2.Size()
}
