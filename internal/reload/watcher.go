// Package reload detects changes to the files a graph document was loaded
// from.
package reload

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/timzifer/vfunc/config"
)

type stamp struct {
	modTime time.Time
	size    int64
}

func (s stamp) differs(info os.FileInfo) bool {
	return info.ModTime().After(s.modTime) || info.Size() != s.size
}

// Watcher remembers the modification stamps of the source files of a
// document.
type Watcher struct {
	mu     sync.Mutex
	stamps map[string]stamp
}

// NewWatcher starts tracking the sources of cfg plus the root document.
func NewWatcher(root string, cfg *config.Config) *Watcher {
	w := &Watcher{}
	w.Update(root, cfg)
	return w
}

// Update replaces the tracked set with the sources of cfg. Files that do not
// exist are skipped.
func (w *Watcher) Update(root string, cfg *config.Config) {
	if w == nil {
		return
	}
	paths := config.SourceFiles(cfg)
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			paths = append(paths, abs)
		}
	}
	stamps := make(map[string]stamp, len(paths))
	for _, path := range paths {
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		stamps[path] = stamp{modTime: info.ModTime(), size: info.Size()}
	}
	w.mu.Lock()
	w.stamps = stamps
	w.mu.Unlock()
}

// Tracked returns the tracked files in sorted order.
func (w *Watcher) Tracked() []string {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.stamps))
	for path := range w.stamps {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Check returns the tracked files that changed or disappeared since the last
// Update, in sorted order.
func (w *Watcher) Check() []string {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var changed []string
	for path, s := range w.stamps {
		info, err := os.Stat(path)
		if err != nil || s.differs(info) {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed
}
