package cache

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nestybox/aegisvalidator/fileMonitor"
)

// watchedFile identifies the volume/inode pair a watched path maps to, so that a
// removal event (which only carries the path) can be translated back into
// the cache/hashlist key it invalidates.
type watchedFile struct {
	device uint64
	ino    uint64
}

// Watcher uses a polling file monitor as a fallback invalidation path for
// hosts where the enforcement hooks that would otherwise drive Cache.Remove
// directly (an inode's last unlink, a volume going away) aren't wired up.
// It exists mainly to keep a long-lived cache honest when an executable it
// has cached a source-identity verdict for gets replaced out from under it.
type Watcher struct {
	fm *fileMonitor.FileMon
	c  *Cache

	mu    sync.Mutex
	files map[string]watchedFile
}

// NewWatcher starts a Watcher polling at the given interval.
func NewWatcher(c *Cache, cfg fileMonitor.Cfg) (*Watcher, error) {
	fm, err := fileMonitor.New(&cfg)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fm:    fm,
		c:     c,
		files: make(map[string]watchedFile),
	}
	go w.drain()
	return w, nil
}

// Watch registers path for removal monitoring; when it disappears, the
// cached (device, ino) verification verdict is evicted.
func (w *Watcher) Watch(path string, device, ino uint64) {
	w.mu.Lock()
	w.files[path] = watchedFile{device: device, ino: ino}
	w.mu.Unlock()
	w.fm.Add(path)
}

// Unwatch stops monitoring path without evicting anything.
func (w *Watcher) Unwatch(path string) {
	w.mu.Lock()
	delete(w.files, path)
	w.mu.Unlock()
	w.fm.Remove(path)
}

// Close stops the underlying poller.
func (w *Watcher) Close() {
	w.fm.Close()
}

func (w *Watcher) drain() {
	for events := range w.fm.Events() {
		for _, e := range events {
			if e.Err != nil {
				logrus.WithField("component", "cache").WithError(e.Err).
					WithField("path", e.Filename).Warn("file watch error")
				continue
			}
			w.mu.Lock()
			wf, ok := w.files[e.Filename]
			delete(w.files, e.Filename)
			w.mu.Unlock()
			if ok {
				w.c.Remove(wf.device, wf.ino)
			}
		}
	}
}
