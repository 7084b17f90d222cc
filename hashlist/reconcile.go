package hashlist

import (
	"os"
	"syscall"

	"github.com/karrick/godirwalk"
)

// Reconcile walks root looking for inodes that are still referenced by
// volume's hashlist but no longer exist anywhere under root. It deletes
// those stale entries and returns how many were removed.
//
// This supplements the delete-on-last-unlink invariant for hosts that
// cannot hook inode deletion directly: instead of being told the moment an
// inode's last hard link disappears, the host can periodically reconcile
// against what currently exists on disk.
func Reconcile(root string, volume *Volume) (removed int, err error) {
	live := make(map[uint64]struct{})

	walkErr := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			fi, statErr := os.Lstat(path)
			if statErr != nil {
				return nil // vanished between listing and stat; not an error for reconciliation
			}
			st, ok := fi.Sys().(*syscall.Stat_t)
			if !ok {
				return nil
			}
			live[st.Ino] = struct{}{}
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			return godirwalk.SkipNode
		},
	})
	if walkErr != nil {
		return 0, walkErr
	}

	stale := make([]uint64, 0)
	for i := range volume.buckets {
		volume.buckets[i].mu.RLock()
		for ino := range volume.buckets[i].items {
			if _, ok := live[ino]; !ok {
				stale = append(stale, ino)
			}
		}
		volume.buckets[i].mu.RUnlock()
	}

	for _, ino := range stale {
		volume.Delete(ino)
		removed++
	}
	return removed, nil
}
