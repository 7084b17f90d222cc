package mount

import (
	"fmt"
	"os"
	"syscall"
)

// VolumeID returns the device id backing path, used as the volume key for
// the reference hashlist and verification cache (the Go analogue of the
// superblock pointer the original kernel module keyed its tables on).
func VolumeID(path string) (uint64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("mount: stat %s: %w", path, err)
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("mount: could not retrieve Stat_t for %s", path)
	}
	return uint64(st.Dev), nil
}

// MountpointFor returns the mountpoint that owns path, used to find the
// argument the bootstrap loader's non-root-volume helper is invoked with.
func MountpointFor(path string, mounts []*Info) (string, bool) {
	volID, err := VolumeID(path)
	if err != nil {
		return "", false
	}
	var best *Info
	for _, m := range mounts {
		mID, err := VolumeID(m.Mountpoint)
		if err != nil || mID != volID {
			continue
		}
		if best == nil || len(m.Mountpoint) > len(best.Mountpoint) {
			best = m
		}
	}
	if best == nil {
		return "", false
	}
	return best.Mountpoint, true
}
