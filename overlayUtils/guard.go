package overlayUtils

import (
	"strings"

	"github.com/nestybox/aegisvalidator/mount"
	"github.com/nestybox/aegisvalidator/utils"
)

// ProtectedDirShadowed reports whether path sits under the upper (writable)
// layer of an overlay mount described by mi, meaning a copy-up has placed a
// live, writable version of the path on top of whatever a protected-dir
// hashlist entry was meant to guard. The policy evaluator treats a shadowed
// protected directory as a mismatch regardless of what the lower-layer
// reference hash says, since the upper layer bypasses it entirely.
//
// mi.Fstype is trusted first; when it's empty (a caller that built Info by
// hand, as in tests) a live statfs(2) via utils.GetFsName is used instead,
// so a non-overlay mount whose options happen to contain "upperdir=" text
// can't be mistaken for one.
func ProtectedDirShadowed(path string, mi *mount.Info) bool {
	if mi == nil {
		return false
	}
	if mi.Fstype != "" && mi.Fstype != "overlay" {
		return false
	}
	if mi.Fstype == "" {
		if fsName, err := utils.GetFsName(mi.Mountpoint); err == nil && fsName != "overlayfs" {
			return false
		}
	}

	mntOpts := GetMountOpt(mi)
	upper := GetUpperLayer(mntOpts)
	if upper == "" {
		return false
	}
	return strings.HasPrefix(path, upper)
}
