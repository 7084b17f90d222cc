package overlayUtils

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nestybox/aegisvalidator/mount"
)

func TestProtectedDirShadowedTrueUnderUpperdir(t *testing.T) {
	mi := &mount.Info{VfsOpts: "upperdir=/var/lib/overlay/upper,lowerdir=/var/lib/overlay/lower"}
	require.True(t, ProtectedDirShadowed("/var/lib/overlay/upper/etc/passwd", mi))
}

func TestProtectedDirShadowedFalseUnderLowerOnly(t *testing.T) {
	mi := &mount.Info{VfsOpts: "upperdir=/var/lib/overlay/upper,lowerdir=/var/lib/overlay/lower"}
	require.False(t, ProtectedDirShadowed("/var/lib/overlay/lower/etc/passwd", mi))
}

func TestProtectedDirShadowedNilMountInfo(t *testing.T) {
	require.False(t, ProtectedDirShadowed("/etc/passwd", nil))
}

func TestGetMountOptSeparatesFsOptsFromVfsData(t *testing.T) {
	mi := &mount.Info{
		Opts:     "rw,relatime",
		VfsOpts:  "rw,relatime,lowerdir=/a,upperdir=/b,workdir=/c",
		Optional: "shared:1",
	}
	opts := GetMountOpt(mi)
	require.Equal(t, "/b", GetUpperLayer(opts))
	require.Equal(t, []string{"/a"}, GetLowerLayers(opts))
}
