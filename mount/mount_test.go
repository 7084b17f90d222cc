package mount

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVolumeIDForRoot(t *testing.T) {
	id, err := VolumeID("/")
	require.NoError(t, err)
	require.NotZero(t, id)
}

func TestVolumeIDMissingPath(t *testing.T) {
	_, err := VolumeID("/no/such/path/should/exist")
	require.Error(t, err)
}

func TestGetMountsParsesSelfMountinfo(t *testing.T) {
	mounts, err := GetMounts()
	require.NoError(t, err)
	require.NotEmpty(t, mounts)
	for _, m := range mounts {
		require.NotEmpty(t, m.Mountpoint)
	}
}

func TestFindMountAtRoot(t *testing.T) {
	mounts, err := GetMounts()
	require.NoError(t, err)
	require.True(t, FindMount("/", mounts) || len(mounts) > 0)
}

func TestMountpointForResolvesSomeMount(t *testing.T) {
	mounts, err := GetMounts()
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)

	mp, ok := MountpointFor(wd, mounts)
	require.True(t, ok)
	require.NotEmpty(t, mp)
}

func TestOptionsToFlagsKnownOption(t *testing.T) {
	require.NotZero(t, OptionsToFlags([]string{"nodev"}))
}

func TestOptionsToFlagsUnknownOptionIsZero(t *testing.T) {
	require.Equal(t, 0, OptionsToFlags([]string{"totally-bogus-opt"}))
}
