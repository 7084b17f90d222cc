package mount

import "fmt"

// Prober implements policy.MountProbe against the live mount table,
// caching nothing: callers that need repeated lookups are expected to
// call GetMounts themselves and reuse the slice.
type Prober struct{}

// MountInfoFor returns the Info for the mount owning path.
func (Prober) MountInfoFor(path string) (*Info, error) {
	mounts, err := GetMounts()
	if err != nil {
		return nil, err
	}
	mp, ok := MountpointFor(path, mounts)
	if !ok {
		return nil, fmt.Errorf("mount: no mountpoint found for %s", path)
	}
	return GetMountAt(mp, mounts)
}
