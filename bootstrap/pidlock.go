package bootstrap

import "github.com/nestybox/aegisvalidator/utils"

// acquirePidFile and releasePidFile back the global mutex with an
// on-disk pidfile, so a second process (not just a second goroutine)
// can't run a concurrent bootstrap helper for the same host.
func acquirePidFile(process, path string) error {
	return utils.CreatePidFile(process, path)
}

func releasePidFile(path string) error {
	return utils.DestroyPidFile(path)
}
