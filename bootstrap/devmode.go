package bootstrap

import "github.com/nestybox/aegisvalidator/utils"

// devModeEnvVar, when present in the process environment as
// AEGIS_DEV_MODE=<path-to-helper>, names a bootstrap helper that should be
// accepted without a vhash match, the equivalent of the original's
// developer-certificate/research-kernel carve-out.
const devModeEnvVar = "AEGIS_DEV_MODE"

// ModeFromEnviron scans environ (as returned by os.Environ) for
// devModeEnvVar entries and returns DevMode plus the set of helper paths
// to accept, provided each path actually resolves to a runnable command
// on the host. A malformed or absent entry leaves the loader Enforcing.
func ModeFromEnviron(environ []string) (Mode, []string) {
	var devPaths []string
	for _, entry := range environ {
		name, value, err := utils.GetEnvVarInfo(entry)
		if err != nil || name != devModeEnvVar {
			continue
		}
		if utils.CmdExists(value) {
			devPaths = append(devPaths, value)
		}
	}
	if len(devPaths) > 0 {
		return DevMode, devPaths
	}
	return Enforcing, nil
}
