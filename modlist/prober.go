package modlist

import "github.com/nestybox/aegisvalidator/linuxUtils"

// HostProber implements KernelModuleProber against the running kernel,
// reporting whether the given companion module is present in
// /proc/modules (loading it via modprobe first if necessary). This is the
// concrete prober a deployed validator wires in; tests use their own
// stubs instead.
type HostProber struct {
	// Module is the name of the companion kernel module the module-load
	// check is gated on, e.g. a LSM or integrity-measurement module this
	// validator expects to cooperate with.
	Module string
}

// KernelModSupported reports whether p.Module is loaded.
func (p HostProber) KernelModSupported() (bool, error) {
	return linuxUtils.KernelModSupported(p.Module)
}
