package capability

// InvokerAdmin adapts the capability package to the config package's
// AdminChecker interface: a caller holds admin rights over the
// configuration surface iff its effective set includes CAP_MAC_ADMIN, the
// same capability the original securityfs access check required.
type InvokerAdmin struct {
	PID int
}

// HasAdminCapability reports whether the process identified by PID holds
// CAP_MAC_ADMIN in its effective set. A lookup failure is treated as "no",
// matching a fail-closed posture for an admin-only gate.
func (i InvokerAdmin) HasAdminCapability() bool {
	caps, err := NewPid2(i.PID)
	if err != nil {
		return false
	}
	if err := caps.Load(); err != nil {
		return false
	}
	return caps.Get(EFFECTIVE, CAP_MAC_ADMIN)
}

// EffectiveCapabilityNames returns the OCI-style names (e.g.
// "CAP_DAC_OVERRIDE") of every capability present in the process's
// effective set, for building a credential.Credentials snapshot.
func EffectiveCapabilityNames(pid int) ([]string, error) {
	caps, err := NewPid2(pid)
	if err != nil {
		return nil, err
	}
	if err := caps.Load(); err != nil {
		return nil, err
	}
	var names []string
	for _, c := range List() {
		if caps.Get(EFFECTIVE, c) {
			names = append(names, c.OCIString())
		}
	}
	return names, nil
}
