package config

import "github.com/nestybox/aegisvalidator/utils"

// Entry names are exposed under two parallel namespaces, mirroring the
// original module's dual "validator" and legacy "digsig" securityfs
// directories: tooling written against either name keeps working.
const (
	currentNamespace = "validator"
	legacyNamespace  = "digsig"
)

// Entries lists the control-surface file names exposed in both the
// current and the legacy namespace.
var entries = []string{"enforce", "enabled", "devorig"}

// Namespaces returns the two directory names a given control entry is
// reachable under.
func Namespaces() []string {
	return []string{currentNamespace, legacyNamespace}
}

// LegacyAliases returns, for every control entry, both its current and
// legacy path, e.g. "validator/enforce" and "digsig/enforce".
func LegacyAliases() map[string][2]string {
	out := make(map[string][2]string, len(entries))
	for _, e := range entries {
		out[e] = [2]string{currentNamespace + "/" + e, legacyNamespace + "/" + e}
	}
	return out
}

// IsKnownEntry reports whether name is one of the control surface's
// recognized entries.
func IsKnownEntry(name string) bool {
	return utils.StringSliceContains(entries, name)
}
