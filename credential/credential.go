// Package credential implements the writer-credential checker and the
// narrow external interface to the host's Runtime Policy Framework
// (source-identity definition and checking). It is the one place the
// validator reaches out to a collaborator it doesn't implement itself.
package credential

import (
	"github.com/sirupsen/logrus"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/nestybox/aegisvalidator/hashlist"
	"github.com/nestybox/aegisvalidator/pathres"
)

var log = logrus.WithField("component", "credential")

// Service is the external Runtime Policy Framework collaborator: it
// defines and checks source identities, and arbitrates whether a given
// source identity is allowed to (re)load a hashlist entry. The validator
// consumes this interface but never reimplements it.
type Service interface {
	// DefineSource registers a free-text source-id string and returns its
	// numeric identity, used by the legacy ingestion path.
	DefineSource(name string) (int64, error)
	// HasCredential reports whether the current caller holds a named
	// credential at the given value.
	HasCredential(credType string, credValue int64) bool
	// MayLoad reports whether invoker is allowed to load an entry whose
	// source identity is srcID.
	MayLoad(srcID int64, invoker Credentials) bool
}

// Credentials snapshots an invoking process's identity. It reuses the
// OCI runtime-spec capability shape rather than inventing a parallel
// capability type.
type Credentials struct {
	PID          int
	Comm         string // the invoking task's command name, current->comm
	UID          uint32
	GID          uint32
	SupplementaryGIDs []uint32
	Capabilities specs.LinuxCapabilities
}

// hasEffective reports whether cap is present in the effective set.
func (c Credentials) hasEffective(cap string) bool {
	if c.Capabilities.Effective == nil {
		return false
	}
	for _, e := range c.Capabilities.Effective {
		if e == cap {
			return true
		}
	}
	return false
}

// Verdict is the result of a write-permission check.
type Verdict int

const (
	Allow Verdict = iota
	Deny
)

// AllowModify implements the §4.E/§4.J write-permission rule: an entry
// with no write-credential requirements falls back to plain DAC
// permission, enforced via pathres. An entry that does carry requirements
// is a restriction *beyond* DAC, not an alternative to it: once wcreds is
// non-empty, ordinary Unix write permission is not consulted at all and
// the invoker must hold one of the listed credential pairs, matching
// ipp_check_write_perm's exclusive use of the wcreds list.
func AllowModify(path string, creds []hashlist.CredentialPair, invoker Credentials, svc Service) Verdict {
	if len(creds) > 0 {
		if svc == nil {
			log.Warn("no credential service configured; denying write gated by wcreds")
			return Deny
		}
		for _, c := range creds {
			if svc.HasCredential(c.Type, c.Value) {
				return Allow
			}
		}
		return Deny
	}

	if invoker.hasEffective("CAP_DAC_OVERRIDE") {
		return Allow
	}

	dacOK := pathres.PathAccess(invoker.PID, path, pathres.W_OK) == nil
	if !dacOK {
		if ok, err := hasACLWritePermission(path, invoker.UID, invoker.GID, invoker.SupplementaryGIDs); err != nil {
			log.WithError(err).Debug("ACL check unavailable, falling back to DAC result")
		} else if ok {
			dacOK = true
		}
	}
	if dacOK {
		return Allow
	}
	return Deny
}

// CheckSourceIdentity implements sidcheck.c's validator_sid_check: the
// check is only enforced (and only capable of denying) when sidEnabled is
// set; otherwise it is always permissive, matching the original's
// permissive-by-default posture.
func CheckSourceIdentity(srcID int64, invoker Credentials, svc Service, sidEnabled bool) Verdict {
	if !sidEnabled || svc == nil {
		return Allow
	}
	if svc.MayLoad(srcID, invoker) {
		return Allow
	}
	return Deny
}
