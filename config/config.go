// Package config implements the validator's configuration surface: a
// bit-packed set of enable/enforce toggles plus a developer-mode source
// origin, gated by a three-tier access lattice identical in spirit to the
// original securityfs control files.
package config

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "config")

// Enforce bits, matching enforce.c's HASH_CHECK_BIT.. ATTRIB_CHECK_BIT.
const (
	HashCheckBit   uint32 = 1 << 0
	SIDCheckBit    uint32 = 1 << 1
	DataCheckBit   uint32 = 1 << 2
	AttribCheckBit uint32 = 1 << 3
)

// EnforceAll is the maximum legal value of the enforce bitmask.
const EnforceAll uint32 = HashCheckBit | SIDCheckBit | DataCheckBit | AttribCheckBit

// Enable bits, matching enforce.c's HASH_CHECK_BIT.. KMOD_BIT (the enable
// surface reuses the low four bits with different meaning, plus five more).
const (
	EnableHashBit      uint32 = 1 << 0
	EnableSIDBit       uint32 = 1 << 1
	EnableDataBit      uint32 = 1 << 2
	EnableAttribBit    uint32 = 1 << 3
	HashReqBit         uint32 = 1 << 4
	ListedOnlyBit      uint32 = 1 << 5
	SecfsBit           uint32 = 1 << 6
	SealBit            uint32 = 1 << 7
	KmodBit            uint32 = 1 << 8
)

// EnableAll is the maximum legal value of the enable bitmask.
const EnableAll uint32 = 0x1ff

// Op identifies a configuration operation for access control purposes,
// matching the original's AEGIS_FS_* operation enum.
type Op int

const (
	OpEnforceRead Op = iota
	OpEnforceWrite
	OpEnableRead
	OpEnableWrite
	OpDevOrigRead
	OpDevOrigWrite
)

// AdminChecker reports whether the current caller holds the admin
// capability required by the second access tier (CAP_MAC_ADMIN
// equivalent).
type AdminChecker interface {
	HasAdminCapability() bool
}

// TokenChecker reports whether the current caller holds the sealed-state
// resource token (the "tcb" token in the original).
type TokenChecker interface {
	HasCredential(credType string, credValue int64) bool
}

// ErrPermissionDenied is returned by any operation blocked by the access
// lattice or by the seal latch.
var ErrPermissionDenied = fmt.Errorf("config: permission denied")

// Surface is the validator's runtime configuration. The zero value is not
// usable; use New.
type Surface struct {
	mu sync.RWMutex

	// enforce bits
	hashCheck, sidCheck, dataCheck, attribCheck bool

	// enable bits
	hashInit, sidInit, dataInit, attribInit bool
	hashReq, listedOnly, secfsInit, seal, kmodInit bool

	devOrig int64

	admin AdminChecker
	token TokenChecker

	hashlistInitialized bool
}

// New creates a configuration surface gated by admin and token checkers.
func New(admin AdminChecker, token TokenChecker) *Surface {
	return &Surface{admin: admin, token: token}
}

// MarkHashlistInitialized records that the reference hashlist has
// completed its first load; before that point access is unrestricted,
// matching check_restricted_access's h_init gate.
func (s *Surface) MarkHashlistInitialized() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashlistInitialized = true
}

// CheckAccess applies the same three-tier access lattice as the
// enforce/enable/devorig toggles to any other write-gated control
// surface entry: the hashlist and module-whitelist registries, and the
// cache flush trigger (AEGIS_FS_HASHLIST_WRITE / AEGIS_FS_FLUSH_WRITE in
// the original's fs.h). Callers that mutate those surfaces directly must
// consult this before applying the write.
func (s *Surface) CheckAccess() error {
	return s.checkAccess()
}

// checkAccess implements the exact three-tier rule from fs.c's
// check_restricted_access: unrestricted before the hashlist is
// initialized; admin-capability gated after that; once sealed, gated
// instead by the tcb resource token.
func (s *Surface) checkAccess() error {
	s.mu.RLock()
	initialized := s.hashlistInitialized
	sealed := s.seal
	s.mu.RUnlock()

	if !initialized {
		return nil
	}
	if sealed {
		if s.token != nil && s.token.HasCredential("tcb", 0) {
			return nil
		}
		return ErrPermissionDenied
	}
	if s.admin != nil && s.admin.HasAdminCapability() {
		return nil
	}
	return ErrPermissionDenied
}

// ReadEnforce returns the current enforce bitmask.
func (s *Surface) ReadEnforce() (uint32, error) {
	if err := s.checkAccess(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var v uint32
	if s.hashCheck {
		v |= HashCheckBit
	}
	if s.sidCheck {
		v |= SIDCheckBit
	}
	if s.dataCheck {
		v |= DataCheckBit
	}
	if s.attribCheck {
		v |= AttribCheckBit
	}
	return v, nil
}

// WriteEnforce sets the enforce bitmask. Blocked entirely once sealed,
// regardless of token, matching "no mode changes" under SEAL_BIT.
func (s *Surface) WriteEnforce(val uint32) error {
	if err := s.checkAccess(); err != nil {
		return err
	}
	if val > EnforceAll {
		return fmt.Errorf("%w: enforce value 0x%x out of range", ErrPermissionDenied, val)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seal {
		return fmt.Errorf("config: sealed, enforce is immutable")
	}
	s.hashCheck = val&HashCheckBit != 0
	s.sidCheck = val&SIDCheckBit != 0
	s.dataCheck = val&DataCheckBit != 0
	s.attribCheck = val&AttribCheckBit != 0
	return nil
}

// ReadEnable returns the current enable bitmask.
func (s *Surface) ReadEnable() (uint32, error) {
	if err := s.checkAccess(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var v uint32
	if s.hashInit {
		v |= EnableHashBit
	}
	if s.sidInit {
		v |= EnableSIDBit
	}
	if s.dataInit {
		v |= EnableDataBit
	}
	if s.attribInit {
		v |= EnableAttribBit
	}
	if s.hashReq {
		v |= HashReqBit
	}
	if s.listedOnly {
		v |= ListedOnlyBit
	}
	if s.secfsInit {
		v |= SecfsBit
	}
	if s.seal {
		v |= SealBit
	}
	if s.kmodInit {
		v |= KmodBit
	}
	return v, nil
}

// WriteEnable sets the enable bitmask. Like WriteEnforce, blocked entirely
// once sealed.
func (s *Surface) WriteEnable(val uint32) error {
	if err := s.checkAccess(); err != nil {
		return err
	}
	if val > EnableAll {
		return fmt.Errorf("%w: enable value 0x%x out of range", ErrPermissionDenied, val)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seal {
		return fmt.Errorf("config: sealed, enable is immutable")
	}
	s.hashInit = val&EnableHashBit != 0
	s.sidInit = val&EnableSIDBit != 0
	s.dataInit = val&EnableDataBit != 0
	s.attribInit = val&EnableAttribBit != 0
	s.hashReq = val&HashReqBit != 0
	s.listedOnly = val&ListedOnlyBit != 0
	s.secfsInit = val&SecfsBit != 0
	wasSealed := s.seal
	s.seal = val&SealBit != 0
	s.kmodInit = val&KmodBit != 0
	if !wasSealed && s.seal {
		log.Warn("configuration sealed; enforce/enable are now immutable and other writes require the tcb token")
	}
	return nil
}

// ReadDevOrig returns the developer-mode source origin.
func (s *Surface) ReadDevOrig() (int64, error) {
	if err := s.checkAccess(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devOrig, nil
}

// WriteDevOrig sets the developer-mode source origin.
func (s *Surface) WriteDevOrig(val int64) error {
	if err := s.checkAccess(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devOrig = val
	return nil
}

// Snapshot is a point-in-time, read-only view used by the policy evaluator
// so it doesn't need to take the config lock on every decision.
type Snapshot struct {
	HashCheck, SIDCheck, DataCheck, AttribCheck bool
	HashlistEnabled, SIDEnabled, DataEnabled, AttribEnabled bool
	HashRequired, ListedOnly, KmodEnabled bool
	DevOrig int64
}

// Snapshot returns the current toggle state without going through the
// access lattice, for internal use by the policy evaluator.
func (s *Surface) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		HashCheck:       s.hashCheck,
		SIDCheck:        s.sidCheck,
		DataCheck:       s.dataCheck,
		AttribCheck:     s.attribCheck,
		HashlistEnabled: s.hashInit,
		SIDEnabled:      s.sidInit,
		DataEnabled:     s.dataInit,
		AttribEnabled:   s.attribInit,
		HashRequired:    s.hashReq,
		ListedOnly:      s.listedOnly,
		KmodEnabled:     s.kmodInit,
		DevOrig:         s.devOrig,
	}
}
