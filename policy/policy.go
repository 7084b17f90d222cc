// Package policy implements the Integrity Protection Policy evaluator:
// the decision logic that decides, for a given file and hook, whether
// access is allowed, consulting the verification cache, the reference
// hashlist, the digest engine, and the writer-credential checker in that
// order.
package policy

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/nestybox/aegisvalidator/cache"
	"github.com/nestybox/aegisvalidator/config"
	"github.com/nestybox/aegisvalidator/credential"
	"github.com/nestybox/aegisvalidator/digest"
	"github.com/nestybox/aegisvalidator/hashlist"
	"github.com/nestybox/aegisvalidator/mount"
	"github.com/nestybox/aegisvalidator/overlayUtils"
)

var log = logrus.WithField("component", "policy")

// Reason mirrors validator.h's enum vreason.
type Reason int

const (
	ROK Reason = iota
	RSID
	RHList
	RAttrib
	RHash
	RLoad
	RCache
	REintr
)

func (r Reason) String() string {
	switch r {
	case ROK:
		return "ok"
	case RSID:
		return "source-identity-denied"
	case RHList:
		return "not-in-hashlist"
	case RAttrib:
		return "attribute-mismatch"
	case RHash:
		return "hash-mismatch"
	case RLoad:
		return "load-failed"
	case RCache:
		return "cache-error"
	case REintr:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Hook identifies which enforcement hook triggered the evaluation,
// matching validator.h's enum validator_hook.
type Hook int

const (
	PathCheck Hook = iota + 1
	MmapCheck
	BprmCheck
)

// File describes the minimal stat-equivalent metadata the evaluator needs
// about a candidate file.
type File struct {
	Device uint64
	Ino    uint64
	UID    uint32
	GID    uint32
	Mode   uint32
	Path   string

	// ParentIno is the inode of the containing directory, used by
	// CheckDataOpen to decide whether this open falls under an
	// immutable- or protected-directory gate at all.
	ParentIno uint64
	// Dir reports whether this File is itself a directory: directory
	// listing is always permitted regardless of any parent gating.
	Dir bool
}

// Verdict is the outcome of a policy evaluation.
type Verdict struct {
	Allow  bool
	Reason Reason
}

// HashlistLoader triggers the bootstrap loader to (re)populate a volume's
// reference hashlist, used when a lookup misses and the policy isn't
// running in listed-only mode.
type HashlistLoader interface {
	Load(ctx context.Context, device uint64) error
}

// MountProbe resolves the overlay mount info covering a path, letting the
// evaluator tell whether a protected-directory entry has been shadowed by
// a copy-up onto an overlay's writable layer. Nil-safe: an Evaluator with
// no MountProbe configured simply skips the shadow check.
type MountProbe interface {
	MountInfoFor(path string) (*mount.Info, error)
}

// Evaluator ties the cache, hashlist, digest engine, and credential
// checker together into the exe/data validation flows.
type Evaluator struct {
	Cache      *cache.Cache
	Hashlists  *hashlist.Registry
	Config     *config.Surface
	Service    credential.Service
	Loader     HashlistLoader
	FS         afero.Fs
	Mounts     MountProbe

	mu      sync.Mutex
	locks   map[uint64]*sync.Mutex
}

// NewEvaluator constructs an Evaluator from its collaborators. Mounts may be
// left nil by callers that don't need protected-directory shadow detection.
func NewEvaluator(c *cache.Cache, h *hashlist.Registry, cfg *config.Surface, svc credential.Service, loader HashlistLoader, fs afero.Fs, mounts MountProbe) *Evaluator {
	return &Evaluator{
		Cache:     c,
		Hashlists: h,
		Config:    cfg,
		Service:   svc,
		Loader:    loader,
		FS:        fs,
		Mounts:    mounts,
		locks:     make(map[uint64]*sync.Mutex),
	}
}

// perInodeLock returns a mutex scoped to a single inode so two concurrent
// opens of the same file don't race to digest and cache it twice,
// matching the original's inode-mutex-held-across-the-flow invariant.
func (e *Evaluator) perInodeLock(ino uint64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[ino]
	if !ok {
		l = &sync.Mutex{}
		e.locks[ino] = l
	}
	return l
}

// CheckExecutable implements exe_validation: cache hit short-circuits to a
// source-identity check only; a cache miss falls through hashlist lookup,
// optional bootstrap load, source-identity, attribute, and digest checks,
// finally populating the cache on success.
func (e *Evaluator) CheckExecutable(ctx context.Context, f File, hook Hook, invoker credential.Credentials) Verdict {
	lock := e.perInodeLock(f.Ino)
	lock.Lock()
	defer lock.Unlock()

	snap := e.Config.Snapshot()

	if srcID, ok := e.Cache.Lookup(f.Device, f.Ino); ok {
		return e.checkSourceIdentity(srcID, invoker, snap)
	}

	vol := e.Hashlists.Volume(f.Device)
	entry, found := vol.Lookup(f.Ino)

	if !found {
		if snap.ListedOnly {
			return Verdict{Allow: false, Reason: RHList}
		}
		if e.Loader != nil {
			if err := e.Loader.Load(ctx, f.Device); err != nil {
				log.WithError(err).WithField("device", f.Device).Warn("hashlist load failed")
				return Verdict{Allow: false, Reason: RLoad}
			}
			entry, found = vol.Lookup(f.Ino)
		}
		if !found {
			return Verdict{Allow: false, Reason: RLoad}
		}
	}

	if v := e.checkSourceIdentity(entry.SrcID, invoker, snap); !v.Allow {
		return v
	}

	if snap.AttribCheck && !attributesMatch(f, entry) {
		return Verdict{Allow: false, Reason: RAttrib}
	}

	if snap.HashCheck {
		res, err := digest.DigestFile(ctx, e.FS, f.Path, entry.Hash)
		if err != nil {
			if isInterrupted(err) {
				// Interruption is not itself a policy violation; the
				// caller is expected to retry the operation.
				return Verdict{Allow: false, Reason: REintr}
			}
			return Verdict{Allow: false, Reason: RHash}
		}
		if res.Outcome != digest.Match {
			return Verdict{Allow: false, Reason: RHash}
		}
	}

	e.Cache.Insert(f.Device, f.Ino, entry.SrcID)
	return Verdict{Allow: true, Reason: ROK}
}

// CheckDataOpen implements data_validation: only applies when the parent
// directory carries its own reference entry (immutable or protected); a
// file with no parent gate is always allowed straight through. Directory
// listing is always permitted regardless of any parent gate. A dynamic
// (exempt) entry bypasses the attribute/hash checks entirely; otherwise
// it's the same attribute+hash sequence as CheckExecutable, minus the
// cache and source-identity steps (data opens aren't cached).
func (e *Evaluator) CheckDataOpen(ctx context.Context, f File, invoker credential.Credentials) Verdict {
	snap := e.Config.Snapshot()
	if !snap.DataCheck {
		return Verdict{Allow: true, Reason: ROK}
	}

	vol := e.Hashlists.Volume(f.Device)

	if f.Dir {
		return e.checkProtectedDirSelf(f, vol)
	}

	if !e.ParentGated(f) {
		return Verdict{Allow: true, Reason: ROK}
	}

	entry, found := vol.Lookup(f.Ino)
	if !found {
		return Verdict{Allow: false, Reason: RHList}
	}

	if entry.Node == hashlist.NodeExempt {
		return Verdict{Allow: true, Reason: ROK}
	}

	if snap.AttribCheck && !attributesMatch(f, entry) {
		return Verdict{Allow: false, Reason: RAttrib}
	}

	res, err := digest.DigestFile(ctx, e.FS, f.Path, entry.Hash)
	if err != nil {
		if isInterrupted(err) {
			return Verdict{Allow: false, Reason: REintr}
		}
		return Verdict{Allow: false, Reason: RHash}
	}
	if res.Outcome != digest.Match {
		return Verdict{Allow: false, Reason: RHash}
	}

	return Verdict{Allow: true, Reason: ROK}
}

// ParentGated reports whether f's containing directory carries an
// immutable- or protected-directory reference entry, the precondition
// for the data-open gate to apply to f at all: a file whose parent has
// no such entry is never measured.
func (e *Evaluator) ParentGated(f File) bool {
	if f.Dir {
		return false
	}
	vol := e.Hashlists.Volume(f.Device)
	parentEntry, found := vol.Lookup(f.ParentIno)
	if !found {
		return false
	}
	return parentEntry.Node == hashlist.NodeImmutableDir || parentEntry.Node == hashlist.NodeProtectedDir
}

// checkProtectedDirSelf handles an open of a directory that may itself
// carry a protected-directory marker: the listing itself is always
// allowed, but a shadowed protected directory (an overlay copy-up placed
// a writable layer over it) is flagged as an attribute mismatch.
func (e *Evaluator) checkProtectedDirSelf(f File, vol *hashlist.Volume) Verdict {
	entry, found := vol.Lookup(f.Ino)
	if !found || entry.Node != hashlist.NodeProtectedDir {
		return Verdict{Allow: true, Reason: ROK}
	}
	if e.Mounts != nil {
		if mi, err := e.Mounts.MountInfoFor(f.Path); err == nil && overlayUtils.ProtectedDirShadowed(f.Path, mi) {
			return Verdict{Allow: false, Reason: RAttrib}
		}
	}
	return Verdict{Allow: true, Reason: ROK}
}

// CheckWritePermission implements ipp_check_write_perm: a file with no
// hashlist entry is allowed; an entry with write credentials requires one
// of them (DAC is not consulted); an entry without any falls back to DAC.
func (e *Evaluator) CheckWritePermission(f File, invoker credential.Credentials) Verdict {
	vol := e.Hashlists.Volume(f.Device)
	entry, found := vol.Lookup(f.Ino)
	if !found {
		return Verdict{Allow: true, Reason: ROK}
	}

	v := credential.AllowModify(f.Path, entry.WCreds, invoker, e.Service)
	if v == credential.Allow {
		return Verdict{Allow: true, Reason: ROK}
	}
	return Verdict{Allow: false, Reason: RSID}
}

func (e *Evaluator) checkSourceIdentity(srcID int64, invoker credential.Credentials, snap config.Snapshot) Verdict {
	v := credential.CheckSourceIdentity(srcID, invoker, e.Service, snap.SIDCheck)
	if v == credential.Allow {
		return Verdict{Allow: true, Reason: ROK}
	}
	return Verdict{Allow: false, Reason: RSID}
}

func attributesMatch(f File, e hashlist.Entry) bool {
	return f.UID == e.UID && f.GID == e.GID && f.Mode == e.Mode
}

func isInterrupted(err error) bool {
	return errors.Is(err, digest.ErrInterrupted)
}
