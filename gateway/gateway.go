// Package gateway implements the Enforcement Gateway: the set of hook
// entry points a host process (a FUSE filesystem, a ptrace exec guard, an
// LSM shim written elsewhere) calls into at the points where the kernel
// original hooked mmap, exec, open, unlink, rename, create, module load,
// superblock teardown, and netlink send. The exact host-kernel hook names
// aren't part of this surface; callers adapt their own interception point
// to these methods.
package gateway

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nestybox/aegisvalidator/cache"
	"github.com/nestybox/aegisvalidator/credential"
	"github.com/nestybox/aegisvalidator/hashlist"
	"github.com/nestybox/aegisvalidator/modlist"
	"github.com/nestybox/aegisvalidator/notify"
	"github.com/nestybox/aegisvalidator/policy"
)

var log = logrus.WithField("component", "gateway")

// writeDefence tracks, per inode, the number of active mmap-for-exec
// holders (the "defence counter", shared by every holder of that inode)
// and the number of active writers (opens for write that have not yet
// completed). beginDefence fails while a writer is active, and
// OnInodeWriteRequest refuses to call beginWrite while the inode is
// defended, matching the original's writecount/i_security exclusion.
type writeDefence struct {
	mu           sync.Mutex
	defenceCount map[uint64]int
	writerCount  map[uint64]int
	released     map[uint64]bool
}

func newWriteDefence() *writeDefence {
	return &writeDefence{
		defenceCount: make(map[uint64]int),
		writerCount:  make(map[uint64]int),
		released:     make(map[uint64]bool),
	}
}

// beginDefence takes a write-defence on ino for a new mmap-for-exec
// mapping. It fails if the inode currently has any active writer.
func (w *writeDefence) beginDefence(ino uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writerCount[ino] > 0 {
		return false
	}
	w.defenceCount[ino]++
	w.released[ino] = false
	return true
}

// endDefence releases one mmap-for-exec hold on ino, idempotently: calling
// it twice for the same closed mapping has no additional effect.
func (w *writeDefence) endDefence(ino uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released[ino] {
		return
	}
	if w.defenceCount[ino] > 0 {
		w.defenceCount[ino]--
	}
	w.released[ino] = true
}

func (w *writeDefence) isDefended(ino uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.defenceCount[ino] > 0
}

func (w *writeDefence) beginWrite(ino uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writerCount[ino]++
}

func (w *writeDefence) endWrite(ino uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writerCount[ino] > 0 {
		w.writerCount[ino]--
	}
}

// Gateway wires the policy evaluator, module whitelist, notification
// channel, and write-defence bookkeeping into the host-facing hook
// surface.
type Gateway struct {
	Policy   *policy.Evaluator
	Modlist  *modlist.List
	Notifier *notify.Notifier
	Enforce  bool // global valinfo.mode equivalent: permissive when false

	wd *writeDefence
}

// New constructs a Gateway from its collaborators.
func New(p *policy.Evaluator, ml *modlist.List, n *notify.Notifier) *Gateway {
	return &Gateway{Policy: p, Modlist: ml, Notifier: n, wd: newWriteDefence()}
}

func (g *Gateway) decide(v policy.Verdict) bool {
	if v.Reason == policy.REintr {
		return false // caller should retry; not a policy denial to notify
	}
	if !v.Allow {
		if !g.Enforce {
			return true
		}
		return false
	}
	return true
}

// OnMmap implements validator_file_mmap: checked only for executable
// mappings. A successful mapping takes a write-defence on the inode,
// which fails outright if the inode currently has an active writer; the
// caller must release it via OnMmapClosed when the mapping's file is
// closed.
func (g *Gateway) OnMmap(ctx context.Context, f policy.File, exec bool, invoker credential.Credentials) bool {
	if !exec {
		return true
	}
	if !g.wd.beginDefence(f.Ino) {
		log.WithField("ino", f.Ino).Info("cannot measure file: concurrent writer")
		return false
	}
	allowed := g.runExeCheck(ctx, f, policy.MmapCheck, invoker)
	if !allowed {
		g.wd.endDefence(f.Ino)
	}
	return allowed
}

// OnMmapClosed releases the write-defence taken by a prior successful
// OnMmap call for this inode, idempotently.
func (g *Gateway) OnMmapClosed(ino uint64) {
	g.wd.endDefence(ino)
}

// OnExec implements the BPRM_CHECK hook path.
func (g *Gateway) OnExec(ctx context.Context, f policy.File, invoker credential.Credentials) bool {
	return g.runExeCheck(ctx, f, policy.BprmCheck, invoker)
}

// OnOpen implements the PATH_CHECK hook path. A write open is only
// subject to the writer-credential check when the file's parent carries
// an immutable- or protected-directory entry; otherwise a write passes
// straight through to on_inode_write_request's own gating. A read open
// runs the full data-open path.
func (g *Gateway) OnOpen(ctx context.Context, f policy.File, write bool, invoker credential.Credentials) bool {
	if write {
		if !g.Policy.ParentGated(f) {
			return true
		}
		v := g.Policy.CheckWritePermission(f, invoker)
		allowed := g.decide(v)
		if !allowed {
			g.notifyFailure(v, policy.PathCheck, f, invoker)
		}
		return allowed
	}

	v := g.Policy.CheckDataOpen(ctx, f, invoker)
	allowed := g.decide(v)
	if !allowed || v.Reason != policy.ROK {
		g.notifyFailure(v, policy.PathCheck, f, invoker)
	}
	return allowed
}

func (g *Gateway) runExeCheck(ctx context.Context, f policy.File, hook policy.Hook, invoker credential.Credentials) bool {
	v := g.Policy.CheckExecutable(ctx, f, hook, invoker)
	allowed := g.decide(v)
	if v.Reason != policy.ROK && v.Reason != policy.REintr {
		g.notifyFailure(v, hook, f, invoker)
	}
	return allowed
}

func (g *Gateway) notifyFailure(v policy.Verdict, hook policy.Hook, f policy.File, invoker credential.Credentials) {
	if g.Notifier == nil {
		return
	}
	g.Notifier.Emit(notify.Violation{
		Reason:      int(v.Reason),
		Method:      int(hook),
		PID:         invoker.PID,
		ProcessName: invoker.Comm,
		Path:        f.Path,
	})
}

// OnInodeWriteRequest implements validator_inode_permission's MAY_WRITE
// path: the write is denied outright while the inode is under an active
// mmap-for-exec write-defence, regardless of writer credentials. A
// legitimate write evicts the inode's cached verification so the next
// exec or data-open is measured fresh, and is tracked until
// OnInodeWriteComplete releases it.
func (g *Gateway) OnInodeWriteRequest(f policy.File, invoker credential.Credentials) bool {
	if g.wd.isDefended(f.Ino) {
		return false
	}
	v := g.Policy.CheckWritePermission(f, invoker)
	if !v.Allow {
		g.notifyFailure(v, policy.PathCheck, f, invoker)
		return false
	}
	g.wd.beginWrite(f.Ino)
	g.Policy.Cache.Remove(f.Device, f.Ino)
	return true
}

// OnInodeWriteComplete releases the writer count taken by a prior
// OnInodeWriteRequest for this inode, idempotently safe to call even if
// no write was ever begun.
func (g *Gateway) OnInodeWriteComplete(ino uint64) {
	g.wd.endWrite(ino)
}

// OnUnlink implements validator_inode_unlink: a writer-credential check
// runs against both the containing directory and the target inode before
// the unlink is allowed to proceed; the hashlist entry is only dropped
// once the target's link count is about to reach zero.
func (g *Gateway) OnUnlink(dir, target policy.File, linkCount int, invoker credential.Credentials, hashlists *hashlist.Registry, c *cache.Cache) bool {
	if v := g.Policy.CheckWritePermission(dir, invoker); !v.Allow {
		g.notifyFailure(v, policy.PathCheck, dir, invoker)
		return false
	}
	if v := g.Policy.CheckWritePermission(target, invoker); !v.Allow {
		g.notifyFailure(v, policy.PathCheck, target, invoker)
		return false
	}

	c.Remove(target.Device, target.Ino)
	if linkCount == 1 {
		hashlists.Volume(target.Device).Delete(target.Ino)
	}
	return true
}

// OnCreate implements validator_inode_create: adding an entry to an
// immutable or protected directory requires a writer check on that
// directory.
func (g *Gateway) OnCreate(dir policy.File, invoker credential.Credentials) bool {
	v := g.Policy.CheckWritePermission(dir, invoker)
	if !v.Allow {
		g.notifyFailure(v, policy.PathCheck, dir, invoker)
		return false
	}
	return true
}

// OnRename implements validator_inode_rename: a writer check runs against
// both the old and new containing directories, and the renamed inode's
// cache entry is evicted so its next access is measured fresh under its
// new name.
func (g *Gateway) OnRename(oldDir, newDir, renamed policy.File, invoker credential.Credentials, c *cache.Cache) bool {
	if v := g.Policy.CheckWritePermission(oldDir, invoker); !v.Allow {
		g.notifyFailure(v, policy.PathCheck, oldDir, invoker)
		return false
	}
	if v := g.Policy.CheckWritePermission(newDir, invoker); !v.Allow {
		g.notifyFailure(v, policy.PathCheck, newDir, invoker)
		return false
	}
	c.Remove(renamed.Device, renamed.Ino)
	return true
}

// OnModuleLoad checks a candidate kernel module image against the module
// whitelist.
func (g *Gateway) OnModuleLoad(image []byte) modlist.Verdict {
	if g.Modlist == nil {
		return modlist.Allow
	}
	return g.Modlist.Check(image)
}

// OnSuperblockFree purges all cache and hashlist state for a device when
// its volume is unmounted.
func (g *Gateway) OnSuperblockFree(device uint64, hashlists *hashlist.Registry, c *cache.Cache) {
	hashlists.Destroy(device)
	c.PurgeDevice(device)
}

// OnNetlinkSend always refuses inbound sends: the notification channel is
// one-way, broadcast-only.
func (g *Gateway) OnNetlinkSend(context.Context, []byte) bool {
	return false
}
