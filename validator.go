// Package aegisvalidator wires the digest engine, reference hashlist,
// module whitelist, verification cache, writer-credential checker,
// configuration surface, bootstrap loader, policy evaluator, and
// enforcement gateway into a single embeddable integrity-enforcement
// engine, mirroring the call graph original_source/.../validator.c hangs
// off process_measurement: a hook fires, the policy evaluator consults
// the cache/hashlist/digest/credential stack in order, and the gateway
// turns the verdict into an allow/deny decision plus an optional
// notification.
package aegisvalidator

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/nestybox/aegisvalidator/bootstrap"
	"github.com/nestybox/aegisvalidator/cache"
	"github.com/nestybox/aegisvalidator/config"
	"github.com/nestybox/aegisvalidator/credential"
	"github.com/nestybox/aegisvalidator/gateway"
	"github.com/nestybox/aegisvalidator/hashlist"
	"github.com/nestybox/aegisvalidator/modlist"
	"github.com/nestybox/aegisvalidator/mount"
	"github.com/nestybox/aegisvalidator/notify"
	"github.com/nestybox/aegisvalidator/policy"
)

// Options configures a new Engine. Only Admin, Token, and Credential are
// mandatory; the rest have workable zero values (no bootstrap helper, no
// module whitelist enforcement, a cache sized for a small host).
type Options struct {
	Admin      config.AdminChecker
	Token      config.TokenChecker
	Credential credential.Service
	Prober     modlist.KernelModuleProber
	FS         afero.Fs

	// CacheBuckets is rounded up to the next power of two; zero picks a
	// small default suitable for a single-host deployment.
	CacheBuckets int

	// Bootstrap, if non-nil, enables the first-access hashlist loader for
	// volumes that miss a cache/hashlist lookup.
	Bootstrap *bootstrap.Config

	// RootDevice identifies the volume bootstrap treats as the root
	// volume, gated by the vhash/cache authorization path rather than
	// invoked unconditionally.
	RootDevice uint64

	// Enforce starts the gateway in enforcing mode; false starts
	// permissive (denials are logged and notified but not applied).
	Enforce bool
}

// Engine is the embeddable top-level integrity-enforcement object. Host
// code calls into Gateway's On* methods from its own interception points
// (a FUSE filesystem, a ptrace exec guard, an LSM shim) and otherwise
// drives ingestion (Hashlists, Modlist) and configuration (Config)
// directly.
type Engine struct {
	Cache     *cache.Cache
	Hashlists *hashlist.Registry
	Modlist   *modlist.List
	Config    *config.Surface
	Notifier  *notify.Notifier
	Policy    *policy.Evaluator
	Gateway   *gateway.Gateway

	loader     *bootstrap.Loader
	rootDevice uint64
}

// New builds an Engine from Options.
func New(opts Options) (*Engine, error) {
	if opts.Admin == nil || opts.Token == nil {
		return nil, fmt.Errorf("aegisvalidator: Admin and Token checkers are required")
	}
	if opts.Credential == nil {
		return nil, fmt.Errorf("aegisvalidator: a credential.Service is required")
	}

	fs := opts.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}

	buckets := opts.CacheBuckets
	if buckets <= 0 {
		buckets = 1024
	}

	cfg := config.New(opts.Admin, opts.Token)
	c := cache.New(buckets)
	hl := hashlist.NewRegistry()
	ml := modlist.New(opts.Prober)
	n := notify.New()

	e := &Engine{
		Cache:      c,
		Hashlists:  hl,
		Modlist:    ml,
		Config:     cfg,
		Notifier:   n,
		rootDevice: opts.RootDevice,
	}

	if opts.Bootstrap != nil {
		loader, err := bootstrap.New(*opts.Bootstrap)
		if err != nil {
			return nil, fmt.Errorf("aegisvalidator: constructing bootstrap loader: %w", err)
		}
		e.loader = loader
	}

	ev := policy.NewEvaluator(c, hl, cfg, opts.Credential, e.hashlistLoaderAdapter(), fs, mount.Prober{})
	e.Policy = ev

	gw := gateway.New(ev, ml, n)
	gw.Enforce = opts.Enforce
	e.Gateway = gw

	return e, nil
}

// WriteHashlistEntry inserts a reference hashlist entry for device,
// gated by the same access lattice as the enforce/enable/devorig
// surfaces (AEGIS_FS_HASHLIST_WRITE in the original).
func (e *Engine) WriteHashlistEntry(device uint64, entry hashlist.Entry) error {
	if err := e.Config.CheckAccess(); err != nil {
		return err
	}
	e.Hashlists.Volume(device).Insert(entry)
	return nil
}

// AuthorizeModule adds sum to the module whitelist, gated by the access
// lattice (AEGIS_FS_HASHLIST_WRITE covers the module-whitelist entry
// too, per the userspace control surface's single "modlist" file).
func (e *Engine) AuthorizeModule(sum [20]byte) error {
	if err := e.Config.CheckAccess(); err != nil {
		return err
	}
	e.Modlist.Authorize(sum)
	return nil
}

// ResetModuleWhitelist replaces the module whitelist wholesale, gated by
// the same access lattice as AuthorizeModule.
func (e *Engine) ResetModuleWhitelist(sums [][20]byte) error {
	if err := e.Config.CheckAccess(); err != nil {
		return err
	}
	e.Modlist.Reset(sums)
	return nil
}

// FlushCache clears every cached verification, gated by the access
// lattice (AEGIS_FS_FLUSH_WRITE in the original).
func (e *Engine) FlushCache() error {
	if err := e.Config.CheckAccess(); err != nil {
		return err
	}
	e.Cache.FlushAll()
	return nil
}

// hashlistLoaderAdapter returns nil when no bootstrap loader was
// configured, so policy.Evaluator's "Loader == nil" fallback (deny
// RLoad rather than attempting to bootstrap) applies unchanged.
func (e *Engine) hashlistLoaderAdapter() policy.HashlistLoader {
	if e.loader == nil {
		return nil
	}
	return loaderAdapter{e: e}
}

type loaderAdapter struct {
	e *Engine
}

func (a loaderAdapter) Load(ctx context.Context, device uint64) error {
	root := device == a.e.rootDevice

	mountpoint := ""
	if !root {
		mounts, err := mount.GetMounts()
		if err != nil {
			return fmt.Errorf("aegisvalidator: listing mounts: %w", err)
		}
		for _, m := range mounts {
			id, err := mount.VolumeID(m.Mountpoint)
			if err == nil && id == device {
				mountpoint = m.Mountpoint
				break
			}
		}
		if mountpoint == "" {
			return fmt.Errorf("aegisvalidator: no mountpoint found for device %d", device)
		}
	}

	return a.e.loader.Load(ctx, device, root, 0, a.e.Cache, mountpoint)
}
