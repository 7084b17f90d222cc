// Package bootstrap implements the loader that populates a volume's
// reference hashlist by invoking a userspace helper the first time a
// volume is accessed, serializing concurrent invocations with a single
// global lock exactly as the original kernel module serializes
// call_usermodehelper invocations.
package bootstrap

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	setxid "gopkg.in/hlandau/service.v1/daemon/setuid"

	"github.com/nestybox/aegisvalidator/digest"
)

var log = logrus.WithField("component", "bootstrap")

var vhashPattern = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)

// ErrFatal is returned when bootstrap fails in enforcing mode with no
// developer override available; the host is expected to treat this as
// unrecoverable, matching the kernel original's decision to panic rather
// than run unverified.
var ErrFatal = fmt.Errorf("bootstrap: unrecoverable failure")

// Mode controls what happens when the root-volume bootstrap check fails.
type Mode int

const (
	// Enforcing fails closed: Load returns ErrFatal.
	Enforcing Mode = iota
	// DevMode disables the validator rather than failing closed, matching
	// the original's behavior when a developer certificate or dev/research
	// kernel build is present.
	DevMode
)

// Config configures a Loader. HelperPath is the on-disk location of the
// loader helper; for a non-root volume it is invoked with the mountpoint as
// its sole argument.
type Config struct {
	Mode        Mode
	HelperPath  string
	DevHelperPaths []string // accepted helper paths only in DevMode
	VHash       string      // 40 hex char helper digest, case-insensitive; empty disables the root-volume digest check
	DropUID     int
	DropGID     int
	PIDFilePath string
	// UseWatchdog routes helper completion through a pid-exit monitor
	// instead of a plain blocking Wait, for helpers that may double-fork
	// and reparent away from this process.
	UseWatchdog bool
}

// CacheLookup reports whether (device, ino) is already cached, used to
// decide whether the calling inode is itself a trusted, already-verified
// process (the root-volume fast path).
type CacheLookup interface {
	Lookup(device, ino uint64) (srcID int64, ok bool)
}

// Loader serializes bootstrap helper invocations behind a single global
// mutex, matching spec.md §4.H.
type Loader struct {
	mu  sync.Mutex
	cfg Config

	disabled bool
}

// New constructs a Loader. If cfg.VHash is non-empty, it must be exactly
// 40 hex characters; anything else is rejected and logged rather than
// silently ignored.
//
// If the caller left cfg.Mode at its zero value (Enforcing) and supplied
// no DevHelperPaths, the process environment is consulted for a dev-mode
// override, so a developer build can still loosen the root-volume gate
// without the embedding host having to special-case it in its own config
// plumbing.
func New(cfg Config) (*Loader, error) {
	if cfg.VHash != "" && !vhashPattern.MatchString(cfg.VHash) {
		log.WithField("vhash", cfg.VHash).Warn("rejecting malformed vhash, ignoring")
		cfg.VHash = ""
	}
	if cfg.Mode == Enforcing && len(cfg.DevHelperPaths) == 0 {
		if mode, devPaths := ModeFromEnviron(os.Environ()); mode == DevMode {
			log.WithField("devHelperPaths", devPaths).Info("dev mode detected from environment")
			cfg.Mode = mode
			cfg.DevHelperPaths = devPaths
		}
	}
	return &Loader{cfg: cfg}, nil
}

// Load runs the bootstrap helper for the given device (volume). root
// indicates whether device is the root volume, which is gated by the
// vhash/cache checks rather than simply being invoked unconditionally.
func (l *Loader) Load(ctx context.Context, device uint64, root bool, callerIno uint64, cache CacheLookup, mountpoint string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.disabled {
		return nil
	}

	if root {
		if err := l.checkRootVolumeAllowed(callerIno, cache); err != nil {
			return l.fail(err)
		}
		return l.runHelper(ctx, l.cfg.HelperPath)
	}

	return l.runHelper(ctx, l.cfg.HelperPath, mountpoint)
}

// checkRootVolumeAllowed implements the root-volume gate: allow if the
// calling inode is itself already cached (it was already verified once),
// or if a vhash was configured and the helper's own digest matches it, or
// (DevMode only) if the helper path is one of the accepted dev paths.
func (l *Loader) checkRootVolumeAllowed(callerIno uint64, cache CacheLookup) error {
	if cache != nil {
		if _, ok := cache.Lookup(0, callerIno); ok {
			return nil
		}
	}

	var vhashErr error
	if l.cfg.VHash != "" {
		buf, err := os.ReadFile(l.cfg.HelperPath)
		if err != nil {
			vhashErr = fmt.Errorf("reading helper for vhash check: %w", err)
		} else if sum := digest.DigestBuffer(buf); strings.EqualFold(hex.EncodeToString(sum[:]), l.cfg.VHash) {
			return nil
		} else {
			vhashErr = fmt.Errorf("helper digest does not match configured vhash")
		}
	}

	if l.cfg.Mode == DevMode {
		for _, p := range l.cfg.DevHelperPaths {
			if p == l.cfg.HelperPath {
				return nil
			}
		}
	}

	if vhashErr != nil {
		return vhashErr
	}
	return fmt.Errorf("root volume bootstrap not authorized")
}

func (l *Loader) fail(cause error) error {
	if l.cfg.Mode == DevMode {
		log.WithError(cause).Warn("bootstrap check failed in dev mode; disabling validator rather than failing closed")
		l.disabled = true
		return nil
	}
	log.WithError(cause).Error("bootstrap check failed in enforcing mode; failing closed")
	return fmt.Errorf("%w: %v", ErrFatal, cause)
}

func (l *Loader) runHelper(ctx context.Context, path string, args ...string) error {
	pidFile := l.cfg.PIDFilePath
	if pidFile != "" {
		if err := acquirePidFile("aegis-bootstrap-helper", pidFile); err != nil {
			return fmt.Errorf("bootstrap: another helper invocation is in flight: %w", err)
		}
		defer releasePidFile(pidFile)
	}

	var cmd *exec.Cmd
	if l.cfg.DropUID != 0 || l.cfg.DropGID != 0 {
		self, err := os.Executable()
		if err != nil {
			return l.fail(fmt.Errorf("resolving self executable for privilege-drop reexec: %w", err))
		}
		cmd = exec.CommandContext(ctx, self, append([]string{path}, args...)...)
		cmd.Env = append(os.Environ(),
			reexecEnv+"=1",
			fmt.Sprintf("%s=%d", reexecUIDEnv, l.cfg.DropUID),
			fmt.Sprintf("%s=%d", reexecGIDEnv, l.cfg.DropGID),
		)
	} else {
		cmd = exec.CommandContext(ctx, path, args...)
	}

	if l.cfg.UseWatchdog {
		done, err := watchHelperExit(cmd)
		if err != nil {
			return l.fail(fmt.Errorf("helper %s failed to start: %w", path, err))
		}
		if err := <-done; err != nil {
			return l.fail(fmt.Errorf("helper %s failed: %w", path, err))
		}
		return nil
	}

	if err := cmd.Run(); err != nil {
		return l.fail(fmt.Errorf("helper %s failed: %w", path, err))
	}
	return nil
}
