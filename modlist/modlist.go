// Package modlist implements the kernel module whitelist: a small,
// append-only set of digests for modules that are authorized to load.
// Entries are never removed individually; the whole set is replaced
// wholesale when the whitelist is reloaded.
package modlist

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nestybox/aegisvalidator/digest"
)

var log = logrus.WithField("component", "modlist")

// buckets matches MOD_HASHTABLE_SIZE: small because the whitelist is
// expected to hold at most a few dozen entries.
const buckets = 32

// Verdict is the result of checking a candidate module image.
type Verdict int

const (
	Allow Verdict = iota
	Deny
	Unsupported
)

// KernelModuleProber reports whether the host kernel supports the loaded-
// module check at all, letting Check distinguish "module absent/unchecked"
// from "module denied" the way a plain digest comparison cannot.
type KernelModuleProber interface {
	KernelModSupported() (bool, error)
}

// List is the module whitelist. The zero value is not usable; use New.
type List struct {
	mu      sync.RWMutex
	enabled bool
	table   [buckets]map[[20]byte]struct{}
	prober  KernelModuleProber
}

// New creates an empty, disabled whitelist. Call SetEnabled(true) once a
// whitelist has actually been populated, matching kmod_init in the
// original configuration surface.
func New(prober KernelModuleProber) *List {
	l := &List{prober: prober}
	for i := range l.table {
		l.table[i] = make(map[[20]byte]struct{})
	}
	return l
}

func bucketOf(sum [20]byte) int {
	return int(sum[0]) % buckets
}

// SetEnabled toggles whether Check enforces membership at all.
func (l *List) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// Authorize adds a digest to the whitelist. Re-adding an existing digest is
// a no-op, matching the original's dedup-only insert.
func (l *List) Authorize(sum [20]byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.table[bucketOf(sum)][sum] = struct{}{}
}

// Reset wholesale-replaces the whitelist contents, used when the module
// list is reloaded from scratch.
func (l *List) Reset(sums [][20]byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.table {
		l.table[i] = make(map[[20]byte]struct{})
	}
	for _, s := range sums {
		l.table[bucketOf(s)][s] = struct{}{}
	}
}

// Contains reports whether sum is present in the whitelist, regardless of
// whether enforcement is enabled.
func (l *List) Contains(sum [20]byte) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.table[bucketOf(sum)][sum]
	return ok
}

// Check digests buf and reports whether the resulting module image is
// authorized to load. If the whitelist is disabled, Check always allows.
// If the host kernel doesn't support the module check at all, Check
// reports Unsupported rather than Deny, so callers can tell "nothing to
// check here" apart from "this was rejected".
func (l *List) Check(buf []byte) Verdict {
	l.mu.RLock()
	enabled := l.enabled
	l.mu.RUnlock()

	if !enabled {
		return Allow
	}

	if l.prober != nil {
		ok, err := l.prober.KernelModSupported()
		if err != nil {
			log.WithError(err).Warn("failed to probe kernel module support")
		}
		if !ok {
			return Unsupported
		}
	}

	sum := digest.DigestBuffer(buf)
	if l.Contains(sum) {
		return Allow
	}
	log.WithField("digest", sum).Warn("module image not on whitelist")
	return Deny
}
