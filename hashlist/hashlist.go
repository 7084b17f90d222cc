// Package hashlist implements the reference hashlist: the per-volume table
// of known-good (inode, digest, attributes, write-credentials) records that
// the policy evaluator consults before falling back to a full digest
// computation. Each volume gets its own bucketed table so that unmounting
// one volume can discard its entries in bulk without touching any other
// volume's state.
package hashlist

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "hashlist")

// hashtableBits matches HASHTABLE_BITS: 1024 buckets per volume.
const hashtableBits = 10
const hashtableSize = 1 << hashtableBits

// NodeType distinguishes the kind of object a reference entry describes.
type NodeType int

const (
	NodeExecutable    NodeType = iota // 's' and legacy 'a' tags
	NodeStaticData                    // 't': static data file, digest-checked like an executable
	NodeExempt                        // 'x': dynamic data, exempt from attribute/digest checks
	NodeImmutableDir                  // 'd': immutable-directory marker, not digest-checked itself
	NodeProtectedDir                  // 'p': protected directory
)

// CredentialPair is one (type, value) write-credential requirement; an
// entry with no pairs falls back to plain DAC permission checks.
type CredentialPair struct {
	Type  string
	Value int64
}

// Entry is one reference hashlist record.
type Entry struct {
	Node  NodeType
	Ino   uint64
	SrcID int64
	UID   uint32
	GID   uint32
	Mode  uint32
	WCreds []CredentialPair
	Hash  [20]byte
}

type bucket struct {
	mu    sync.RWMutex
	items map[uint64]*Entry
}

// Volume is one volume's reference hashlist, keyed by inode number.
type Volume struct {
	device  uint64
	buckets [hashtableSize]bucket
}

func newVolume(device uint64) *Volume {
	v := &Volume{device: device}
	for i := range v.buckets {
		v.buckets[i].items = make(map[uint64]*Entry)
	}
	return v
}

func (v *Volume) bucketFor(ino uint64) *bucket {
	return &v.buckets[ino&(hashtableSize-1)]
}

// Insert adds or replaces the entry for ino. Replacing an existing entry
// releases its prior write-credentials, matching the original's
// hashlist_add: entries are never merged, only swapped wholesale.
func (v *Volume) Insert(e Entry) {
	b := v.bucketFor(e.Ino)
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := e
	b.items[e.Ino] = &cp
}

// Lookup returns the entry for ino, if present.
func (v *Volume) Lookup(ino uint64) (Entry, bool) {
	b := v.bucketFor(ino)
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.items[ino]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Delete removes the entry for ino, e.g. when the inode's last hard link
// is removed.
func (v *Volume) Delete(ino uint64) {
	b := v.bucketFor(ino)
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.items, ino)
}

// Len reports how many entries this volume currently holds, for dumps and
// tests.
func (v *Volume) Len() int {
	total := 0
	for i := range v.buckets {
		v.buckets[i].mu.RLock()
		total += len(v.buckets[i].items)
		v.buckets[i].mu.RUnlock()
	}
	return total
}

// Registry tracks one Volume per device, the Go analogue of the original
// module-wide volume_list.
type Registry struct {
	mu      sync.RWMutex
	volumes map[uint64]*Volume
}

// NewRegistry creates an empty volume registry.
func NewRegistry() *Registry {
	return &Registry{volumes: make(map[uint64]*Volume)}
}

// Volume returns the hashlist for device, creating it on first use.
func (r *Registry) Volume(device uint64) *Volume {
	r.mu.RLock()
	v, ok := r.volumes[device]
	r.mu.RUnlock()
	if ok {
		return v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok = r.volumes[device]; ok {
		return v
	}
	v = newVolume(device)
	r.volumes[device] = v
	return v
}

// Destroy releases a volume's whole hashlist, used when its superblock is
// freed (i.e., it's unmounted).
func (r *Registry) Destroy(device uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.volumes, device)
	log.WithField("device", device).Debug("destroyed volume hashlist")
}

func (e Entry) String() string {
	return fmt.Sprintf("hashlist.Entry{node=%d ino=%d sid=%d uid=%d gid=%d mode=%o creds=%d}",
		e.Node, e.Ino, e.SrcID, e.UID, e.GID, e.Mode, len(e.WCreds))
}
