// Package cache implements the verification cache: a fixed-size, bucketed
// table that remembers the source identity of inodes that have already
// passed a full policy check, so that a hot file isn't re-digested and
// re-evaluated on every open. Each bucket is guarded by a seqlock-style
// counter so that lookups can proceed without blocking on concurrent
// inserts, at the cost of retrying when a write is observed mid-read.
package cache

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "cache")

// entriesPerBucket matches the original cache's fixed-size bucket.
const entriesPerBucket = 8

// maxSeqRetries bounds how many times a lookup will retry after observing
// a bucket mid-write before it falls back to taking the bucket lock. The
// kernel original can rely on the writer being a short, non-preemptible
// critical section; a goroutine writer carries no such guarantee, so a
// bound is required to keep a reader from spinning forever under a writer
// storm.
const maxSeqRetries = 100

// unusedSrcID marks an empty cache slot, matching UNUSED_SRC_ID_VALUE.
const unusedSrcID = -1

type key struct {
	device uint64
	ino    uint64
}

type slot struct {
	key   key
	srcID int64
}

type bucket struct {
	seq         atomic.Uint32
	mu          sync.Mutex
	entries     [entriesPerBucket]slot
	nextEvicted int
}

// Cache is the verification cache. The zero value is not usable; use New.
type Cache struct {
	buckets []bucket
	mask    uint64
}

// New creates a cache with at least minBuckets buckets, rounded up to the
// next power of two exactly as the original cache sizes itself from a
// configured seed.
func New(minBuckets int) *Cache {
	n := 1
	for n < minBuckets {
		n *= 2
	}
	c := &Cache{
		buckets: make([]bucket, n),
		mask:    uint64(n - 1),
	}
	for i := range c.buckets {
		c.buckets[i].nextEvicted = 0
		for j := range c.buckets[i].entries {
			c.buckets[i].entries[j].srcID = unusedSrcID
		}
	}
	return c
}

func (c *Cache) bucketFor(device, ino uint64) *bucket {
	h := hashInode(device, ino) & c.mask
	return &c.buckets[h]
}

// hashInode folds device and inode into a single bucket-selection value,
// matching the mixing the original cache's hash() performs.
func hashInode(device, ino uint64) uint64 {
	h := ino*2654435761 + device
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	return h
}

// Lookup reports the cached source identity for (device, ino), if present.
// It is lock-free on the common path: it reads the bucket twice around the
// scan and retries if the sequence counter changed, falling back to the
// bucket lock after maxSeqRetries failed attempts.
func (c *Cache) Lookup(device, ino uint64) (srcID int64, ok bool) {
	b := c.bucketFor(device, ino)
	k := key{device: device, ino: ino}

	for attempt := 0; attempt < maxSeqRetries; attempt++ {
		seq1 := b.seq.Load()
		if seq1%2 == 1 {
			continue // write in progress
		}
		srcID, ok = scanBucket(b, k)
		seq2 := b.seq.Load()
		if seq1 == seq2 {
			return srcID, ok
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return scanBucket(b, k)
}

func scanBucket(b *bucket, k key) (int64, bool) {
	for i := 0; i < entriesPerBucket; i++ {
		e := b.entries[i]
		if e.srcID != unusedSrcID && e.key == k {
			return e.srcID, true
		}
	}
	return 0, false
}

// Insert records srcID for (device, ino), evicting the bucket's
// round-robin victim if every slot is occupied. If the chosen victim slot
// is the one that will be evicted next time around, nextEvicted is
// advanced once more so Insert never evicts the entry it just wrote.
func (c *Cache) Insert(device, ino uint64, srcID int64) {
	b := c.bucketFor(device, ino)
	k := key{device: device, ino: ino}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq.Add(1) // enter write: becomes odd

	slotIdx := -1
	for i := 0; i < entriesPerBucket; i++ {
		if b.entries[i].srcID == unusedSrcID || b.entries[i].key == k {
			slotIdx = i
			break
		}
	}
	if slotIdx == -1 {
		slotIdx = b.nextEvicted
		b.nextEvicted = (b.nextEvicted + 1) % entriesPerBucket
	}

	b.entries[slotIdx] = slot{key: k, srcID: srcID}

	if slotIdx == b.nextEvicted {
		b.nextEvicted = (b.nextEvicted + 1) % entriesPerBucket
	}

	b.seq.Add(1) // leave write: becomes even
}

// Remove drops a single cached entry, used when a reference hashlist entry
// for (device, ino) is removed so a stale source identity is never served.
func (c *Cache) Remove(device, ino uint64) {
	b := c.bucketFor(device, ino)
	k := key{device: device, ino: ino}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq.Add(1)
	for i := range b.entries {
		if b.entries[i].key == k && b.entries[i].srcID != unusedSrcID {
			b.entries[i] = slot{srcID: unusedSrcID}
		}
	}
	b.seq.Add(1)
}

// PurgeDevice drops every cached entry for a device, used when a volume's
// superblock is released (on_sb_free equivalent).
func (c *Cache) PurgeDevice(device uint64) {
	for bi := range c.buckets {
		b := &c.buckets[bi]
		b.mu.Lock()
		b.seq.Add(1)
		for i := range b.entries {
			if b.entries[i].srcID != unusedSrcID && b.entries[i].key.device == device {
				b.entries[i] = slot{srcID: unusedSrcID}
			}
		}
		b.seq.Add(1)
		b.mu.Unlock()
	}
	log.WithField("device", device).Debug("purged cache entries for device")
}

// FlushAll clears the whole cache, used when validator configuration is
// reloaded in a way that invalidates every previous decision.
func (c *Cache) FlushAll() {
	for bi := range c.buckets {
		b := &c.buckets[bi]
		b.mu.Lock()
		b.seq.Add(1)
		for i := range b.entries {
			b.entries[i] = slot{srcID: unusedSrcID}
		}
		b.nextEvicted = 0
		b.seq.Add(1)
		b.mu.Unlock()
	}
	log.Debug("flushed cache")
}

// String renders basic bucket occupancy, useful for debug dumps.
func (c *Cache) String() string {
	used := 0
	for bi := range c.buckets {
		b := &c.buckets[bi]
		for i := range b.entries {
			if b.entries[i].srcID != unusedSrcID {
				used++
			}
		}
	}
	return fmt.Sprintf("cache{buckets=%d, used=%d}", len(c.buckets), used)
}
