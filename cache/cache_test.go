package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRoundsUpToPowerOfTwo(t *testing.T) {
	c := New(500)
	require.Equal(t, 512, len(c.buckets))
}

func TestInsertLookupRoundTrip(t *testing.T) {
	c := New(16)
	c.Insert(1, 42, 7)

	srcID, ok := c.Lookup(1, 42)
	require.True(t, ok)
	require.Equal(t, int64(7), srcID)

	_, ok = c.Lookup(1, 43)
	require.False(t, ok)
}

func TestInsertOverwritesSameKey(t *testing.T) {
	c := New(16)
	c.Insert(1, 42, 7)
	c.Insert(1, 42, 9)

	srcID, ok := c.Lookup(1, 42)
	require.True(t, ok)
	require.Equal(t, int64(9), srcID)
}

func TestEvictionRoundRobinWhenBucketFull(t *testing.T) {
	c := New(1) // single bucket, forces collisions

	for i := 0; i < entriesPerBucket; i++ {
		c.Insert(0, uint64(i), int64(i))
	}
	// bucket is now full; one more insert must evict slot 0 (nextEvicted)
	c.Insert(0, uint64(entriesPerBucket), int64(entriesPerBucket))

	_, ok := c.Lookup(0, 0)
	require.False(t, ok, "oldest entry should have been evicted")

	srcID, ok := c.Lookup(0, uint64(entriesPerBucket))
	require.True(t, ok)
	require.Equal(t, int64(entriesPerBucket), srcID)
}

func TestEvictionNeverReEvictsJustInsertedSlot(t *testing.T) {
	c := New(1)
	for i := 0; i < entriesPerBucket; i++ {
		c.Insert(0, uint64(i), int64(i))
	}
	b := &c.buckets[0]
	require.Equal(t, 0, b.nextEvicted)

	// This insert evicts slot 0 and writes the new key there; nextEvicted
	// must advance past 0 again so the very next insert doesn't immediately
	// undo what was just written.
	c.Insert(0, 999, 999)
	require.NotEqual(t, 0, b.nextEvicted)
	require.Equal(t, key{device: 0, ino: 999}, b.entries[0].key)
}

func TestRemove(t *testing.T) {
	c := New(16)
	c.Insert(1, 42, 7)
	c.Remove(1, 42)

	_, ok := c.Lookup(1, 42)
	require.False(t, ok)
}

func TestPurgeDevice(t *testing.T) {
	c := New(16)
	c.Insert(1, 1, 1)
	c.Insert(1, 2, 2)
	c.Insert(2, 1, 1)

	c.PurgeDevice(1)

	_, ok := c.Lookup(1, 1)
	require.False(t, ok)
	_, ok = c.Lookup(1, 2)
	require.False(t, ok)
	_, ok = c.Lookup(2, 1)
	require.True(t, ok)
}

func TestFlushAll(t *testing.T) {
	c := New(16)
	c.Insert(1, 1, 1)
	c.FlushAll()

	_, ok := c.Lookup(1, 1)
	require.False(t, ok)
}
