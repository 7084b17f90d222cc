package hashlist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertLookupDelete(t *testing.T) {
	v := newVolume(1)
	v.Insert(Entry{Ino: 100, SrcID: 5, Node: NodeExecutable})

	e, ok := v.Lookup(100)
	require.True(t, ok)
	require.Equal(t, int64(5), e.SrcID)

	v.Delete(100)
	_, ok = v.Lookup(100)
	require.False(t, ok)
}

func TestInsertReplacesExisting(t *testing.T) {
	v := newVolume(1)
	v.Insert(Entry{Ino: 1, SrcID: 1, WCreds: []CredentialPair{{Type: "tcb", Value: 1}}})
	v.Insert(Entry{Ino: 1, SrcID: 2})

	e, ok := v.Lookup(1)
	require.True(t, ok)
	require.Equal(t, int64(2), e.SrcID)
	require.Empty(t, e.WCreds)
}

func TestRegistryPerDeviceIsolation(t *testing.T) {
	r := NewRegistry()
	r.Volume(1).Insert(Entry{Ino: 1, SrcID: 1})
	r.Volume(2).Insert(Entry{Ino: 1, SrcID: 2})

	e1, _ := r.Volume(1).Lookup(1)
	e2, _ := r.Volume(2).Lookup(1)
	require.Equal(t, int64(1), e1.SrcID)
	require.Equal(t, int64(2), e2.SrcID)
}

func TestRegistryDestroy(t *testing.T) {
	r := NewRegistry()
	vol := r.Volume(1)
	vol.Insert(Entry{Ino: 1, SrcID: 1})

	r.Destroy(1)
	fresh := r.Volume(1)
	_, ok := fresh.Lookup(1)
	require.False(t, ok, "destroying a volume must drop all its entries")
}

func TestLenCountsAcrossBuckets(t *testing.T) {
	v := newVolume(1)
	for i := uint64(0); i < 50; i++ {
		v.Insert(Entry{Ino: i})
	}
	require.Equal(t, 50, v.Len())
}
