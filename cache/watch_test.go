package cache

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nestybox/aegisvalidator/fileMonitor"
)

func TestWatcherEvictsOnFileRemoval(t *testing.T) {
	f, err := os.CreateTemp("", "cachewatch")
	require.NoError(t, err)
	defer os.Remove(f.Name())

	c := New(4)
	c.Insert(1, 10, 5)

	w, err := NewWatcher(c, fileMonitor.Cfg{EventBufSize: 4, PollInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	defer w.Close()

	w.Watch(f.Name(), 1, 10)
	require.NoError(t, os.Remove(f.Name()))

	require.Eventually(t, func() bool {
		_, ok := c.Lookup(1, 10)
		return !ok
	}, time.Second, 10*time.Millisecond)
}
