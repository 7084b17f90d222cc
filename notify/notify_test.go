package notify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitFansOutToSubscribers(t *testing.T) {
	n := New()
	var got string
	n.Subscribe(func(record string) { got = record })

	n.Emit(Violation{Reason: 4, Method: 2, PID: 123, ProcessName: "tool", Path: "/bin/tool"})

	require.Contains(t, got, "Fail: 4 (hash-mismatch)")
	require.Contains(t, got, "Method: 2")
	require.Contains(t, got, "Process: tool")
	require.Contains(t, got, "File: /bin/tool")
}

func TestEmitSuppressesInterrupted(t *testing.T) {
	n := New()
	called := false
	n.Subscribe(func(string) { called = true })

	n.Emit(Violation{Reason: reasonInterrupted, Path: "/bin/tool"})

	require.False(t, called)
}

func TestFormatFallsBackToUnknownProcessName(t *testing.T) {
	record := Format(Violation{Reason: 2, Method: 1, Path: "/etc/passwd"})
	require.Contains(t, record, "Process: unknown")
	require.Contains(t, record, "Fail: 2 (not-in-hashlist)")
}

func TestMangleEscapesBackslashAndNewline(t *testing.T) {
	require.Equal(t, `a\\b\nc`, mangle("a\\b\nc"))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	n := New()
	count := 0
	unsub := n.Subscribe(func(string) { count++ })
	n.Emit(Violation{Reason: 1})
	unsub()
	n.Emit(Violation{Reason: 1})
	require.Equal(t, 1, count)
}
