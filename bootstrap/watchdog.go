package bootstrap

import (
	"fmt"
	"os/exec"
	"syscall"

	"github.com/nestybox/aegisvalidator/pidfd"
	"github.com/nestybox/aegisvalidator/pidmonitor"
)

func syscallCloseQuiet(fd int) {
	_ = syscall.Close(fd)
}

// watchHelperExit starts cmd asynchronously and uses a pid monitor to
// detect its exit, as a fallback for hosts where a blocked or hung helper
// means cmd.Wait() might never be observed directly (e.g. the helper
// double-forks and reparents). The returned channel receives the wait
// error (nil on clean exit) exactly once.
func watchHelperExit(cmd *exec.Cmd) (<-chan error, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	pm, err := pidmonitor.New(&pidmonitor.Cfg{Poll: 50})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: starting helper watchdog: %w", err)
	}

	pid := uint32(cmd.Process.Pid)
	if err := pm.AddEvent([]pidmonitor.PidEvent{{Pid: pid, Event: pidmonitor.Exit}}); err != nil {
		pm.Close()
		return nil, err
	}

	// Hold a pidfd on the helper for the duration of the watch so that if
	// the pid is reused by an unrelated process before the monitor polls
	// it again, the stale pid table entry is at least backed by a
	// reference that was valid for this exact process at watch-start time.
	pfd, pfdErr := pidfd.Open(cmd.Process.Pid, 0)
	hasPfd := pfdErr == nil

	done := make(chan error, 1)
	go func() {
		defer pm.Close()
		if hasPfd {
			defer syscallCloseQuiet(int(pfd))
		}
		for {
			events := pm.WaitEvent()
			for _, e := range events {
				if e.Pid == pid && e.Event&pidmonitor.Exit != 0 {
					done <- cmd.Wait()
					return
				}
			}
		}
	}()

	return done, nil
}
