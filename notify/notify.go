// Package notify implements the validator's one-way notification channel:
// a broadcast-only emitter that reports integrity violations to userspace
// listeners. Inbound messages are never accepted.
package notify

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "notify")

// Violation carries the fields the original notify_userspace reports.
type Violation struct {
	Reason      int
	Method      int
	PID         int
	ProcessName string
	Path        string
}

// reasonNames mirrors validator.h's reason_message table; kept local
// rather than importing policy.Reason.String, with the same order as
// policy's Reason constants (Violations are built by gateway).
var reasonNames = [...]string{
	"ok",
	"source-identity-denied",
	"not-in-hashlist",
	"attribute-mismatch",
	"hash-mismatch",
	"load-failed",
	"cache-error",
	"interrupted",
}

func reasonName(reason int) string {
	if reason >= 0 && reason < len(reasonNames) {
		return reasonNames[reason]
	}
	return reasonNames[0]
}

// mangle escapes backslash and newline in a path the same way the
// original's mangle_path helper protects the message framing from path
// components that contain them.
func mangle(path string) string {
	r := strings.NewReplacer(`\`, `\\`, "\n", `\n`)
	return r.Replace(path)
}

// Format renders a Violation using the exact field layout the original
// notify_userspace used: a leading newline, then Fail/Method/Process/File
// lines. Process is the invoking task's command name (current->comm), not
// a PID-derived identifier.
func Format(v Violation) string {
	name := v.ProcessName
	if name == "" {
		name = "unknown"
	}
	return fmt.Sprintf("\nFail: %d (%s)\nMethod: %d\nProcess: %s\nFile: %s\n",
		v.Reason, reasonName(v.Reason), v.Method, name, mangle(v.Path))
}

// Listener receives a rendered violation record. Multiple listeners may be
// registered; the channel is fan-out, not fan-in.
type Listener func(record string)

// reasonInterrupted mirrors policy.REintr without importing the policy
// package; callers are expected to pass the same numeric value
// policy.REintr holds.
const reasonInterrupted = 7

// Notifier fans a violation out to every registered listener. Sends are
// one-way: there is no corresponding "receive" half on this type.
type Notifier struct {
	mu        sync.RWMutex
	listeners []Listener
}

// New creates an empty Notifier.
func New() *Notifier {
	return &Notifier{}
}

// Subscribe registers a listener and returns an unsubscribe function.
func (n *Notifier) Subscribe(l Listener) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	idx := len(n.listeners)
	n.listeners = append(n.listeners, l)
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if idx < len(n.listeners) {
			n.listeners[idx] = nil
		}
	}
}

// Emit broadcasts a violation to every subscriber. An interrupted-reason
// violation is suppressed entirely, matching notify_userspace's handling
// of R_EINTR: an interruption isn't a policy finding worth reporting.
func (n *Notifier) Emit(v Violation) {
	if v.Reason == reasonInterrupted {
		return
	}
	record := Format(v)
	log.WithFields(logrus.Fields{
		"reason":  v.Reason,
		"method":  v.Method,
		"process": v.ProcessName,
		"pid":     v.PID,
		"path":    v.Path,
	}).Warn("integrity violation")

	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, l := range n.listeners {
		if l != nil {
			l(record)
		}
	}
}
