// Package digest computes and compares SHA-1 reference digests of files and
// in-memory buffers. It mirrors the streaming, double-buffered I/O strategy
// the validator uses to avoid paging an entire file into memory before it
// can start hashing it.
package digest

import (
	"context"
	"crypto/sha1"
	"crypto/subtle"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

var log = logrus.WithField("component", "digest")

// Outcome classifies the result of a digest comparison.
type Outcome int

const (
	Match Outcome = iota
	Mismatch
	IOError
	Interrupted
)

func (o Outcome) String() string {
	switch o {
	case Match:
		return "match"
	case Mismatch:
		return "mismatch"
	case IOError:
		return "io-error"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Result carries the computed digest alongside the comparison outcome.
type Result struct {
	Outcome Outcome
	Sum     [20]byte
}

// ErrInterrupted is returned (wrapped) when digesting is cancelled mid-read.
var ErrInterrupted = errors.New("digest: interrupted")

const (
	maxBufSize = 32 * 1024
	minBufSize = 4 * 1024
)

// allocBuffers implements the opportunistic allocation-degrade strategy:
// try progressively smaller buffer pairs until two can be allocated, or
// fall back to a single buffer, matching the halving retry the original
// verification routine performs under memory pressure.
func allocBuffers() (a, b []byte) {
	for size := maxBufSize; size >= minBufSize; size /= 2 {
		a = make([]byte, size)
		b = make([]byte, size)
		if a != nil && b != nil {
			return a, b
		}
	}
	return make([]byte, minBufSize), nil
}

// DigestFile streams path through fsys, computing its SHA-1 digest and
// comparing it against expected. The whole operation is retried once on any
// I/O failure before being reported, mirroring the original's try-twice
// policy. A context cancellation during the read is reported as Interrupted,
// never as a Mismatch.
func DigestFile(ctx context.Context, fsys afero.Fs, path string, expected [20]byte) (Result, error) {
	var last error
	for attempt := 0; attempt < 2; attempt++ {
		res, err := digestFileOnce(ctx, fsys, path, expected)
		if err == nil {
			return res, nil
		}
		last = err
		if errors.Is(err, ErrInterrupted) {
			return Result{Outcome: Interrupted}, err
		}
		log.WithError(err).WithField("path", path).Warn("digest attempt failed, retrying")
	}
	return Result{Outcome: IOError}, fmt.Errorf("digest: %s: %w", path, last)
}

func digestFileOnce(ctx context.Context, fsys afero.Fs, path string, expected [20]byte) (Result, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	bufA, bufB := allocBuffers()
	h := sha1.New()

	active, spare := bufA, bufB
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrInterrupted, err)
		}
		n, rerr := f.Read(active)
		if n > 0 {
			h.Write(active[:n])
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return Result{}, rerr
		}
		if spare != nil {
			active, spare = spare, active
		}
	}

	sum := [20]byte{}
	copy(sum[:], h.Sum(nil))

	outcome := Mismatch
	if subtle.ConstantTimeCompare(sum[:], expected[:]) == 1 {
		outcome = Match
	}
	return Result{Outcome: outcome, Sum: sum}, nil
}

// DigestBuffer computes the SHA-1 digest of an in-memory blob, used for
// kernel module whitelisting where the candidate content is already
// resident in memory.
func DigestBuffer(buf []byte) [20]byte {
	var h hash.Hash = sha1.New()
	h.Write(buf)
	var sum [20]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// Equal does a constant-time comparison of two digests.
func Equal(a, b [20]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
