// Package loopback implements the scoped loopback-device primitive from
// spec.md §4.2: attach a backing file to a loop device via losetup,
// guarantee detach on every exit path. Grounded on the scoped-mount
// lifecycle in go-synth/mount/mount.go (DoWorkerMounts/DoWorkerUnmounts
// own a resource for the lifetime of a scope and guarantee teardown).
package loopback

import (
	"context"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"pop-core/internal/coreerr"
	"pop-core/internal/corelog"
	"pop-core/internal/procutil"
)

// settleDelay is the wait after losetup for the kernel to publish
// partition device nodes (<device>p1, <device>p2). spec.md §4.2 and §5
// both call this out as deliberate and required to be preserved.
var settleDelay = time.Second

// Loopback owns a loop device binding for a backing file.
type Loopback struct {
	logger   *corelog.Logger
	runner   procutil.Runner
	file     string
	device   string
	attached bool
}

// New makes file an absolute path (symlinks are not resolved), attaches
// it via `losetup --partscan --show --find`, and records the resulting
// device path.
func New(ctx context.Context, logger *corelog.Logger, runner procutil.Runner, file string) (*Loopback, error) {
	logger = logger.Component("loopback")

	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Other, err, "canonicalize %s", file)
	}

	out, err := runner.Run(ctx, "losetup", "--partscan", "--show", "--find", abs)
	if err != nil {
		return nil, err
	}

	device, err := procutil.DecodeUTF8(out)
	if err != nil {
		return nil, err
	}
	device = strings.TrimSpace(device)

	lo := &Loopback{logger: logger, runner: runner, file: abs, device: device, attached: true}
	runtime.SetFinalizer(lo, finalizeLeak)

	logger.Infof("attached %s to %s", abs, device)
	time.Sleep(settleDelay)

	return lo, nil
}

// Device returns the attached loop device path (e.g. /dev/loop0).
func (l *Loopback) Device() string { return l.device }

// Partition returns the device path for partition n (e.g. Partition(1) ->
// /dev/loop0p1). spec.md §9 notes this string concatenation is unsafe
// versus a robust query like lsblk; kept as-is per the Open Question in
// §9, not guessed at.
func (l *Loopback) Partition(n int) string {
	return l.device + "p" + strconv.Itoa(n)
}

// With runs f against the Loopback and unconditionally detaches
// afterward, regardless of f's outcome. If both f and the detach fail,
// f's error is returned (detach error wins only when f succeeded).
func (l *Loopback) With(f func(*Loopback) error) error {
	ferr := f(l)
	derr := l.Detach()
	if ferr != nil {
		return ferr
	}
	return derr
}

// Detach is idempotent; it only flips attached=false on success.
func (l *Loopback) Detach() error {
	if !l.attached {
		return nil
	}
	if _, err := l.runner.Run(context.Background(), "losetup", "--detach", l.device); err != nil {
		return err
	}
	l.attached = false
	runtime.SetFinalizer(l, nil)
	return nil
}

// Close is an alias for Detach, expressing the scope-guard half of the
// with+drop-guard pairing spec.md §9 requires.
func (l *Loopback) Close() error { return l.Detach() }

func finalizeLeak(l *Loopback) {
	if l.attached {
		panic("loopback: handle for " + l.device + " dropped while still attached")
	}
}
