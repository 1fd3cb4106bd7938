// Package mount implements the scoped mount primitive from spec.md §4.3:
// a direct mount(2)/umount2(2) around a path, with guaranteed (lazy)
// unmount on scope exit, plus an ordered Stack that unwinds in
// reverse. Grounded on go-synth/environment/bsd/mounts.go and
// go-synth/mount/mount.go, both of which call unix.Unmount directly
// rather than shelling out to umount(8).
package mount

import (
	"runtime"

	"pop-core/internal/coreerr"
	"pop-core/internal/corelog"

	"golang.org/x/sys/unix"
)

// Mount owns one mount(2) binding.
type Mount struct {
	logger    *corelog.Logger
	source    string
	dest      string
	fstype    string
	mounted   bool
	unmountFn func(dest string, flags int) error
}

// New performs mount(2) directly. fstype "none" is allowed for bind
// mounts (spec.md §4.3).
func New(logger *corelog.Logger, source, dest, fstype string, flags uintptr, data string) (*Mount, error) {
	logger = logger.Component("mount")

	if err := unix.Mount(source, dest, fstype, flags, data); err != nil {
		return nil, coreerr.Wrap(coreerr.Other, err, "mount %s on %s (fstype=%s)", source, dest, fstype)
	}

	m := &Mount{logger: logger, source: source, dest: dest, fstype: fstype, mounted: true, unmountFn: unix.Unmount}
	runtime.SetFinalizer(m, finalizeLeak)

	logger.Infof("mounted %s on %s (fstype=%s)", source, dest, fstype)
	return m, nil
}

// Dest returns the mount's destination path.
func (m *Mount) Dest() string { return m.dest }

// With runs f against the Mount and unconditionally unmounts (lazily)
// afterward, mirroring loopback.Loopback.With.
func (m *Mount) With(f func(*Mount) error) error {
	ferr := f(m)
	derr := m.Unmount(true)
	if ferr != nil {
		return ferr
	}
	return derr
}

// Unmount is idempotent. lazy=true translates to MNT_DETACH.
func (m *Mount) Unmount(lazy bool) error {
	if !m.mounted {
		return nil
	}

	var flags int
	if lazy {
		flags = unix.MNT_DETACH
	}

	if err := m.unmountFn(m.dest, flags); err != nil {
		return coreerr.Wrap(coreerr.Other, err, "unmount %s", m.dest)
	}

	m.mounted = false
	m.logger.Infof("unmounted %s", m.dest)
	runtime.SetFinalizer(m, nil)
	return nil
}

// Close unmounts non-lazily, for explicit teardown at well-defined points
// (the scope-exit path uses Unmount(true) instead).
func (m *Mount) Close() error { return m.Unmount(false) }

func finalizeLeak(m *Mount) {
	if m.mounted {
		panic("mount: handle for " + m.dest + " dropped while still mounted")
	}
}

// Stack is an ordered collection of mounts that unmounts in reverse
// insertion order on Unwind — grounded on go-synth/mount/mount.go's
// DoWorkerUnmounts, which tears down its 23 filesystem mounts in the
// explicit reverse of the order DoWorkerMounts created them in.
type Stack struct {
	mounts []*Mount
}

// NewStack returns an empty Stack, guarded the same way a single Mount is.
func NewStack() *Stack {
	s := &Stack{}
	runtime.SetFinalizer(s, finalizeStackLeak)
	return s
}

// Push records m as the most recently mounted entry.
func (s *Stack) Push(m *Mount) { s.mounts = append(s.mounts, m) }

// Unwind unmounts every entry in reverse insertion order, lazily. It
// collects and returns the first error encountered but keeps going so a
// single stuck mount doesn't leak the rest of the stack.
func (s *Stack) Unwind() error {
	var first error
	for i := len(s.mounts) - 1; i >= 0; i-- {
		if err := s.mounts[i].Unmount(true); err != nil && first == nil {
			first = err
		}
	}
	s.mounts = nil
	runtime.SetFinalizer(s, nil)
	return first
}

func finalizeStackLeak(s *Stack) {
	if len(s.mounts) > 0 {
		panic("mount: stack dropped with mounts still attached")
	}
}
