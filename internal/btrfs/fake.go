package btrfs

import (
	"context"
	"sync"

	"pop-core/internal/coreerr"
)

// FakeBackend is an in-memory Backend double, grounded on go-synth/
// environment/mock.go's MockEnvironment: it records calls and models just
// enough subvolume state (a path -> rootid map) for the run state machine
// and image pipeline tests in spec.md §8 (T4-T7) to exercise every
// branch without a real Btrfs filesystem.
type FakeBackend struct {
	mu sync.Mutex

	// Subvolumes maps an existing subvolume's path to its rootid.
	Subvolumes map[string]int64
	// ReadOnly tracks which paths have been marked ro via SetReadOnly.
	ReadOnly map[string]bool
	// Default records the last path passed to SetDefault.
	Default string
	// NextID is handed out to newly created/snapshotted subvolumes.
	NextID int64

	Calls []string
}

// NewFakeBackend returns an empty FakeBackend. NextID starts at 100 so
// fake-issued ids don't collide with small hand-picked booted ids used in
// tests (commonly 1 or 2).
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		Subvolumes: map[string]int64{},
		ReadOnly:   map[string]bool{},
		NextID:     100,
	}
}

// Seed registers path as an existing subvolume with the given rootid.
func (f *FakeBackend) Seed(path string, rootid int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Subvolumes[path] = rootid
	if rootid >= f.NextID {
		f.NextID = rootid + 1
	}
}

func (f *FakeBackend) record(format string) {
	f.Calls = append(f.Calls, format)
}

func (f *FakeBackend) RootID(_ context.Context, path string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("rootid:" + path)
	id, ok := f.Subvolumes[path]
	if !ok {
		return 0, coreerr.New(coreerr.NotFound, "no such subvolume: %s", path)
	}
	return id, nil
}

func (f *FakeBackend) Exists(_ context.Context, path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("exists:" + path)
	_, ok := f.Subvolumes[path]
	return ok
}

func (f *FakeBackend) Snapshot(_ context.Context, src, dst string, readonly bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("snapshot:" + src + "->" + dst)
	if _, ok := f.Subvolumes[src]; !ok {
		return coreerr.New(coreerr.NotFound, "snapshot source missing: %s", src)
	}
	f.Subvolumes[dst] = f.NextID
	f.NextID++
	f.ReadOnly[dst] = readonly
	return nil
}

func (f *FakeBackend) Delete(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete:" + path)
	delete(f.Subvolumes, path)
	delete(f.ReadOnly, path)
	return nil
}

func (f *FakeBackend) SetDefault(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("set-default:" + path)
	f.Default = path
	return nil
}

func (f *FakeBackend) SetReadOnly(_ context.Context, path string, ro bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("set-readonly:" + path)
	if _, ok := f.Subvolumes[path]; !ok {
		return coreerr.New(coreerr.NotFound, "no such subvolume: %s", path)
	}
	f.ReadOnly[path] = ro
	return nil
}

func (f *FakeBackend) Create(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create:" + path)
	f.Subvolumes[path] = f.NextID
	f.NextID++
	return nil
}

func (f *FakeBackend) Rename(_ context.Context, src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("rename:" + src + "->" + dst)
	id, ok := f.Subvolumes[src]
	if !ok {
		return coreerr.New(coreerr.NotFound, "no such subvolume: %s", src)
	}
	delete(f.Subvolumes, src)
	f.Subvolumes[dst] = id
	if ro, ok := f.ReadOnly[src]; ok {
		delete(f.ReadOnly, src)
		f.ReadOnly[dst] = ro
	}
	return nil
}
