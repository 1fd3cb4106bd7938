package btrfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pop-core/internal/coreerr"
	"pop-core/internal/corelog"
	"pop-core/internal/procutil"
)

func TestRootIDParsesSubvolumeShow(t *testing.T) {
	runner := procutil.NewFakeRunner()
	runner.StubOutput("btrfs", "/root\n\tName: \t\t\t@root\n\tUUID: \t\t\tabc\n\tSubvolume ID: \t\t257\n\tGeneration: \t\t12\n")

	cli := NewCLI(corelog.Discard(), runner)
	id, err := cli.RootID(context.Background(), "/mnt/top/@root")
	require.NoError(t, err)
	assert.Equal(t, int64(257), id)
}

func TestRootIDMissingFieldIsNotFound(t *testing.T) {
	runner := procutil.NewFakeRunner()
	runner.StubOutput("btrfs", "no useful fields here\n")

	cli := NewCLI(corelog.Discard(), runner)
	_, err := cli.RootID(context.Background(), "/mnt/top/@root")
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.NotFound))
}

func TestFindMountUUID(t *testing.T) {
	runner := procutil.NewFakeRunner()
	runner.StubOutput("findmnt", "1234-ABCD\n")

	uuid, err := FindMountUUID(context.Background(), runner, "/")
	require.NoError(t, err)
	assert.Equal(t, "1234-ABCD", uuid)
}

func TestFakeBackendSnapshotAssignsFreshRootID(t *testing.T) {
	fb := NewFakeBackend()
	fb.Seed("/top/@root", 1)

	require.NoError(t, fb.Snapshot(context.Background(), "/top/@root", "/top/@root.new", false))

	id, err := fb.RootID(context.Background(), "/top/@root.new")
	require.NoError(t, err)
	assert.NotEqual(t, int64(1), id)
	assert.True(t, fb.Exists(context.Background(), "/top/@root.new"))
}

func TestFakeBackendDeleteRemovesSubvolume(t *testing.T) {
	fb := NewFakeBackend()
	fb.Seed("/top/@root.old", 5)

	require.NoError(t, fb.Delete(context.Background(), "/top/@root.old"))
	assert.False(t, fb.Exists(context.Background(), "/top/@root.old"))
}

func TestFakeBackendRenamePreservesRootID(t *testing.T) {
	fb := NewFakeBackend()
	fb.Seed("/top/@root", 1)

	require.NoError(t, fb.Rename(context.Background(), "/top/@root", "/top/@root.old"))

	assert.False(t, fb.Exists(context.Background(), "/top/@root"))
	id, err := fb.RootID(context.Background(), "/top/@root.old")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}
