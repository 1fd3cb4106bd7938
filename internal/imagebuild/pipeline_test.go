package imagebuild

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pop-core/internal/btrfs"
	"pop-core/internal/buildui"
	"pop-core/internal/corelog"
	"pop-core/internal/procutil"
)

func TestIsValidLayerName(t *testing.T) {
	assert.True(t, isValidLayerName("debootstrap"))
	assert.True(t, isValidLayerName("image"))
	assert.False(t, isValidLayerName("bogus"))
}

func TestDefaultConfigHasNonEmptyPackageSets(t *testing.T) {
	cfg := DefaultConfig("build/cache")
	assert.NotEmpty(t, cfg.ServerPackages)
	assert.NotEmpty(t, cfg.DesktopPackages)
	assert.Equal(t, "jammy", cfg.Suite)
}

func TestArchiveCopyPreservesTreeAndSymlinks(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "dst")

	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "file.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.Symlink("file.txt", filepath.Join(src, "sub", "link.txt")))

	require.NoError(t, archiveCopy(src, dst))

	data, err := os.ReadFile(filepath.Join(dst, "sub", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	target, err := os.Readlink(filepath.Join(dst, "sub", "link.txt"))
	require.NoError(t, err)
	assert.Equal(t, "file.txt", target)
}

func TestMaterializeRootConfigWritesAllFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, materializeRootConfig(root))

	for _, rel := range rootConfigFiles {
		_, err := os.Stat(filepath.Join(root, rel))
		assert.NoError(t, err, "expected %s to exist", rel)
	}
}

type silentUI struct{}

func (silentUI) Start() error                                { return nil }
func (silentUI) Stop()                                       {}
func (silentUI) LayerUpdate(string, buildui.LayerStatus)      {}
func (silentUI) LogEvent(string, string)                      {}

func newTestPipeline(t *testing.T, cacheDir string) (*Pipeline, *procutil.FakeRunner) {
	t.Helper()
	runner := procutil.NewFakeRunner()
	cfg := DefaultConfig(cacheDir)
	p, err := New(corelog.Discard(), runner, btrfs.NewFakeBackend(), silentUI{}, cfg)
	require.NoError(t, err)
	return p, runner
}

func TestBuildDebootstrapLayerInvokesDebootstrap(t *testing.T) {
	p, runner := newTestPipeline(t, t.TempDir())
	partial := filepath.Join(t.TempDir(), "debootstrap.partial")

	require.NoError(t, p.buildDebootstrapLayer(partial))

	require.Len(t, runner.Calls, 1)
	assert.Equal(t, "debootstrap", runner.Calls[0].Name)
	assert.Contains(t, runner.Calls[0].Args, "--variant=minbase")
}

func TestBuildAptLayerCopiesConfiguresAndInstalls(t *testing.T) {
	p, runner := newTestPipeline(t, t.TempDir())

	predecessor := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(predecessor, "marker"), []byte("x"), 0o644))

	partial := filepath.Join(t.TempDir(), "server.partial")

	err := p.buildAptLayer(context.Background(), predecessor, partial, []string{"systemd"})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(partial, "marker"))
	assert.NoError(t, err)

	_, err = os.Stat(filepath.Join(partial, "etc", "hostname"))
	assert.NoError(t, err)

	_, err = os.Stat(filepath.Join(partial, "apt.sh"))
	assert.Error(t, err, "staged apt.sh should be removed after nspawn runs")

	require.Len(t, runner.Calls, 1)
	assert.Equal(t, "systemd-nspawn", runner.Calls[0].Name)
	assert.Contains(t, runner.Calls[0].Args, "systemd")
}

func TestBuildLayerBuildsAndPublishesNewLayer(t *testing.T) {
	p, _ := newTestPipeline(t, t.TempDir())

	layerPath, rebuilt, err := p.buildLayer(context.Background(), "debootstrap", false, func(partial string) error {
		return os.MkdirAll(partial, 0o755)
	})
	require.NoError(t, err)
	assert.True(t, rebuilt)
	assert.DirExists(t, layerPath)
}

func TestBuildLayerLeavesPartialOnFailureRegardlessOfKeepPartial(t *testing.T) {
	cacheDir := t.TempDir()
	p, _ := newTestPipeline(t, cacheDir)
	p.cfg.KeepPartial = false

	wantErr := errors.New("apt failed")
	_, _, err := p.buildLayer(context.Background(), "server", false, func(partial string) error {
		require.NoError(t, os.MkdirAll(partial, 0o755))
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)

	assert.DirExists(t, filepath.Join(cacheDir, "server.partial"), "spec.md §4.5 step 5 requires the partial survive a failed build")
}

func TestBuildLayerKeepPartialPreservesStaleCopyAcrossRetry(t *testing.T) {
	cacheDir := t.TempDir()
	p, _ := newTestPipeline(t, cacheDir)
	p.cfg.KeepPartial = true

	wantErr := errors.New("apt failed")
	_, _, err := p.buildLayer(context.Background(), "server", false, func(partial string) error {
		require.NoError(t, os.MkdirAll(partial, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(partial, "marker"), []byte("first attempt"), 0o644))
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)

	layerPath, rebuilt, err := p.buildLayer(context.Background(), "server", false, func(partial string) error {
		return os.MkdirAll(partial, 0o755)
	})
	require.NoError(t, err)
	assert.True(t, rebuilt)
	assert.DirExists(t, layerPath)

	data, err := os.ReadFile(filepath.Join(cacheDir, "server.partial.prev", "marker"))
	require.NoError(t, err, "the failed attempt's partial must be preserved as .prev")
	assert.Equal(t, "first attempt", string(data))
}
