package popconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	t.Setenv(EnvVar, filepath.Join(t.TempDir(), "missing.ini"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pop-core.ini")
	contents := "[build]\ncache_dir = /var/cache/pop-core\nsuite = noble\n\n[run]\nlock_dir = /run/pop-core-change\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	t.Setenv(EnvVar, path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/var/cache/pop-core", cfg.Build.CacheDir)
	assert.Equal(t, "noble", cfg.Build.Suite)
	assert.Equal(t, "amd64", cfg.Build.Arch, "unset keys keep their default")
	assert.Equal(t, "/run/pop-core-change", cfg.Run.LockDir)
}
