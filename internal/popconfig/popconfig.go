// Package popconfig loads pop-core's configuration: defaults, then an
// on-disk INI file whose path the environment (EnvVar) may override.
// Individual settings are not read from the environment. Grounded on
// go-synth/config/config.go's LoadConfig shape (defaults -> file),
// replacing its hand-rolled bufio/strings
// INI scanner with gopkg.in/ini.v1 (already an indirect dependency via
// the teacher's own config_test.go, promoted here to a real runtime
// dependency per SPEC_FULL.md §2.2).
package popconfig

import (
	"os"

	"gopkg.in/ini.v1"

	"pop-core/internal/coreerr"
)

// DefaultPath is the on-disk config location, overridable by EnvVar.
const DefaultPath = "/etc/pop-core/pop-core.ini"

// EnvVar overrides the config file path.
const EnvVar = "POP_CORE_CONFIG"

// Build holds [build]-section settings.
type Build struct {
	CacheDir string
	Suite    string
	Arch     string
	Mirror   string
}

// Run holds [run]-section settings.
type Run struct {
	LockDir string
}

// Config is pop-core's full configuration.
type Config struct {
	Build Build
	Run   Run
}

// Default returns the built-in defaults, matching spec.md §4.4 and §4.7.
func Default() Config {
	return Config{
		Build: Build{
			CacheDir: "build/cache",
			Suite:    "jammy",
			Arch:     "amd64",
			Mirror:   "https://apt.pop-os.org/ubuntu",
		},
		Run: Run{
			LockDir: "/tmp/pop-core-change",
		},
	}
}

// Load applies defaults, then overlays the config file named by EnvVar (or
// DefaultPath if unset), then returns the result. A missing file is not
// an error.
func Load() (Config, error) {
	cfg := Default()

	path := os.Getenv(EnvVar)
	if path == "" {
		path = DefaultPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, coreerr.Wrap(coreerr.Other, err, "stat config file %s", path)
	}

	file, err := ini.Load(path)
	if err != nil {
		return cfg, coreerr.Wrap(coreerr.InvalidData, err, "parse config file %s", path)
	}

	if section := file.Section("build"); section != nil {
		overlayString(section, "cache_dir", &cfg.Build.CacheDir)
		overlayString(section, "suite", &cfg.Build.Suite)
		overlayString(section, "arch", &cfg.Build.Arch)
		overlayString(section, "mirror", &cfg.Build.Mirror)
	}

	if section := file.Section("run"); section != nil {
		overlayString(section, "lock_dir", &cfg.Run.LockDir)
	}

	return cfg, nil
}

func overlayString(section *ini.Section, key string, dest *string) {
	if section.HasKey(key) {
		if value := section.Key(key).String(); value != "" {
			*dest = value
		}
	}
}
