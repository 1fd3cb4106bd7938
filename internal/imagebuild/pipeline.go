// Package imagebuild composes internal/layercache, internal/loopback,
// internal/mount, internal/debootstrap, internal/btrfs, and
// internal/nspawn into the four-layer image pipeline of spec.md §4.6:
// debootstrap -> server -> desktop -> image. Orchestration style is
// grounded on go-synth/service/build.go's numbered-phase Service.Build,
// narrowed from a package-worker-pool driver to the four fixed layers
// named by spec.md, with an internal/buildui progress sink standing in
// for that method's *build.BuildStats reporting.
package imagebuild

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"pop-core/internal/btrfs"
	"pop-core/internal/buildui"
	"pop-core/internal/coreerr"
	"pop-core/internal/corelog"
	"pop-core/internal/debootstrap"
	"pop-core/internal/layercache"
	"pop-core/internal/loopback"
	"pop-core/internal/mount"
	"pop-core/internal/nspawn"
	"pop-core/internal/procutil"
)

// Config holds everything the pipeline needs beyond its dependencies.
type Config struct {
	CacheDir string // e.g. "build/cache"

	Suite  string
	Arch   string
	Mirror string

	ServerPackages  []string
	DesktopPackages []string

	// KeepPartial moves a layer's leftover partial directory from an
	// earlier failed attempt aside to "<name>.partial.prev" before the
	// layer is rebuilt, instead of letting the cache delete it, for
	// post-mortem inspection (SPEC_FULL.md §4.6 supplement). A failed
	// build's partial directory is left in place whether or not this is set.
	KeepPartial bool
}

// DefaultConfig returns the package sets and distro pins spec.md §4.4/§4.6
// assume.
func DefaultConfig(cacheDir string) Config {
	return Config{
		CacheDir: cacheDir,
		Suite:    "jammy",
		Arch:     "amd64",
		Mirror:   "https://apt.pop-os.org/ubuntu",
		ServerPackages: []string{
			"systemd", "systemd-sysv", "linux-generic", "grub-efi-amd64",
			"kernelstub", "openssh-server", "sudo", "network-manager",
		},
		DesktopPackages: []string{
			"pop-desktop", "gnome-shell", "gdm3", "xorg", "pulseaudio",
		},
	}
}

// Result carries the values the final entry point surfaces, per
// SPEC_FULL.md §4.6's additive diagnostics.
type Result struct {
	ImagePath   string
	RootUUID    string
	ESPPartUUID string
}

// layerNames is the fixed, ordered layer list; also the layercache
// is-valid predicate (spec.md §4.5's "is_valid_name").
var layerNames = []string{"debootstrap", "server", "desktop", "image"}

func isValidLayerName(name string) bool {
	for _, n := range layerNames {
		if n == name {
			return true
		}
	}
	return false
}

// Pipeline drives the four-layer build.
type Pipeline struct {
	cfg    Config
	logger *corelog.Logger
	runner procutil.Runner
	btrfs  btrfs.Backend
	ui     buildui.BuildUI
	cache  *layercache.Cache
}

// New constructs a Pipeline, initializing the layer cache at
// cfg.CacheDir (purging any stray/invalid entries per spec.md §4.5).
func New(logger *corelog.Logger, runner procutil.Runner, backend btrfs.Backend, ui buildui.BuildUI, cfg Config) (*Pipeline, error) {
	logger = logger.Component("imagebuild")

	cache, err := layercache.New(logger, cfg.CacheDir, isValidLayerName)
	if err != nil {
		return nil, err
	}

	return &Pipeline{cfg: cfg, logger: logger, runner: runner, btrfs: backend, ui: ui, cache: cache}, nil
}

// Build runs all four layers in sequence and returns the diagnostics
// surfaced from the image layer.
func (p *Pipeline) Build(ctx context.Context) (*Result, error) {
	if err := p.ui.Start(); err != nil {
		return nil, coreerr.Wrap(coreerr.Other, err, "start build UI")
	}
	defer p.ui.Stop()

	debootstrapPath, rebuilt, err := p.buildLayer(ctx, "debootstrap", false, p.buildDebootstrapLayer)
	if err != nil {
		return nil, err
	}

	serverPath, rebuilt, err := p.buildLayer(ctx, "server", rebuilt, func(partial string) error {
		return p.buildAptLayer(ctx, debootstrapPath, partial, p.cfg.ServerPackages)
	})
	if err != nil {
		return nil, err
	}

	desktopPath, rebuilt, err := p.buildLayer(ctx, "desktop", rebuilt, func(partial string) error {
		packages := append(append([]string{}, p.cfg.ServerPackages...), p.cfg.DesktopPackages...)
		return p.buildAptLayer(ctx, serverPath, partial, packages)
	})
	if err != nil {
		return nil, err
	}

	var result *Result
	_, _, err = p.buildLayer(ctx, "image", rebuilt, func(partial string) error {
		r, buildErr := p.buildImageLayer(ctx, desktopPath, partial)
		if buildErr != nil {
			return buildErr
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (p *Pipeline) buildLayer(ctx context.Context, name string, parentRebuilt bool, fn func(partial string) error) (string, bool, error) {
	p.ui.LayerUpdate(name, buildui.StatusBuilding)

	if p.cfg.KeepPartial {
		p.preserveStalePartial(name)
	}

	layerPath, rebuilt, err := p.cache.Build(name, parentRebuilt, fn)
	if err != nil {
		// spec.md §4.5 step 5: leave partial in place on failure,
		// unconditionally - it is the diagnostic for the failure.
		p.ui.LayerUpdate(name, buildui.StatusFailed)
		return "", false, err
	}
	if rebuilt {
		p.ui.LayerUpdate(name, buildui.StatusDone)
	} else {
		p.ui.LayerUpdate(name, buildui.StatusCached)
	}
	return layerPath, rebuilt, nil
}

// preserveStalePartial moves a layer's leftover ".partial" directory from
// a previous failed attempt aside to "<name>.partial.prev" before
// Cache.Build clears it to start this attempt, so --keep-partial's
// diagnostic copy survives a later successful re-run (SPEC_FULL.md
// §4.6). A no-op if no stale partial exists.
func (p *Pipeline) preserveStalePartial(name string) {
	partial := filepath.Join(p.cfg.CacheDir, name+".partial")
	if _, err := os.Stat(partial); err != nil {
		return
	}

	prev := partial + ".prev"
	if err := os.RemoveAll(prev); err != nil {
		p.logger.Warnf("keep-partial: failed to clear previous preserved partial for layer %s: %v", name, err)
		return
	}
	if err := os.Rename(partial, prev); err != nil {
		p.logger.Warnf("keep-partial: failed to preserve stale partial for layer %s: %v", name, err)
	}
}

// buildDebootstrapLayer implements spec.md §4.6 step 1: debootstrap
// variant minbase targeting partial.
func (p *Pipeline) buildDebootstrapLayer(partial string) error {
	if err := os.MkdirAll(partial, 0o755); err != nil {
		return coreerr.Wrap(coreerr.Other, err, "create debootstrap target %s", partial)
	}

	builder := debootstrap.New(partial)
	builder.Suite = p.cfg.Suite
	builder.Arch = p.cfg.Arch
	builder.Mirror = p.cfg.Mirror
	builder.Variant = "minbase"

	p.ui.LogEvent("debootstrap", "staging base system with debootstrap")
	return builder.Run(context.Background(), p.logger, p.runner)
}

// buildAptLayer implements spec.md §4.6 steps 2-3: archive-copy the
// predecessor, materialize root configuration, run apt.sh inside the
// container with the given package set, then remove the staged script.
func (p *Pipeline) buildAptLayer(ctx context.Context, predecessor, partial string, packages []string) error {
	p.ui.LogEvent("apt", fmt.Sprintf("copying %s into %s", predecessor, partial))
	if err := archiveCopy(predecessor, partial); err != nil {
		return err
	}

	if err := materializeRootConfig(partial); err != nil {
		return err
	}

	scriptDest := filepath.Join(partial, "apt.sh")
	if err := stageScript(aptScriptResource, scriptDest); err != nil {
		return err
	}
	defer os.Remove(scriptDest)

	p.ui.LogEvent("apt", fmt.Sprintf("installing %d packages", len(packages)))
	err := nspawn.Run(ctx, p.logger, p.runner, nspawn.Options{
		Directory:  partial,
		ResolvConf: "replace-host",
		Command:    "/apt.sh",
		Args:       packages,
	})
	if err != nil {
		return err
	}

	return nil
}

// stageScript copies an embedded script resource to dest with executable
// permissions.
func stageScript(resource, dest string) error {
	data, err := resourceFS.ReadFile(resource)
	if err != nil {
		return coreerr.Wrap(coreerr.Other, err, "read embedded resource %s", resource)
	}
	if err := os.WriteFile(dest, data, 0o755); err != nil {
		return coreerr.Wrap(coreerr.Other, err, "stage script %s", dest)
	}
	return nil
}

// materializeRootConfig overwrites the fixed set of embedded blobs from
// spec.md §4.6 at their destination paths under root, creating parent
// directories as needed.
func materializeRootConfig(root string) error {
	for resource, rel := range rootConfigFiles {
		data, err := resourceFS.ReadFile(resource)
		if err != nil {
			return coreerr.Wrap(coreerr.Other, err, "read embedded resource %s", resource)
		}

		dest := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return coreerr.Wrap(coreerr.Other, err, "create parent dir for %s", dest)
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return coreerr.Wrap(coreerr.Other, err, "write root config %s", dest)
		}
	}
	return nil
}

// archiveCopy recursively copies src into dst (no target-directory
// semantics): directories, regular files and symlinks. Only permission
// bits are preserved; ownership, timestamps, setuid/setgid/sticky bits
// and extended attributes are not copied. Walks
// the tree directly with os/io rather than shelling to `cp -a`, which
// keeps the copy testable under FakeRunner.
func archiveCopy(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		case info.Mode()&os.ModeSymlink != 0:
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(linkTarget, target)
		default:
			return copyFile(path, target, info.Mode().Perm())
		}
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// archiveCopyViaRunner shells to `cp -a` for the one case where the
// destination already has on-disk semantics the Go walk above can't
// express - copying into a live Btrfs subvolume (spec.md §4.6 step 9).
// cp is already in spec.md §6's external command contract list.
func archiveCopyViaRunner(ctx context.Context, runner procutil.Runner, src, dst string) error {
	_, err := runner.Run(ctx, "cp", "-a", src+"/.", dst)
	return err
}

// buildImageLayer implements spec.md §4.6 steps 1-16.
func (p *Pipeline) buildImageLayer(ctx context.Context, desktopPath, partial string) (*Result, error) {
	if err := os.MkdirAll(partial, 0o755); err != nil {
		return nil, coreerr.Wrap(coreerr.Other, err, "create image layer dir %s", partial)
	}

	imagePath := filepath.Join(partial, "image.raw")
	p.ui.LogEvent("image", "allocating 32GiB sparse image")
	if _, err := p.runner.Run(ctx, "fallocate", "--posix", "--length", "32GiB", imagePath); err != nil {
		return nil, err
	}

	p.ui.LogEvent("image", "partitioning with sgdisk")
	if _, err := p.runner.Run(ctx, "sgdisk",
		"--new=1:0:+512MiB", "--typecode=1:ef00",
		"--new=2:0:0", "--typecode=2:8304",
		imagePath); err != nil {
		return nil, err
	}

	lo, err := loopback.New(ctx, p.logger, p.runner, imagePath)
	if err != nil {
		return nil, err
	}
	defer lo.Close()

	p.ui.LogEvent("image", "formatting partitions")
	if _, err := p.runner.Run(ctx, "mkfs.fat", "-F", "32", lo.Partition(1)); err != nil {
		return nil, err
	}
	if _, err := p.runner.Run(ctx, "mkfs.btrfs", lo.Partition(2)); err != nil {
		return nil, err
	}

	top := filepath.Join(partial, "mount")
	if err := os.MkdirAll(top, 0o755); err != nil {
		return nil, coreerr.Wrap(coreerr.Other, err, "create mount point %s", top)
	}

	topMount, err := mount.New(p.logger, lo.Partition(2), top, "btrfs", 0, "")
	if err != nil {
		return nil, err
	}
	stack := mount.NewStack()
	stack.Push(topMount)
	defer stack.Unwind()

	rootPath := filepath.Join(top, "@root")
	p.ui.LogEvent("image", "creating subvolumes")
	for _, sub := range []string{"@root", "@root/home", "@root/tmp", "@root/var"} {
		if err := p.btrfs.Create(ctx, filepath.Join(top, sub)); err != nil {
			return nil, err
		}
	}

	if err := p.btrfs.SetDefault(ctx, rootPath); err != nil {
		return nil, err
	}

	p.ui.LogEvent("image", "copying desktop layer into @root")
	if err := archiveCopyViaRunner(ctx, p.runner, desktopPath, rootPath); err != nil {
		return nil, err
	}

	espPath := filepath.Join(rootPath, "boot", "efi")
	if err := os.MkdirAll(espPath, 0o755); err != nil {
		return nil, coreerr.Wrap(coreerr.Other, err, "create ESP mountpoint %s", espPath)
	}
	espMount, err := mount.New(p.logger, lo.Partition(1), espPath, "vfat", 0, "")
	if err != nil {
		return nil, err
	}
	stack.Push(espMount)

	rootUUID, err := btrfs.FindMountUUID(ctx, p.runner, top)
	if err != nil {
		return nil, err
	}
	espPartUUID, err := btrfs.FindMountPARTUUID(ctx, p.runner, espPath)
	if err != nil {
		return nil, err
	}

	selfPath, err := os.Executable()
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Other, err, "locate running binary")
	}
	binDest := filepath.Join(rootPath, "usr", "bin", "pop-core")
	if err := os.MkdirAll(filepath.Dir(binDest), 0o755); err != nil {
		return nil, coreerr.Wrap(coreerr.Other, err, "create %s", filepath.Dir(binDest))
	}
	if err := copyFile(selfPath, binDest, 0o755); err != nil {
		return nil, coreerr.Wrap(coreerr.Other, err, "install runtime binary into image")
	}

	scriptDest := filepath.Join(rootPath, "image.sh")
	if err := stageScript(imageScriptResource, scriptDest); err != nil {
		return nil, err
	}
	p.ui.LogEvent("image", "running bootloader configuration")
	err = nspawn.Run(ctx, p.logger, p.runner, nspawn.Options{
		Directory: rootPath,
		Command:   "/image.sh",
		Args:      []string{rootUUID, espPartUUID},
	})
	os.Remove(scriptDest)
	if err != nil {
		return nil, err
	}

	p.ui.LogEvent("image", "promoting home/tmp/var to top-level subvolumes")
	for _, name := range []string{"home", "tmp", "var"} {
		src := filepath.Join(rootPath, name)
		dst := filepath.Join(top, "@"+name)
		if err := os.Rename(src, dst); err != nil {
			return nil, coreerr.Wrap(coreerr.Other, err, "promote %s to %s", src, dst)
		}
		if err := os.MkdirAll(src, 0o755); err != nil {
			return nil, coreerr.Wrap(coreerr.Other, err, "recreate mountpoint %s", src)
		}
	}

	p.ui.LogEvent("image", "snapshotting @root.old and @root.original")
	if err := p.btrfs.Snapshot(ctx, rootPath, filepath.Join(top, "@root.old"), true); err != nil {
		return nil, err
	}
	if err := p.btrfs.Snapshot(ctx, rootPath, filepath.Join(top, "@root.original"), true); err != nil {
		return nil, err
	}

	return &Result{ImagePath: imagePath, RootUUID: rootUUID, ESPPartUUID: espPartUUID}, nil
}
