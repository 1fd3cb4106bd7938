// Package btrfs wraps the subset of `btrfs`/`findmnt` subvolume
// operations the build and run paths need: snapshot, delete, set-default,
// read-only property, and rootid lookup. Every pop-core caller shells out
// to the btrfs(8)/findmnt(8) binaries rather than linking libbtrfs,
// mirroring every pack repo that touches Btrfs from Go (e.g.
// canonical-lxd's storage/drivers/driver_btrfs*.go invokes `btrfs
// subvolume ...` directly). The Backend interface shape is grounded on
// rancher-sandbox-cOS-toolkit's snapshotter/btrfs.go subvolumeBackend
// interface (Probe/CreateNewSnapshot/DeleteSnapshot), narrowed to the
// fixed-name rotation spec.md §4.7 requires instead of numbered snapshots.
package btrfs

import (
	"context"
	"os"
	"strconv"
	"strings"

	"pop-core/internal/coreerr"
	"pop-core/internal/corelog"
	"pop-core/internal/procutil"
)

// Backend is the subvolume operations the run state machine and image
// pipeline depend on. Production code uses CLI (below); tests use a fake.
type Backend interface {
	// RootID returns the numeric Btrfs rootid of path.
	RootID(ctx context.Context, path string) (int64, error)
	// Exists reports whether path names an existing subvolume.
	Exists(ctx context.Context, path string) bool
	// Snapshot creates dst as a snapshot of src. If readonly, the
	// snapshot is created read-only directly (-r).
	Snapshot(ctx context.Context, src, dst string, readonly bool) error
	// Delete removes the subvolume at path.
	Delete(ctx context.Context, path string) error
	// SetDefault sets path as the default subvolume for its filesystem.
	SetDefault(ctx context.Context, path string) error
	// SetReadOnly flips the ro property of the subvolume at path.
	SetReadOnly(ctx context.Context, path string, ro bool) error
	// Create creates a new, empty subvolume at path.
	Create(ctx context.Context, path string) error
	// Rename moves a subvolume from src to dst within the same
	// filesystem (spec.md §4.7 S5/S6 rename the subvolume rather than
	// shelling to a dedicated btrfs subcommand; Btrfs subvolumes are
	// ordinary directories as far as rename(2) is concerned).
	Rename(ctx context.Context, src, dst string) error
}

// CLI is the production Backend, shelling out to btrfs(8).
type CLI struct {
	logger *corelog.Logger
	runner procutil.Runner
}

// NewCLI returns a CLI backend.
func NewCLI(logger *corelog.Logger, runner procutil.Runner) *CLI {
	return &CLI{logger: logger.Component("btrfs"), runner: runner}
}

// RootID parses `btrfs subvolume show <path>` for the "Subvolume ID"
// field.
func (c *CLI) RootID(ctx context.Context, path string) (int64, error) {
	out, err := c.runner.Run(ctx, "btrfs", "subvolume", "show", path)
	if err != nil {
		return 0, err
	}

	text, err := procutil.DecodeUTF8(out)
	if err != nil {
		return 0, err
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Subvolume ID:") {
			continue
		}
		idStr := strings.TrimSpace(strings.TrimPrefix(line, "Subvolume ID:"))
		id, parseErr := strconv.ParseInt(idStr, 10, 64)
		if parseErr != nil {
			return 0, coreerr.Wrap(coreerr.InvalidData, parseErr, "parse subvolume id %q", idStr)
		}
		return id, nil
	}
	return 0, coreerr.New(coreerr.NotFound, "no Subvolume ID in btrfs subvolume show output for %s", path)
}

// Exists runs `btrfs subvolume show` and reports success/failure.
func (c *CLI) Exists(ctx context.Context, path string) bool {
	_, err := c.runner.Run(ctx, "btrfs", "subvolume", "show", path)
	return err == nil
}

// Snapshot runs `btrfs subvolume snapshot [-r] src dst`.
func (c *CLI) Snapshot(ctx context.Context, src, dst string, readonly bool) error {
	args := []string{"subvolume", "snapshot"}
	if readonly {
		args = append(args, "-r")
	}
	args = append(args, src, dst)
	_, err := c.runner.Run(ctx, "btrfs", args...)
	return err
}

// Delete runs `btrfs subvolume delete path`.
func (c *CLI) Delete(ctx context.Context, path string) error {
	_, err := c.runner.Run(ctx, "btrfs", "subvolume", "delete", path)
	return err
}

// SetDefault runs `btrfs subvolume set-default path`.
func (c *CLI) SetDefault(ctx context.Context, path string) error {
	_, err := c.runner.Run(ctx, "btrfs", "subvolume", "set-default", path)
	return err
}

// SetReadOnly runs `btrfs property set -t subvol path ro <true|false>`.
func (c *CLI) SetReadOnly(ctx context.Context, path string, ro bool) error {
	_, err := c.runner.Run(ctx, "btrfs", "property", "set", "-t", "subvol", path, "ro", strconv.FormatBool(ro))
	return err
}

// Create runs `btrfs subvolume create path`.
func (c *CLI) Create(ctx context.Context, path string) error {
	_, err := c.runner.Run(ctx, "btrfs", "subvolume", "create", path)
	return err
}

// Rename moves src to dst via rename(2); Btrfs subvolumes rename like
// ordinary directories within the same filesystem.
func (c *CLI) Rename(_ context.Context, src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return coreerr.Wrap(coreerr.Other, err, "rename %s to %s", src, dst)
	}
	return nil
}

// FindMountUUID shells out to `findmnt --output UUID --mountpoint
// <mountpoint>` (spec.md §4.6 step 11, §4.7's root-UUID lookup).
func FindMountUUID(ctx context.Context, runner procutil.Runner, mountpoint string) (string, error) {
	return findmntField(ctx, runner, "UUID", mountpoint)
}

// FindMountPARTUUID shells out to `findmnt --output PARTUUID --mountpoint
// <mountpoint>` (spec.md §4.6 step 11's EFI PARTUUID).
func FindMountPARTUUID(ctx context.Context, runner procutil.Runner, mountpoint string) (string, error) {
	return findmntField(ctx, runner, "PARTUUID", mountpoint)
}

func findmntField(ctx context.Context, runner procutil.Runner, field, mountpoint string) (string, error) {
	out, err := runner.Run(ctx, "findmnt", "--noheadings", "--output", field, "--mountpoint", mountpoint)
	if err != nil {
		return "", err
	}
	text, err := procutil.DecodeUTF8(out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
