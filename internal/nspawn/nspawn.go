// Package nspawn wraps systemd-nspawn invocations for both the image
// pipeline's apt.sh steps and the run state machine's S2 command
// execution (spec.md §4.6, §4.7). The single Execute-shaped entry point
// is grounded on go-synth/environment/environment.go's Environment
// interface, narrowed down from its Setup/Execute/Cleanup lifecycle since
// internal/mount and internal/btrfs already own mount/subvolume lifecycle
// here; only the "run a command inside an isolated directory" shape
// survives.
package nspawn

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"pop-core/internal/corelog"
	"pop-core/internal/procutil"
)

// BindMount describes one --bind/--bind-ro flag.
type BindMount struct {
	Source   string
	ReadOnly bool
}

// Options configures one systemd-nspawn invocation.
type Options struct {
	Directory   string
	MachineName string // generated if empty
	Binds       []BindMount
	ResolvConf  string // "", "off", or "replace-host"
	Timezone    string // "", or "off"
	LinkJournal string // "", or "no"
	Command     string
	Args        []string
}

// NewMachineName returns a machine name of the form "pop-core-<uuid>",
// used as the --machine= identity when a caller has no specific name to
// give (e.g. the image pipeline's apt-install containers, which aren't
// tied to a booted system's hostname). spec.md §4.7's S2 invocation
// instead uses the live system's /etc/hostname contents directly.
func NewMachineName() string {
	return "pop-core-" + uuid.NewString()
}

// Run invokes systemd-nspawn with the given options.
func Run(ctx context.Context, logger *corelog.Logger, runner procutil.Runner, opts Options) error {
	logger = logger.Component("nspawn")

	name := opts.MachineName
	if name == "" {
		name = NewMachineName()
	}

	args := []string{
		"--directory=" + opts.Directory,
		"--machine=" + name,
	}

	for _, b := range opts.Binds {
		if b.ReadOnly {
			args = append(args, "--bind-ro="+b.Source)
		} else {
			args = append(args, "--bind="+b.Source)
		}
	}

	if opts.ResolvConf != "" {
		args = append(args, "--resolv-conf="+opts.ResolvConf)
	}
	if opts.Timezone != "" {
		args = append(args, "--timezone="+opts.Timezone)
	}
	if opts.LinkJournal != "" {
		args = append(args, "--link-journal="+opts.LinkJournal)
	}

	args = append(args, "--")
	args = append(args, opts.Command)
	args = append(args, opts.Args...)

	logger.Infof("nspawn %s running %s %v in %s", name, opts.Command, opts.Args, opts.Directory)
	_, err := runner.Run(ctx, "systemd-nspawn", args...)
	if err != nil {
		return fmt.Errorf("nspawn %s: %w", name, err)
	}
	return nil
}
