// Package debootstrap builds and runs debootstrap invocations (spec.md
// §4.4). Grounded on go-synth/build/phases.go's args-slice assembly style
// for external commands (conditional flag appends driven by struct state).
package debootstrap

import (
	"context"
	"strings"

	"pop-core/internal/coreerr"
	"pop-core/internal/corelog"
	"pop-core/internal/procutil"
)

// Builder holds the recognized debootstrap options from spec.md §4.4.
type Builder struct {
	Suite   string
	Target  string // required
	Mirror  string
	Arch    string
	Include []string
	Exclude []string
	Variant string
}

// New returns a Builder with the spec.md §4.4 defaults applied.
func New(target string) *Builder {
	return &Builder{
		Suite:  "jammy",
		Target: target,
		Mirror: "https://apt.pop-os.org/ubuntu",
		Arch:   "amd64",
	}
}

// Args materializes `debootstrap [--include=a,b] [--exclude=a,b]
// [--variant=V] --arch=A SUITE TARGET MIRROR`.
func (b *Builder) Args() ([]string, error) {
	if b.Target == "" {
		return nil, coreerr.New(coreerr.Other, "debootstrap: target is required")
	}

	var args []string
	if len(b.Include) > 0 {
		args = append(args, "--include="+strings.Join(b.Include, ","))
	}
	if len(b.Exclude) > 0 {
		args = append(args, "--exclude="+strings.Join(b.Exclude, ","))
	}
	if b.Variant != "" {
		args = append(args, "--variant="+b.Variant)
	}
	args = append(args, "--arch="+b.Arch, b.Suite, b.Target, b.Mirror)
	return args, nil
}

// Run invokes debootstrap via runner; a nonzero exit is reported as Other.
func (b *Builder) Run(ctx context.Context, logger *corelog.Logger, runner procutil.Runner) error {
	args, err := b.Args()
	if err != nil {
		return err
	}

	logger = logger.Component("debootstrap")
	logger.Infof("debootstrap %s -> %s", b.Suite, b.Target)
	_, err = runner.Run(ctx, "debootstrap", args...)
	return err
}
