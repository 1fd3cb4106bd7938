// Command pop-core-build assembles a Pop!_OS image: debootstrap, server
// and desktop package layers, then a partitioned Btrfs disk image
// (spec.md §4.6, §4.8). No required arguments; exit 0 on success, 1 on
// any error with a `pop-core: error: <message>` line on stderr (spec.md
// §6). Built with spf13/cobra for its flag parsing even though there is
// only one command, grounded on go-synth/cmd/build.go's cobra.Command
// style.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pop-core/internal/btrfs"
	"pop-core/internal/buildui"
	"pop-core/internal/corelog"
	"pop-core/internal/imagebuild"
	"pop-core/internal/popconfig"
	"pop-core/internal/procutil"
)

func main() {
	var keepPartial bool
	var noUI bool

	root := &cobra.Command{
		Use:           "pop-core-build",
		Short:         "Build a Pop!_OS disk image",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(keepPartial, noUI)
		},
	}
	root.Flags().BoolVar(&keepPartial, "keep-partial", false, "move a failed attempt's leftover .partial directory to .partial.prev before rebuilding, for inspection")
	root.Flags().BoolVar(&noUI, "no-ui", false, "use line-oriented stdout progress instead of the full-screen view")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pop-core: error: %v\n", err)
		os.Exit(1)
	}
}

func run(keepPartial, noUI bool) error {
	logger := corelog.FromEnv()

	fileCfg, err := popconfig.Load()
	if err != nil {
		return err
	}

	runner := procutil.NewOSRunner(logger)
	backend := btrfs.NewCLI(logger, runner)

	var ui buildui.BuildUI
	if noUI {
		ui = buildui.NewStdoutUI()
	} else {
		ui = buildui.NewScreenUI()
	}

	cfg := imagebuild.DefaultConfig(fileCfg.Build.CacheDir)
	cfg.Suite = fileCfg.Build.Suite
	cfg.Arch = fileCfg.Build.Arch
	cfg.Mirror = fileCfg.Build.Mirror
	cfg.KeepPartial = keepPartial

	pipeline, err := imagebuild.New(logger, runner, backend, ui, cfg)
	if err != nil {
		return err
	}

	result, err := pipeline.Build(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("image built: %s\n", result.ImagePath)
	fmt.Printf("root UUID:   %s\n", result.RootUUID)
	fmt.Printf("ESP PARTUUID: %s\n", result.ESPPartUUID)
	return nil
}
