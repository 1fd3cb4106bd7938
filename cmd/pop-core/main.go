// Command pop-core performs the atomic root-swap: clone the booted
// @root, run a command inside a container against the clone, then
// promote the clone to be the new default root (spec.md §4.7, §4.8). If
// no command is given, $SHELL is used; if unset, pop-core fails. Built
// with spf13/cobra, grounded on go-synth/cmd/monitor.go's cobra.Command
// style, with an additive `history` subcommand backed by
// internal/runhistory (SPEC_FULL.md §4.7 supplement).
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pop-core/internal/btrfs"
	"pop-core/internal/corelog"
	"pop-core/internal/popconfig"
	"pop-core/internal/procutil"
	"pop-core/internal/runhistory"
	"pop-core/internal/swap"
)

const historyDBPath = "/var/lib/pop-core/history.db"

func main() {
	root := &cobra.Command{
		Use:           "pop-core [command] [args...]",
		Short:         "Atomically swap in a new root filesystem after running a command",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSwap(args)
		},
	}
	root.AddCommand(historyCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pop-core: error: %v\n", err)
		os.Exit(1)
	}
}

func runSwap(args []string) error {
	command := ""
	var cmdArgs []string
	if len(args) > 0 {
		command = args[0]
		cmdArgs = args[1:]
	} else {
		command = os.Getenv("SHELL")
		if command == "" {
			return fmt.Errorf("no command given and $SHELL is unset")
		}
	}

	logger := corelog.FromEnv()

	fileCfg, err := popconfig.Load()
	if err != nil {
		return err
	}

	runner := procutil.NewOSRunner(logger)
	backend := btrfs.NewCLI(logger, runner)

	history, err := openHistory()
	if err != nil {
		logger.Warnf("run history disabled: %v", err)
		history = nil
	}
	if history != nil {
		defer history.Close()
	}

	return swap.Run(context.Background(), logger, swap.Deps{
		Runner:  runner,
		Btrfs:   backend,
		History: history,
	}, swap.Options{
		LockDir: fileCfg.Run.LockDir,
		Command: command,
		Args:    cmdArgs,
	})
}

func openHistory() (*runhistory.DB, error) {
	if err := os.MkdirAll(filepath.Dir(historyDBPath), 0o755); err != nil {
		return nil, err
	}
	return runhistory.Open(historyDBPath)
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List past root-swap invocations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openHistory()
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := db.List()
			if err != nil {
				return err
			}

			for _, r := range records {
				fmt.Printf("%s  %-8s  %s  %v\n", r.UUID, r.Status, r.StartTime.Format("2006-01-02 15:04:05"), r.Command)
			}
			return nil
		},
	}
}
