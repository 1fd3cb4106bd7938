// Package procutil holds the two checks every external-command invocation
// in pop-core funnels through (spec.md §4.1) and the Runner abstraction
// components invoke external tools through, so tests can substitute a
// fake command layer — grounded on the exec.CommandContext/CombinedOutput
// pattern in go-synth/build/bootstrap.go and on the Environment interface
// in go-synth/environment/environment.go (a real backend plus a mock one
// behind a shared interface).
package procutil

import (
	"context"
	"os/exec"
	"unicode/utf8"

	"pop-core/internal/coreerr"
	"pop-core/internal/corelog"
)

// CheckStatus succeeds iff the process exited with code 0.
func CheckStatus(cmd *exec.Cmd) error {
	state := cmd.ProcessState
	if state == nil {
		return coreerr.New(coreerr.Other, "%s has not exited", cmd.Path)
	}
	if state.Success() {
		return nil
	}
	return coreerr.New(coreerr.Other, "%s exited with %s", cmd.Path, state.String())
}

// CheckOutput applies CheckStatus and, on success, returns the captured
// stdout bytes.
func CheckOutput(cmd *exec.Cmd, output []byte) ([]byte, error) {
	if err := CheckStatus(cmd); err != nil {
		return nil, err
	}
	return output, nil
}

// DecodeUTF8 validates that b is well-formed UTF-8, returning InvalidData
// otherwise (spec.md §4.2's losetup stdout contract, and any other command
// whose stdout must be treated as text).
func DecodeUTF8(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", coreerr.New(coreerr.InvalidData, "command output is not valid UTF-8")
	}
	return string(b), nil
}

// Runner executes an external command and returns its stdout. Every scoped-resource and pipeline component in
// pop-core depends on this interface rather than os/exec directly, so
// tests can substitute FakeRunner without root or real Btrfs/loop
// devices.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// OSRunner is the production Runner, backed by os/exec.
type OSRunner struct {
	Logger *corelog.Logger
}

// NewOSRunner returns an OSRunner logging through logger.
func NewOSRunner(logger *corelog.Logger) *OSRunner {
	return &OSRunner{Logger: logger}
}

// Run executes name with args, logging the invocation at debug and the
// outcome at info/error, then applies CheckOutput.
func (r *OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	r.Logger.Debugf("running %s %v", name, args)

	output, runErr := cmd.Output()
	if runErr != nil && cmd.ProcessState == nil {
		r.Logger.Errorf("failed to start %s: %v", name, runErr)
		return nil, coreerr.Wrap(coreerr.Other, runErr, "failed to start %s", name)
	}

	out, err := CheckOutput(cmd, output)
	if err != nil {
		var stderr []byte
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			stderr = exitErr.Stderr
		}
		r.Logger.Errorf("%s failed: %v (stderr: %s)", name, err, string(stderr))
		return nil, err
	}
	r.Logger.Infof("%s succeeded", name)
	return out, nil
}
