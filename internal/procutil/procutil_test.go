package procutil

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pop-core/internal/coreerr"
	"pop-core/internal/corelog"
)

func TestCheckStatusSuccess(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	assert.NoError(t, CheckStatus(cmd))
}

func TestCheckStatusFailure(t *testing.T) {
	cmd := exec.Command("false")
	_ = cmd.Run()
	err := CheckStatus(cmd)
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.Other))
}

func TestDecodeUTF8Invalid(t *testing.T) {
	_, err := DecodeUTF8([]byte{0xff, 0xfe, 0xfd})
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.InvalidData))
}

func TestDecodeUTF8Valid(t *testing.T) {
	s, err := DecodeUTF8([]byte("/dev/loop0\n"))
	require.NoError(t, err)
	assert.Equal(t, "/dev/loop0\n", s)
}

func TestOSRunnerSuccess(t *testing.T) {
	r := NewOSRunner(corelog.Discard())
	out, err := r.Run(context.Background(), "echo", "hello")
	require.NoError(t, err)
	assert.Contains(t, string(out), "hello")
}

func TestOSRunnerFailureExitCode(t *testing.T) {
	r := NewOSRunner(corelog.Discard())
	_, err := r.Run(context.Background(), "false")
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.Other))
}

func TestOSRunnerMissingBinary(t *testing.T) {
	r := NewOSRunner(corelog.Discard())
	_, err := r.Run(context.Background(), "pop-core-does-not-exist-binary")
	require.Error(t, err)
}

func TestFakeRunnerRecordsCallsAndStubs(t *testing.T) {
	f := NewFakeRunner()
	f.StubOutput("losetup", "/dev/loop0\n")
	f.StubError("mkfs.btrfs", errors.New("boom"))

	out, err := f.Run(context.Background(), "losetup", "--find", "--show", "image.raw")
	require.NoError(t, err)
	assert.Equal(t, "/dev/loop0\n", string(out))

	_, err = f.Run(context.Background(), "mkfs.btrfs", "/dev/loop0p2")
	require.Error(t, err)

	_, err = f.Run(context.Background(), "sgdisk", "-n", "1::+512M")
	require.NoError(t, err, "unstubbed commands default to success")

	assert.Equal(t, []string{"losetup", "mkfs.btrfs", "sgdisk"}, f.CallNames())
}
