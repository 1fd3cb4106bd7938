package loopback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pop-core/internal/corelog"
	"pop-core/internal/procutil"
)

func init() {
	settleDelay = time.Millisecond
}

func TestNewAttachesAndParsesDevice(t *testing.T) {
	runner := procutil.NewFakeRunner()
	runner.StubOutput("losetup", "/dev/loop7\n")

	lo, err := New(context.Background(), corelog.Discard(), runner, "image.raw")
	require.NoError(t, err)
	assert.Equal(t, "/dev/loop7", lo.Device())
	assert.Equal(t, "/dev/loop7p2", lo.Partition(2))
	require.NoError(t, lo.Detach())
}

func TestDetachIsIdempotent(t *testing.T) {
	runner := procutil.NewFakeRunner()
	runner.StubOutput("losetup", "/dev/loop0\n")

	lo, err := New(context.Background(), corelog.Discard(), runner, "image.raw")
	require.NoError(t, err)

	require.NoError(t, lo.Detach())
	require.NoError(t, lo.Detach())

	detachCalls := 0
	for _, c := range runner.Calls {
		if c.Name == "losetup" && len(c.Args) > 0 && c.Args[0] == "--detach" {
			detachCalls++
		}
	}
	assert.Equal(t, 1, detachCalls, "second Detach must be a no-op")
}

func TestWithDetachesOnFailure(t *testing.T) {
	runner := procutil.NewFakeRunner()
	runner.StubOutput("losetup", "/dev/loop0\n")

	lo, err := New(context.Background(), corelog.Discard(), runner, "image.raw")
	require.NoError(t, err)

	wantErr := assertErr("boom")
	err = lo.With(func(*Loopback) error { return wantErr })
	assert.Equal(t, wantErr, err)
	assert.False(t, lo.attached)
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

func assertErr(msg string) error { return sentinelErr(msg) }
