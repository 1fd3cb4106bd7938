package mount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pop-core/internal/corelog"
)

func fakeMount(t *testing.T, dest string, calls *[]string) *Mount {
	t.Helper()
	return &Mount{
		logger: corelog.Discard(),
		dest:   dest,
		mounted: true,
		unmountFn: func(d string, flags int) error {
			*calls = append(*calls, d)
			return nil
		},
	}
}

func TestUnmountIsIdempotent(t *testing.T) {
	var calls []string
	m := fakeMount(t, "/mnt/a", &calls)

	require.NoError(t, m.Unmount(true))
	require.NoError(t, m.Unmount(true))
	assert.Equal(t, []string{"/mnt/a"}, calls)
}

func TestStackUnwindsInReverseOrder(t *testing.T) {
	var calls []string
	s := NewStack()
	s.Push(fakeMount(t, "/mnt/a", &calls))
	s.Push(fakeMount(t, "/mnt/b", &calls))
	s.Push(fakeMount(t, "/mnt/c", &calls))

	require.NoError(t, s.Unwind())
	assert.Equal(t, []string{"/mnt/c", "/mnt/b", "/mnt/a"}, calls)
}

func TestStackUnwindContinuesAfterError(t *testing.T) {
	var calls []string
	s := NewStack()
	s.Push(fakeMount(t, "/mnt/a", &calls))

	failing := &Mount{
		logger:  corelog.Discard(),
		dest:    "/mnt/b",
		mounted: true,
		unmountFn: func(d string, flags int) error {
			calls = append(calls, "fail:"+d)
			return assertErr("boom")
		},
	}
	s.Push(failing)

	err := s.Unwind()
	require.Error(t, err)
	assert.Equal(t, []string{"fail:/mnt/b", "/mnt/a"}, calls, "unwind keeps going past a failing unmount")
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }
func assertErr(msg string) error    { return sentinelErr(msg) }
