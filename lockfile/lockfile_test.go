package lockfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.lock")

	lock, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestAcquireFailsWhenAlreadyHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.lock")

	first, err := Acquire(path)
	require.NoError(t, err)
	defer first.Release()

	_, err = Acquire(path)
	require.ErrorIs(t, err, ErrAlreadyRunning)
}
