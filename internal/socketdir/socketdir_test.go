package socketdir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesModeAndPublishesEnvVar(t *testing.T) {
	prefix := t.TempDir()
	defer os.Unsetenv(EnvVar)

	h, err := Open(prefix, false)
	require.NoError(t, err)
	defer h.Close()

	fi, err := os.Stat(h.Dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), fi.Mode().Perm())
	assert.Equal(t, h.Dir, os.Getenv(EnvVar))
	assert.Equal(t, filepath.Join(h.Dir, "sock"), h.SockPath)
}

func TestOpenFreshSessionSuffixesPID(t *testing.T) {
	prefix := t.TempDir()
	defer os.Unsetenv(EnvVar)

	h, err := Open(prefix, true)
	require.NoError(t, err)
	defer h.Close()

	assert.Contains(t, filepath.Base(h.Dir), "-")
}

func TestOpenRejectsSecondOwnerOfSameDirectory(t *testing.T) {
	prefix := t.TempDir()
	defer os.Unsetenv(EnvVar)

	h1, err := Open(prefix, false)
	require.NoError(t, err)
	defer h1.Close()

	_, err = Open(prefix, false)
	assert.Error(t, err)
}

func TestCloseReleasesLockForNextOpener(t *testing.T) {
	prefix := t.TempDir()
	defer os.Unsetenv(EnvVar)

	h1, err := Open(prefix, false)
	require.NoError(t, err)
	require.NoError(t, h1.Close())

	h2, err := Open(prefix, false)
	require.NoError(t, err)
	defer h2.Close()
}
