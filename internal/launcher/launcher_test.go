package launcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullhaven/overseerd/internal/manifest"
)

func TestBuildArgvPrefersProgramArguments(t *testing.T) {
	m := &manifest.Manifest{Program: "/bin/sh", ProgramArgs: []string{"/bin/sh", "-c", "exit 0"}}
	assert.Equal(t, []string{"/bin/sh", "-c", "exit 0"}, buildArgv(m))
}

func TestBuildArgvFallsBackToProgram(t *testing.T) {
	m := &manifest.Manifest{Program: "/bin/true"}
	assert.Equal(t, []string{"/bin/true"}, buildArgv(m))
}

func TestBuildEnvIncludesManifestVariables(t *testing.T) {
	m := &manifest.Manifest{
		EnvironmentVariables:     map[string]string{"A": "1"},
		UserEnvironmentVariables: map[string]string{"B": "2"},
	}
	env := buildEnv(m)
	assert.Contains(t, env, "A=1")
	assert.Contains(t, env, "B=2")
}

func TestLaunchRunsProgramToCompletion(t *testing.T) {
	m := &manifest.Manifest{Program: "/bin/true"}

	h, err := Launch(m, nil)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Greater(t, h.PID, 0)
	assert.Equal(t, -1, h.TrustFD)

	done := make(chan error, 1)
	go func() { done <- h.Cmd.Wait() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("child never exited")
	}
}

func TestLaunchWritesEnvironmentVariablesVisibleToChild(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")

	m := &manifest.Manifest{
		Program:                  "/bin/sh",
		ProgramArgs:              []string{"/bin/sh", "-c", "echo -n $GREETING > " + out},
		EnvironmentVariables:     map[string]string{"GREETING": "hello"},
	}

	h, err := Launch(m, nil)
	require.NoError(t, err)
	require.NoError(t, h.Cmd.Wait())

	contents, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(contents))
}

func TestLaunchNonexistentProgramFails(t *testing.T) {
	m := &manifest.Manifest{Program: "this-binary-does-not-exist-xyz"}

	_, err := Launch(m, nil)

	require.Error(t, err)
}

func TestLaunchServiceIPCOpensTrustChannel(t *testing.T) {
	m := &manifest.Manifest{Program: "/bin/true", ServiceIPC: true}

	h, err := Launch(m, nil)
	require.NoError(t, err)
	defer func() {
		if h.TrustFD != -1 {
			_ = os.NewFile(uintptr(h.TrustFD), "trust").Close()
		}
	}()

	assert.NotEqual(t, -1, h.TrustFD)
	_ = h.Cmd.Wait()
}
