// Package socketdir implements the control-socket directory convention
// from spec §6: a supervisor-owned directory under a fixed prefix,
// named by uid (and pid for a fresh session), holding a single stream
// socket named "sock" and an exclusive advisory lock guaranteeing at
// most one supervisor per (uid, session).
package socketdir

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// EnvVar is the environment variable clients read to find the control
// socket's directory.
const EnvVar = "OVERSEERD_SOCKET_DIR"

// Handle owns the directory's lock for the supervisor's lifetime.
type Handle struct {
	Dir      string
	SockPath string
	lockFD   int
}

// Open creates (or reuses) prefix/<uid>[-<pid>] with mode 0700, takes an
// exclusive advisory lock on the directory descriptor, and returns the
// path clients should connect to. freshSession names the directory with
// the caller's pid too, matching spec §6's "(uid, session)" scoping for
// a session-type instance distinct from the system-wide one.
func Open(prefix string, freshSession bool) (*Handle, error) {
	name := fmt.Sprintf("%d", os.Getuid())
	if freshSession {
		name = fmt.Sprintf("%s-%d", name, os.Getpid())
	}
	dir := filepath.Join(prefix, name)

	old := unix.Umask(0o077)
	err := os.MkdirAll(dir, 0o700)
	unix.Umask(old)
	if err != nil {
		return nil, fmt.Errorf("socketdir: mkdir %s: %w", dir, err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return nil, fmt.Errorf("socketdir: chmod %s: %w", dir, err)
	}

	fd, err := unix.Open(dir, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return nil, fmt.Errorf("socketdir: open %s: %w", dir, err)
	}
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socketdir: another supervisor already owns %s: %w", dir, err)
	}

	h := &Handle{
		Dir:      dir,
		SockPath: filepath.Join(dir, "sock"),
		lockFD:   fd,
	}
	_ = os.Setenv(EnvVar, dir)
	return h, nil
}

// Close releases the directory lock. The directory and its lingering
// socket file are left behind for a restarted supervisor to reclaim on
// its own Open call.
func (h *Handle) Close() error {
	return unix.Close(h.lockFD)
}
