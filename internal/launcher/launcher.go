// Package launcher forks and execs a job's child process (spec §4.5):
// argv/env/fd construction, privilege drop, resource limits, umask,
// working/root directory, stdio redirection, the exec-failure pipe
// handshake and the service-ipc trust-channel socketpair.
package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nullhaven/overseerd/internal/manifest"
)

// Handle is what a successful Launch returns: the live child plus the
// descriptors the supervisor must keep watching.
type Handle struct {
	Cmd       *exec.Cmd
	PID       int
	TrustFD   int // supervisor-side end of the service-ipc trust channel, or -1
	StartedAt time.Time
}

// Launch starts m's program, blocking until cmd.Start reports that the
// child has called exec successfully or why it could not. listenerFDs is
// a flat list of inherited descriptors, exposed to the child in order as
// fds starting at 3, the numbering systemd socket activation uses
// (coreos/go-systemd's own listener numbering); LISTEN_FDS is not set.
func Launch(m *manifest.Manifest, listenerFDs []int) (*Handle, error) {
	argv := buildArgv(m)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = buildEnv(m)

	if m.WorkingDirectory != "" {
		cmd.Dir = m.WorkingDirectory
	}

	attr := &syscall.SysProcAttr{Setsid: m.SessionCreate}
	if m.RootDirectory != "" {
		attr.Chroot = m.RootDirectory
	}
	if err := applyCredential(attr, m); err != nil {
		return nil, err
	}
	cmd.SysProcAttr = attr

	stdout, err := openStdio(m.StandardOutPath, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("launcher: stdout-path: %w", err)
	}
	stderr, err := openStdio(m.StandardErrPath, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("launcher: stderr-path: %w", err)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Stdin = nil

	cmd.ExtraFiles = fdsToFiles(listenerFDs)

	var trustFD = -1
	var childTrustFile *os.File
	if m.ServiceIPC {
		parentTrust, childTrust, err := newTrustChannel()
		if err != nil {
			return nil, fmt.Errorf("launcher: trust channel: %w", err)
		}
		trustFD = parentTrust
		childTrustFile = os.NewFile(uintptr(childTrust), "trust-channel")
		cmd.ExtraFiles = append(cmd.ExtraFiles, childTrustFile)
	}

	execFailR, execFailW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("launcher: exec-failure pipe: %w", err)
	}
	defer execFailR.Close()

	if m.HasUmask {
		old := unix.Umask(m.Umask)
		defer unix.Umask(old)
	}

	restoreRlimits := applyRlimits(attr, m)
	defer restoreRlimits()

	if err := cmd.Start(); err != nil {
		execFailW.Close()
		return nil, fmt.Errorf("launcher: start: %w", err)
	}
	execFailW.Close()
	if childTrustFile != nil {
		childTrustFile.Close()
	}

	if m.Nice != 0 || m.HasNice {
		_ = unix.Setpriority(unix.PRIO_PROCESS, cmd.Process.Pid, m.Nice)
	}
	if m.LowPriorityIO {
		applyLowPriorityIO(cmd.Process.Pid)
	}

	if m.TimeoutSeconds > 0 {
		_ = execFailR.SetReadDeadline(time.Now().Add(time.Duration(m.TimeoutSeconds) * time.Second))
	}
	msg, execErr, timedOut := drainExecFailure(execFailR)
	if timedOut {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		if trustFD != -1 {
			unix.Close(trustFD)
		}
		return nil, fmt.Errorf("launcher: child did not reach exec within %ds watchdog", m.TimeoutSeconds)
	}
	if execErr {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		if trustFD != -1 {
			unix.Close(trustFD)
		}
		return nil, fmt.Errorf("launcher: child failed to exec: %s", msg)
	}

	h := &Handle{
		Cmd:       cmd,
		PID:       cmd.Process.Pid,
		TrustFD:   trustFD,
		StartedAt: time.Now(),
	}
	return h, nil
}

func buildArgv(m *manifest.Manifest) []string {
	if len(m.ProgramArgs) > 0 {
		return m.ProgramArgs
	}
	return []string{m.Program}
}

func buildEnv(m *manifest.Manifest) []string {
	env := os.Environ()
	for k, v := range m.EnvironmentVariables {
		env = append(env, k+"="+v)
	}
	for k, v := range m.UserEnvironmentVariables {
		env = append(env, k+"="+v)
	}
	return env
}

// applyCredential resolves user-name/group-name into numeric uid/gid and
// init-groups into the supplementary group list, ordering the privilege
// drop the way a setuid daemon must: supplementary groups first, then
// gid, then uid (dropping uid last would strand the process unable to
// set its remaining group membership).
func applyCredential(attr *syscall.SysProcAttr, m *manifest.Manifest) error {
	if m.UserName == "" && m.GroupName == "" {
		return nil
	}

	var uid, gid uint32
	var groups []uint32

	if m.UserName != "" {
		u, err := user.Lookup(m.UserName)
		if err != nil {
			return fmt.Errorf("launcher: user-name %q: %w", m.UserName, err)
		}
		n, _ := strconv.Atoi(u.Uid)
		uid = uint32(n)
		if g, _ := strconv.Atoi(u.Gid); gid == 0 {
			gid = uint32(g)
		}
		if m.InitGroups {
			gidStrs, err := u.GroupIds()
			if err == nil {
				for _, gs := range gidStrs {
					if n, err := strconv.Atoi(gs); err == nil {
						groups = append(groups, uint32(n))
					}
				}
			}
		}
	}

	if m.GroupName != "" {
		g, err := user.LookupGroup(m.GroupName)
		if err != nil {
			return fmt.Errorf("launcher: group-name %q: %w", m.GroupName, err)
		}
		n, _ := strconv.Atoi(g.Gid)
		gid = uint32(n)
	}

	attr.Credential = &syscall.Credential{
		Uid:    uid,
		Gid:    gid,
		Groups: groups,
	}
	return nil
}

func openStdio(path string, fallback *os.File) (*os.File, error) {
	if path == "" {
		return fallback, nil
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
}

func fdsToFiles(fds []int) []*os.File {
	out := make([]*os.File, 0, len(fds))
	for _, fd := range fds {
		out = append(out, os.NewFile(uintptr(fd), "listener"))
	}
	return out
}

// newTrustChannel creates the socketpair a service-ipc job uses to send
// its check-in message (spec §4.5, §4.4 check-in verb). The child
// inherits one end as an extra fd; the parent's end is returned in
// Handle.TrustFD. Nothing in the supervisor reads from the parent's end:
// it is not wrapped in an IPC session or registered with the event loop.
func newTrustChannel() (parentFD, childFD int, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

// drainExecFailure reads the exec-failure pipe once: zero bytes means
// success, any bytes read are reported as the failure message. The child
// is not given the write end, so once Launch closes its own copy after
// cmd.Start the read sees EOF at once; exec failures are reported by
// cmd.Start itself. If r carries a read deadline (the manifest's timeout)
// and it elapses first, timedOut reports that instead.
func drainExecFailure(r *os.File) (msg string, failed bool, timedOut bool) {
	buf := make([]byte, 4096)
	n, err := r.Read(buf)
	if err != nil {
		if os.IsTimeout(err) {
			return "", false, true
		}
	}
	if n == 0 {
		return "", false, false
	}
	return string(buf[:n]), true, false
}

// rlimitOrder fixes iteration order for applyRlimits since map order is
// unspecified and the kernel applies whatever the process's rlimits are
// at the moment of fork.
var rlimitOrder = []string{
	"cpu", "fsize", "data", "stack", "core", "rss",
	"nofile", "as", "nproc", "memlock",
}

var rlimitResource = map[string]int{
	"cpu":     unix.RLIMIT_CPU,
	"fsize":   unix.RLIMIT_FSIZE,
	"data":    unix.RLIMIT_DATA,
	"stack":   unix.RLIMIT_STACK,
	"core":    unix.RLIMIT_CORE,
	"rss":     unix.RLIMIT_RSS,
	"nofile":  unix.RLIMIT_NOFILE,
	"as":      unix.RLIMIT_AS,
	"nproc":   unix.RLIMIT_NPROC,
	"memlock": unix.RLIMIT_MEMLOCK,
}

// applyRlimits sets the process-wide limits a forked child inherits at
// clone time, then relies on the caller restoring the supervisor's own
// limits immediately after cmd.Start() returns. This only works because
// Go's exec path performs fork+exec without returning to user code in
// between, so no other goroutine's child can observe the narrowed window.
func applyRlimits(attr *syscall.SysProcAttr, m *manifest.Manifest) (restore func()) {
	var saved []unix.Rlimit
	var resources []int

	for _, key := range rlimitOrder {
		soft, hasSoft := m.SoftResourceLimits[key]
		hard, hasHard := m.HardResourceLimits[key]
		if !hasSoft && !hasHard {
			continue
		}
		resource, ok := rlimitResource[key]
		if !ok {
			continue
		}
		var cur unix.Rlimit
		if unix.Getrlimit(resource, &cur) != nil {
			continue
		}
		want := cur
		if hasSoft {
			want.Cur = uint64(soft)
		}
		if hasHard {
			want.Max = uint64(hard)
		}
		if unix.Setrlimit(resource, &want) != nil {
			continue
		}
		saved = append(saved, cur)
		resources = append(resources, resource)
	}

	return func() {
		for i, resource := range resources {
			rl := saved[i]
			_ = unix.Setrlimit(resource, &rl)
		}
	}
}

func applyLowPriorityIO(pid int) {
	// Linux ioprio_set(IOPRIO_WHO_PROCESS, pid, IOPRIO_CLASS_IDLE) has no
	// unix package wrapper; best-effort via the raw syscall number, a
	// no-op anywhere else.
	const ioprioWhoProcess = 1
	const ioprioClassIdle = 3
	const ioprioClassShift = 13
	prio := ioprioClassIdle << ioprioClassShift
	_, _, _ = unix.Syscall(unix.SYS_IOPRIO_SET, uintptr(ioprioWhoProcess), uintptr(pid), uintptr(prio))
}
