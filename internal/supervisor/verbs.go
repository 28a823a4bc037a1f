package supervisor

import (
	"os"
	"syscall"

	"github.com/nullhaven/overseerd/internal/ipc"
	"github.com/nullhaven/overseerd/internal/ipcerr"
	"github.com/nullhaven/overseerd/internal/job"
	"github.com/nullhaven/overseerd/internal/log"
	"github.com/nullhaven/overseerd/internal/rlimit"
	"github.com/nullhaven/overseerd/internal/value"
)

// verbSubmitJob loads one mapping or an array of mappings (spec §4.4).
func (c *Core) verbSubmitJob(_ *ipc.Session, arg value.Value) value.Value {
	if arr, ok := arg.AsArray(); ok {
		results := make([]value.Value, len(arr))
		for i, def := range arr {
			err := c.LoadManifest(def)
			results[i] = value.Int(int64(ipcerr.AsErrno(err)))
		}
		return value.Array(results...)
	}
	err := c.LoadManifest(arg)
	return errnoReply(err)
}

func (c *Core) verbStartJob(_ *ipc.Session, arg value.Value) value.Value {
	label, _ := arg.AsString()
	return errnoReply(c.Engine.StartJob(label))
}

func (c *Core) verbStopJob(_ *ipc.Session, arg value.Value) value.Value {
	label, _ := arg.AsString()
	return errnoReply(c.Engine.StopJob(label))
}

func (c *Core) verbRemoveJob(_ *ipc.Session, arg value.Value) value.Value {
	label, _ := arg.AsString()
	return errnoReply(c.Engine.Remove(label))
}

func (c *Core) verbGetJob(_ *ipc.Session, arg value.Value) value.Value {
	if label, ok := arg.AsString(); ok && label != "" {
		rec, err := c.Registry.Lookup(label)
		if err != nil {
			return errnoReply(err)
		}
		return value.ZeroFDs(rec.Manifest.Raw.DeepCopy())
	}

	out := make(map[string]value.Value)
	c.Registry.ForEach(func(rec *job.Record) {
		out[rec.Label] = value.ZeroFDs(rec.Manifest.Raw.DeepCopy())
	})
	return value.Map(out)
}

// verbCheckIn only succeeds on a connection accepted over the
// service-ipc trust channel (spec §4.4); any other connection gets
// PermissionDenied.
func (c *Core) verbCheckIn(sess *ipc.Session, _ value.Value) value.Value {
	if sess.TrustedJob == "" {
		return errnoReply(ipcerr.New(ipcerr.PermissionDenied, "check-in requires a trusted connection"))
	}
	rec, err := c.Registry.Lookup(sess.TrustedJob)
	if err != nil {
		return errnoReply(err)
	}
	rec.CheckedIn = true
	return value.ZeroFDs(rec.Manifest.Raw.DeepCopy())
}

func (c *Core) verbSetUserEnv(_ *ipc.Session, arg value.Value) value.Value {
	m, ok := arg.AsMap()
	if !ok {
		return errnoReply(ipcerr.New(ipcerr.InvalidArgument, "set-user-env requires a mapping"))
	}
	c.envMu.Lock()
	for k, v := range m {
		s, ok := v.AsString()
		if !ok {
			c.envMu.Unlock()
			return errnoReply(ipcerr.New(ipcerr.InvalidArgument, "set-user-env values must be strings"))
		}
		c.userEnv[k] = s
	}
	c.envMu.Unlock()
	return errnoReply(nil)
}

func (c *Core) verbGetUserEnv(_ *ipc.Session, _ value.Value) value.Value {
	c.envMu.Lock()
	defer c.envMu.Unlock()
	out := make(map[string]value.Value, len(c.userEnv))
	for k, v := range c.userEnv {
		out[k] = value.String(v)
	}
	return value.Map(out)
}

func (c *Core) verbSetRlimits(_ *ipc.Session, arg value.Value) value.Value {
	arr, ok := arg.AsArray()
	if !ok {
		return errnoReply(ipcerr.New(ipcerr.InvalidArgument, "set-rlimits requires an array"))
	}
	changed := make(map[rlimit.Kind]rlimit.Pair, len(arr))
	for _, entry := range arr {
		name, _ := entry.StringField("name")
		soft, _ := entry.IntField("soft")
		hard, _ := entry.IntField("hard")
		changed[rlimit.Kind(name)] = rlimit.Pair{Soft: uint64(soft), Hard: uint64(hard)}
	}
	return errnoReply(c.Rlimits.Set(changed))
}

func (c *Core) verbGetRlimits(_ *ipc.Session, _ value.Value) value.Value {
	mirror := c.Rlimits.Get()
	arr := make([]value.Value, 0, len(mirror))
	for kind, pair := range mirror {
		arr = append(arr, value.Map(map[string]value.Value{
			"name": value.String(string(kind)),
			"soft": value.Int(int64(pair.Soft)),
			"hard": value.Int(int64(pair.Hard)),
		}))
	}
	return value.Array(arr...)
}

func (c *Core) verbSetLogMask(_ *ipc.Session, arg value.Value) value.Value {
	n, ok := arg.AsInt()
	if !ok {
		return errnoReply(ipcerr.New(ipcerr.InvalidArgument, "set-log-mask requires an integer"))
	}
	log.SetLevel(logLevelFromMask(n))
	return value.Int(n)
}

func (c *Core) verbGetLogMask(_ *ipc.Session, _ value.Value) value.Value {
	return value.Int(maskFromLogLevel(log.CurrentLevel()))
}

func (c *Core) verbSetUmask(_ *ipc.Session, arg value.Value) value.Value {
	n, ok := arg.AsInt()
	if !ok {
		return errnoReply(ipcerr.New(ipcerr.InvalidArgument, "set-umask requires an integer"))
	}
	c.umaskMu.Lock()
	old := syscall.Umask(int(n))
	c.umask = int(n)
	c.umaskMu.Unlock()
	return value.Int(int64(old))
}

func (c *Core) verbGetUmask(_ *ipc.Session, _ value.Value) value.Value {
	c.umaskMu.Lock()
	defer c.umaskMu.Unlock()
	return value.Int(int64(c.umask))
}

func (c *Core) verbGetRusage(_ *ipc.Session, arg value.Value) value.Value {
	who, _ := arg.AsString()
	target := syscall.RUSAGE_SELF
	if who == "children" {
		target = syscall.RUSAGE_CHILDREN
	}
	var ru syscall.Rusage
	if err := syscall.Getrusage(target, &ru); err != nil {
		return errnoReply(err)
	}
	return value.Map(map[string]value.Value{
		"utime_sec":  value.Int(int64(ru.Utime.Sec)),
		"utime_usec": value.Int(int64(ru.Utime.Usec)),
		"stime_sec":  value.Int(int64(ru.Stime.Sec)),
		"stime_usec": value.Int(int64(ru.Stime.Usec)),
		"maxrss":     value.Int(int64(ru.Maxrss)),
	})
}

// verbSetStdout/verbSetStderr accept either a path string (deferred
// open) or an fd leaf (dup immediately); spec §4.4 defers the path case
// until the next filesystem-mount event, which this supervisor does not
// model, so a path is applied immediately instead of queued.
func (c *Core) verbSetStdout(_ *ipc.Session, arg value.Value) value.Value {
	return setStdio(arg, os.Stdout)
}

func (c *Core) verbSetStderr(_ *ipc.Session, arg value.Value) value.Value {
	return setStdio(arg, os.Stderr)
}

func setStdio(arg value.Value, target *os.File) value.Value {
	if path, ok := arg.AsString(); ok {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errnoReply(err)
		}
		defer f.Close()
		return errnoReply(syscall.Dup2(int(f.Fd()), int(target.Fd())))
	}
	if arg.Kind == value.KindFD {
		return errnoReply(syscall.Dup2(arg.FD.Fd, int(target.Fd())))
	}
	return errnoReply(ipcerr.New(ipcerr.InvalidArgument, "expected a path string or an fd"))
}

func (c *Core) verbBatchControl(sess *ipc.Session, arg value.Value) value.Value {
	disable, ok := arg.AsBool()
	if !ok {
		return errnoReply(ipcerr.New(ipcerr.InvalidArgument, "batch-control requires a bool"))
	}
	if sess.SetBatchDisable(disable) {
		c.Loop.SetBatchDisable(disable)
	}
	return errnoReply(nil)
}

func (c *Core) verbBatchQuery(sess *ipc.Session, _ value.Value) value.Value {
	return value.Bool(sess.BatchDisabled())
}

func (c *Core) verbShutdown(_ *ipc.Session, _ value.Value) value.Value {
	go c.RequestShutdown(DefaultShutdownTimeout)
	return errnoReply(nil)
}

// verbReloadTTYs is an external collaborator's concern (the TTY table,
// spec §1's explicit non-goal); the core only acknowledges it.
func (c *Core) verbReloadTTYs(_ *ipc.Session, _ value.Value) value.Value {
	return errnoReply(nil)
}

// verbWorkaroundBonjour stores each label's fd array under the reserved
// "__bonjour" key of that job's ListenerFDs map (spec §4.4), so the fds
// are passed to the child with its socket descriptors at the next launch.
// They are not added to the manifest tree, and the entry is dropped when
// the job next re-arms its sockets in Watching.
func (c *Core) verbWorkaroundBonjour(_ *ipc.Session, arg value.Value) value.Value {
	m, ok := arg.AsMap()
	if !ok {
		return errnoReply(ipcerr.New(ipcerr.InvalidArgument, "workaround-bonjour requires a mapping"))
	}
	for label, fdsVal := range m {
		rec, err := c.Registry.Lookup(label)
		if err != nil {
			continue
		}
		arr, ok := fdsVal.AsArray()
		if !ok {
			continue
		}
		var fds []int
		for _, e := range arr {
			if e.Kind == value.KindFD {
				fds = append(fds, e.FD.Fd)
			}
		}
		rec.ListenerFDs["__bonjour"] = fds
	}
	return errnoReply(nil)
}

func logLevelFromMask(n int64) log.Level {
	switch n {
	case 0:
		return log.DebugLevel
	case 1:
		return log.InfoLevel
	case 2:
		return log.WarnLevel
	default:
		return log.ErrorLevel
	}
}

func maskFromLogLevel(l log.Level) int64 {
	switch l {
	case log.DebugLevel:
		return 0
	case log.InfoLevel:
		return 1
	case log.WarnLevel:
		return 2
	default:
		return 3
	}
}
