// Package supervisor wires the registry, job state machine, resource
// limit cache and IPC dispatcher into the running daemon, and owns the
// verb handlers named in spec §4.4.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nullhaven/overseerd/internal/eventloop"
	"github.com/nullhaven/overseerd/internal/ipc"
	"github.com/nullhaven/overseerd/internal/ipcerr"
	"github.com/nullhaven/overseerd/internal/job"
	"github.com/nullhaven/overseerd/internal/jobfsm"
	"github.com/nullhaven/overseerd/internal/log"
	"github.com/nullhaven/overseerd/internal/manifest"
	"github.com/nullhaven/overseerd/internal/registry"
	"github.com/nullhaven/overseerd/internal/rlimit"
	"github.com/nullhaven/overseerd/internal/value"
)

// DefaultShutdownTimeout bounds how long the shutdown verb waits for
// every live child to be reaped before giving up (spec §4.8 is bounded
// but does not name a duration; this mirrors the donor's own drain
// timeout order of magnitude).
const DefaultShutdownTimeout = 30 * time.Second

// Core is the process-wide supervisor context (design notes §9): the
// single struct every verb handler and event callback closes over.
type Core struct {
	Registry *registry.Registry
	Engine   *jobfsm.Engine
	Loop     *eventloop.Loop
	Rlimits  *rlimit.Cache
	Log      zerolog.Logger

	envMu  sync.Mutex
	userEnv map[string]string

	umaskMu sync.Mutex
	umask   int

	shutdownCh chan struct{}
}

// New builds a Core for a fresh, empty supervisor. isSystem selects
// whether the rlimit cache is allowed to touch system-wide kernel knobs
// (spec §4.9) — true for the system-wide supervisor, false for a
// per-session instance.
func New(isSystem bool) (*Core, error) {
	rl, err := rlimit.NewCache(isSystem)
	if err != nil {
		return nil, err
	}
	reg := registry.New()
	loop := eventloop.New()

	c := &Core{
		Registry:   reg,
		Loop:       loop,
		Rlimits:    rl,
		Log:        log.Logger,
		userEnv:    make(map[string]string),
		shutdownCh: make(chan struct{}),
	}
	c.Engine = jobfsm.New(reg, loop, log.Logger, isSystem)
	return c, nil
}

// LoadManifest parses and loads a job definition, returning the errno
// appropriate for a submit-job reply.
func (c *Core) LoadManifest(v value.Value) error {
	m, err := manifest.Parse(v)
	if err != nil {
		return err
	}
	return c.Engine.Load(job.NewRecord(m))
}

// LoadFirstborn loads argv as the supervisor's firstborn job (spec §3,
// §4.3): a plain run-at-load, not-on-demand job whose clean exit drives
// the whole supervisor into Shutdown. It must be called before any other
// job is loaded so the firstborn sits at the head of the registry's
// insertion order.
func (c *Core) LoadFirstborn(argv []string) error {
	args := make([]value.Value, len(argv)-1)
	for i, a := range argv[1:] {
		args[i] = value.String(a)
	}
	v := value.Map(map[string]value.Value{
		"label":             value.String("firstborn"),
		"program":           value.String(argv[0]),
		"program-arguments": value.Array(args...),
		"run-at-load":       value.Bool(true),
		"on-demand":         value.Bool(false),
	})
	m, err := manifest.Parse(v)
	if err != nil {
		return err
	}
	rec := job.NewRecord(m)
	rec.Firstborn = true
	return c.Engine.Load(rec)
}

// OnFirstbornExit registers fn to run once the firstborn job (if any)
// exits cleanly, per spec §4.3's Reaping-state precedence.
func (c *Core) OnFirstbornExit(fn func()) {
	c.Engine.SetFirstbornExitHook(fn)
}

// Run starts the event loop; it blocks until ctx is cancelled. A
// completed RequestShutdown does not cancel ctx by itself.
func (c *Core) Run(ctx context.Context) {
	c.Loop.Run(ctx)
}

// RequestShutdown begins spec §4.8's shutdown sequence and blocks until
// every child has been reaped or timeout elapses.
func (c *Core) RequestShutdown(timeout time.Duration) {
	alive := c.Engine.Shutdown()
	if alive == 0 {
		return
	}
	deadline := time.After(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			return
		case <-ticker.C:
			if c.Registry.AliveCount() == 0 {
				return
			}
		}
	}
}

// RegisterVerbs binds every verb in spec §4.4's authoritative table to
// disp.
func (c *Core) RegisterVerbs(disp *ipc.Dispatcher) {
	disp.Register("submit-job", c.verbSubmitJob)
	disp.Register("start-job", c.verbStartJob)
	disp.Register("stop-job", c.verbStopJob)
	disp.Register("remove-job", c.verbRemoveJob)
	disp.Register("get-job", c.verbGetJob)
	disp.Register("check-in", c.verbCheckIn)
	disp.Register("set-user-env", c.verbSetUserEnv)
	disp.Register("get-user-env", c.verbGetUserEnv)
	disp.Register("set-rlimits", c.verbSetRlimits)
	disp.Register("get-rlimits", c.verbGetRlimits)
	disp.Register("set-log-mask", c.verbSetLogMask)
	disp.Register("get-log-mask", c.verbGetLogMask)
	disp.Register("set-umask", c.verbSetUmask)
	disp.Register("get-umask", c.verbGetUmask)
	disp.Register("get-rusage", c.verbGetRusage)
	disp.Register("set-stdout", c.verbSetStdout)
	disp.Register("set-stderr", c.verbSetStderr)
	disp.Register("batch-control", c.verbBatchControl)
	disp.Register("batch-query", c.verbBatchQuery)
	disp.Register("shutdown", c.verbShutdown)
	disp.Register("reload-ttys", c.verbReloadTTYs)
	disp.Register("workaround-bonjour", c.verbWorkaroundBonjour)
}

func errnoReply(err error) value.Value {
	return value.Map(map[string]value.Value{"errno": value.Int(int64(ipcerr.AsErrno(err)))})
}
