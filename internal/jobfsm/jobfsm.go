// Package jobfsm drives the per-job lifecycle described in spec §4.3,
// wiring the registry, the activation sources, the launcher and the
// reaper together behind the event loop's single dispatching goroutine.
package jobfsm

import (
	"os"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/nullhaven/overseerd/internal/activation"
	"github.com/nullhaven/overseerd/internal/eventloop"
	"github.com/nullhaven/overseerd/internal/job"
	"github.com/nullhaven/overseerd/internal/launcher"
	"github.com/nullhaven/overseerd/internal/metrics"
	"github.com/nullhaven/overseerd/internal/reaper"
	"github.com/nullhaven/overseerd/internal/registry"
)

// Engine owns the transitions for every job in reg, dispatching on
// events delivered by loop. All methods run on the event loop's single
// goroutine; none of them take their own lock.
type Engine struct {
	reg              *registry.Registry
	loop             *eventloop.Loop
	log              zerolog.Logger
	isSystem         bool
	shutdownInProgress bool

	policies map[string]*reaper.Policy
	sources  map[string]*activeSources

	// onFirstbornExit fires when the firstborn job reaps with a normal
	// termination, per spec §4.3's Reaping-state precedence. Set by the
	// daemon entrypoint, which owns the shutdown/drain sequence itself.
	onFirstbornExit func()
}

// SetFirstbornExitHook registers fn to run the first time the firstborn
// job's process reaps cleanly. There is at most one firstborn per
// supervisor instance, so this is a single callback rather than a
// per-job registration.
func (e *Engine) SetFirstbornExitHook(fn func()) {
	e.onFirstbornExit = fn
}

type activeSources struct {
	listeners     map[string][]int
	watchWatcher  closer
	queueWatcher  closer
	intervalTimer *time.Timer
	calendarTimer *time.Timer
}

type closer interface{ Close() error }

// New returns an Engine bound to reg and loop.
func New(reg *registry.Registry, loop *eventloop.Loop, log zerolog.Logger, isSystem bool) *Engine {
	return &Engine{
		reg:      reg,
		loop:     loop,
		log:      log,
		isSystem: isSystem,
		policies: make(map[string]*reaper.Policy),
		sources:  make(map[string]*activeSources),
	}
}

// Load inserts rec into the registry and drives it from Loaded into
// either Starting (run-at-load, or keep-alive) or Watching.
func (e *Engine) Load(rec *job.Record) error {
	if err := e.reg.Insert(rec); err != nil {
		return err
	}
	e.policies[rec.Label] = &reaper.Policy{}
	metrics.JobsLoadedTotal.Inc()

	if rec.Manifest.RunAtLoad || !rec.Manifest.OnDemand {
		e.toStarting(rec)
		return nil
	}
	e.toWatching(rec)
	return nil
}

// toWatching arms every activation source declared in rec's manifest and
// marks the job Watching. Called from Loaded, and from Reaping when the
// restart-fitness test says to re-arm rather than restart immediately.
func (e *Engine) toWatching(rec *job.Record) {
	rec.State = job.StateWatching
	rec.PID = 0

	as := &activeSources{}

	listeners, err := activation.OpenSockets(rec.Manifest)
	if err != nil {
		e.log.Error().Err(err).Str("label", rec.Label).Msg("activation: open sockets failed")
	} else {
		as.listeners = listeners
		rec.ListenerFDs = listeners
	}

	if w, err := activation.WatchPaths(rec.Manifest, e.loop, rec.Label, rec.Generation); err != nil {
		e.log.Error().Err(err).Str("label", rec.Label).Msg("activation: watch-paths failed")
	} else if w != nil {
		as.watchWatcher = w
	}

	if w, err := activation.QueueDirectories(rec.Manifest, e.loop, rec.Label, rec.Generation); err != nil {
		e.log.Error().Err(err).Str("label", rec.Label).Msg("activation: queue-directories failed")
	} else if w != nil {
		as.queueWatcher = w
	}

	if rec.Manifest.StartInterval > 0 {
		as.intervalTimer = activation.ArmInterval(rec.Manifest.StartInterval, e.loop, rec.Label, rec.Generation)
	}
	if rec.Manifest.StartCalendarInterval != nil {
		as.calendarTimer = activation.ArmCalendar(rec.Manifest.StartCalendarInterval, e.loop, rec.Label, rec.Generation)
	}

	e.sources[rec.Label] = as
}

// disarm tears down whatever activation sources are currently armed for
// label, without touching the job record's state.
func (e *Engine) disarm(label string) {
	as, ok := e.sources[label]
	if !ok {
		return
	}
	if as.watchWatcher != nil {
		as.watchWatcher.Close()
	}
	if as.queueWatcher != nil {
		as.queueWatcher.Close()
	}
	if as.intervalTimer != nil {
		as.intervalTimer.Stop()
	}
	if as.calendarTimer != nil {
		as.calendarTimer.Stop()
	}
	delete(e.sources, label)
}

// OnActivation handles a fired activation source (socket-readable, vnode
// change, interval/calendar timer). Exactly one transitions the job to
// Starting; the tie-break is implicit because Starting immediately
// disarms every other source for the same job (spec §4.3).
func (e *Engine) OnActivation(label string, generation uint64) {
	rec, err := e.reg.LookupGeneration(label, generation)
	if err != nil {
		return // superseded or removed: stale event, ignore
	}
	if rec.State != job.StateWatching {
		return // already transitioning; coalesce
	}
	metrics.ActivationFiresTotal.WithLabelValues("source").Inc()
	e.disarm(label)
	e.toStarting(rec)
}

// toStarting forks rec's child. A fork/exec failure (including the
// exec-pipe timeout watchdog) is counted as a bad exit against the same
// restart-fitness policy a reaped child would hit, per spec §4.3's Starting
// state and the timeout-watchdog supplement.
func (e *Engine) toStarting(rec *job.Record) {
	rec.State = job.StateStarting

	var listenerFDs []int
	for _, fds := range rec.ListenerFDs {
		listenerFDs = append(listenerFDs, fds...)
	}

	h, err := launcher.Launch(rec.Manifest, listenerFDs)
	if err != nil {
		e.log.Error().Err(err).Str("label", rec.Label).Msg("launch failed")
		policy := e.policies[rec.Label]
		if policy == nil {
			policy = &reaper.Policy{}
			e.policies[rec.Label] = policy
		}
		policy.Observe(reaper.Outcome{Bad: true})
		rec.FailedExits = policy.FailedExits
		metrics.FailedExitsTotal.WithLabelValues(rec.Label).Inc()
		if policy.ShouldRemove() {
			metrics.JobsRemovedTotal.WithLabelValues("failed_exits_threshold").Inc()
			e.remove(rec)
			return
		}
		e.toWatching(rec)
		return
	}

	rec.PID = h.PID
	rec.StartTime = h.StartedAt
	rec.ExecFD = h.TrustFD
	rec.State = job.StateRunning

	go e.waitForExit(rec.Label, rec.Generation, h)
}

// waitForExit blocks in the child's own goroutine (the idiomatic Go
// translation of the kernel process-exit kqueue filter) and submits a
// process-exit event back onto the loop's main queue once the child is
// reaped, so state mutation still happens on the single loop goroutine.
func (e *Engine) waitForExit(label string, generation uint64, h *launcher.Handle) {
	state, _ := h.Cmd.Process.Wait()
	e.loop.Submit(eventloop.Event{
		Kind:       eventloop.KindProcessExit,
		Label:      label,
		Generation: generation,
		Callback: func(ev eventloop.Event) {
			e.OnProcessExit(ev.Label, ev.Generation, state)
		},
	})
}

// OnProcessExit runs the Reaping state's logic: classify the exit,
// update the restart-fitness policy, and pick the next state per
// spec §4.3's restart-fitness test.
func (e *Engine) OnProcessExit(label string, generation uint64, state *os.ProcessState) {
	reapTimer := metrics.NewTimer()
	rec, err := e.reg.LookupGeneration(label, generation)
	if err != nil {
		return
	}
	rec.State = job.StateReaping
	rec.PID = 0

	metrics.JobRunDuration.WithLabelValues(label).Observe(time.Since(rec.StartTime).Seconds())

	outcome := reaper.Classify(state, rec.StartTime, rec.Manifest.OnDemand)
	policy := e.policies[label]
	if policy == nil {
		policy = &reaper.Policy{}
		e.policies[label] = policy
	}
	policy.Observe(outcome)
	rec.FailedExits = policy.FailedExits
	rec.Throttle = policy.Throttled

	if outcome.Bad {
		metrics.FailedExitsTotal.WithLabelValues(label).Inc()
	}
	if policy.Throttled {
		metrics.ThrottledJobsTotal.WithLabelValues(label).Set(1)
	} else {
		metrics.ThrottledJobsTotal.WithLabelValues(label).Set(0)
	}

	e.log.Info().Str("label", label).Int("exit_code", outcome.ExitCode).
		Bool("signaled", outcome.Signaled).Int("failed_exits", policy.FailedExits).
		Msg("job reaped")
	reapTimer.ObserveDuration(metrics.ReapLatency)

	if rec.Firstborn && !outcome.Signaled && outcome.ExitCode == 0 {
		e.remove(rec)
		if e.onFirstbornExit != nil {
			e.onFirstbornExit()
		}
		return
	}

	if rec.Manifest.ServiceIPC && !rec.CheckedIn {
		metrics.JobsRemovedTotal.WithLabelValues("service_ipc_no_checkin").Inc()
		e.remove(rec)
		return
	}

	if policy.ShouldRemove() {
		metrics.JobsRemovedTotal.WithLabelValues("failed_exits_threshold").Inc()
		e.remove(rec)
		return
	}

	if rec.Manifest.OnDemand || e.shutdownInProgress {
		e.toWatching(rec)
		return
	}

	if policy.Throttled {
		e.armThrottleTimer(rec)
		return
	}

	e.toStarting(rec)
}

func (e *Engine) armThrottleTimer(rec *job.Record) {
	rec.State = job.StateWatching // sources stay disarmed while waiting, per spec §4.3
	label, generation := rec.Label, rec.Generation
	time.AfterFunc(reaper.MinJobRunTime, func() {
		e.loop.Submit(eventloop.Event{
			Kind:       eventloop.KindTimerFire,
			Label:      label,
			Generation: generation,
			Callback: func(ev eventloop.Event) {
				r, err := e.reg.LookupGeneration(ev.Label, ev.Generation)
				if err != nil {
					return
				}
				e.toStarting(r)
			},
		})
	})
}

// remove disarms any sources, removes rec from the registry, and frees
// its bookkeeping.
func (e *Engine) remove(rec *job.Record) {
	e.disarm(rec.Label)
	delete(e.policies, rec.Label)
	_, _ = e.reg.Remove(rec.Label)
	metrics.JobsLoadedTotal.Dec()
}

// Remove services the remove-job verb: unlinks the record immediately
// (spec §4.2 "remove(label)" closes owned descriptors and unlinks the
// record before anything else), so a lookup right after this call always
// sees NotFound. If the child is still alive it is sent a termination
// signal afterward; the waitForExit goroutine already watching it still
// reaps the process normally, but its eventual OnProcessExit call finds
// the generation gone and is a no-op, acting as the transient reaper
// callback spec §4.2 describes without needing a separate mechanism.
func (e *Engine) Remove(label string) error {
	rec, err := e.reg.Lookup(label)
	if err != nil {
		return err
	}
	alive := rec.Alive()
	e.remove(rec)
	metrics.JobsRemovedTotal.WithLabelValues("explicit").Inc()
	if alive {
		_ = rec.Signal(syscall.SIGTERM)
	}
	return nil
}

// StartJob services the start-job verb (spec §4.4): a job whose child is
// not alive is forced into Starting from whatever state it is in; a job
// whose child is alive is left as it is.
func (e *Engine) StartJob(label string) error {
	rec, err := e.reg.Lookup(label)
	if err != nil {
		return err
	}
	if rec.Alive() {
		return nil // already running; start-job on a running job is a no-op
	}
	e.disarm(label)
	e.toStarting(rec)
	return nil
}

// StopJob services the stop-job verb: send the child a termination
// signal without touching the registry entry.
func (e *Engine) StopJob(label string) error {
	rec, err := e.reg.Lookup(label)
	if err != nil {
		return err
	}
	if !rec.Alive() {
		return nil
	}
	return rec.Signal(syscall.SIGTERM)
}

// Shutdown enters spec §4.8's shutdown sequence: disables the async
// queue, signals every live child, and returns the number still alive
// so the caller can block until it reaches zero.
func (e *Engine) Shutdown() int {
	e.shutdownInProgress = true
	e.loop.SetBatchDisable(true)

	alive := 0
	e.reg.ForEach(func(rec *job.Record) {
		if rec.Alive() {
			alive++
			_ = rec.Signal(syscall.SIGTERM)
		}
	})
	return alive
}

// ShutdownInProgress reports whether Shutdown has been entered.
func (e *Engine) ShutdownInProgress() bool { return e.shutdownInProgress }

// RefreshStateMetrics recomputes the per-state job gauge from the
// registry's current contents. Cheap enough to call from a periodic
// tick rather than threading a gauge update through every transition.
func (e *Engine) RefreshStateMetrics() {
	counts := map[string]float64{
		job.StateLoaded.String():   0,
		job.StateWatching.String(): 0,
		job.StateStarting.String(): 0,
		job.StateRunning.String():  0,
		job.StateReaping.String():  0,
	}
	e.reg.ForEach(func(rec *job.Record) {
		counts[rec.State.String()]++
	})
	for state, n := range counts {
		metrics.JobsByState.WithLabelValues(state).Set(n)
	}
}
