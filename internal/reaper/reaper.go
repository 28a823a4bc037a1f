// Package reaper classifies a job's exit and folds it into the
// job's failed_exits/throttle state (spec §4.6).
package reaper

import (
	"os"
	"syscall"
	"time"
)

// Constants governing exit classification and restart throttling,
// named after the donor daemon's own tunables (spec §4.6).
const (
	MinJobRunTime        = 10 * time.Second
	RewardJobRunTime     = 60 * time.Second
	FailedExitsThreshold = 10
)

// Outcome is the result of reaping one child.
type Outcome struct {
	ExitCode int  // -1 if the child was killed by a signal
	Signal   syscall.Signal
	Signaled bool
	Bad      bool // counts toward failed_exits
	TooShort bool // time-alive < MinJobRunTime
	RanLong  bool // time-alive >= RewardJobRunTime
}

// Classify turns a finished *os.ProcessState plus the child's lifetime
// into an Outcome, applying spec §4.6's exit-status rules. onDemand
// gates the timing-based rules: the too-short/ran-long adjustments only
// apply to keep-alive (on-demand=false) jobs.
func Classify(state *os.ProcessState, startedAt time.Time, onDemand bool) Outcome {
	alive := time.Since(startedAt)
	o := Outcome{ExitCode: -1}

	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		o.Signaled = true
		o.Signal = ws.Signal()
		if o.Signal != syscall.SIGKILL && o.Signal != syscall.SIGTERM {
			o.Bad = true
		}
	} else {
		o.ExitCode = state.ExitCode()
		if o.ExitCode != 0 {
			o.Bad = true
		}
	}

	if !onDemand {
		if alive < MinJobRunTime {
			o.TooShort = true
			o.Bad = true
		}
		if alive >= RewardJobRunTime {
			o.RanLong = true
		}
	}
	return o
}

// Policy tracks one job's consecutive-failure count and whether it is
// currently throttled.
type Policy struct {
	FailedExits int
	Throttled   bool
}

// Observe folds o into the policy, per spec §4.6/§4.3: a too-short run
// sets Throttled; a run that reached RewardJobRunTime resets the streak
// to zero; a bad exit (of any kind) increments the streak; reaching
// FailedExitsThreshold is reported via ShouldRemove, checked by the
// caller before deciding whether to restart at all.
func (p *Policy) Observe(o Outcome) {
	if o.RanLong {
		p.FailedExits = 0
	}
	if o.Bad {
		p.FailedExits++
	}
	p.Throttled = o.TooShort
}

// ShouldRemove reports whether the job has exhausted its restart budget
// and must be removed rather than restarted (spec §4.3: "failed_exits
// >= FAILED_EXITS_THRESHOLD implies removal at next reap").
func (p *Policy) ShouldRemove() bool {
	return p.FailedExits >= FailedExitsThreshold
}
