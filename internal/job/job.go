// Package job defines the job record and its state machine (spec §3, §4.3).
package job

import (
	"syscall"
	"time"

	"github.com/nullhaven/overseerd/internal/manifest"
)

// State is one node of the per-job lifecycle in spec §4.3.
type State int

const (
	StateLoaded State = iota
	StateWatching
	StateStarting
	StateRunning
	StateReaping
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateWatching:
		return "watching"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateReaping:
		return "reaping"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// WatchedFD pairs a path with the descriptor currently registered for
// vnode events on it; Fd is -1 when the path is not yet (re)opened.
type WatchedFD struct {
	Path string
	Fd   int
}

// Record is a job's identity plus its mutable runtime state (spec §3).
type Record struct {
	Label    string
	Manifest *manifest.Manifest

	// Stable reference so event callbacks racing with removal observe
	// NotFound rather than touching a freed record (design notes §9).
	Generation uint64
	Index      int

	State State

	PID        int
	ExecFD     int
	StartTime  time.Time
	FailedExits int
	CheckedIn  bool
	Throttle   bool
	Debug      bool
	Firstborn  bool

	WatchPathFDs       []WatchedFD
	QueueDirectoryFDs  []WatchedFD

	ListenerFDs map[string][]int // socket group name -> owned descriptors

	// RestartTimerID identifies the armed one-shot throttle-expiry timer,
	// if any, so it can be cancelled on removal.
	RestartTimerID uint64
	// IntervalTimerID / CalendarTimerID identify armed activation timers.
	IntervalTimerID uint64
	CalendarTimerID uint64

	ShutdownSignalSent bool
}

// NewRecord builds a fresh Loaded-state record for m.
func NewRecord(m *manifest.Manifest) *Record {
	return &Record{
		Label:       m.Label,
		Manifest:    m,
		State:       StateLoaded,
		ExecFD:      0,
		ListenerFDs: make(map[string][]int),
	}
}

// Alive reports whether a child is currently forked and not yet reaped.
func (r *Record) Alive() bool { return r.PID > 0 }

// Signal delivers sig to the job's live child, if any. Used by the
// stop-job/remove-job verbs and shutdown, which only ever need to
// signal by pid rather than hold an *os.Process across a find/attach.
func (r *Record) Signal(sig syscall.Signal) error {
	if r.PID <= 0 {
		return nil
	}
	return syscall.Kill(r.PID, sig)
}

// HasActivationSources reports whether this job declares anything that
// can transition it out of Watching on its own.
func (r *Record) HasActivationSources() bool {
	m := r.Manifest
	return len(m.Sockets) > 0 ||
		len(m.WatchPaths) > 0 ||
		len(m.QueueDirectories) > 0 ||
		m.StartInterval > 0 ||
		m.StartCalendarInterval != nil
}
