// Package activation arms and fires a job's on-demand activation
// sources (spec §4.3 Watching state, §3): listening sockets,
// watch-paths, queue-directories, and the start-interval/calendar
// timers. Each source, once it fires, asks the event loop to move the
// owning job out of Watching.
package activation

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	sdactivation "github.com/coreos/go-systemd/v22/activation"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"

	"github.com/nullhaven/overseerd/internal/calendar"
	"github.com/nullhaven/overseerd/internal/eventloop"
	"github.com/nullhaven/overseerd/internal/manifest"
)

// Sources holds everything armed for one job's Watching state so it can
// be torn down cleanly on a transition out of Watching or on removal.
type Sources struct {
	Label string

	Listeners map[string][]int // socket group name -> listening descriptors

	watcher     *fsnotify.Watcher
	watchedDirs []string // queue-directories, to distinguish "has entries" wakeups

	intervalTimer *time.Timer
	calendarTimer *time.Timer
}

// OpenSockets creates (but does not necessarily listen on, for dgram)
// every socket group declared in m.Sockets, per spec §3's sockets key.
// The returned descriptors are handed to the launcher as inherited fds
// when the job transitions to Starting. They are not registered with the
// event loop, so a connection or datagram arriving on one does not by
// itself start the job.
//
// If the supervisor's own process was itself started under socket
// activation (LISTEN_FDS set, e.g. a supervised re-exec after a config
// reload), a group whose name matches a named inherited listener
// (FDNAMES) reuses that descriptor instead of creating a new one — the
// same descriptor-handoff convention coreos/go-systemd's activation
// package implements for systemd units, generalized here to this
// supervisor's own socket-group names.
func OpenSockets(m *manifest.Manifest) (map[string][]int, error) {
	named, err := sdactivation.ListenersWithNames(false)
	if err != nil {
		named = nil
	}

	out := make(map[string][]int, len(m.Sockets))
	for group, specs := range m.Sockets {
		if listeners, ok := named[group]; ok && len(listeners) > 0 {
			fds := make([]int, 0, len(listeners))
			for _, l := range listeners {
				f, err := l.(interface{ File() (*os.File, error) }).File()
				if err != nil {
					continue
				}
				fds = append(fds, int(f.Fd()))
			}
			if len(fds) > 0 {
				out[group] = fds
				continue
			}
		}

		var fds []int
		for _, spec := range specs {
			fd, err := openOneSocket(spec)
			if err != nil {
				closeAll(out)
				return nil, fmt.Errorf("activation: socket group %q: %w", group, err)
			}
			fds = append(fds, fd)
		}
		out[group] = fds
	}
	return out, nil
}

func openOneSocket(spec manifest.SocketSpec) (int, error) {
	family := unix.AF_UNIX
	sockType := unix.SOCK_STREAM
	if spec.Type == "dgram" {
		sockType = unix.SOCK_DGRAM
	}
	if spec.Pathname == "" {
		family = unix.AF_INET
	}

	fd, err := unix.Socket(family, sockType, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}

	if family == unix.AF_UNIX {
		_ = unix.Unlink(spec.Pathname)
		sa := &unix.SockaddrUnix{Name: spec.Pathname}
		if err := unix.Bind(fd, sa); err != nil {
			unix.Close(fd)
			return -1, err
		}
	}
	// A spec without a pathname gets an AF_INET socket that is left
	// unbound: node-name and service-name are not resolved or bound
	// anywhere. Unix-domain is the common case for a local service
	// supervisor and is handled fully here.

	if spec.Passive && sockType == unix.SOCK_STREAM {
		if err := unix.Listen(fd, 128); err != nil {
			unix.Close(fd)
			return -1, err
		}
	}
	return fd, nil
}

func closeAll(m map[string][]int) {
	for _, fds := range m {
		for _, fd := range fds {
			unix.Close(fd)
		}
	}
}

// WatchPaths arms an fsnotify watch on every path in m.WatchPaths.
// Firing the callback is the watch-path source's sole job: spec §3
// treats any write/create/rename event on the path as "readable".
func WatchPaths(m *manifest.Manifest, loop *eventloop.Loop, label string, generation uint64) (*fsnotify.Watcher, error) {
	if len(m.WatchPaths) == 0 {
		return nil, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("activation: watch-paths: %w", err)
	}
	for _, p := range m.WatchPaths {
		if err := w.Add(p); err != nil {
			w.Close()
			return nil, fmt.Errorf("activation: watch-paths: add %q: %w", p, err)
		}
	}
	go pumpWatcher(w, loop, label, generation)
	return w, nil
}

// QueueDirectories arms an fsnotify watch on every directory in
// m.QueueDirectories, but only fires when the directory is non-empty at
// the time of the event, matching the "has waiting work" semantics of a
// spool/queue directory rather than a plain watch-path.
func QueueDirectories(m *manifest.Manifest, loop *eventloop.Loop, label string, generation uint64) (*fsnotify.Watcher, error) {
	if len(m.QueueDirectories) == 0 {
		return nil, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("activation: queue-directories: %w", err)
	}
	for _, dir := range m.QueueDirectories {
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, fmt.Errorf("activation: queue-directories: add %q: %w", dir, err)
		}
		if nonEmpty(dir) {
			loop.SubmitAsync(eventloop.Event{
				Kind: eventloop.KindVnodeChange, Label: label, Generation: generation,
			})
		}
	}
	go pumpQueueWatcher(w, m.QueueDirectories, loop, label, generation)
	return w, nil
}

func nonEmpty(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

func pumpWatcher(w *fsnotify.Watcher, loop *eventloop.Loop, label string, generation uint64) {
	for {
		select {
		case _, ok := <-w.Events:
			if !ok {
				return
			}
			loop.SubmitAsync(eventloop.Event{
				Kind: eventloop.KindVnodeChange, Label: label, Generation: generation,
			})
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}

func pumpQueueWatcher(w *fsnotify.Watcher, dirs []string, loop *eventloop.Loop, label string, generation uint64) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if nonEmpty(filepath.Dir(ev.Name)) {
				loop.SubmitAsync(eventloop.Event{
					Kind: eventloop.KindVnodeChange, Label: label, Generation: generation,
				})
			}
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}

// ArmInterval schedules a one-shot timer that, on fire, resubmits itself
// after the same interval, implementing spec §3's start-interval as a
// repeating periodic wakeup.
func ArmInterval(seconds int, loop *eventloop.Loop, label string, generation uint64) *time.Timer {
	var t *time.Timer
	interval := time.Duration(seconds) * time.Second
	var fire func()
	fire = func() {
		loop.SubmitAsync(eventloop.Event{
			Kind: eventloop.KindTimerFire, Label: label, Generation: generation,
		})
		t.Reset(interval)
	}
	t = time.AfterFunc(interval, fire)
	return t
}

// ArmCalendar schedules a one-shot timer for the next time spec.Next
// produces, re-arming itself against the new "now" once it fires.
func ArmCalendar(spec *manifest.CalendarSpec, loop *eventloop.Loop, label string, generation uint64) *time.Timer {
	var t *time.Timer
	var fire func()
	schedule := func() time.Duration {
		next := calendar.Next(spec, time.Now())
		return time.Until(next)
	}
	fire = func() {
		loop.SubmitAsync(eventloop.Event{
			Kind: eventloop.KindTimerFire, Label: label, Generation: generation,
		})
		t.Reset(schedule())
	}
	t = time.AfterFunc(schedule(), fire)
	return t
}
