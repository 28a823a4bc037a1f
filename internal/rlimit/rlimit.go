// Package rlimit maintains the supervisor's mirror of its own
// process-wide resource limits (spec §4.9).
package rlimit

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// maxProcessesCeiling is the hard ceiling the system supervisor clamps
// the process-count kernel knob to, regardless of what a client asks for
// (spec §4.9).
const maxProcessesCeiling = 2068

// Kind names an rlimit resource the cache mirrors; resourceOf maps each
// Kind to its RLIMIT_* resource number.
type Kind string

const (
	KindNumFiles  Kind = "nofile"
	KindNumProc   Kind = "nproc"
	KindCPU       Kind = "cpu"
	KindData      Kind = "data"
	KindStack     Kind = "stack"
	KindCore      Kind = "core"
	KindRSS       Kind = "rss"
	KindMemlock   Kind = "memlock"
	KindAS        Kind = "as"
	KindFileSize  Kind = "fsize"
)

var resourceOf = map[Kind]int{
	KindNumFiles: unix.RLIMIT_NOFILE,
	KindNumProc:  unix.RLIMIT_NPROC,
	KindCPU:      unix.RLIMIT_CPU,
	KindData:     unix.RLIMIT_DATA,
	KindStack:    unix.RLIMIT_STACK,
	KindCore:     unix.RLIMIT_CORE,
	KindRSS:      unix.RLIMIT_RSS,
	KindMemlock:  unix.RLIMIT_MEMLOCK,
	KindAS:       unix.RLIMIT_AS,
	KindFileSize: unix.RLIMIT_FSIZE,
}

// Pair is one resource's soft/hard tuple.
type Pair struct {
	Soft uint64
	Hard uint64
}

// Cache mirrors the process's rlimit state: get-rlimits returns it
// as-is; set-rlimits adjusts system-wide kernel knobs first (when
// running as the system supervisor), then calls setrlimit, then
// re-reads the kernel's (possibly clamped) values back into the mirror.
type Cache struct {
	mu         sync.RWMutex
	mirror     map[Kind]Pair
	isSystem   bool // true when running as the system-wide supervisor (uid 0, no session)
}

// NewCache builds a Cache by reading the process's current limits for
// every known Kind.
func NewCache(isSystem bool) (*Cache, error) {
	c := &Cache{mirror: make(map[Kind]Pair), isSystem: isSystem}
	if err := c.refreshAll(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) refreshAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for kind, resource := range resourceOf {
		var rl unix.Rlimit
		if err := unix.Getrlimit(resource, &rl); err != nil {
			return fmt.Errorf("rlimit: getrlimit(%s): %w", kind, err)
		}
		c.mirror[kind] = Pair{Soft: rl.Cur, Hard: rl.Max}
	}
	return nil
}

// Get returns a copy of the current mirror (backs get-rlimits).
func (c *Cache) Get() map[Kind]Pair {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[Kind]Pair, len(c.mirror))
	for k, v := range c.mirror {
		out[k] = v
	}
	return out
}

// Set applies changed to the process's resource limits, adjusting
// system-wide kernel knobs first when running as the system supervisor,
// then setrlimit, then re-reading the (possibly clamped) result back
// into the mirror (spec §4.9).
func (c *Cache) Set(changed map[Kind]Pair) error {
	for kind, pair := range changed {
		resource, ok := resourceOf[kind]
		if !ok {
			return fmt.Errorf("rlimit: unknown resource kind %q", kind)
		}

		hard := pair.Hard
		if c.isSystem && kind == KindNumProc && hard > maxProcessesCeiling {
			hard = maxProcessesCeiling
		}

		if c.isSystem {
			if err := adjustSystemKnob(kind, hard); err != nil {
				// A failed sysctl write is logged by the caller (it owns
				// the logger); here we only refuse to apply a limit the
				// kernel-wide knob could not be raised to support.
				return err
			}
		}

		rl := unix.Rlimit{Cur: pair.Soft, Max: hard}
		if err := unix.Setrlimit(resource, &rl); err != nil {
			return fmt.Errorf("rlimit: setrlimit(%s): %w", kind, err)
		}
	}
	return c.refreshAll()
}

// adjustSystemKnob raises the corresponding system-wide kernel limit
// (file-descriptor maximum, process maximum) before setrlimit is
// attempted, mirroring the ordering in spec §4.9. Best-effort: most
// hosts require CAP_SYS_ADMIN or root to write these files, which the
// system supervisor has.
func adjustSystemKnob(kind Kind, hard uint64) error {
	var path string
	switch kind {
	case KindNumFiles:
		path = "/proc/sys/fs/file-max"
	case KindNumProc:
		path = "/proc/sys/kernel/pid_max"
	default:
		return nil
	}
	if cur, err := os.ReadFile(path); err == nil {
		n, err := strconv.ParseUint(strings.TrimSpace(string(cur)), 10, 64)
		if err == nil && n >= hard {
			return nil // already high enough; never lower the knob
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		// Non-Linux hosts, containers without /proc/sys writable, or a
		// non-privileged test run: treat as a no-op rather than fatal.
		return nil
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%d\n", hard)
	return err
}
