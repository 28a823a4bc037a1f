// Package registry implements the job registry (spec §4.2): the
// label-keyed collection of job records, with insertion-order iteration
// so the firstborn job — if any — stays at the head.
package registry

import (
	"sync"

	"github.com/nullhaven/overseerd/internal/ipcerr"
	"github.com/nullhaven/overseerd/internal/job"
)

// Registry is the process-wide collection of job records. It owns its
// own lock so that goroutines outside the event loop (the metrics
// collector, an introspection read) can take a consistent snapshot
// without funnelling through the single event-loop goroutine.
type Registry struct {
	mu         sync.RWMutex
	order      []*job.Record // insertion order; firstborn stays at index 0
	byLabel    map[string]*job.Record
	generation uint64
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byLabel: make(map[string]*job.Record),
	}
}

// Insert adds record, failing with ipcerr.Exists if its label is already
// present (spec §4.2).
func (r *Registry) Insert(rec *job.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byLabel[rec.Label]; ok {
		return ipcerr.New(ipcerr.Exists, "label already loaded: "+rec.Label)
	}

	r.generation++
	rec.Generation = r.generation
	rec.Index = len(r.order)

	r.order = append(r.order, rec)
	r.byLabel[rec.Label] = rec
	return nil
}

// Lookup returns the record for label, or ipcerr.NotFound.
func (r *Registry) Lookup(label string) (*job.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byLabel[label]
	if !ok {
		return nil, ipcerr.New(ipcerr.NotFound, "no such job: "+label)
	}
	return rec, nil
}

// LookupGeneration returns rec only if it is still present in the
// registry at the same generation it was last observed — used by event
// callbacks so a removal racing with a pending kernel event is seen as
// NotFound rather than operating on a stale record (design notes §9).
func (r *Registry) LookupGeneration(label string, generation uint64) (*job.Record, error) {
	rec, err := r.Lookup(label)
	if err != nil {
		return nil, err
	}
	if rec.Generation != generation {
		return nil, ipcerr.New(ipcerr.NotFound, "job record superseded: "+label)
	}
	return rec, nil
}

// Remove unlinks label's record and returns it, or ipcerr.NotFound.
// Callers are responsible for closing owned descriptors and cancelling
// timers before or after calling Remove; the registry itself only
// manages membership.
func (r *Registry) Remove(label string) (*job.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byLabel[label]
	if !ok {
		return nil, ipcerr.New(ipcerr.NotFound, "no such job: "+label)
	}
	delete(r.byLabel, label)

	idx := rec.Index
	r.order = append(r.order[:idx], r.order[idx+1:]...)
	for i := idx; i < len(r.order); i++ {
		r.order[i].Index = i
	}
	rec.State = job.StateRemoved
	return rec, nil
}

// ForEach iterates records in insertion order. fn may remove the current
// record (by label, through Remove) without disturbing the iteration;
// ForEach takes a stable snapshot of the order before calling fn on any
// element.
func (r *Registry) ForEach(fn func(*job.Record)) {
	r.mu.RLock()
	snapshot := make([]*job.Record, len(r.order))
	copy(snapshot, r.order)
	r.mu.RUnlock()

	for _, rec := range snapshot {
		fn(rec)
	}
}

// Len returns the number of loaded jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Labels returns every loaded job's label, in insertion order.
func (r *Registry) Labels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	for i, rec := range r.order {
		out[i] = rec.Label
	}
	return out
}

// AliveCount returns how many jobs currently have a live child, used by
// the shutdown sequencer to know when it is safe to exit (spec §4.8).
func (r *Registry) AliveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.order {
		if rec.Alive() {
			n++
		}
	}
	return n
}
