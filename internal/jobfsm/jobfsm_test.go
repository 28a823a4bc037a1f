package jobfsm

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullhaven/overseerd/internal/eventloop"
	"github.com/nullhaven/overseerd/internal/job"
	"github.com/nullhaven/overseerd/internal/manifest"
	"github.com/nullhaven/overseerd/internal/registry"
)

func newTestEngine(t *testing.T) (*Engine, *registry.Registry, func()) {
	t.Helper()
	reg := registry.New()
	loop := eventloop.New()
	e := New(reg, loop, zerolog.Nop(), false)

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	return e, reg, cancel
}

func TestFastExitThrottlesAndRearms(t *testing.T) {
	e, reg, cancel := newTestEngine(t)
	defer cancel()

	m := &manifest.Manifest{
		Label:     "fast",
		Program:   "/bin/true",
		OnDemand:  false,
		RunAtLoad: true,
	}
	rec := job.NewRecord(m)
	require.NoError(t, e.Load(rec))

	assert.Eventually(t, func() bool {
		r, err := reg.Lookup("fast")
		return err == nil && r.FailedExits == 1 && r.Throttle
	}, 2*time.Second, 10*time.Millisecond)

	r, err := reg.Lookup("fast")
	require.NoError(t, err)
	assert.Equal(t, job.StateWatching, r.State)
}

func TestOnDemandJobLoadsIntoWatching(t *testing.T) {
	e, reg, cancel := newTestEngine(t)
	defer cancel()

	m := &manifest.Manifest{
		Label:    "idle",
		Program:  "/bin/true",
		OnDemand: true,
	}
	require.NoError(t, e.Load(job.NewRecord(m)))

	r, err := reg.Lookup("idle")
	require.NoError(t, err)
	assert.Equal(t, job.StateWatching, r.State)
	assert.Equal(t, 0, r.PID)
}

func TestFirstbornCleanExitFiresHook(t *testing.T) {
	e, reg, cancel := newTestEngine(t)
	defer cancel()

	fired := make(chan struct{})
	e.SetFirstbornExitHook(func() { close(fired) })

	m := &manifest.Manifest{
		Label:     "firstborn",
		Program:   "/bin/true",
		RunAtLoad: true,
	}
	rec := job.NewRecord(m)
	rec.Firstborn = true
	require.NoError(t, e.Load(rec))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("firstborn exit hook never fired")
	}

	_, err := reg.Lookup("firstborn")
	assert.Error(t, err)
}

func TestRemoveWhileAliveUnlinksImmediatelyAndDoesNotRespawn(t *testing.T) {
	e, reg, cancel := newTestEngine(t)
	defer cancel()

	m := &manifest.Manifest{
		Label:     "long",
		Program:   "/bin/sleep",
		ProgramArgs: []string{"/bin/sleep", "2"},
		OnDemand:  false,
		RunAtLoad: true,
	}
	require.NoError(t, e.Load(job.NewRecord(m)))

	require.Eventually(t, func() bool {
		r, err := reg.Lookup("long")
		return err == nil && r.Alive()
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, e.Remove("long"))

	_, err := reg.Lookup("long")
	assert.Error(t, err, "remove-job must unlink the record immediately, not once the child is reaped")

	// Give the killed child's exit time to reach OnProcessExit; the
	// record must stay gone rather than being respawned.
	time.Sleep(300 * time.Millisecond)
	_, err = reg.Lookup("long")
	assert.Error(t, err, "job must not respawn after an explicit remove-job")
}

func TestServiceIPCWithoutCheckInIsRemoved(t *testing.T) {
	e, reg, cancel := newTestEngine(t)
	defer cancel()

	m := &manifest.Manifest{
		Label:      "needs-checkin",
		Program:    "/bin/true",
		RunAtLoad:  true,
		ServiceIPC: true,
	}
	require.NoError(t, e.Load(job.NewRecord(m)))

	assert.Eventually(t, func() bool {
		_, err := reg.Lookup("needs-checkin")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}
