package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullhaven/overseerd/internal/manifest"
)

func TestNewRecordStartsLoadedWithEmptyListenerMap(t *testing.T) {
	m := &manifest.Manifest{Label: "web"}

	r := NewRecord(m)

	assert.Equal(t, StateLoaded, r.State)
	assert.Equal(t, "web", r.Label)
	assert.NotNil(t, r.ListenerFDs)
	assert.False(t, r.Alive())
}

func TestAliveReflectsPID(t *testing.T) {
	r := NewRecord(&manifest.Manifest{Label: "web"})
	assert.False(t, r.Alive())

	r.PID = 1234
	assert.True(t, r.Alive())
}

func TestSignalIsNoopWithoutLivePID(t *testing.T) {
	r := NewRecord(&manifest.Manifest{Label: "web"})

	err := r.Signal(1)

	require.NoError(t, err)
}

func TestHasActivationSourcesDetectsEachSourceKind(t *testing.T) {
	cases := []struct {
		name string
		m    *manifest.Manifest
		want bool
	}{
		{"none", &manifest.Manifest{}, false},
		{"socket", &manifest.Manifest{Sockets: map[string][]manifest.SocketSpec{"a": {{}}}}, true},
		{"watch-path", &manifest.Manifest{WatchPaths: []string{"/tmp"}}, true},
		{"queue-dir", &manifest.Manifest{QueueDirectories: []string{"/tmp"}}, true},
		{"interval", &manifest.Manifest{StartInterval: 60}, true},
		{"calendar", &manifest.Manifest{StartCalendarInterval: &manifest.CalendarSpec{}}, true},
	}
	for _, c := range cases {
		r := NewRecord(c.m)
		assert.Equal(t, c.want, r.HasActivationSources(), c.name)
	}
}

func TestStateStringNamesAllStates(t *testing.T) {
	assert.Equal(t, "loaded", StateLoaded.String())
	assert.Equal(t, "watching", StateWatching.String())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "reaping", StateReaping.String())
	assert.Equal(t, "removed", StateRemoved.String())
}
