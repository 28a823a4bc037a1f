package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullhaven/overseerd/internal/ipcerr"
	"github.com/nullhaven/overseerd/internal/job"
	"github.com/nullhaven/overseerd/internal/manifest"
)

func record(label string) *job.Record {
	return job.NewRecord(&manifest.Manifest{Label: label, Program: "/bin/true"})
}

func kindOf(t *testing.T, err error) ipcerr.Kind {
	t.Helper()
	var e *ipcerr.Error
	require.True(t, errors.As(err, &e))
	return e.Kind
}

func TestInsertRejectsDuplicateLabel(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert(record("x")))

	err := r.Insert(record("x"))

	require.Error(t, err)
	assert.Equal(t, ipcerr.Exists, kindOf(t, err))
}

func TestLookupNotFound(t *testing.T) {
	r := New()

	_, err := r.Lookup("missing")

	require.Error(t, err)
	assert.Equal(t, ipcerr.NotFound, kindOf(t, err))
}

func TestOrderPreservedAcrossRemoval(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert(record("firstborn")))
	require.NoError(t, r.Insert(record("b")))
	require.NoError(t, r.Insert(record("c")))

	_, err := r.Remove("b")
	require.NoError(t, err)

	assert.Equal(t, []string{"firstborn", "c"}, r.Labels())
}

func TestLookupGenerationSeesRemovalAsNotFound(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert(record("x")))
	rec, err := r.Lookup("x")
	require.NoError(t, err)
	gen := rec.Generation

	_, err = r.Remove("x")
	require.NoError(t, err)
	require.NoError(t, r.Insert(record("x")))

	_, err = r.LookupGeneration("x", gen)

	require.Error(t, err)
	assert.Equal(t, ipcerr.NotFound, kindOf(t, err))
}

func TestForEachSnapshotSurvivesRemovalDuringIteration(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert(record("a")))
	require.NoError(t, r.Insert(record("b")))

	var seen []string
	r.ForEach(func(rec *job.Record) {
		seen = append(seen, rec.Label)
		if rec.Label == "a" {
			_, _ = r.Remove("b")
		}
	})

	assert.Equal(t, []string{"a", "b"}, seen)
	assert.Equal(t, 1, r.Len())
}
