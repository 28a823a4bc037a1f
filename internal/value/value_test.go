package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldAccessorsOnMap(t *testing.T) {
	v := Map(map[string]Value{
		"label":   String("web"),
		"count":   Int(3),
		"enabled": Bool(true),
	})

	s, ok := v.StringField("label")
	require.True(t, ok)
	assert.Equal(t, "web", s)

	n, ok := v.IntField("count")
	require.True(t, ok)
	assert.Equal(t, int64(3), n)

	b, ok := v.BoolField("enabled")
	require.True(t, ok)
	assert.True(t, b)

	_, ok = v.StringField("missing")
	assert.False(t, ok)
}

func TestFieldOnNonMapReturnsNullAndFalse(t *testing.T) {
	v := String("not a map")

	got, ok := v.Field("anything")

	assert.False(t, ok)
	assert.True(t, got.IsNull())
}

func TestDeepCopyIsIndependentAndStripsFDOwnership(t *testing.T) {
	fd := Descriptor(7, true)
	tree := Array(fd, Map(map[string]Value{"nested": String("x")}))

	cp := tree.DeepCopy()

	arr, ok := cp.AsArray()
	require.True(t, ok)
	assert.Equal(t, 7, arr[0].FD.Fd)
	assert.False(t, arr[0].FD.Owned)

	m, ok := arr[1].AsMap()
	require.True(t, ok)
	m["nested"] = String("mutated")
	origM, _ := tree.Arr[1].AsMap()
	assert.Equal(t, "x", origM["nested"].Str)
}

func TestZeroFDsReplacesDescriptorsWithNull(t *testing.T) {
	tree := Map(map[string]Value{
		"listeners": Array(Descriptor(3, true), Descriptor(4, true)),
	})

	got := ZeroFDs(tree)

	m, ok := got.AsMap()
	require.True(t, ok)
	arr, ok := m["listeners"].AsArray()
	require.True(t, ok)
	for _, e := range arr {
		assert.True(t, e.IsNull())
	}
}

func TestEqualIgnoresFDNumericValue(t *testing.T) {
	a := Descriptor(1, true)
	b := Descriptor(99, false)

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, String("x")))
}

func TestEqualDeepComparesArraysAndMaps(t *testing.T) {
	a := Map(map[string]Value{"x": Array(Int(1), Int(2))})
	b := Map(map[string]Value{"x": Array(Int(1), Int(2))})
	c := Map(map[string]Value{"x": Array(Int(1), Int(3))})

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))
}
