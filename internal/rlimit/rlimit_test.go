package rlimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCacheReadsAllKinds(t *testing.T) {
	c, err := NewCache(false)
	require.NoError(t, err)

	got := c.Get()
	for kind := range resourceOf {
		_, ok := got[kind]
		assert.True(t, ok, "missing kind %s", kind)
	}
}

func TestGetReturnsACopyNotTheLiveMirror(t *testing.T) {
	c, err := NewCache(false)
	require.NoError(t, err)

	got := c.Get()
	got[KindNumFiles] = Pair{Soft: 1, Hard: 1}

	again := c.Get()
	assert.NotEqual(t, Pair{Soft: 1, Hard: 1}, again[KindNumFiles])
}

func TestSetRejectsUnknownKind(t *testing.T) {
	c, err := NewCache(false)
	require.NoError(t, err)

	err = c.Set(map[Kind]Pair{Kind("bogus"): {Soft: 1, Hard: 1}})

	require.Error(t, err)
}

func TestSetClampsNumProcToCeilingWhenSystem(t *testing.T) {
	c, err := NewCache(true)
	require.NoError(t, err)
	before := c.Get()[KindNumProc]

	err = c.Set(map[Kind]Pair{KindNumProc: {Soft: before.Soft, Hard: maxProcessesCeiling + 10000}})
	if err != nil {
		t.Skipf("setrlimit not permitted in this environment: %v", err)
	}

	got := c.Get()[KindNumProc]
	assert.LessOrEqual(t, got.Hard, uint64(maxProcessesCeiling))
}

func TestSetDoesNotClampWhenNotSystem(t *testing.T) {
	c, err := NewCache(false)
	require.NoError(t, err)
	before := c.Get()[KindNumFiles]

	err = c.Set(map[Kind]Pair{KindNumFiles: {Soft: before.Soft, Hard: before.Hard}})
	require.NoError(t, err)
	assert.Equal(t, before, c.Get()[KindNumFiles])
}
