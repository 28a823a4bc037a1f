package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullhaven/overseerd/internal/value"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tree := value.Map(map[string]value.Value{
		"label":   value.String("web"),
		"on-demand": value.Bool(true),
		"timeout": value.Int(30),
		"load":    value.Float(0.5),
		"args":    value.Array(value.String("a"), value.String("b")),
		"nested":  value.Map(map[string]value.Value{"k": value.Null()}),
	})

	payload, fds, err := encodeTree(tree)
	require.NoError(t, err)
	assert.Empty(t, fds)

	got, err := decodeTree(payload, nil)
	require.NoError(t, err)
	assert.Equal(t, tree, got)
}

func TestEncodeDecodeFDRoundTripPreservesPositionNotIdentity(t *testing.T) {
	tree := value.Array(value.Descriptor(11, true), value.Descriptor(22, true))

	payload, fds, err := encodeTree(tree)
	require.NoError(t, err)
	require.Len(t, fds, 2)

	replacement := []int{100, 200}
	got, err := decodeTree(payload, replacement)
	require.NoError(t, err)

	arr, ok := got.AsArray()
	require.True(t, ok)
	require.Len(t, arr, 2)
	assert.Equal(t, 100, arr[0].FD.Fd)
	assert.Equal(t, 200, arr[1].FD.Fd)
}

func TestDecodeTruncatedPayloadErrors(t *testing.T) {
	_, err := decodeTree([]byte{byte(tagString)}, nil)
	assert.Error(t, err)
}
