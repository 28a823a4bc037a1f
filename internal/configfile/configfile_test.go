package configfile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullhaven/overseerd/internal/value"
)

func TestParseSkipsBlankAndCommentLines(t *testing.T) {
	in := "\n# a comment\nstart-job web\n   \nstop-job web\n"

	cmds, err := Parse(strings.NewReader(in))

	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, Command{Verb: "start-job", Args: []string{"web"}}, cmds[0])
	assert.Equal(t, Command{Verb: "stop-job", Args: []string{"web"}}, cmds[1])
}

func TestParseHandlesQuotedArguments(t *testing.T) {
	in := `submit-job "/tmp/has space.yaml"` + "\n"

	cmds, err := Parse(strings.NewReader(in))

	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, []string{"/tmp/has space.yaml"}, cmds[0].Args)
}

func TestParseUnterminatedQuoteErrors(t *testing.T) {
	_, err := Parse(strings.NewReader(`start-job "web`))

	require.Error(t, err)
}

func TestToVerbMessageStartJob(t *testing.T) {
	c := Command{Verb: "start-job", Args: []string{"web"}}

	v, err := c.ToVerbMessage()

	require.NoError(t, err)
	m, ok := v.AsMap()
	require.True(t, ok)
	s, ok := m["start-job"].AsString()
	require.True(t, ok)
	assert.Equal(t, "web", s)
}

func TestToVerbMessageBatchControl(t *testing.T) {
	c := Command{Verb: "batch-control", Args: []string{"true"}}

	v, err := c.ToVerbMessage()

	require.NoError(t, err)
	m, ok := v.AsMap()
	require.True(t, ok)
	assert.Equal(t, value.Bool(true), m["batch-control"])
}

func TestToVerbMessageUnknownVerb(t *testing.T) {
	c := Command{Verb: "bogus"}

	_, err := c.ToVerbMessage()

	require.Error(t, err)
}

func TestLoadManifestYAML(t *testing.T) {
	doc := "label: web\nprogram: /bin/cat\non-demand: false\n"

	v, err := LoadManifestYAML(strings.NewReader(doc))

	require.NoError(t, err)
	m, ok := v.AsMap()
	require.True(t, ok)
	label, ok := m["label"].AsString()
	require.True(t, ok)
	assert.Equal(t, "web", label)
	onDemand, ok := m["on-demand"].AsBool()
	require.True(t, ok)
	assert.False(t, onDemand)
}
