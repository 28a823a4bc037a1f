package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullhaven/overseerd/internal/ipcerr"
	"github.com/nullhaven/overseerd/internal/value"
)

func kindOf(t *testing.T, err error) ipcerr.Kind {
	t.Helper()
	e, ok := err.(*ipcerr.Error)
	require.True(t, ok, "expected *ipcerr.Error, got %T", err)
	return e.Kind
}

func TestParseRejectsMissingLabel(t *testing.T) {
	v := value.Map(map[string]value.Value{
		"program": value.String("/bin/cat"),
	})

	_, err := Parse(v)

	require.Error(t, err)
	assert.Equal(t, ipcerr.InvalidArgument, kindOf(t, err))
}

func TestParseRejectsMissingProgramAndArguments(t *testing.T) {
	v := value.Map(map[string]value.Value{
		"label": value.String("web"),
	})

	_, err := Parse(v)

	require.Error(t, err)
	assert.Equal(t, ipcerr.InvalidArgument, kindOf(t, err))
}

func TestParseFillsProgramFromFirstArgument(t *testing.T) {
	v := value.Map(map[string]value.Value{
		"label":             value.String("web"),
		"program-arguments": value.Array(value.String("/bin/cat"), value.String("-n")),
	})

	m, err := Parse(v)

	require.NoError(t, err)
	assert.Equal(t, "/bin/cat", m.Program)
	assert.Equal(t, []string{"/bin/cat", "-n"}, m.ProgramArgs)
}

func TestParseOnDemandDefaultsTrueWhenAbsent(t *testing.T) {
	v := value.Map(map[string]value.Value{
		"label":   value.String("web"),
		"program": value.String("/bin/cat"),
	})

	m, err := Parse(v)

	require.NoError(t, err)
	assert.True(t, m.OnDemand)
}

func TestParseOnDemandHonorsExplicitFalse(t *testing.T) {
	v := value.Map(map[string]value.Value{
		"label":     value.String("web"),
		"program":   value.String("/bin/cat"),
		"on-demand": value.Bool(false),
	})

	m, err := Parse(v)

	require.NoError(t, err)
	assert.False(t, m.OnDemand)
}

func TestParseResourceLimitAcceptsIntOrSizeString(t *testing.T) {
	v := value.Map(map[string]value.Value{
		"label":   value.String("web"),
		"program": value.String("/bin/cat"),
		"soft-resource-limits": value.Map(map[string]value.Value{
			"nofile": value.Int(256),
			"data":   value.String("256MiB"),
		}),
	})

	m, err := Parse(v)

	require.NoError(t, err)
	assert.Equal(t, int64(256), m.SoftResourceLimits["nofile"])
	assert.Equal(t, int64(256*1024*1024), m.SoftResourceLimits["data"])
}

func TestParseResourceLimitRejectsBadSizeString(t *testing.T) {
	v := value.Map(map[string]value.Value{
		"label":   value.String("web"),
		"program": value.String("/bin/cat"),
		"soft-resource-limits": value.Map(map[string]value.Value{
			"data": value.String("not-a-size"),
		}),
	})

	_, err := Parse(v)

	require.Error(t, err)
	assert.Equal(t, ipcerr.InvalidArgument, kindOf(t, err))
}

func TestParseSocketSpecDefaultsTypeStreamAndPassiveTrue(t *testing.T) {
	v := value.Map(map[string]value.Value{
		"label":   value.String("web"),
		"program": value.String("/bin/cat"),
		"sockets": value.Map(map[string]value.Value{
			"Listeners": value.Array(value.Map(map[string]value.Value{
				"pathname": value.String("/tmp/web.sock"),
			})),
		}),
	})

	m, err := Parse(v)

	require.NoError(t, err)
	specs := m.Sockets["Listeners"]
	require.Len(t, specs, 1)
	assert.Equal(t, "stream", specs[0].Type)
	assert.True(t, specs[0].Passive)
	assert.Equal(t, "/tmp/web.sock", specs[0].Pathname)
}

func TestParseCalendarSpecDefaultsWildcard(t *testing.T) {
	v := value.Map(map[string]value.Value{
		"label":   value.String("web"),
		"program": value.String("/bin/cat"),
		"start-calendar-interval": value.Map(map[string]value.Value{
			"hour": value.Int(4),
		}),
	})

	m, err := Parse(v)

	require.NoError(t, err)
	require.NotNil(t, m.StartCalendarInterval)
	assert.Equal(t, 4, m.StartCalendarInterval.Hour)
	assert.Equal(t, -1, m.StartCalendarInterval.Minute)
	assert.Equal(t, -1, m.StartCalendarInterval.Day)
}

func TestParseKeepsRawDeepCopy(t *testing.T) {
	v := value.Map(map[string]value.Value{
		"label":   value.String("web"),
		"program": value.String("/bin/cat"),
	})

	m, err := Parse(v)

	require.NoError(t, err)
	assert.Equal(t, v, m.Raw)
}
