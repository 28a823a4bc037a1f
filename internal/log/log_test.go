package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLevelRoundTripsThroughCurrentLevel(t *testing.T) {
	defer SetLevel(InfoLevel)

	SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, CurrentLevel())

	SetLevel(WarnLevel)
	assert.Equal(t, WarnLevel, CurrentLevel())

	SetLevel(ErrorLevel)
	assert.Equal(t, ErrorLevel, CurrentLevel())
}

func TestSetLevelUnknownDefaultsToInfo(t *testing.T) {
	defer SetLevel(InfoLevel)

	SetLevel(Level("bogus"))
	assert.Equal(t, InfoLevel, CurrentLevel())
}

func TestWithComponentAndLabelAndPIDTagFields(t *testing.T) {
	Init(Config{Level: InfoLevel})

	l := WithComponent("launcher")
	l = WithLabel(l, "web")
	l = WithPID(l, 1234)

	assert.NotNil(t, l)
}
