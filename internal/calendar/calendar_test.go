package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nullhaven/overseerd/internal/manifest"
)

func TestNextMonthlySpec(t *testing.T) {
	spec := &manifest.CalendarSpec{Minute: 30, Hour: 4, Day: 1, Weekday: -1, Month: -1}
	ref := time.Date(2025, time.March, 1, 4, 31, 0, 0, time.UTC)

	got := Next(spec, ref)

	assert.Equal(t, time.Date(2025, time.April, 1, 4, 30, 0, 0, time.UTC), got)
}

func TestNextAlwaysAfterRef(t *testing.T) {
	specs := []*manifest.CalendarSpec{
		{Minute: -1, Hour: -1, Day: -1, Weekday: -1, Month: -1},
		{Minute: 0, Hour: 0, Day: -1, Weekday: -1, Month: -1},
		{Minute: -1, Hour: -1, Day: -1, Weekday: 1, Month: -1},
	}
	ref := time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

	for _, spec := range specs {
		got := Next(spec, ref)
		assert.True(t, got.After(ref), "expected %v to be after %v", got, ref)
		assertSatisfies(t, spec, got)
	}
}

func TestNextWeekdaySynonym(t *testing.T) {
	spec := &manifest.CalendarSpec{Minute: 0, Hour: 0, Day: -1, Weekday: 7, Month: -1}
	ref := time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC) // a Sunday

	got := Next(spec, ref)

	assert.Equal(t, time.Sunday, got.Weekday())
	assert.True(t, got.After(ref))
}

func assertSatisfies(t *testing.T, spec *manifest.CalendarSpec, got time.Time) {
	t.Helper()
	if spec.Minute != -1 {
		assert.Equal(t, spec.Minute, got.Minute())
	}
	if spec.Hour != -1 {
		assert.Equal(t, spec.Hour, got.Hour())
	}
	if spec.Day != -1 {
		assert.Equal(t, spec.Day, got.Day())
	}
	if spec.Month != -1 {
		assert.Equal(t, spec.Month, int(got.Month())-1)
	}
}
