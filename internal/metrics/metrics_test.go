package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerIsNotNil(t *testing.T) {
	assert.NotNil(t, Handler())
}

func TestJobsRemovedTotalIncrementsByReason(t *testing.T) {
	before := testutil.ToFloat64(JobsRemovedTotal.WithLabelValues("failed_exits_threshold"))

	JobsRemovedTotal.WithLabelValues("failed_exits_threshold").Inc()

	after := testutil.ToFloat64(JobsRemovedTotal.WithLabelValues("failed_exits_threshold"))
	require.Equal(t, before+1, after)
}

func TestFailedExitsTotalIsPerLabel(t *testing.T) {
	before := testutil.ToFloat64(FailedExitsTotal.WithLabelValues("test-metrics-label"))

	FailedExitsTotal.WithLabelValues("test-metrics-label").Inc()

	after := testutil.ToFloat64(FailedExitsTotal.WithLabelValues("test-metrics-label"))
	assert.Equal(t, before+1, after)
}
