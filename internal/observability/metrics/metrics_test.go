package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollectorsCountAfterInit(t *testing.T) {
	Init(nil, nil)

	before := testutil.ToFloat64(saveTotal.WithLabelValues("alarm_period", ResultSuccess))
	ObserveSave("alarm_period", "", 3*time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(saveTotal.WithLabelValues("alarm_period", ResultSuccess)))

	ObserveSave("", ResultValidation, time.Millisecond)
	require.Equal(t, 1.0, testutil.ToFloat64(saveTotal.WithLabelValues("unknown", ResultValidation)))

	IncConsistencyWarning("alert_period", "alarm_period")
	require.Equal(t, 1.0, testutil.ToFloat64(consistencyWarnings.WithLabelValues("alert_period", "alarm_period")))

	ObserveRecompute(ResultError, time.Second)
	require.Equal(t, 1.0, testutil.ToFloat64(recomputeTotal.WithLabelValues(ResultError)))

	IncStatusTransition("")
	require.Equal(t, 1.0, testutil.ToFloat64(statusTransitions.WithLabelValues("unknown")))

	ObserveCorrelationLinks("alarm_period", "alert_period", -2)
	require.Equal(t, 1, testutil.CollectAndCount(correlationLinks))
}
