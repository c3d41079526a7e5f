package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordTierTransitionIncrementsCounterAndGauge(t *testing.T) {
	before := testutil.ToFloat64(tierTransitions.WithLabelValues("cached"))
	RecordTierTransition("uncached", "cached")
	after := testutil.ToFloat64(tierTransitions.WithLabelValues("cached"))
	require.Equal(t, before+1, after)
	require.Equal(t, float64(1), testutil.ToFloat64(activeTier.WithLabelValues("cached")))
	require.Equal(t, float64(0), testutil.ToFloat64(activeTier.WithLabelValues("uncached")))
}

func TestRecordQuickenIncrementsByAction(t *testing.T) {
	before := testutil.ToFloat64(quickenEvents.WithLabelValues("apply", "true"))
	RecordQuicken("apply", true)
	after := testutil.ToFloat64(quickenEvents.WithLabelValues("apply", "true"))
	require.Equal(t, before+1, after)
}

func TestRecordHandlerDispatchIncrementsByOutcome(t *testing.T) {
	before := testutil.ToFloat64(handlerDispatches.WithLabelValues("false"))
	RecordHandlerDispatch(false)
	after := testutil.ToFloat64(handlerDispatches.WithLabelValues("false"))
	require.Equal(t, before+1, after)
}
