package metrics

import (
	"testing"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/lira-dao/staking-sidecar/internal/metrics/dogstatsd"
	"github.com/lira-dao/staking-sidecar/internal/metrics/metricsTypes"
	"github.com/lira-dao/staking-sidecar/internal/metrics/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func Test_MetricsSink(t *testing.T) {
	l := zap.NewNop()

	pm, err := prometheus.NewPrometheusMetricsClient(&prometheus.PrometheusMetricsConfig{
		Metrics: metricsTypes.MetricTypes,
	}, l)
	require.Nil(t, err)

	dd := dogstatsd.NewDogStatsdMetricsClientWithStatsd(&statsd.NoOpClient{}, 1, l)

	sink := NewMetricsSink(&MetricsSinkConfig{}, []metricsTypes.IMetricsClient{pm, dd}, l)

	t.Run("Should count dropped events in prometheus", func(t *testing.T) {
		sink.Incr(metricsTypes.Metric_Incr_ListenerEventDropped, []metricsTypes.MetricsLabel{
			{Name: "pool", Value: "0xabc"},
			{Name: "event", Value: "Stake"},
		}, 1)

		families, err := pm.Registry.Gather()
		require.Nil(t, err)

		found := false
		for _, f := range families {
			if f.GetName() == "listener_events_dropped" {
				found = true
				assert.Equal(t, float64(1), f.GetMetric()[0].GetCounter().GetValue())
			}
		}
		assert.True(t, found)
	})
	t.Run("Should not fail the caller on a label mismatch", func(t *testing.T) {
		assert.NotPanics(t, func() {
			sink.Incr(metricsTypes.Metric_Incr_SettlementRun, []metricsTypes.MetricsLabel{
				{Name: "unknown", Value: "x"},
			}, 1)
		})
	})
	t.Run("Should record timings", func(t *testing.T) {
		assert.NotPanics(t, func() {
			sink.Timing(metricsTypes.Metric_Timing_SettlementRun, 2*time.Second, []metricsTypes.MetricsLabel{
				{Name: "kind", Value: "stake"},
			})
		})
	})
}
