package metrics

import (
	"time"

	"github.com/lira-dao/staking-sidecar/internal/config"
	"github.com/lira-dao/staking-sidecar/internal/metrics/dogstatsd"
	"github.com/lira-dao/staking-sidecar/internal/metrics/metricsTypes"
	"github.com/lira-dao/staking-sidecar/internal/metrics/prometheus"
	"go.uber.org/zap"
)

type MetricsSink struct {
	clients []metricsTypes.IMetricsClient
	config  *MetricsSinkConfig
	logger  *zap.Logger
}

type MetricsSinkConfig struct {
	DefaultLabels []metricsTypes.MetricsLabel
}

func NewMetricsSink(cfg *MetricsSinkConfig, clients []metricsTypes.IMetricsClient, l *zap.Logger) *MetricsSink {
	if cfg == nil {
		cfg = &MetricsSinkConfig{}
	}
	if cfg.DefaultLabels == nil {
		cfg.DefaultLabels = []metricsTypes.MetricsLabel{}
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &MetricsSink{
		clients: clients,
		config:  cfg,
		logger:  l,
	}
}

// NewNoopMetricsSink returns a sink without clients.
func NewNoopMetricsSink() *MetricsSink {
	return NewMetricsSink(nil, nil, nil)
}

func mergeLabels(labels []metricsTypes.MetricsLabel, defaultLabels []metricsTypes.MetricsLabel) []metricsTypes.MetricsLabel {
	if labels == nil {
		return defaultLabels
	}
	mergedLabels := make([]metricsTypes.MetricsLabel, 0, len(defaultLabels)+len(labels))
	mergedLabels = append(mergedLabels, defaultLabels...)
	mergedLabels = append(mergedLabels, labels...)
	return mergedLabels
}

// Metric failures are logged and never surface to callers.
func (ms *MetricsSink) Incr(name string, labels []metricsTypes.MetricsLabel, value float64) {
	mergedLabels := mergeLabels(labels, ms.config.DefaultLabels)
	for _, client := range ms.clients {
		if err := client.Incr(name, mergedLabels, value); err != nil {
			ms.logger.Sugar().Warnw("Failed to record metric", zap.String("name", name), zap.Error(err))
		}
	}
}

func (ms *MetricsSink) Gauge(name string, value float64, labels []metricsTypes.MetricsLabel) {
	mergedLabels := mergeLabels(labels, ms.config.DefaultLabels)
	for _, client := range ms.clients {
		if err := client.Gauge(name, value, mergedLabels); err != nil {
			ms.logger.Sugar().Warnw("Failed to record metric", zap.String("name", name), zap.Error(err))
		}
	}
}

func (ms *MetricsSink) Timing(name string, value time.Duration, labels []metricsTypes.MetricsLabel) {
	mergedLabels := mergeLabels(labels, ms.config.DefaultLabels)
	for _, client := range ms.clients {
		if err := client.Timing(name, value, mergedLabels); err != nil {
			ms.logger.Sugar().Warnw("Failed to record metric", zap.String("name", name), zap.Error(err))
		}
	}
}

// InitMetricsSinksFromConfig builds the enabled clients. The prometheus client is returned separately
// so its registry can be served.
func InitMetricsSinksFromConfig(cfg *config.Config, l *zap.Logger) ([]metricsTypes.IMetricsClient, *prometheus.PrometheusMetricsClient, error) {
	clients := []metricsTypes.IMetricsClient{}

	if cfg.DataDogConfig.StatsdConfig.Enabled {
		dd, err := dogstatsd.NewDogStatsdMetricsClient(cfg.DataDogConfig.StatsdConfig.Url, cfg.DataDogConfig.StatsdConfig.SampleRate, l)
		if err != nil {
			return nil, nil, err
		}
		clients = append(clients, dd)
	}

	var pm *prometheus.PrometheusMetricsClient
	if cfg.PrometheusConfig.Enabled {
		var err error
		pm, err = prometheus.NewPrometheusMetricsClient(&prometheus.PrometheusMetricsConfig{
			Metrics: metricsTypes.MetricTypes,
		}, l)
		if err != nil {
			return nil, nil, err
		}
		clients = append(clients, pm)
	}

	return clients, pm, nil
}
