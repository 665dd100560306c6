package metricsTypes

import "time"

type IMetricsClient interface {
	Incr(name string, labels []MetricsLabel, value float64) error
	Gauge(name string, value float64, labels []MetricsLabel) error
	Timing(name string, value time.Duration, labels []MetricsLabel) error
}

type MetricsLabel struct {
	Name  string
	Value string
}

type MetricsType string

var (
	MetricsType_Incr   MetricsType = "incr"
	MetricsType_Gauge  MetricsType = "gauge"
	MetricsType_Timing MetricsType = "timing"
)

type MetricsTypeConfig struct {
	Name   string
	Labels []string
}

var (
	Metric_Incr_ListenerEventReceived = "listener.events.received"
	Metric_Incr_ListenerEventDropped  = "listener.events.dropped"
	Metric_Incr_ListenerDecodeError   = "listener.events.decodeErrors"
	Metric_Incr_ListenerResubscribe   = "listener.resubscribe"

	Metric_Incr_StakeRewardCreated    = "rewards.stake.created"
	Metric_Incr_ReferralRewardCreated = "rewards.referral.created"

	Metric_Incr_SettlementRun     = "settlement.runs"
	Metric_Incr_RecordsSettled    = "settlement.records.settled"
	Metric_Gauge_PendingRecords   = "settlement.records.pending"
	Metric_Timing_SettlementRun   = "settlement.duration"
	Metric_Incr_ApprovalSubmitted = "settlement.approvals"
)

var MetricTypes = map[MetricsType][]MetricsTypeConfig{
	MetricsType_Incr: {
		MetricsTypeConfig{
			Name:   Metric_Incr_ListenerEventReceived,
			Labels: []string{"pool", "event"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_ListenerEventDropped,
			Labels: []string{"pool", "event"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_ListenerDecodeError,
			Labels: []string{"pool"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_ListenerResubscribe,
			Labels: []string{"pool"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_StakeRewardCreated,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_ReferralRewardCreated,
			Labels: []string{"level"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_SettlementRun,
			Labels: []string{"kind", "outcome"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_RecordsSettled,
			Labels: []string{"kind"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_ApprovalSubmitted,
			Labels: []string{"token"},
		},
	},
	MetricsType_Gauge: {
		MetricsTypeConfig{
			Name:   Metric_Gauge_PendingRecords,
			Labels: []string{"kind"},
		},
	},
	MetricsType_Timing: {
		MetricsTypeConfig{
			Name:   Metric_Timing_SettlementRun,
			Labels: []string{"kind"},
		},
	},
}
