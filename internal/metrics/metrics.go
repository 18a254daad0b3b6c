// Package metrics exposes Prometheus collectors for the spin engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameHTTPRequestsTotal,
			Help: HelpTextHTTPRequestsTotal,
		},
		[]string{LabelMethod, LabelPath, LabelStatus},
	)
)

// Event Metrics
var (
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameEventsPublished,
			Help: HelpTextEventsPublished,
		},
		[]string{LabelType},
	)

	EventHandlerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameEventHandlerErrors,
			Help: HelpTextEventHandlerErrors,
		},
		[]string{LabelType},
	)

	DuplicateEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameDuplicateEvents,
			Help: HelpTextDuplicateEvents,
		},
		[]string{LabelComponent},
	)
)

// Spin Metrics
var (
	SpinsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameSpinsTotal,
			Help: HelpTextSpinsTotal,
		},
		[]string{LabelMode},
	)

	SpinsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameSpinsRejected,
			Help: HelpTextSpinsRejected,
		},
		[]string{LabelReason},
	)

	BackendRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameBackendRetries,
			Help: HelpTextBackendRetries,
		},
	)

	Fallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameFallbacks,
			Help: HelpTextFallbacks,
		},
	)

	SpinDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    MetricNameSpinDuration,
			Help:    HelpTextSpinDuration,
			Buckets: SpinDurationBuckets,
		},
		[]string{LabelMode},
	)
)

// Presentation and balance Metrics
var (
	WinDialogs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameWinDialogs,
			Help: HelpTextWinDialogs,
		},
		[]string{LabelTier},
	)

	DialogQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricNameDialogQueueDepth,
			Help: HelpTextDialogQueueDepth,
		},
	)

	BalanceCorrections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameBalanceCorrections,
			Help: HelpTextBalanceCorrections,
		},
	)

	AutoplaySessions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameAutoplaySessions,
			Help: HelpTextAutoplaySessions,
		},
	)

	AutoplayLimitsReached = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameAutoplayLimits,
			Help: HelpTextAutoplayLimits,
		},
		[]string{LabelLimit},
	)

	BonusRounds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameBonusRounds,
			Help: HelpTextBonusRounds,
		},
		[]string{LabelOutcome},
	)
)
