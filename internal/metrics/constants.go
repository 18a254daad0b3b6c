package metrics

// Metric names
const (
	MetricNameHTTPRequestsTotal  = "spinflow_http_requests_total"
	MetricNameEventsPublished    = "spinflow_events_published_total"
	MetricNameEventHandlerErrors = "spinflow_event_handler_errors_total"

	MetricNameSpinsTotal         = "spinflow_spins_total"
	MetricNameSpinsRejected      = "spinflow_spins_rejected_total"
	MetricNameBackendRetries     = "spinflow_backend_retries_total"
	MetricNameFallbacks          = "spinflow_backend_fallbacks_total"
	MetricNameDuplicateEvents    = "spinflow_duplicate_lifecycle_events_total"
	MetricNameWinDialogs         = "spinflow_win_dialogs_total"
	MetricNameDialogQueueDepth   = "spinflow_win_dialog_queue_depth"
	MetricNameBalanceCorrections = "spinflow_balance_corrections_total"
	MetricNameAutoplaySessions   = "spinflow_autoplay_sessions_total"
	MetricNameAutoplayLimits     = "spinflow_autoplay_limits_reached_total"
	MetricNameBonusRounds        = "spinflow_bonus_rounds_total"
	MetricNameSpinDuration       = "spinflow_spin_duration_seconds"
)

// Help text
const (
	HelpTextHTTPRequestsTotal  = "Total number of control API requests"
	HelpTextEventsPublished    = "Total number of lifecycle events published"
	HelpTextEventHandlerErrors = "Total number of lifecycle event handler errors"

	HelpTextSpinsTotal         = "Total number of accepted spins by mode"
	HelpTextSpinsRejected      = "Total number of spins rejected before the backend call"
	HelpTextBackendRetries     = "Total number of backend spin retries"
	HelpTextFallbacks          = "Total number of spins settled on a locally generated grid"
	HelpTextDuplicateEvents    = "Total number of duplicate lifecycle events ignored"
	HelpTextWinDialogs         = "Total number of win dialogs shown by tier"
	HelpTextDialogQueueDepth   = "Current number of queued win dialogs"
	HelpTextBalanceCorrections = "Total number of balance corrections toward the server value"
	HelpTextAutoplaySessions   = "Total number of autoplay sessions started"
	HelpTextAutoplayLimits     = "Total number of autoplay sessions stopped by a limit"
	HelpTextBonusRounds        = "Total number of bonus rounds by outcome"
	HelpTextSpinDuration       = "Time from spin acceptance to REELS_STOP in seconds"
)

// Labels
const (
	LabelMethod    = "method"
	LabelPath      = "path"
	LabelStatus    = "status"
	LabelType      = "type"
	LabelMode      = "mode"
	LabelReason    = "reason"
	LabelComponent = "component"
	LabelTier      = "tier"
	LabelOutcome   = "outcome"
	LabelLimit     = "limit"
)

// SpinDurationBuckets covers turbo and normal spins
var SpinDurationBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30}
