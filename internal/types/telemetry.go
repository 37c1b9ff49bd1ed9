package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricScheduleProcessed = "ScheduleProcessed"
	MetricScheduleLag       = "ScheduleLag"
	MetricProcessFailure    = "ProcessFailure"
	MetricEventPublished    = "EventPublished"
	MetricPublishFailure    = "PublishFailure"
	MetricRedelivery        = "Redelivery"
	MetricPermanentFailure  = "PermanentFailure"
	MetricListenerReconnect = "ListenerReconnect"

	// Dimension Keys
	DimKind    = "Kind"
	DimQueue   = "Queue"
	DimChannel = "Channel"

	// Metric Namespace
	MetricNamespace = "Rallypoint"
)
