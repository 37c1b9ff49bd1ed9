// Package metrics emits operational telemetry for the scheduling subsystem
// to AWS CloudWatch. Emission is fire-and-forget: a metrics failure is
// logged and never propagated, because dropping a datapoint must not stall
// schedule processing.
package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"rallypoint/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Recorder is the telemetry surface the scheduler, publisher, listener and
// retry daemon record against.
type Recorder interface {
	// RecordProcessed emits one ScheduleProcessed count and the observed
	// ScheduleLag (time between due_at and processing) for the kind.
	RecordProcessed(ctx context.Context, kind types.ScheduleKind, lag time.Duration)
	RecordProcessFailure(ctx context.Context, kind types.ScheduleKind)
	RecordPublish(ctx context.Context, queue string)
	RecordPublishFailure(ctx context.Context, queue string)
	RecordRedelivery(ctx context.Context, queue string)
	RecordPermanentFailure(ctx context.Context, queue string)
	RecordListenerReconnect(ctx context.Context, channel string)
}

// Compile-time assertions.
var (
	_ Recorder = (*CloudWatchRecorder)(nil)
	_ Recorder = (*NopRecorder)(nil)
)

// CloudWatchRecorder implements Recorder by publishing to CloudWatch under
// the Rallypoint namespace.
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchRecorder creates a Recorder publishing to CloudWatch.
func NewCloudWatchRecorder(client CloudWatchClient, logger types.Logger) *CloudWatchRecorder {
	return &CloudWatchRecorder{
		client:    client,
		namespace: types.MetricNamespace,
		logger:    logger,
	}
}

// RecordProcessed emits ScheduleProcessed and ScheduleLag with the Kind
// dimension. Lag is recorded in milliseconds for CloudWatch precision.
func (r *CloudWatchRecorder) RecordProcessed(ctx context.Context, kind types.ScheduleKind, lag time.Duration) {
	r.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricScheduleProcessed),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: kindDims(kind),
	}, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricScheduleLag),
		Value:      aws.Float64(float64(lag.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: kindDims(kind),
	})
}

func (r *CloudWatchRecorder) RecordProcessFailure(ctx context.Context, kind types.ScheduleKind) {
	r.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricProcessFailure),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: kindDims(kind),
	})
}

func (r *CloudWatchRecorder) RecordPublish(ctx context.Context, queue string) {
	r.put(ctx, countDatum(types.MetricEventPublished, types.DimQueue, queue))
}

func (r *CloudWatchRecorder) RecordPublishFailure(ctx context.Context, queue string) {
	r.put(ctx, countDatum(types.MetricPublishFailure, types.DimQueue, queue))
}

func (r *CloudWatchRecorder) RecordRedelivery(ctx context.Context, queue string) {
	r.put(ctx, countDatum(types.MetricRedelivery, types.DimQueue, queue))
}

func (r *CloudWatchRecorder) RecordPermanentFailure(ctx context.Context, queue string) {
	r.put(ctx, countDatum(types.MetricPermanentFailure, types.DimQueue, queue))
}

func (r *CloudWatchRecorder) RecordListenerReconnect(ctx context.Context, channel string) {
	r.put(ctx, countDatum(types.MetricListenerReconnect, types.DimChannel, channel))
}

func (r *CloudWatchRecorder) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(r.namespace),
		MetricData: data,
	}
	if _, err := r.client.PutMetricData(ctx, input); err != nil {
		r.logger.Error("failed to record metric",
			"error", err.Error(),
			"metric", aws.ToString(data[0].MetricName),
		)
	}
}

func kindDims(kind types.ScheduleKind) []cwtypes.Dimension {
	return []cwtypes.Dimension{
		{
			Name:  aws.String(types.DimKind),
			Value: aws.String(string(kind)),
		},
	}
}

func countDatum(name, dimName, dimValue string) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{
				Name:  aws.String(dimName),
				Value: aws.String(dimValue),
			},
		},
	}
}

// NopRecorder discards all metrics. Used in tests and local development
// where no CloudWatch endpoint is available.
type NopRecorder struct{}

func (NopRecorder) RecordProcessed(context.Context, types.ScheduleKind, time.Duration) {}
func (NopRecorder) RecordProcessFailure(context.Context, types.ScheduleKind) {}
func (NopRecorder) RecordPublish(context.Context, string) {}
func (NopRecorder) RecordPublishFailure(context.Context, string) {}
func (NopRecorder) RecordRedelivery(context.Context, string) {}
func (NopRecorder) RecordPermanentFailure(context.Context, string) {}
func (NopRecorder) RecordListenerReconnect(context.Context, string) {}
