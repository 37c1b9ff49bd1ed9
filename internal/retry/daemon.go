// Package retry implements the dead-letter sweeper: a daemon that drains
// each queue's DLQ, republishing messages to their primary queue with a
// delayed redelivery until the retry ceiling, after which a message is
// dropped with a permanent-failure event. The ceiling is what bounds queue
// growth when a consumer is persistently broken.
package retry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/klauspost/compress/zstd"

	"rallypoint/internal/config"
	"rallypoint/internal/metrics"
	"rallypoint/internal/queue"
	"rallypoint/internal/types"
)

// maxDelaySeconds is the SQS DelaySeconds ceiling.
const maxDelaySeconds = 900

// SQSClient abstracts the SQS data-plane operations the daemon uses.
type SQSClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// QueuePair is one primary queue and its DLQ.
type QueuePair struct {
	Name       string
	PrimaryURL string
	DLQURL     string
}

// PairsFromTopology extracts the queue pairs the daemon sweeps.
func PairsFromTopology(resolved []queue.ResolvedQueue) []QueuePair {
	pairs := make([]QueuePair, 0, len(resolved))
	for _, q := range resolved {
		pairs = append(pairs, QueuePair{
			Name:       q.Spec.Name,
			PrimaryURL: q.URL,
			DLQURL:     q.DLQURL,
		})
	}
	return pairs
}

// Daemon sweeps every DLQ on a fixed interval.
type Daemon struct {
	client  SQSClient
	pairs   []QueuePair
	policy  types.RetryPolicy
	cfg     config.RetryConfig
	clock   types.Clock
	logger  types.Logger
	metrics metrics.Recorder
	decoder *zstd.Decoder

	mu                  sync.Mutex
	consecutiveFailures int
	lastSuccess         time.Time
}

// NewDaemon creates a Daemon over the resolved queue pairs.
func NewDaemon(client SQSClient, pairs []QueuePair, cfg config.RetryConfig, clock types.Clock, logger types.Logger, rec metrics.Recorder) (*Daemon, error) {
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create zstd decoder", err)
	}
	return &Daemon{
		client:      client,
		pairs:       pairs,
		policy:      cfg.Policy(),
		cfg:         cfg,
		clock:       clock,
		logger:      logger,
		metrics:     rec,
		decoder:     decoder,
		lastSuccess: clock.Now(),
	}, nil
}

// Run sweeps immediately, then on every tick of the sweep interval, until
// ctx is cancelled. Cancellation is a clean stop.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("retry daemon started",
		"queues", len(d.pairs),
		"sweep_interval", d.cfg.SweepInterval.String(),
	)
	d.sweep(ctx)

	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("retry daemon stopped")
			return nil
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

// sweep drains each DLQ until an empty batch. An empty sweep is still a
// successful cycle for health purposes.
func (d *Daemon) sweep(ctx context.Context) {
	for _, pair := range d.pairs {
		for {
			if ctx.Err() != nil {
				return
			}
			n, err := d.ProcessDLQOnce(ctx, pair)
			if err != nil {
				d.logger.Error("dlq sweep failed",
					"queue", pair.Name,
					"error", err.Error(),
				)
				d.recordCycle(false)
				return
			}
			if n == 0 {
				break
			}
		}
	}
	d.recordCycle(true)
}

// ProcessDLQOnce receives one batch from the pair's DLQ and disposes of
// every message: republish with an incremented retry count and a redelivery
// delay, or drop permanently at the ceiling. Republish happens before the
// DLQ delete so a crash in between duplicates rather than loses.
func (d *Daemon) ProcessDLQOnce(ctx context.Context, pair QueuePair) (int, error) {
	out, err := d.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(pair.DLQURL),
		MaxNumberOfMessages:   int32(d.cfg.BatchSize),
		WaitTimeSeconds:       1,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeQueueReceiveFailed, "failed to receive from dlq "+pair.Name, err)
	}

	handled := 0
	for _, msg := range out.Messages {
		if err := d.handleMessage(ctx, pair, msg); err != nil {
			return handled, err
		}
		handled++
	}
	return handled, nil
}

func (d *Daemon) handleMessage(ctx context.Context, pair QueuePair, msg sqsTypes.Message) error {
	count := retryCount(msg)

	if count >= d.cfg.MaxAttempts {
		d.metrics.RecordPermanentFailure(ctx, pair.Name)
		d.logger.Error("message permanently failed, dropping",
			"event_id", d.eventID(msg),
			"queue", pair.Name,
			"retry_count", count,
		)
		return d.delete(ctx, pair, msg)
	}

	next := count + 1
	delay := int32(d.policy.Delay(next) / time.Second)
	if delay > maxDelaySeconds {
		delay = maxDelaySeconds
	}

	attrs := make(map[string]sqsTypes.MessageAttributeValue, len(msg.MessageAttributes))
	for k, v := range msg.MessageAttributes {
		attrs[k] = v
	}
	attrs[types.AttrRetryCount] = sqsTypes.MessageAttributeValue{
		DataType:    aws.String("Number"),
		StringValue: aws.String(strconv.Itoa(next)),
	}

	if _, err := d.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(pair.PrimaryURL),
		MessageBody:       msg.Body,
		MessageAttributes: attrs,
		DelaySeconds:      delay,
	}); err != nil {
		return types.NewAppError(types.ErrCodeQueuePublishFailed, "failed to republish to "+pair.Name, err)
	}

	d.metrics.RecordRedelivery(ctx, pair.Name)
	d.logger.Info("message redelivered",
		"event_id", d.eventID(msg),
		"queue", pair.Name,
		"retry_count", next,
		"delay_seconds", delay,
	)
	return d.delete(ctx, pair, msg)
}

func (d *Daemon) delete(ctx context.Context, pair QueuePair, msg sqsTypes.Message) error {
	if _, err := d.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(pair.DLQURL),
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		return types.NewAppError(types.ErrCodeQueueReceiveFailed, "failed to delete from dlq "+pair.Name, err)
	}
	return nil
}

// eventID best-effort extracts the event id from the message body for log
// correlation. A body that cannot be decoded yields an empty id; the sweep
// never fails over it.
func (d *Daemon) eventID(msg sqsTypes.Message) string {
	body := []byte(aws.ToString(msg.Body))
	if attr, ok := msg.MessageAttributes[types.AttrContentEncoding]; ok &&
		aws.ToString(attr.StringValue) == types.EncodingZstd {
		raw, err := base64.StdEncoding.DecodeString(string(body))
		if err != nil {
			return ""
		}
		if body, err = d.decoder.DecodeAll(raw, nil); err != nil {
			return ""
		}
	}
	var evt struct {
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(body, &evt); err != nil {
		return ""
	}
	return evt.EventID
}

func retryCount(msg sqsTypes.Message) int {
	attr, ok := msg.MessageAttributes[types.AttrRetryCount]
	if !ok || attr.StringValue == nil {
		return 0
	}
	n, err := strconv.Atoi(*attr.StringValue)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (d *Daemon) recordCycle(ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ok {
		d.consecutiveFailures = 0
		d.lastSuccess = d.clock.Now()
		return
	}
	d.consecutiveFailures++
}

// Healthy reports whether the daemon is keeping up: consecutive failed
// cycles under the threshold and a successful cycle within the staleness
// bound. Exposed as an ops-server probe.
func (d *Daemon) Healthy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.consecutiveFailures >= d.cfg.MaxConsecutiveFailures {
		return false
	}
	return d.clock.Now().Sub(d.lastSuccess) < d.cfg.StalenessBound
}
