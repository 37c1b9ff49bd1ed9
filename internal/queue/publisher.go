package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/klauspost/compress/zstd"
	"github.com/sony/gobreaker/v2"

	"rallypoint/internal/metrics"
	"rallypoint/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher fans domain events out to every primary queue whose binding
// matches the event's routing key. Delivery is at-least-once; consumers
// deduplicate on EventID.
type Publisher struct {
	client    SQSSender
	queues    []ResolvedQueue
	breaker   *gobreaker.CircuitBreaker[*sqs.SendMessageOutput]
	encoder   *zstd.Encoder
	threshold int
	logger    types.Logger
	metrics   metrics.Recorder
}

// NewPublisher creates a Publisher over the resolved topology. Bodies larger
// than compressionThreshold bytes are zstd-compressed before sending.
func NewPublisher(client SQSSender, queues []ResolvedQueue, compressionThreshold int, logger types.Logger, rec metrics.Recorder) (*Publisher, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create zstd encoder", err)
	}

	cb := gobreaker.NewCircuitBreaker[*sqs.SendMessageOutput](gobreaker.Settings{
		Name:        "sqs-publisher",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &Publisher{
		client:    client,
		queues:    queues,
		breaker:   cb,
		encoder:   encoder,
		threshold: compressionThreshold,
		logger:    logger,
		metrics:   rec,
	}, nil
}

// Publish sends the event to every queue bound to its routing key. An event
// no binding matches is dropped with a warning, mirroring topic-exchange
// semantics for unroutable messages.
//
// Any send failure surfaces as a transient error so the caller's transaction
// rolls back and the whole entry is retried. Consumers that already received
// the event on another queue dedup by EventID.
func (p *Publisher) Publish(ctx context.Context, msg types.EventMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return types.NewAppError(types.ErrCodeEntryPayloadInvalid, "failed to marshal event message", err)
	}

	payload := string(body)
	encoding := ""
	if len(body) > p.threshold {
		payload = base64.StdEncoding.EncodeToString(p.encoder.EncodeAll(body, nil))
		encoding = types.EncodingZstd
	}

	matched := false
	for _, q := range p.queues {
		if !bindingMatches(q.Spec.Bindings, msg.RoutingKey) {
			continue
		}
		matched = true
		if err := p.send(ctx, q, payload, encoding, msg); err != nil {
			return err
		}
	}
	if !matched {
		p.logger.Warn("no binding matched routing key, event dropped",
			"routing_key", msg.RoutingKey,
			"event_id", msg.EventID,
		)
	}
	return nil
}

func (p *Publisher) send(ctx context.Context, q ResolvedQueue, payload, encoding string, msg types.EventMessage) error {
	attrs := map[string]sqsTypes.MessageAttributeValue{
		types.AttrRoutingKey: {
			DataType:    aws.String("String"),
			StringValue: aws.String(msg.RoutingKey),
		},
		types.AttrRetryCount: {
			DataType:    aws.String("Number"),
			StringValue: aws.String("0"),
		},
	}
	if encoding != "" {
		attrs[types.AttrContentEncoding] = sqsTypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(encoding),
		}
	}

	_, err := p.breaker.Execute(func() (*sqs.SendMessageOutput, error) {
		return p.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:          aws.String(q.URL),
			MessageBody:       aws.String(payload),
			MessageAttributes: attrs,
		})
	})
	if err != nil {
		p.metrics.RecordPublishFailure(ctx, q.Spec.Name)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return types.NewAppError(types.ErrCodeQueueCircuitOpen, "publish rejected by open circuit breaker", err)
		}
		return types.NewAppError(types.ErrCodeQueuePublishFailed, "failed to publish event to "+q.Spec.Name, err)
	}

	p.metrics.RecordPublish(ctx, q.Spec.Name)
	p.logger.Info("event published",
		"event_id", msg.EventID,
		"routing_key", msg.RoutingKey,
		"queue", q.Spec.Name,
	)
	return nil
}

func bindingMatches(bindings []string, key string) bool {
	for _, b := range bindings {
		if Match(b, key) {
			return true
		}
	}
	return false
}
