// Package queue owns the SQS broker topology for domain events and the
// publisher that routes events into it.
//
// Each consumer group gets one primary queue with its own dead-letter queue
// wired through a redrive policy. Because the redrive policy is per-queue, a
// DLQ only ever holds messages from its own primary, which is what lets the
// retry daemon republish without consulting routing state.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"rallypoint/internal/types"
)

// SQSAPI abstracts the SQS control-plane operations used for topology
// management. Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSAPI interface {
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	SetQueueAttributes(ctx context.Context, params *sqs.SetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.SetQueueAttributesOutput, error)
}

// QueueSpec declares one consumer group's queue: its logical name, the
// routing-key bindings the publisher fans out on, and delivery tuning.
type QueueSpec struct {
	Name              string
	Bindings          []string
	VisibilityTimeout time.Duration
	MessageRetention  time.Duration
	// MaxReceiveCount is the consumer-side receive ceiling before SQS moves
	// a message to the queue's DLQ.
	MaxReceiveCount int
}

// dlqRetention is the SQS maximum of 14 days, effectively unbounded for
// reprocessing purposes.
const dlqRetention = 14 * 24 * time.Hour

// DefaultTopology declares the primary queues and their bindings.
func DefaultTopology() []QueueSpec {
	return []QueueSpec{
		{
			Name:              "notifier",
			Bindings:          []string{"reminder.#", "join_notice.#"},
			VisibilityTimeout: 30 * time.Second,
			MessageRetention:  4 * 24 * time.Hour,
			MaxReceiveCount:   3,
		},
		{
			Name:              "session-events",
			Bindings:          []string{"session.status.#"},
			VisibilityTimeout: 30 * time.Second,
			MessageRetention:  4 * 24 * time.Hour,
			MaxReceiveCount:   3,
		},
	}
}

// ResolvedQueue is a QueueSpec with its provisioned URLs and ARNs.
type ResolvedQueue struct {
	Spec   QueueSpec
	URL    string
	ARN    string
	DLQURL string
	DLQARN string
}

// Topology provisions and resolves the queue set for one environment.
type Topology struct {
	client SQSAPI
	prefix string
	env    string
	specs  []QueueSpec
	logger types.Logger
}

// NewTopology creates a Topology over the given specs. Physical queue names
// are '<prefix>-<env>-<name>' with a '-dlq' suffix for dead-letter queues.
func NewTopology(client SQSAPI, prefix, env string, specs []QueueSpec, logger types.Logger) *Topology {
	return &Topology{
		client: client,
		prefix: prefix,
		env:    env,
		specs:  specs,
		logger: logger,
	}
}

func (t *Topology) primaryName(spec QueueSpec) string {
	return fmt.Sprintf("%s-%s-%s", t.prefix, t.env, spec.Name)
}

func (t *Topology) dlqName(spec QueueSpec) string {
	return t.primaryName(spec) + "-dlq"
}

// Ensure provisions the full topology idempotently: each DLQ first, then its
// primary with a redrive policy targeting that DLQ. Existing queues are
// reconciled to the declared attributes. Only the bootstrap tool calls this;
// the daemons use Resolve.
func (t *Topology) Ensure(ctx context.Context) ([]ResolvedQueue, error) {
	resolved := make([]ResolvedQueue, 0, len(t.specs))
	for _, spec := range t.specs {
		dlqURL, err := t.ensureQueue(ctx, t.dlqName(spec), map[string]string{
			string(sqsTypes.QueueAttributeNameMessageRetentionPeriod): seconds(dlqRetention),
		})
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeTopologyUnavailable, "failed to provision dead-letter queue "+t.dlqName(spec), err)
		}
		dlqARN, err := t.queueARN(ctx, dlqURL)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeTopologyUnavailable, "failed to read dead-letter queue ARN", err)
		}

		redrive, err := json.Marshal(map[string]string{
			"deadLetterTargetArn": dlqARN,
			"maxReceiveCount":     strconv.Itoa(spec.MaxReceiveCount),
		})
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode redrive policy", err)
		}

		primaryURL, err := t.ensureQueue(ctx, t.primaryName(spec), map[string]string{
			string(sqsTypes.QueueAttributeNameVisibilityTimeout):      seconds(spec.VisibilityTimeout),
			string(sqsTypes.QueueAttributeNameMessageRetentionPeriod): seconds(spec.MessageRetention),
			string(sqsTypes.QueueAttributeNameRedrivePolicy):          string(redrive),
		})
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeTopologyUnavailable, "failed to provision queue "+t.primaryName(spec), err)
		}
		primaryARN, err := t.queueARN(ctx, primaryURL)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeTopologyUnavailable, "failed to read queue ARN", err)
		}

		t.logger.Info("queue provisioned",
			"queue", t.primaryName(spec),
			"dlq", t.dlqName(spec),
			"bindings", spec.Bindings,
		)
		resolved = append(resolved, ResolvedQueue{
			Spec:   spec,
			URL:    primaryURL,
			ARN:    primaryARN,
			DLQURL: dlqURL,
			DLQARN: dlqARN,
		})
	}
	return resolved, nil
}

// Resolve looks up the topology without creating anything. A missing queue
// is a startup failure: the daemons never own topology.
func (t *Topology) Resolve(ctx context.Context) ([]ResolvedQueue, error) {
	resolved := make([]ResolvedQueue, 0, len(t.specs))
	for _, spec := range t.specs {
		primaryURL, err := t.queueURL(ctx, t.primaryName(spec))
		if err != nil {
			return nil, err
		}
		primaryARN, err := t.queueARN(ctx, primaryURL)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeTopologyUnavailable, "failed to read queue ARN", err)
		}
		dlqURL, err := t.queueURL(ctx, t.dlqName(spec))
		if err != nil {
			return nil, err
		}
		dlqARN, err := t.queueARN(ctx, dlqURL)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeTopologyUnavailable, "failed to read dead-letter queue ARN", err)
		}
		resolved = append(resolved, ResolvedQueue{
			Spec:   spec,
			URL:    primaryURL,
			ARN:    primaryARN,
			DLQURL: dlqURL,
			DLQARN: dlqARN,
		})
	}
	return resolved, nil
}

// ensureQueue creates the queue or, when it already exists with drifted
// attributes, reconciles it in place.
func (t *Topology) ensureQueue(ctx context.Context, name string, attrs map[string]string) (string, error) {
	out, err := t.client.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName:  aws.String(name),
		Attributes: attrs,
	})
	if err == nil {
		return aws.ToString(out.QueueUrl), nil
	}

	var exists *sqsTypes.QueueNameExists
	if !errors.As(err, &exists) {
		return "", err
	}

	url, err := t.queueURL(ctx, name)
	if err != nil {
		return "", err
	}
	if _, err := t.client.SetQueueAttributes(ctx, &sqs.SetQueueAttributesInput{
		QueueUrl:   aws.String(url),
		Attributes: attrs,
	}); err != nil {
		return "", err
	}
	t.logger.Info("queue attributes reconciled", "queue", name)
	return url, nil
}

func (t *Topology) queueURL(ctx context.Context, name string) (string, error) {
	out, err := t.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeTopologyUnavailable, "queue not found: "+name, err)
	}
	return aws.ToString(out.QueueUrl), nil
}

func (t *Topology) queueARN(ctx context.Context, url string) (string, error) {
	out, err := t.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(url),
		AttributeNames: []sqsTypes.QueueAttributeName{sqsTypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return "", err
	}
	arn, ok := out.Attributes[string(sqsTypes.QueueAttributeNameQueueArn)]
	if !ok {
		return "", errors.New("queue attributes response missing QueueArn")
	}
	return arn, nil
}

func seconds(d time.Duration) string {
	return strconv.Itoa(int(d / time.Second))
}
