package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/cenkalti/backoff/v4"

	"github.com/nifyacorp/notification-worker/pkg/log"
	"github.com/nifyacorp/notification-worker/pkg/metrics"
	"github.com/nifyacorp/notification-worker/pkg/types"
)

const (
	publishInitialBackoff = 2 * time.Second
	publishMaxBackoff     = 15 * time.Second
	publishMaxAttempts    = 3

	// maxOutstanding bounds how many messages the subscription leases at
	// once; this is the worker's only concurrency control.
	maxOutstanding = 10
)

// PubSub implements Broker on Google Cloud Pub/Sub. Topic handles are cached
// per process and created on demand.
type PubSub struct {
	client   *pubsub.Client
	dlqTopic string

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewPubSub connects a client for the project.
func NewPubSub(ctx context.Context, projectID, dlqTopic string) (*PubSub, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return &PubSub{
		client:   client,
		dlqTopic: dlqTopic,
		topics:   make(map[string]*pubsub.Topic),
	}, nil
}

// topic returns a cached topic handle, creating the topic if it does not
// exist yet.
func (p *PubSub) topic(ctx context.Context, topicID string) (*pubsub.Topic, error) {
	p.mu.Lock()
	if t, ok := p.topics[topicID]; ok {
		p.mu.Unlock()
		return t, nil
	}
	p.mu.Unlock()

	t := p.client.Topic(topicID)
	exists, err := t.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check topic %s: %w", topicID, err)
	}
	if !exists {
		t, err = p.client.CreateTopic(ctx, topicID)
		if err != nil {
			return nil, fmt.Errorf("failed to create topic %s: %w", topicID, err)
		}
		logger := log.WithComponent("broker")
		logger.Info().Str("topic", topicID).Msg("created missing topic")
	}
	t.EnableMessageOrdering = true

	p.mu.Lock()
	defer p.mu.Unlock()
	if cached, ok := p.topics[topicID]; ok {
		return cached, nil
	}
	p.topics[topicID] = t
	return t, nil
}

// subscription returns the subscription handle, creating it against topicID
// when missing.
func (p *PubSub) subscription(ctx context.Context, topicID, subscriptionID string) (*pubsub.Subscription, error) {
	sub := p.client.Subscription(subscriptionID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check subscription %s: %w", subscriptionID, err)
	}
	if exists {
		return sub, nil
	}

	t, err := p.topic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	sub, err = p.client.CreateSubscription(ctx, subscriptionID, pubsub.SubscriptionConfig{
		Topic:       t,
		AckDeadline: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription %s: %w", subscriptionID, err)
	}
	logger := log.WithComponent("broker")
	logger.Info().
		Str("subscription", subscriptionID).
		Str("topic", topicID).
		Msg("created missing subscription")
	return sub, nil
}

// Subscribe implements Broker.
func (p *PubSub) Subscribe(ctx context.Context, topicID, subscriptionID string, onMessage Handler, onError ErrorHandler) error {
	sub, err := p.subscription(ctx, topicID, subscriptionID)
	if err != nil {
		if onError != nil {
			onError(err)
		}
		return err
	}

	sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		onMessage(ctx, &Message{
			Data:        msg.Data,
			ID:          msg.ID,
			PublishTime: msg.PublishTime,
			Ack:         msg.Ack,
			Nack:        msg.Nack,
		})
	})
	if err != nil && ctx.Err() == nil {
		if onError != nil {
			onError(err)
		}
		return err
	}
	return nil
}

// Publish implements Broker: marshal, then publish with exponential backoff
// (2s initial, doubling, 15s cap, 3 attempts).
func (p *PubSub) Publish(ctx context.Context, topicID string, payload interface{}, orderingKey string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return types.NewError(types.KindBrokerPublish, "failed to encode payload", err).
			WithContext("topic", topicID)
	}

	t, err := p.topic(ctx, topicID)
	if err != nil {
		return types.NewError(types.KindBrokerPublish, "topic unavailable", err).
			WithContext("topic", topicID)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = publishInitialBackoff
	bo.Multiplier = 2
	bo.MaxInterval = publishMaxBackoff
	bo.RandomizationFactor = 0

	op := func() error {
		result := t.Publish(ctx, &pubsub.Message{
			Data:        data,
			OrderingKey: orderingKey,
		})
		if _, err := result.Get(ctx); err != nil {
			if orderingKey != "" {
				// A failed ordered publish pauses the key until resumed.
				t.ResumePublish(orderingKey)
			}
			return err
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, publishMaxAttempts-1), ctx)); err != nil {
		return types.NewError(types.KindBrokerPublish, "publish failed after retries", err).
			WithContext("topic", topicID)
	}
	return nil
}

// dlqPayload is the dead-letter wire format
type dlqPayload struct {
	OriginalData json.RawMessage `json:"original_data"`
	Error        dlqError        `json:"error"`
	Timestamp    time.Time       `json:"timestamp"`
}

type dlqError struct {
	Message string `json:"message"`
	Name    string `json:"name"`
	Stack   string `json:"stack,omitempty"`
}

// PublishDLQ implements Broker. The original bytes ride along verbatim when
// they are valid JSON, quoted otherwise.
func (p *PubSub) PublishDLQ(ctx context.Context, original []byte, cause error) error {
	name := string(types.KindOf(cause))
	if name == "" {
		name = "Error"
	}

	raw := json.RawMessage(original)
	if !json.Valid(original) {
		quoted, _ := json.Marshal(string(original))
		raw = quoted
	}

	payload := dlqPayload{
		OriginalData: raw,
		Error: dlqError{
			Message: cause.Error(),
			Name:    name,
		},
		Timestamp: time.Now().UTC(),
	}

	if err := p.Publish(ctx, p.dlqTopic, payload, ""); err != nil {
		return err
	}
	metrics.DLQPublished.Inc()
	return nil
}

// Status implements Broker by probing the DLQ topic handle.
func (p *PubSub) Status(ctx context.Context) error {
	_, err := p.client.Topic(p.dlqTopic).Exists(ctx)
	return err
}

// Close flushes cached topics and releases the client.
func (p *PubSub) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.topics = make(map[string]*pubsub.Topic)
	p.mu.Unlock()
	return p.client.Close()
}
