package broker

import (
	"context"
	"time"
)

// Message is one leased delivery from the subscription. Exactly one of Ack
// or Nack must be invoked for every message, on every path.
type Message struct {
	Data        []byte
	ID          string
	PublishTime time.Time
	Ack         func()
	Nack        func()
}

// Handler processes one delivery
type Handler func(ctx context.Context, msg *Message)

// ErrorHandler is invoked on broker-side subscription errors. The adapter
// stays alive; re-subscription is the caller's job.
type ErrorHandler func(err error)

// Broker abstracts the pub/sub system: one inbound subscription, named
// outbound topics and a best-effort dead-letter topic.
type Broker interface {
	// Subscribe leases messages from the subscription and hands each to
	// onMessage. It blocks until ctx is cancelled or the subscription
	// fails, in which case onError fires before Subscribe returns.
	// Topic and subscription are created on demand if missing.
	Subscribe(ctx context.Context, topicID, subscriptionID string, onMessage Handler, onError ErrorHandler) error

	// Publish sends payload (marshalled to JSON) to the named topic with
	// retry. orderingKey may be empty.
	Publish(ctx context.Context, topicID string, payload interface{}, orderingKey string) error

	// PublishDLQ routes a poisonous message to the dead-letter topic.
	// Failures are reported in the return value; the ingestion controller
	// nacks the original message when the dead-letter publish fails.
	PublishDLQ(ctx context.Context, original []byte, cause error) error

	// Status checks broker reachability.
	Status(ctx context.Context) error

	// Close releases the client and flushes pending publishes.
	Close() error
}
