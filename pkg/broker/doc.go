/*
Package broker adapts Google Cloud Pub/Sub for the notification worker: one
inbound subscription, named outbound topics and a best-effort dead-letter
topic.

# Behavior

  - Topics and subscriptions are created on demand when missing; topic
    handles are cached per process.
  - Publish marshals the payload to JSON and retries with exponential
    backoff: 2s initial, doubling, capped at 15s, three attempts total.
  - PublishDLQ wraps the original bytes with the error detail and the
    timestamp. A DLQ failure is returned to the caller; the ingestion
    controller then nacks the original message so it is redelivered.
  - Subscribe hands every leased message to the handler together with its
    ack and nack controls; the handler must invoke exactly one of them.

The subscription's flow control (MaxOutstandingMessages) is the worker's only
concurrency limit; within one message, processing is sequential.

# Usage

	ps, err := broker.NewPubSub(ctx, projectID, dlqTopic)
	if err != nil {
		return err
	}
	defer ps.Close()

	err = ps.Subscribe(ctx, "notifications", "notifications-sub",
		func(ctx context.Context, msg *broker.Message) {
			// process, then msg.Ack() or msg.Nack()
		},
		func(err error) {
			// subscription failed; the caller re-subscribes
		})
*/
package broker
