package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nifyacorp/notification-worker/pkg/broker"
	"github.com/nifyacorp/notification-worker/pkg/dedup"
	"github.com/nifyacorp/notification-worker/pkg/dispatch"
	"github.com/nifyacorp/notification-worker/pkg/envelope"
	"github.com/nifyacorp/notification-worker/pkg/events"
	"github.com/nifyacorp/notification-worker/pkg/log"
	"github.com/nifyacorp/notification-worker/pkg/metrics"
	"github.com/nifyacorp/notification-worker/pkg/processor"
	"github.com/nifyacorp/notification-worker/pkg/store"
	"github.com/nifyacorp/notification-worker/pkg/types"
)

const resubscribeDelay = 5 * time.Second

// Config wires the controller's collaborators.
type Config struct {
	Broker     broker.Broker
	Registry   *processor.Registry
	Gate       *dedup.Gate
	Store      store.Store
	Dispatcher *dispatch.Dispatcher
	Bus        *events.Broker

	TopicID        string
	SubscriptionID string

	// MessageDeadline bounds one message's processing; expiry nacks.
	MessageDeadline time.Duration
}

// Controller orchestrates the per-message pipeline and owns the ack, nack
// and dead-letter decision for every delivery.
type Controller struct {
	cfg      Config
	counters Counters

	inFlight      sync.WaitGroup
	inFlightCount atomic.Int64
}

// NewController creates a controller.
func NewController(cfg Config) *Controller {
	if cfg.MessageDeadline <= 0 {
		cfg.MessageDeadline = 30 * time.Second
	}
	return &Controller{cfg: cfg}
}

// Counters exposes the message accounting for the HTTP surface.
func (c *Controller) Counters() CountersSnapshot {
	return c.counters.Snapshot()
}

// InFlight returns how many messages are currently being processed.
func (c *Controller) InFlight() int64 {
	return c.inFlightCount.Load()
}

// Run consumes the subscription until ctx is cancelled, re-subscribing after
// broker-side failures.
func (c *Controller) Run(ctx context.Context) error {
	logger := log.WithComponent("ingest")

	for {
		c.cfg.Bus.Emit(events.EventSubscriptionUp, "consuming "+c.cfg.SubscriptionID)

		err := c.cfg.Broker.Subscribe(ctx, c.cfg.TopicID, c.cfg.SubscriptionID, c.handleMessage, func(err error) {
			c.cfg.Bus.Emit(events.EventSubscriptionDown, err.Error())
		})

		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			logger.Error().Err(err).Msg("subscription failed, re-subscribing")
		}

		select {
		case <-time.After(resubscribeDelay):
		case <-ctx.Done():
			return nil
		}
	}
}

// Drain blocks until in-flight messages finish or the grace period expires.
// It reports whether the drain completed cleanly.
func (c *Controller) Drain(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}

// completion guarantees exactly one of ack or nack per delivery.
type completion struct {
	once sync.Once
	msg  *broker.Message
}

func (f *completion) ack(outcome string) {
	f.once.Do(func() {
		f.msg.Ack()
		metrics.MessagesTotal.WithLabelValues(outcome).Inc()
	})
}

func (f *completion) nack() {
	f.once.Do(func() {
		f.msg.Nack()
		metrics.MessagesTotal.WithLabelValues("nack").Inc()
	})
}

// handleMessage is the per-message state machine.
func (c *Controller) handleMessage(ctx context.Context, msg *broker.Message) {
	c.inFlight.Add(1)
	c.inFlightCount.Add(1)
	metrics.InFlightMessages.Inc()
	defer func() {
		c.inFlight.Done()
		c.inFlightCount.Add(-1)
		metrics.InFlightMessages.Dec()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.MessageDeadline)
	defer cancel()

	timer := metrics.NewTimer()
	c.counters.recordReceived()
	c.cfg.Bus.Emit(events.EventMessageReceived, msg.ID)

	done := &completion{msg: msg}

	// A panic anywhere below routes the message to the DLQ and acks to
	// break poison loops; when even the DLQ publish fails, nack instead.
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic while processing message %s: %v", msg.ID, r)
			panicLogger := log.WithComponent("ingest")
			panicLogger.Error().Str("message_id", msg.ID).Msg(err.Error())
			c.counters.recordProcessingError(timer.Duration())
			c.cfg.Bus.Emit(events.EventMessageFailed, err.Error())
			c.deadLetter(done, msg, types.NewError(types.KindValidation, err.Error(), nil))
		}
	}()

	// Decode and normalize.
	env, err := envelope.Normalize(msg.Data)
	if err != nil {
		c.counters.recordValidationError()
		c.cfg.Bus.Emit(events.EventMessageFailed, err.Error())
		c.deadLetter(done, msg, err)
		return
	}

	logger := log.WithTraceID(env.TraceID)
	metrics.MessagesByProcessor.WithLabelValues(env.ProcessorType).Inc()

	// Dispatch to the processor.
	proc, err := c.cfg.Registry.Get(env.ProcessorType)
	if err != nil {
		c.counters.recordValidationError()
		c.cfg.Bus.Emit(events.EventMessageFailed, err.Error())
		c.deadLetter(done, msg, err)
		return
	}

	result, err := proc.ValidateAndTransform(env)
	if err != nil {
		c.counters.recordValidationError()
		c.cfg.Bus.Emit(events.EventMessageFailed, err.Error())
		c.deadLetter(done, msg, err)
		return
	}

	// Ownership: a subscription the user cannot see is not theirs.
	if !c.authorized(ctx, env, logger) {
		done.ack("ack")
		c.counters.recordSuccess(timer.Duration())
		return
	}

	outcome, procResult := c.processDocuments(ctx, proc, result, logger)
	elapsed := timer.Duration()
	procResult.ProcessingTimeMS = elapsed.Milliseconds()
	timer.ObserveDuration(metrics.ProcessingDuration)

	switch outcome {
	case outcomeTransient:
		c.counters.recordProcessingError(elapsed)
		c.cfg.Bus.Emit(events.EventMessageFailed, "transient failure, message nacked")
		c.cfg.Bus.Emit(events.EventDatabaseDown, "notification write failed")
		done.nack()
	default:
		c.counters.recordSuccess(elapsed)
		if procResult.Created > 0 {
			c.cfg.Bus.Emit(events.EventDatabaseUp, "")
		}
		c.cfg.Bus.Emit(events.EventMessageProcessed, msg.ID)
		logger.Info().
			Int("created", procResult.Created).
			Int("errors", procResult.Errors).
			Int("duplicates", procResult.Duplicates).
			Int("emails_sent", procResult.EmailsSent).
			Int("delivery_errors", procResult.DeliveryErrors).
			Int64("processing_time_ms", procResult.ProcessingTimeMS).
			Msg("message processed")
		done.ack("ack")
	}
}

type processOutcome int

const (
	outcomeOK processOutcome = iota
	outcomeTransient
)

// processDocuments runs dedup, persistence and delivery for every candidate,
// sequentially and in envelope order. A transient store failure aborts the
// batch so the broker redelivers; every other per-row failure is counted and
// the batch continues.
func (c *Controller) processDocuments(ctx context.Context, proc processor.Processor, result *types.SubscriptionResult, logger zerolog.Logger) (processOutcome, *types.ProcessingResult) {
	procResult := &types.ProcessingResult{Errors: result.SkippedDocuments}
	batch := &types.NotificationCreationResult{Errors: result.SkippedDocuments}

	for _, n := range proc.BuildNotifications(result) {
		if ctx.Err() != nil {
			return outcomeTransient, procResult
		}

		if c.cfg.Gate.IsDuplicate(ctx, n) {
			procResult.Duplicates++
			batch.Duplicates++
			metrics.NotificationsDuplicate.Inc()
			continue
		}

		id, err := c.cfg.Store.CreateNotification(ctx, n)
		if err != nil {
			if types.IsKind(err, types.KindDBConnection) || errors.Is(err, context.DeadlineExceeded) {
				logger.Error().Err(err).Msg("transient store failure, aborting batch")
				return outcomeTransient, procResult
			}
			procResult.Errors++
			batch.Errors++
			batch.Records = append(batch.Records, types.RecordOutcome{Success: false, Error: err.Error()})
			metrics.NotificationErrors.Inc()
			logger.Error().Err(err).
				Str("title", n.Title).
				Str("entity_type", n.EntityType).
				Msg("notification write failed, continuing batch")
			continue
		}

		procResult.Created++
		batch.Created++
		batch.Records = append(batch.Records, types.RecordOutcome{Success: true, ID: id})
		metrics.NotificationsCreated.Inc()

		emailSent, emailErr := c.cfg.Dispatcher.Deliver(ctx, n)
		if emailSent {
			procResult.EmailsSent++
		}
		if emailErr != nil {
			// The row is already persisted; a failed email publish is a
			// delivery error, not a document error.
			procResult.DeliveryErrors++
		}
	}

	if batch.Errors > 0 {
		logger.Warn().
			Int("created", batch.Created).
			Int("errors", batch.Errors).
			Interface("records", batch.Records).
			Msg("batch completed with row failures")
	}

	return outcomeOK, procResult
}

// authorized checks that the envelope's subscription belongs to its user.
// Any lookup failure fails open: the worker prefers an occasional stray
// notification over dropping valid ones.
func (c *Controller) authorized(ctx context.Context, env *types.NormalizedEnvelope, logger zerolog.Logger) bool {
	sub, err := c.cfg.Store.GetSubscription(ctx, env.UserID, env.SubscriptionID)
	if err != nil {
		logger.Warn().Err(err).Msg("subscription lookup failed, proceeding without ownership check")
		return true
	}
	if sub == nil || sub.UserID != env.UserID {
		logger.Warn().
			Str("subscription_id", env.SubscriptionID).
			Str("user_id", env.UserID).
			Msg("subscription not owned by user, skipping envelope")
		return false
	}
	return true
}

// deadLetter publishes to the DLQ and acks; a DLQ failure nacks instead so
// the broker redelivers rather than losing the payload.
func (c *Controller) deadLetter(done *completion, msg *broker.Message, cause error) {
	dlqCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.cfg.Broker.PublishDLQ(dlqCtx, msg.Data, cause); err != nil {
		dlqLogger := log.WithComponent("ingest")
		dlqLogger.Error().Err(err).
			Str("message_id", msg.ID).
			Msg("dead-letter publish failed, nacking original")
		c.cfg.Bus.Emit(events.EventBrokerDown, err.Error())
		done.nack()
		return
	}

	c.cfg.Bus.Emit(events.EventBrokerUp, "")
	c.cfg.Bus.Emit(events.EventMessageDeadLettered, msg.ID)
	done.ack("dlq")
}
