package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/nifyacorp/notification-worker/pkg/broker"
	"github.com/nifyacorp/notification-worker/pkg/log"
	"github.com/nifyacorp/notification-worker/pkg/metrics"
	"github.com/nifyacorp/notification-worker/pkg/store"
	"github.com/nifyacorp/notification-worker/pkg/types"
)

// fallbackSubscriptionName labels digest entries when the subscription
// lookup fails; delivery never blocks on a missing name.
const fallbackSubscriptionName = "tu suscripción"

// EmailNotification is one entry of an email payload
type EmailNotification struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Content          string    `json:"content"`
	SourceURL        string    `json:"source_url"`
	SubscriptionName string    `json:"subscription_name"`
	CreatedAt        time.Time `json:"created_at"`
}

// EmailPayload is published to the immediate and daily email topics
type EmailPayload struct {
	UserID        string              `json:"user_id"`
	Email         string              `json:"email"`
	Type          string              `json:"type"` // "immediate" or "digest"
	Notifications []EmailNotification `json:"notifications"`
	Timestamp     time.Time           `json:"timestamp"`
}

// RealtimePayload is published per persisted notification, keyed by user
type RealtimePayload struct {
	UserID         string    `json:"user_id"`
	NotificationID string    `json:"notification_id"`
	Title          string    `json:"title"`
	EntityType     string    `json:"entity_type"`
	CreatedAt      time.Time `json:"created_at"`
}

// Topics names the three outbound delivery topics
type Topics struct {
	EmailImmediate string
	EmailDaily     string
	Realtime       string
}

// Dispatcher decides the email channel for each persisted notification from
// the user's preferences and publishes the realtime event.
type Dispatcher struct {
	broker broker.Broker
	store  store.Store
	topics Topics
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(b broker.Broker, s store.Store, topics Topics) *Dispatcher {
	return &Dispatcher{broker: b, store: s, topics: topics}
}

// Deliver fans out one persisted notification. It returns whether an
// immediate email went out and the first email-channel error; realtime
// failures are logged and swallowed.
func (d *Dispatcher) Deliver(ctx context.Context, n *types.Notification) (bool, error) {
	logger := log.WithUserID(n.UserID).With().
		Str("component", "dispatch").
		Str("notification_id", n.ID).
		Logger()

	user, err := d.store.GetUser(ctx, n.UserID)
	if err != nil {
		logger.Warn().Err(err).Msg("user lookup failed, skipping delivery")
		return false, nil
	}
	if user == nil {
		logger.Warn().Msg("user not found, skipping delivery")
		return false, nil
	}

	emailSent := false
	var emailErr error

	switch {
	case user.ShouldReceiveInstant():
		if err := d.publishEmail(ctx, user, n, "immediate", d.topics.EmailImmediate); err != nil {
			logger.Error().Err(err).Msg("immediate email publish failed")
			emailErr = err
		} else {
			metrics.EmailsPublished.WithLabelValues("immediate").Inc()
			emailSent = true
			if err := d.store.SetEmailSent(ctx, n.UserID, n.ID); err != nil {
				logger.Warn().Err(err).Msg("failed to flag email_sent")
			}
		}
	case user.ShouldReceiveDigest():
		if err := d.publishEmail(ctx, user, n, "digest", d.topics.EmailDaily); err != nil {
			logger.Error().Err(err).Msg("digest email publish failed")
			emailErr = err
		} else {
			metrics.EmailsPublished.WithLabelValues("digest").Inc()
		}
	}

	d.publishRealtime(ctx, n, logger)

	return emailSent, emailErr
}

func (d *Dispatcher) publishEmail(ctx context.Context, user *types.User, n *types.Notification, emailType, topic string) error {
	payload := EmailPayload{
		UserID: user.ID,
		Email:  user.DeliveryEmail(),
		Type:   emailType,
		Notifications: []EmailNotification{{
			ID:               n.ID,
			Title:            n.Title,
			Content:          n.Content,
			SourceURL:        n.SourceURL,
			SubscriptionName: d.subscriptionName(ctx, n),
			CreatedAt:        n.CreatedAt,
		}},
		Timestamp: time.Now().UTC(),
	}
	return d.broker.Publish(ctx, topic, payload, "")
}

// publishRealtime pushes the websocket fan-out event, keyed by user so the
// downstream endpoint preserves per-user ordering. Failures never hold up
// the message ack.
func (d *Dispatcher) publishRealtime(ctx context.Context, n *types.Notification, logger zerolog.Logger) {
	payload := RealtimePayload{
		UserID:         n.UserID,
		NotificationID: n.ID,
		Title:          n.Title,
		EntityType:     n.EntityType,
		CreatedAt:      n.CreatedAt,
	}
	if err := d.broker.Publish(ctx, d.topics.Realtime, payload, n.UserID); err != nil {
		logger.Warn().Err(err).Msg("realtime publish failed")
		return
	}
	metrics.RealtimePublished.Inc()
}

func (d *Dispatcher) subscriptionName(ctx context.Context, n *types.Notification) string {
	sub, err := d.store.GetSubscription(ctx, n.UserID, n.SubscriptionID)
	if err != nil || sub == nil {
		return fallbackSubscriptionName
	}
	if sub.Name == "" {
		return fallbackSubscriptionName
	}
	return sub.Name
}
