package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nifyacorp/notification-worker/pkg/log"
	"github.com/nifyacorp/notification-worker/pkg/metrics"
	"github.com/nifyacorp/notification-worker/pkg/types"
)

// Postgres implements Store on a pgx connection pool. Row-level security is
// honored by setting app.current_user_id inside the transaction that touches
// RLS-guarded tables; the setting never outlives the transaction.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects the pool and verifies connectivity.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// withUserContext runs fn inside a transaction whose app.current_user_id is
// set to userID, so RLS policies admit the user's rows. set_config with
// is_local=true scopes the GUC to the transaction.
func (p *Postgres) withUserContext(ctx context.Context, userID string, fn func(tx pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return types.NewError(types.KindDBConnection, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.current_user_id', $1, true)", userID); err != nil {
		return types.NewError(types.KindDBQuery, "failed to set RLS user context", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return types.NewError(types.KindDBConnection, "failed to commit transaction", err)
	}
	return nil
}

const insertNotificationSQL = `
INSERT INTO notifications
	(user_id, subscription_id, title, content, source_url, entity_type, metadata, status, email_sent, created_at, updated_at)
VALUES
	($1, $2, $3, $4, $5, $6, $7, $8, false, $9, $9)
RETURNING id`

// CreateNotification persists one notification under the notification's own
// user context, retrying transient connection failures. It returns the
// store-assigned id.
func (p *Postgres) CreateNotification(ctx context.Context, n *types.Notification) (string, error) {
	metadata, err := json.Marshal(n.Metadata)
	if err != nil {
		return "", types.NewError(types.KindDBQuery, "failed to encode metadata", err).WithTrace(traceOf(n))
	}

	timer := metrics.NewTimer()
	var id string
	err = retryTransient(ctx, func() error {
		return p.withUserContext(ctx, n.UserID, func(tx pgx.Tx) error {
			row := tx.QueryRow(ctx, insertNotificationSQL,
				n.UserID, n.SubscriptionID, n.Title, n.Content, n.SourceURL,
				n.EntityType, metadata, string(n.Status), n.CreatedAt)
			if err := row.Scan(&id); err != nil {
				return err
			}
			return nil
		})
	})
	timer.ObserveDuration(metrics.InsertDuration)

	if err != nil {
		if IsTransient(err) {
			return "", types.NewError(types.KindDBConnection, "insert failed after retries", err).WithTrace(traceOf(n))
		}
		if kind := types.KindOf(err); kind != "" {
			return "", err
		}
		return "", types.NewError(types.KindDBQuery, "insert failed", err).WithTrace(traceOf(n))
	}

	n.ID = id
	return id, nil
}

// SetEmailSent flips the email_sent flag on an already persisted row.
func (p *Postgres) SetEmailSent(ctx context.Context, userID, notificationID string) error {
	return p.withUserContext(ctx, userID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE notifications SET email_sent = true, updated_at = $1 WHERE id = $2`,
			time.Now().UTC(), notificationID)
		if err != nil {
			return types.NewError(types.KindDBQuery, "failed to mark email sent", err)
		}
		if tag.RowsAffected() == 0 {
			logger := log.WithComponent("store")
			logger.Warn().
				Str("notification_id", notificationID).
				Msg("email_sent update matched no row")
		}
		return nil
	})
}

// CountRecentNotifications probes for prior deliveries matching the
// composite key within the window. The document id narrows the key only when
// the candidate carries one.
func (p *Postgres) CountRecentNotifications(ctx context.Context, key DuplicateKey, window time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-window)

	var count int
	err := p.withUserContext(ctx, key.UserID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
SELECT COUNT(*) FROM notifications
WHERE user_id = $1
  AND title = $2
  AND source_url = $3
  AND entity_type = $4
  AND created_at >= $5
  AND ($6 = '' OR metadata->>'document_id' = $6)`,
			key.UserID, key.Title, key.SourceURL, key.EntityType, cutoff, key.DocumentID)
		return row.Scan(&count)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// GetUser loads a user with delivery preferences. Preferences live in the
// notification_settings jsonb column.
func (p *Postgres) GetUser(ctx context.Context, id string) (*types.User, error) {
	user := &types.User{}
	var settings []byte

	err := p.withUserContext(ctx, id, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
SELECT id, email, COALESCE(notification_settings, '{}'::jsonb), COALESCE(is_test_user, false)
FROM users WHERE id = $1`, id)
		return row.Scan(&user.ID, &user.Email, &settings, &user.IsTestUser)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(settings, &user.Prefs); err != nil {
		logger := log.WithComponent("store")
		logger.Warn().
			Err(err).
			Str("user_id", id).
			Msg("unreadable notification settings, using defaults")
		user.Prefs = types.UserPrefs{}
	}
	return user, nil
}

// GetSubscription loads one subscription under the requesting user's RLS
// context; a subscription owned by someone else is invisible and comes back
// nil.
func (p *Postgres) GetSubscription(ctx context.Context, userID, id string) (*types.Subscription, error) {
	sub := &types.Subscription{}
	err := p.withUserContext(ctx, userID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT id, user_id, name, COALESCE(status, 'active') FROM subscriptions WHERE id = $1`, id)
		return row.Scan(&sub.ID, &sub.UserID, &sub.Name, &sub.Status)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

// Ping checks database reachability.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Stats reports pool usage for diagnostics.
func (p *Postgres) Stats() PoolStats {
	stat := p.pool.Stat()
	return PoolStats{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
	}
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func traceOf(n *types.Notification) string {
	if n.Metadata == nil {
		return ""
	}
	if v, ok := n.Metadata["trace_id"].(string); ok {
		return v
	}
	return ""
}
