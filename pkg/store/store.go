package store

import (
	"context"
	"time"

	"github.com/nifyacorp/notification-worker/pkg/types"
)

// DuplicateKey identifies a notification for deduplication purposes.
// DocumentID participates in the key only when present.
type DuplicateKey struct {
	UserID     string
	Title      string
	SourceURL  string
	EntityType string
	DocumentID string
}

// PoolStats is a snapshot of the connection pool for diagnostics.
type PoolStats struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
}

// Store defines the interface for the worker's relational persistence
type Store interface {
	// Notifications
	CreateNotification(ctx context.Context, n *types.Notification) (string, error)
	SetEmailSent(ctx context.Context, userID, notificationID string) error
	CountRecentNotifications(ctx context.Context, key DuplicateKey, window time.Duration) (int, error)

	// Lookups (not owned by the worker)
	GetUser(ctx context.Context, id string) (*types.User, error)
	GetSubscription(ctx context.Context, userID, id string) (*types.Subscription, error)

	// Utility
	Ping(ctx context.Context) error
	Stats() PoolStats
	Close()
}
