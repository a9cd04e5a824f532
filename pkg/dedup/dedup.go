package dedup

import (
	"context"
	"time"

	"github.com/nifyacorp/notification-worker/pkg/log"
	"github.com/nifyacorp/notification-worker/pkg/store"
	"github.com/nifyacorp/notification-worker/pkg/types"
)

// DefaultWindow is the sliding deduplication window when none is configured
const DefaultWindow = 24 * time.Hour

// Gate answers whether a candidate notification was already delivered to the
// same user within the window. The check is best-effort: when the store is
// unreachable the gate answers "not a duplicate" so an outage never drops
// notifications, at the cost of an occasional double delivery.
type Gate struct {
	store  store.Store
	window time.Duration
}

// NewGate creates a gate over the store with the given window.
func NewGate(s store.Store, window time.Duration) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Gate{store: s, window: window}
}

// Window returns the configured window, for diagnostics.
func (g *Gate) Window() time.Duration {
	return g.window
}

// IsDuplicate reports whether an equivalent notification already exists for
// the candidate's user inside the window.
func (g *Gate) IsDuplicate(ctx context.Context, n *types.Notification) bool {
	key := store.DuplicateKey{
		UserID:     n.UserID,
		Title:      n.Title,
		SourceURL:  n.SourceURL,
		EntityType: n.EntityType,
		DocumentID: n.DocumentID(),
	}

	logger := log.WithComponent("dedup")

	count, err := g.store.CountRecentNotifications(ctx, key, g.window)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("user_id", n.UserID).
			Str("title", n.Title).
			Msg("dedup check unavailable, treating as new")
		return false
	}

	if count > 0 {
		logger.Debug().
			Str("user_id", n.UserID).
			Str("title", n.Title).
			Msg("duplicate notification inside window")
		return true
	}
	return false
}
