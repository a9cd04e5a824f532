package store

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nifyacorp/notification-worker/pkg/metrics"
)

const (
	retryInitialInterval = 100 * time.Millisecond
	retryMaxAttempts     = 4 // the first try plus three retries
)

// Postgres error codes treated as connection-level failures
const (
	codeAdminShutdown    = "57P01"
	codeCannotConnectNow = "57P03"
)

// IsTransient reports whether err is a connection-level failure worth
// retrying: refused or dropped connections, server shutdown codes, and
// timeouts. Everything else fails fast.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeAdminShutdown || pgErr.Code == codeCannotConnectNow
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection terminated") ||
		strings.Contains(msg, "timeout")
}

// retryTransient runs op, retrying transient failures with exponential
// backoff (100ms, 200ms, 400ms). Non-transient errors abort immediately.
func retryTransient(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, _ time.Duration) {
		metrics.DatabaseRetries.Inc()
	}

	return backoff.RetryNotify(wrapped,
		backoff.WithContext(backoff.WithMaxRetries(bo, retryMaxAttempts-1), ctx),
		notify)
}
