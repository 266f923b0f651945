package rpc

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/goran-ethernal/EntityIndexor/internal/logger"
	"github.com/goran-ethernal/EntityIndexor/pkg/config"
	"github.com/sethvargo/go-retry"
)

// retryableError checks if an error should trigger a retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, marker := range retryableMarkers {
		if strings.Contains(errStr, marker) {
			return true
		}
	}

	return false
}

var retryableMarkers = []string{
	// timeouts
	"timeout",
	"deadline exceeded",
	// rate limiting
	"429",
	"too many requests",
	"rate limit",
	// temporary server errors
	"502",
	"503",
	"504",
	"bad gateway",
	"service unavailable",
	// connection pool exhausted
	"connection pool",
	"no available connection",
}

// linearBackoff waits attempt*unit before the next attempt, capped at max.
func linearBackoff(cfg *config.RetryConfig) retry.Backoff {
	var attempt atomic.Int64

	next := retry.BackoffFunc(func() (time.Duration, bool) {
		return time.Duration(attempt.Add(1)) * cfg.Backoff.Duration, false
	})

	return retry.WithMaxRetries(uint64(cfg.MaxAttempts-1), retry.WithCappedDuration(cfg.MaxBackoff.Duration, next))
}

// withRetry runs fn until it succeeds, fails with a non-retryable error or
// the attempts of cfg run out. In the last case every attempt's error is
// reported in a ProviderUnavailableError.
func withRetry(ctx context.Context, cfg *config.RetryConfig, log *logger.Logger, method string, fn func(ctx context.Context) error) error {
	if cfg == nil {
		return fn(ctx)
	}

	var attempts []error

	err := retry.Do(ctx, linearBackoff(cfg), func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		attempts = append(attempts, err)
		if !retryableError(err) {
			return err
		}

		rpcRetryInc(method)
		log.Debugw("retrying rpc call", "method", method, "attempt", len(attempts), "error", err)
		return retry.RetryableError(err)
	})
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if len(attempts) == cfg.MaxAttempts && retryableError(attempts[len(attempts)-1]) {
		return newProviderUnavailableError(method, attempts)
	}

	return err
}
