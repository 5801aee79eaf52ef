package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/coldaine/recall-pipeline/pkg/resilience"
)

// RetryConfig returns a retry configuration classified for PostgreSQL errors,
// tuned from the worker's max-retries and base-delay settings.
func RetryConfig(maxAttempts int, initialBackoff time.Duration) resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = maxAttempts
	cfg.InitialBackoff = initialBackoff
	cfg.RetryableChecker = IsRetryable
	return cfg
}

// IsRetryable determines if a PostgreSQL error should be retried
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Don't retry context errors
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Check for PostgreSQL error codes
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001": // serialization_failure
			return true
		case "40P01": // deadlock_detected
			return true
		case "55P03": // lock_not_available
			return true
		case "53000": // insufficient_resources
			return true
		case "53300": // too_many_connections
			return true
		case "08000", "08003", "08006": // connection_exception
			return true
		case "57P01": // admin_shutdown
			return true
		case "57P02": // crash_shutdown
			return true
		case "57P03": // cannot_connect_now
			return true
		case "58000": // system_error
			return true
		default:
			if strings.HasPrefix(pgErr.Code, "23") { // integrity constraint violation
				return false
			}
			if strings.HasPrefix(pgErr.Code, "22") { // data exception
				return false
			}
			if strings.HasPrefix(pgErr.Code, "42") { // syntax error or access rule violation
				return false
			}
			return false
		}
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return false
	}

	// Check for connection errors surfaced as plain strings
	errMsg := strings.ToLower(err.Error())
	retryableMessages := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"network is unreachable",
		"temporary failure",
		"timeout",
		"too many connections",
		"server closed",
		"unexpected eof",
	}

	for _, msg := range retryableMessages {
		if strings.Contains(errMsg, msg) {
			return true
		}
	}

	return false
}
