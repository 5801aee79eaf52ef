package database

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryableTransientCodes(t *testing.T) {
	retryable := []string{"40001", "40P01", "55P03", "53300", "08000", "08006", "57P01", "57P03"}
	for _, code := range retryable {
		assert.True(t, IsRetryable(&pgconn.PgError{Code: code}), "code %s should be retryable", code)
	}
}

func TestIsRetryablePermanentCodes(t *testing.T) {
	permanent := []string{"23505", "22P02", "42P01", "42601"}
	for _, code := range permanent {
		assert.False(t, IsRetryable(&pgconn.PgError{Code: code}), "code %s should not be retryable", code)
	}
}

func TestIsRetryableConnectionErrors(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("dial tcp: connection refused")))
	assert.True(t, IsRetryable(errors.New("unexpected EOF")))
	assert.True(t, IsRetryable(errors.New("write: broken pipe")))
	assert.False(t, IsRetryable(errors.New("some application error")))
}

func TestIsRetryableContextErrors(t *testing.T) {
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
}

func TestIsRetryableNoRows(t *testing.T) {
	assert.False(t, IsRetryable(pgx.ErrNoRows))
	assert.False(t, IsRetryable(nil))
}
