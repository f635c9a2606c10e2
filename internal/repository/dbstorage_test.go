package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "connection failure", err: &pgconn.PgError{Code: pgerrcode.ConnectionFailure}, want: true},
		{name: "serialization", err: &pgconn.PgError{Code: pgerrcode.SerializationFailure}, want: true},
		{name: "wrapped deadlock", err: fmt.Errorf("saving: %w", &pgconn.PgError{Code: pgerrcode.DeadlockDetected}), want: true},
		{name: "unique violation", err: &pgconn.PgError{Code: pgerrcode.UniqueViolation}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}

func TestDBStorage_WithRetry(t *testing.T) {
	storage := &DBStorage{delays: []time.Duration{time.Millisecond, time.Millisecond}}
	ctx := context.Background()

	calls := 0
	err := storage.withRetry(ctx, func() error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: pgerrcode.ConnectionFailure}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	permanent := errors.New("syntax error")
	err = storage.withRetry(ctx, func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDBStorage_WithRetryCancelled(t *testing.T) {
	storage := &DBStorage{delays: []time.Duration{time.Hour}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := storage.withRetry(ctx, func() error {
		return &pgconn.PgError{Code: pgerrcode.ConnectionFailure}
	})
	assert.ErrorIs(t, err, context.Canceled)
}
