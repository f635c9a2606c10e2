package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Schera-ole/trainkit/internal/config"
	internalerrors "github.com/Schera-ole/trainkit/internal/errors"
	"github.com/Schera-ole/trainkit/internal/handler"
	middlewareinternal "github.com/Schera-ole/trainkit/internal/middleware"
	models "github.com/Schera-ole/trainkit/internal/model"
	"github.com/Schera-ole/trainkit/internal/repository"
	"github.com/Schera-ole/trainkit/internal/service"
)

func newTrackingServer(t *testing.T, key string) (*httptest.Server, *service.TrackingService) {
	t.Helper()
	logger := zap.NewNop().Sugar()
	trackingService := service.NewTrackingService(repository.NewMemStorage(), logger, service.Options{})
	cfg := &config.ServerConfig{Key: key, StoreInterval: 300}
	server := httptest.NewServer(handler.Router(trackingService, logger, cfg, nil))
	t.Cleanup(server.Close)
	return server, trackingService
}

func TestReporter_EndToEnd(t *testing.T) {
	server, trackingService := newTrackingServer(t, "secret")
	reporter := NewReporter(server.URL, "secret", zap.NewNop().Sugar(), WithRetryDelays())
	ctx := context.Background()

	require.NoError(t, reporter.CreateRun(ctx, "run-1", []string{"loss", "acc"}))
	err := reporter.CreateRun(ctx, "run-1", []string{"loss"})
	assert.ErrorIs(t, err, internalerrors.ErrRunExists)

	require.NoError(t, reporter.Send(ctx, "run-1", []models.Observation{
		{ID: "loss", Value: 2},
		{ID: "loss", Value: 4},
	}))
	avg, err := trackingService.Avg("run-1", "loss")
	require.NoError(t, err)
	assert.Equal(t, 3.0, avg)

	records, err := reporter.Records(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []models.MetricRecord{{Name: "loss", Total: 6, Count: 2, Average: 3}, {Name: "acc"}}, records)

	results, err := reporter.Checkpoint(ctx, "run-1", 1, true)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	history, err := reporter.History(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	avg, err = trackingService.Avg("run-1", "loss")
	require.NoError(t, err)
	assert.Equal(t, 0.0, avg)

	_, err = reporter.Records(ctx, "missing")
	assert.ErrorIs(t, err, internalerrors.ErrRunNotFound)
	assert.NotErrorIs(t, err, internalerrors.ErrKeyNotFound)

	err = reporter.Send(ctx, "run-1", []models.Observation{{ID: "f1", Value: 1}})
	assert.ErrorIs(t, err, internalerrors.ErrKeyNotFound)
	assert.NotErrorIs(t, err, internalerrors.ErrRunNotFound)
}

func TestReporter_WrongKeyIsRejected(t *testing.T) {
	server, _ := newTrackingServer(t, "secret")
	reporter := NewReporter(server.URL, "other", zap.NewNop().Sugar(), WithRetryDelays())

	err := reporter.CreateRun(context.Background(), "run-1", []string{"loss"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.Code)
}

func TestReporter_RequestEncoding(t *testing.T) {
	var got []models.Observation
	var gotHash string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/runs/run%201/updates", r.URL.EscapedPath())
		assert.Equal(t, "gzip", r.Header.Get("Content-Encoding"))
		gotHash = r.Header.Get(middlewareinternal.HashHeader)

		body, err := io.ReadAll(r.Body)
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, hex.EncodeToString(middlewareinternal.CalculateHash(body, "key")), gotHash)

		reader, err := gzip.NewReader(bytes.NewReader(body))
		if !assert.NoError(t, err) {
			return
		}
		assert.NoError(t, json.NewDecoder(reader).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reporter := NewReporter(server.URL, "key", zap.NewNop().Sugar(), WithRetryDelays())
	w := 2.0
	err := reporter.Send(context.Background(), "run 1", []models.Observation{{ID: "loss", Value: 1, Weight: &w}})
	require.NoError(t, err)
	assert.Equal(t, []models.Observation{{ID: "loss", Value: 1, Weight: &w}}, got)
	assert.NotEmpty(t, gotHash)
}

func TestReporter_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reporter := NewReporter(server.URL, "", zap.NewNop().Sugar(),
		WithRetryDelays(time.Millisecond, time.Millisecond, time.Millisecond))
	err := reporter.Send(context.Background(), "run-1", []models.Observation{{ID: "loss", Value: 1}})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestReporter_GivesUp(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer server.Close()

	reporter := NewReporter(server.URL, "", zap.NewNop().Sugar(), WithRetryDelays(time.Millisecond, time.Millisecond))
	err := reporter.Send(context.Background(), "run-1", []models.Observation{{ID: "loss", Value: 1}})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
	assert.Equal(t, int32(3), calls.Load())
}

func TestReporter_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "metric not found", http.StatusNotFound)
	}))
	defer server.Close()

	reporter := NewReporter(server.URL, "", zap.NewNop().Sugar(), WithRetryDelays(time.Millisecond))
	err := reporter.Send(context.Background(), "run-1", []models.Observation{{ID: "f1", Value: 1}})
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestReporter_RetriesConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	address := server.URL
	server.Close()

	reporter := NewReporter(address, "", zap.NewNop().Sugar(), WithRetryDelays(time.Millisecond))
	err := reporter.Send(context.Background(), "run-1", []models.Observation{{ID: "loss", Value: 1}})
	assert.ErrorContains(t, err, "after 2 attempts")
}

func TestReporter_EmptyBatch(t *testing.T) {
	reporter := NewReporter("localhost:1", "", zap.NewNop().Sugar())
	assert.NoError(t, reporter.Send(context.Background(), "run-1", nil))
}

func TestNewReporter_BaseURL(t *testing.T) {
	logger := zap.NewNop().Sugar()
	assert.Equal(t, "http://localhost:8080", NewReporter("localhost:8080", "", logger).baseURL)
	assert.Equal(t, "https://tracker.example.com", NewReporter("https://tracker.example.com/", "", logger).baseURL)
}

func TestReporter_RateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reporter := NewReporter(server.URL, "", zap.NewNop().Sugar(), WithRetryDelays(), WithRateLimit(0.001, 1))
	batch := []models.Observation{{ID: "loss", Value: 1}}
	require.NoError(t, reporter.Send(context.Background(), "run-1", batch))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := reporter.Send(ctx, "run-1", batch)
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
