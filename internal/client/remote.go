package client

import (
	"context"
	"sync"
	"time"

	models "github.com/Schera-ole/trainkit/internal/model"
)

// Remote is a sink that batches observations and ships them to the tracking
// server. A full batch is sent synchronously from Record.
type Remote struct {
	reporter  *Reporter
	run       string
	batchSize int
	timeout   time.Duration

	mu      sync.Mutex
	pending []models.Observation
}

// NewRemote creates a sink reporting to run.
func NewRemote(reporter *Reporter, run string, batchSize int) *Remote {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Remote{
		reporter:  reporter,
		run:       run,
		batchSize: batchSize,
		timeout:   30 * time.Second,
		pending:   make([]models.Observation, 0, batchSize),
	}
}

// Record queues the observation and sends the batch once it is full.
func (r *Remote) Record(name string, value float64) error {
	r.mu.Lock()
	r.pending = append(r.pending, models.Observation{ID: name, Value: value})
	full := len(r.pending) >= r.batchSize
	r.mu.Unlock()

	if !full {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.Flush(ctx)
}

// Flush sends every queued observation. On failure the batch is dropped.
func (r *Remote) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.pending
	r.pending = make([]models.Observation, 0, r.batchSize)
	r.mu.Unlock()

	return r.reporter.Send(ctx, r.run, batch)
}

// Close sends what is left.
func (r *Remote) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.Flush(ctx)
}
