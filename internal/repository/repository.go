// Package repository stores per-epoch checkpoints of tracked metrics.
package repository

import (
	"context"

	models "github.com/Schera-ole/trainkit/internal/model"
)

// Repository persists epoch results.
type Repository interface {
	// SaveEpoch stores the results of one epoch, replacing earlier results for
	// the same run, epoch and metric.
	SaveEpoch(ctx context.Context, results []models.EpochResult) error

	// ListEpochs returns the results of run ordered by epoch and metric.
	ListEpochs(ctx context.Context, run string) ([]models.EpochResult, error)

	// DeleteRun removes every result of run.
	DeleteRun(ctx context.Context, run string) error

	// Ping checks the storage connection.
	Ping(ctx context.Context) error

	// Close releases held resources.
	Close() error
}
