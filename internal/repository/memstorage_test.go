package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	models "github.com/Schera-ole/trainkit/internal/model"
)

func TestNewMemStorage(t *testing.T) {
	storage := NewMemStorage()
	assert.NotNil(t, storage)
	assert.NotNil(t, storage.runs)
}

func TestMemStorage_SaveAndListEpochs(t *testing.T) {
	storage := NewMemStorage()
	ctx := context.Background()
	now := time.Now().UTC()

	err := storage.SaveEpoch(ctx, []models.EpochResult{
		{Run: "run-1", Epoch: 2, Metric: "loss", Average: 0.5, Total: 5, Count: 10, CreatedAt: now},
		{Run: "run-1", Epoch: 1, Metric: "loss", Average: 0.9, Total: 9, Count: 10, CreatedAt: now},
		{Run: "run-1", Epoch: 1, Metric: "acc", Average: 0.6, Total: 6, Count: 10, CreatedAt: now},
		{Run: "run-2", Epoch: 1, Metric: "loss", Average: 1, Total: 1, Count: 1, CreatedAt: now},
	})
	require.NoError(t, err)

	results, err := storage.ListEpochs(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].Epoch)
	assert.Equal(t, "acc", results[0].Metric)
	assert.Equal(t, 1, results[1].Epoch)
	assert.Equal(t, "loss", results[1].Metric)
	assert.Equal(t, 2, results[2].Epoch)

	results, err = storage.ListEpochs(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemStorage_SaveEpochOverwrites(t *testing.T) {
	storage := NewMemStorage()
	ctx := context.Background()

	require.NoError(t, storage.SaveEpoch(ctx, []models.EpochResult{{Run: "run-1", Epoch: 1, Metric: "loss", Average: 1}}))
	require.NoError(t, storage.SaveEpoch(ctx, []models.EpochResult{{Run: "run-1", Epoch: 1, Metric: "loss", Average: 2}}))

	results, err := storage.ListEpochs(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2.0, results[0].Average)
}

func TestMemStorage_DeleteRun(t *testing.T) {
	storage := NewMemStorage()
	ctx := context.Background()

	require.NoError(t, storage.SaveEpoch(ctx, []models.EpochResult{{Run: "run-1", Epoch: 1, Metric: "loss"}}))
	require.NoError(t, storage.DeleteRun(ctx, "run-1"))

	results, err := storage.ListEpochs(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemStorage_Ping(t *testing.T) {
	storage := NewMemStorage()
	ctx := context.Background()

	// Ping should always succeed for MemStorage
	err := storage.Ping(ctx)
	assert.NoError(t, err)
}

func TestMemStorage_Close(t *testing.T) {
	storage := NewMemStorage()

	// Close should always succeed for MemStorage
	err := storage.Close()
	assert.NoError(t, err)
}
