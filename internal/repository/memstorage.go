package repository

import (
	"context"
	"sort"
	"sync"

	models "github.com/Schera-ole/trainkit/internal/model"
)

type epochKey struct {
	epoch  int
	metric string
}

// MemStorage implements the Repository interface using in-memory storage.
type MemStorage struct {
	// mu provides thread-safe access to the storage map
	mu sync.RWMutex

	// runs maps a run id to its results keyed by epoch and metric
	runs map[string]map[epochKey]models.EpochResult
}

// NewMemStorage creates a new in-memory storage instance.
func NewMemStorage() *MemStorage {

	return &MemStorage{
		runs: make(map[string]map[epochKey]models.EpochResult),
	}
}

// SaveEpoch stores results in memory, overwriting existing entries.
func (ms *MemStorage) SaveEpoch(ctx context.Context, results []models.EpochResult) error {

	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, result := range results {
		run, exists := ms.runs[result.Run]
		if !exists {
			run = make(map[epochKey]models.EpochResult)
			ms.runs[result.Run] = run
		}
		run[epochKey{epoch: result.Epoch, metric: result.Metric}] = result
	}
	return nil
}

// ListEpochs returns the stored results of run.
func (ms *MemStorage) ListEpochs(ctx context.Context, run string) ([]models.EpochResult, error) {

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	result := make([]models.EpochResult, 0, len(ms.runs[run]))
	for _, r := range ms.runs[run] {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Epoch != result[j].Epoch {
			return result[i].Epoch < result[j].Epoch
		}
		return result[i].Metric < result[j].Metric
	})
	return result, nil
}

// DeleteRun removes every result of run.
func (ms *MemStorage) DeleteRun(ctx context.Context, run string) error {

	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.runs, run)
	return nil
}

// Close releases any resources held by the memory storage.
func (ms *MemStorage) Close() error {

	return nil
}

// Ping checks the health of the memory storage.
//
// For MemStorage, this always returns nil since there are no external dependencies.
func (ms *MemStorage) Ping(ctx context.Context) error {
	return nil
}
