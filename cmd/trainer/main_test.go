package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Schera-ole/trainkit/internal/config"
	"github.com/Schera-ole/trainkit/internal/device"
	"github.com/Schera-ole/trainkit/internal/handler"
	"github.com/Schera-ole/trainkit/internal/repository"
	"github.com/Schera-ole/trainkit/internal/service"
)

func writeConfig(t *testing.T, dir string, epochs int) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`name: test
n_gpu: 2
metrics: [loss, accuracy]
data:
  size: 20
  batch_size: 8
trainer:
  epochs: %d
  steps_per_epoch: 5
  save_dir: %s
`, epochs, filepath.Join(dir, "saved"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		n++
	}
	require.NoError(t, scanner.Err())
	return n
}

func TestRun_Local(t *testing.T) {
	dir := t.TempDir()
	trainerConfig := &config.TrainerConfig{ConfigPath: writeConfig(t, dir, 2), GPUs: -1}

	results, err := run(context.Background(), trainerConfig, device.Static(0), zap.NewNop().Sugar())
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, result := range results {
		assert.Greater(t, result["loss"], 0.1)
		assert.Less(t, result["loss"], 1.1)
		assert.InDelta(t, 1-result["loss"]/2, result["accuracy"], 1e-9)
	}

	saveDir := filepath.Join(dir, "saved", "test")
	assert.FileExists(t, filepath.Join(saveDir, "config.yaml"))
	assert.Equal(t, 2*5*2, countLines(t, filepath.Join(saveDir, metricsFile)))

	state, err := loadState(filepath.Join(saveDir, stateFile))
	require.NoError(t, err)
	assert.Equal(t, 2, state.Epoch)
	assert.Equal(t, 0, state.Step)
}

func TestRun_Resume(t *testing.T) {
	dir := t.TempDir()
	logger := zap.NewNop().Sugar()

	results, err := run(context.Background(), &config.TrainerConfig{ConfigPath: writeConfig(t, dir, 1), GPUs: -1}, device.Static(0), logger)
	require.NoError(t, err)
	require.Len(t, results, 1)

	resumed, err := run(context.Background(), &config.TrainerConfig{ConfigPath: writeConfig(t, dir, 3), GPUs: -1, Resume: true}, device.Static(0), logger)
	require.NoError(t, err)
	assert.Len(t, resumed, 2)
}

func TestRun_ResumeMidEpoch(t *testing.T) {
	dir := t.TempDir()
	logger := zap.NewNop().Sugar()
	configPath := writeConfig(t, dir, 1)
	saveDir := filepath.Join(dir, "saved", "test")
	require.NoError(t, config.EnsureDir(saveDir))

	fresh, err := run(context.Background(), &config.TrainerConfig{ConfigPath: configPath, GPUs: -1, Run: "fresh"}, device.Static(0), logger)
	require.NoError(t, err)

	// a state written after four of five steps
	require.NoError(t, saveState(filepath.Join(saveDir, stateFile), trainerState{Epoch: 0, Step: 4}))
	resumed, err := run(context.Background(), &config.TrainerConfig{ConfigPath: configPath, GPUs: -1, Resume: true}, device.Static(0), logger)
	require.NoError(t, err)
	require.Len(t, resumed, 1)
	require.Len(t, fresh, 1)

	// only the last step contributed after the restore of an empty state
	assert.NotEqual(t, fresh[0]["loss"], resumed[0]["loss"])
}

func TestRun_MissingConfigUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	results, err := run(context.Background(), &config.TrainerConfig{ConfigPath: "missing.json", GPUs: 0}, device.Static(0), zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Len(t, results, config.DefaultTrainerSettings().Trainer.Epochs)
	assert.FileExists(t, filepath.Join(dir, "saved", "demo", "config.json"))
}

func TestRun_ReportsToServer(t *testing.T) {
	logger := zap.NewNop().Sugar()
	trackingService := service.NewTrackingService(repository.NewMemStorage(), logger, service.Options{})
	server := httptest.NewServer(handler.Router(trackingService, logger, &config.ServerConfig{StoreInterval: 300}, nil))
	defer server.Close()

	dir := t.TempDir()
	trainerConfig := &config.TrainerConfig{ConfigPath: writeConfig(t, dir, 2), ServerURL: server.URL, Run: "remote-run", GPUs: -1}
	_, err := run(context.Background(), trainerConfig, device.Static(0), logger)
	require.NoError(t, err)

	history, err := trackingService.History(context.Background(), "remote-run")
	require.NoError(t, err)
	assert.Len(t, history, 2*2)
	for _, result := range history {
		assert.Equal(t, 5.0, result.Count)
	}

	_, err = run(context.Background(), trainerConfig, device.Static(0), logger)
	assert.Error(t, err)
}

func TestStepMetrics(t *testing.T) {
	values := stepMetrics(0, []float64{0.5, 0.5})
	assert.InDelta(t, 0.6, values["loss"], 1e-12)
	assert.InDelta(t, 0.7, values["accuracy"], 1e-12)

	values = stepMetrics(3, nil)
	assert.InDelta(t, 0.1, values["loss"], 1e-12)
}
