package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/Schera-ole/trainkit/internal/client"
	"github.com/Schera-ole/trainkit/internal/config"
	"github.com/Schera-ole/trainkit/internal/device"
	internalerrors "github.com/Schera-ole/trainkit/internal/errors"
	"github.com/Schera-ole/trainkit/internal/loader"
	"github.com/Schera-ole/trainkit/internal/logging"
	models "github.com/Schera-ole/trainkit/internal/model"
	"github.com/Schera-ole/trainkit/internal/sink"
	"github.com/Schera-ole/trainkit/internal/sysstats"
	"github.com/Schera-ole/trainkit/internal/tracker"
)

const (
	stateFile   = "state.json"
	metricsFile = "metrics.jsonl"
)

// trainerState is what --resume continues from.
type trainerState struct {
	Epoch   int                   `yaml:"epoch"`
	Step    int                   `yaml:"step"`
	Records []models.MetricRecord `yaml:"records"`
}

func main() {
	logSugar, err := logging.New("trainer", logging.ConfigFromEnv())
	if err != nil {
		log.Fatal("Failed to create logger: ", err)
	}
	defer logSugar.Sync()

	trainerConfig, err := config.NewTrainerConfig(os.Args[1:])
	if err != nil {
		logSugar.Fatalf("Failed to parse configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := run(ctx, trainerConfig, device.DefaultProbe(), logSugar); err != nil {
		logSugar.Fatalw("training failed", "error", err)
	}
}

// loadSettings reads the config document, falling back to the defaults when
// the file does not exist.
func loadSettings(path string, logger *zap.SugaredLogger) (*config.Document, config.TrainerSettings, error) {
	doc, settings, err := config.LoadTrainerSettings(path)
	if err == nil {
		return doc, settings, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, settings, err
	}
	logger.Infow("config file not found, using defaults", "path", path)
	settings = config.DefaultTrainerSettings()
	format, formatErr := config.DetectFormat(path)
	if formatErr != nil {
		format = config.FormatYAML
	}
	doc, err = config.NewDocument(format, settings)
	if err != nil {
		return nil, settings, err
	}
	return doc, settings, nil
}

func configFileName(format config.Format) string {
	if format == config.FormatJSON {
		return "config.json"
	}
	return "config.yaml"
}

// run trains the synthetic model and returns the averages of every epoch it ran.
func run(ctx context.Context, trainerConfig *config.TrainerConfig, probe device.Probe, logger *zap.SugaredLogger) ([]map[string]float64, error) {
	doc, settings, err := loadSettings(trainerConfig.ConfigPath, logger)
	if err != nil {
		return nil, err
	}
	if trainerConfig.GPUs >= 0 {
		settings.NGPU = trainerConfig.GPUs
	}
	dev, deviceIDs := device.PrepareDevice(settings.NGPU, probe, logger)
	logger.Infow("device selected", "device", dev.String(), "device_ids", deviceIDs)

	runID := trainerConfig.Run
	if runID == "" {
		runID = settings.Name
	}
	saveDir := filepath.Join(settings.Trainer.SaveDir, runID)
	if err := config.EnsureDir(saveDir); err != nil {
		return nil, err
	}
	if err := config.WriteDocument(filepath.Join(saveDir, configFileName(doc.Format)), doc); err != nil {
		return nil, err
	}

	names := append([]string(nil), settings.Metrics...)
	if settings.Trainer.LogHost {
		names = append(names, sysstats.Names...)
	}

	fileSink, err := sink.NewFile(filepath.Join(saveDir, metricsFile))
	if err != nil {
		return nil, err
	}
	defer fileSink.Close()
	asyncFile := sink.NewAsync(fileSink, 1024, logger)
	defer asyncFile.Close()
	sinks := []sink.Sink{sink.NewLog(logger, runID), asyncFile}

	var (
		reporter *client.Reporter
		remote   *client.Remote
	)
	if trainerConfig.ServerURL != "" {
		reporter = client.NewReporter(trainerConfig.ServerURL, trainerConfig.Key, logger,
			client.WithRateLimit(trainerConfig.RateLimit, 1))
		err := reporter.CreateRun(ctx, runID, names)
		if err != nil && !(trainerConfig.Resume && errors.Is(err, internalerrors.ErrRunExists)) {
			return nil, fmt.Errorf("create run %q: %w", runID, err)
		}
		remote = client.NewRemote(reporter, runID, settings.Data.BatchSize)
		defer remote.Close()
		sinks = append(sinks, remote)
	}

	tr, err := tracker.New(names,
		tracker.WithSink(sink.NewMulti(sinks...)),
		tracker.WithLogger(logger.With("run", runID)),
	)
	if err != nil {
		return nil, err
	}

	statePath := filepath.Join(saveDir, stateFile)
	var state trainerState
	if trainerConfig.Resume {
		state, err = loadState(statePath)
		if err != nil {
			return nil, err
		}
		if err := tr.Restore(state.Records); err != nil {
			return nil, fmt.Errorf("resume from %s: %w", statePath, err)
		}
		logger.Infow("resuming training", "epoch", state.Epoch+1, "step", state.Step)
	}

	steps := settings.Trainer.StepsPerEpoch
	total := settings.Trainer.Epochs * steps
	start := state.Epoch*steps + state.Step
	saveEvery := max(1, steps/4)

	var results []map[string]float64
	global := 0
	for batch := range loader.Take(loader.Loop(loader.Batches(syntheticData(settings.Data.Size), settings.Data.BatchSize)), total) {
		step := global
		global++
		if step < start {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}

		values := stepMetrics(step, batch)
		for _, name := range settings.Metrics {
			value, ok := values[name]
			if !ok {
				continue
			}
			if err := tr.UpdateWeighted(name, value, float64(len(batch))); err != nil {
				return results, err
			}
		}

		epoch, stepInEpoch := step/steps, step%steps+1
		if stepInEpoch%saveEvery == 0 || stepInEpoch == steps {
			if settings.Trainer.LogHost {
				samples, err := sysstats.Collect(ctx)
				if err != nil {
					logger.Warnw("host stats unavailable", "error", err)
				} else if err := sysstats.Feed(tr, samples); err != nil {
					return results, err
				}
			}
		}
		if stepInEpoch < steps {
			if stepInEpoch%saveEvery == 0 {
				if err := saveState(statePath, trainerState{Epoch: epoch, Step: stepInEpoch, Records: tr.Records()}); err != nil {
					return results, err
				}
			}
			continue
		}

		result := tr.Result()
		results = append(results, result)
		logger.Infow("epoch finished", "epoch", epoch+1, "metrics", result)
		if remote != nil {
			if err := remote.Flush(ctx); err != nil {
				logger.Warnw("couldn't report metrics", "error", err)
			}
			if _, err := reporter.Checkpoint(ctx, runID, epoch+1, true); err != nil {
				logger.Warnw("couldn't checkpoint epoch", "epoch", epoch+1, "error", err)
			}
		}
		tr.Reset()
		if err := saveState(statePath, trainerState{Epoch: epoch + 1, Records: tr.Records()}); err != nil {
			return results, err
		}
	}
	return results, nil
}

func loadState(path string) (trainerState, error) {
	var state trainerState
	doc, err := config.ReadDocument(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return state, nil
		}
		return state, err
	}
	if err := doc.Decode(&state); err != nil {
		return state, fmt.Errorf("decode state %s: %w", path, err)
	}
	return state, nil
}

func saveState(path string, state trainerState) error {
	doc, err := config.NewDocument(config.FormatJSON, state)
	if err != nil {
		return err
	}
	return config.WriteDocument(path, doc)
}

// syntheticData returns size reproducible samples in [0, 1).
func syntheticData(size int) []float64 {
	rng := rand.New(rand.NewPCG(1, 2))
	data := make([]float64, size)
	for i := range data {
		data[i] = rng.Float64()
	}
	return data
}

// stepMetrics derives the metrics of one step from its batch. The loss decays
// with the step number.
func stepMetrics(step int, batch []float64) map[string]float64 {
	var sum float64
	for _, v := range batch {
		sum += v
	}
	mean := 0.0
	if len(batch) > 0 {
		mean = sum / float64(len(batch))
	}
	loss := 0.1 + mean*math.Exp(-0.05*float64(step))
	return map[string]float64{
		"loss":     loss,
		"accuracy": 1 - math.Min(loss, 1)/2,
	}
}
