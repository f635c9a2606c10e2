// Package service provides the business logic layer of the tracking server.
//
// It hosts one tracker per run. Trackers are not safe for concurrent use, so
// every run carries its own mutex and all tracker access goes through it.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/Schera-ole/trainkit/internal/config"
	internalerrors "github.com/Schera-ole/trainkit/internal/errors"
	models "github.com/Schera-ole/trainkit/internal/model"
	"github.com/Schera-ole/trainkit/internal/repository"
	"github.com/Schera-ole/trainkit/internal/tracker"
)

// SinkFactory returns the sink attached to the tracker of a new run. A nil
// result leaves the tracker without a sink.
type SinkFactory func(run string) tracker.Sink

type run struct {
	mu      sync.Mutex
	tracker *tracker.Tracker
}

// Options configures a TrackingService.
type Options struct {
	// RunTTL is how long an untouched run is kept. Zero keeps runs forever.
	RunTTL time.Duration

	// Sinks builds the sink of every new run.
	Sinks SinkFactory

	// OnRunRemoved is called after a run is deleted or expires.
	OnRunRemoved func(run string)
}

// TrackingService manages runs and their checkpoints.
type TrackingService struct {
	// lifecycle is held for writing while runs are added or deleted, so a
	// touch never brings back a run that was just removed
	lifecycle sync.RWMutex

	runs       *cache.Cache
	repository repository.Repository
	logger     *zap.SugaredLogger
	opts       Options
	now        func() time.Time
}

// NewTrackingService creates a service storing checkpoints in repo.
func NewTrackingService(repo repository.Repository, logger *zap.SugaredLogger, opts Options) *TrackingService {
	ttl := opts.RunTTL
	cleanup := ttl / 2
	if ttl <= 0 {
		ttl = cache.NoExpiration
		cleanup = 0
	} else if cleanup < time.Second {
		cleanup = time.Second
	}

	s := &TrackingService{
		runs:       cache.New(ttl, cleanup),
		repository: repo,
		logger:     logger,
		opts:       opts,
		now:        time.Now,
	}
	s.runs.OnEvicted(func(id string, _ any) {
		s.logger.Infow("run removed", "run", id)
		if s.opts.OnRunRemoved != nil {
			s.opts.OnRunRemoved(id)
		}
	})
	return s
}

// CreateRun starts tracking names under id.
func (s *TrackingService) CreateRun(id string, names []string) error {
	if id == "" {
		return fmt.Errorf("empty run id: %w", internalerrors.ErrInvalidArgument)
	}
	t, err := s.newTracker(id, names)
	if err != nil {
		return err
	}
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if err := s.runs.Add(id, &run{tracker: t}, cache.DefaultExpiration); err != nil {
		return fmt.Errorf("run %q: %w", id, internalerrors.ErrRunExists)
	}
	s.logger.Infow("run created", "run", id, "metrics", names)
	return nil
}

func (s *TrackingService) newTracker(id string, names []string) (*tracker.Tracker, error) {
	opts := []tracker.Option{tracker.WithLogger(s.logger.With("run", id))}
	if s.opts.Sinks != nil {
		if sink := s.opts.Sinks(id); sink != nil {
			opts = append(opts, tracker.WithSink(sink))
		}
	}
	return tracker.New(names, opts...)
}

func (s *TrackingService) get(id string) (*run, error) {
	s.lifecycle.RLock()
	defer s.lifecycle.RUnlock()

	v, found := s.runs.Get(id)
	if !found {
		return nil, fmt.Errorf("run %q: %w", id, internalerrors.ErrRunNotFound)
	}
	// touching the run restarts its idle timer; Replace fails if it expired meanwhile
	if err := s.runs.Replace(id, v, cache.DefaultExpiration); err != nil {
		return nil, fmt.Errorf("run %q: %w", id, internalerrors.ErrRunNotFound)
	}
	return v.(*run), nil
}

// Update applies a batch of observations to run id. The batch is validated
// first, so an unknown metric, a bad weight or an overflowing total leaves the
// run untouched.
func (s *TrackingService) Update(id string, observations []models.Observation) error {
	r, err := s.get(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make(map[string]models.MetricRecord, len(observations))
	for _, obs := range observations {
		rec, seen := pending[obs.ID]
		if !seen {
			if rec, err = r.tracker.Record(obs.ID); err != nil {
				return err
			}
		}
		if rec.Total, rec.Count, err = tracker.Accumulate(rec, obs.Value, obs.WeightOrDefault()); err != nil {
			return err
		}
		pending[obs.ID] = rec
	}
	for _, obs := range observations {
		if err := r.tracker.UpdateWeighted(obs.ID, obs.Value, obs.WeightOrDefault()); err != nil {
			return err
		}
	}
	return nil
}

// Avg returns the current average of metric in run id.
func (s *TrackingService) Avg(id, metric string) (float64, error) {
	r, err := s.get(id)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tracker.Avg(metric)
}

// Result returns every average of run id.
func (s *TrackingService) Result(id string) (map[string]float64, error) {
	r, err := s.get(id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tracker.Result(), nil
}

// Records returns the full records of run id.
func (s *TrackingService) Records(id string) ([]models.MetricRecord, error) {
	r, err := s.get(id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tracker.Records(), nil
}

// Reset zeroes every metric of run id.
func (s *TrackingService) Reset(id string) error {
	r, err := s.get(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracker.Reset()
	return nil
}

// Runs returns the ids of all live runs in sorted order.
func (s *TrackingService) Runs() []string {
	items := s.runs.Items()
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DeleteRun forgets run id and its stored checkpoints.
func (s *TrackingService) DeleteRun(ctx context.Context, id string) error {
	s.lifecycle.Lock()
	if _, found := s.runs.Get(id); !found {
		s.lifecycle.Unlock()
		return fmt.Errorf("run %q: %w", id, internalerrors.ErrRunNotFound)
	}
	s.runs.Delete(id)
	s.lifecycle.Unlock()
	return s.repository.DeleteRun(ctx, id)
}

// Checkpoint stores the current records of run id as the results of epoch.
// With reset set the run starts the next epoch from zero.
func (s *TrackingService) Checkpoint(ctx context.Context, id string, epoch int, reset bool) ([]models.EpochResult, error) {
	if epoch < 0 {
		return nil, fmt.Errorf("epoch %d: %w", epoch, internalerrors.ErrInvalidArgument)
	}
	r, err := s.get(id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	createdAt := s.now().UTC()
	records := r.tracker.Records()
	results := make([]models.EpochResult, 0, len(records))
	for _, rec := range records {
		results = append(results, models.EpochResult{
			Run:       id,
			Epoch:     epoch,
			Metric:    rec.Name,
			Average:   rec.Average,
			Total:     rec.Total,
			Count:     rec.Count,
			CreatedAt: createdAt,
		})
	}
	if err := s.repository.SaveEpoch(ctx, results); err != nil {
		return nil, fmt.Errorf("checkpoint run %q epoch %d: %w", id, epoch, err)
	}
	if reset {
		r.tracker.Reset()
	}
	return results, nil
}

// History returns the stored checkpoints of run id.
func (s *TrackingService) History(ctx context.Context, id string) ([]models.EpochResult, error) {
	return s.repository.ListEpochs(ctx, id)
}

// Ping checks the repository connection.
func (s *TrackingService) Ping(ctx context.Context) error {
	return s.repository.Ping(ctx)
}

// Snapshot returns the state of every live run.
func (s *TrackingService) Snapshot() []models.RunSnapshot {
	ids := s.Runs()
	snapshots := make([]models.RunSnapshot, 0, len(ids))
	for _, id := range ids {
		v, found := s.runs.Get(id)
		if !found {
			continue
		}
		r := v.(*run)
		r.mu.Lock()
		snapshots = append(snapshots, models.RunSnapshot{ID: id, Records: r.tracker.Records()})
		r.mu.Unlock()
	}
	return snapshots
}

// SaveSnapshot writes the state of every live run to fname in JSON format.
// The file is replaced atomically, so a failed save keeps the previous one.
func (s *TrackingService) SaveSnapshot(fname string) error {
	dir := filepath.Dir(fname)
	if err := config.EnsureDir(dir); err != nil {
		return err
	}
	file, err := os.CreateTemp(dir, filepath.Base(fname)+".*.tmp")
	if err != nil {
		return fmt.Errorf("error creating file: %w", err)
	}
	tmpName := file.Name()
	defer os.Remove(tmpName)

	if err := json.NewEncoder(file).Encode(s.Snapshot()); err != nil {
		file.Close()
		return fmt.Errorf("error encoding snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("error closing snapshot: %w", err)
	}
	if err := os.Rename(tmpName, fname); err != nil {
		return fmt.Errorf("error replacing snapshot: %w", err)
	}
	return nil
}

// RestoreSnapshot recreates runs from a file written by SaveSnapshot. Runs
// that already exist are left alone.
func (s *TrackingService) RestoreSnapshot(fname string) error {

	file, err := os.Open(fname)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Infof("snapshot file not exists %s", fname)
			return nil
		}
		return fmt.Errorf("error while opening file to restore: %w", err)
	}
	defer file.Close()

	var snapshots []models.RunSnapshot
	if err := json.NewDecoder(file).Decode(&snapshots); err != nil {
		return fmt.Errorf("error while decoding snapshot file: %w", err)
	}

	for _, snap := range snapshots {
		names := make([]string, 0, len(snap.Records))
		for _, rec := range snap.Records {
			names = append(names, rec.Name)
		}
		t, err := s.newTracker(snap.ID, names)
		if err != nil {
			return fmt.Errorf("restore run %q: %w", snap.ID, err)
		}
		if err := t.Restore(snap.Records); err != nil {
			return fmt.Errorf("restore run %q: %w", snap.ID, err)
		}
		s.lifecycle.Lock()
		err = s.runs.Add(snap.ID, &run{tracker: t}, cache.DefaultExpiration)
		s.lifecycle.Unlock()
		if err != nil {
			s.logger.Infow("run already exists, skipping restore", "run", snap.ID)
			continue
		}
	}
	return nil
}
