// Package tracker keeps running averages of a fixed set of named metrics.
//
// A Tracker is a plain in-memory structure without locking. Callers that share
// one between goroutines must synchronize access themselves.
package tracker

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	internalerrors "github.com/Schera-ole/trainkit/internal/errors"
	models "github.com/Schera-ole/trainkit/internal/model"
)

// Sink receives every raw observation passed to Update.
type Sink interface {
	Record(name string, value float64) error
}

// SinkErrorPolicy controls what Update does when the sink fails.
type SinkErrorPolicy int

const (
	// IgnoreSinkErrors logs sink failures and reports success.
	IgnoreSinkErrors SinkErrorPolicy = iota

	// PropagateSinkErrors returns sink failures wrapped with ErrSink.
	PropagateSinkErrors
)

// Option configures a Tracker.
type Option func(*Tracker)

// WithSink attaches a sink. The tracker does not close it.
func WithSink(s Sink) Option {
	return func(t *Tracker) {
		t.sink = s
	}
}

// WithSinkErrorPolicy selects how sink failures are reported.
func WithSinkErrorPolicy(p SinkErrorPolicy) Option {
	return func(t *Tracker) {
		t.policy = p
	}
}

// WithLogger sets the logger used for ignored sink failures.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// Tracker maintains total, count and average for each tracked metric.
type Tracker struct {
	// names keeps the construction order
	names []string

	// records maps a metric name to its running state
	records map[string]*models.MetricRecord

	sink   Sink
	policy SinkErrorPolicy
	logger *zap.SugaredLogger
}

// New creates a tracker for the given metric names.
//
// Names must be non-empty strings and unique; otherwise ErrInvalidArgument is returned.
func New(names []string, opts ...Option) (*Tracker, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no metric names provided: %w", internalerrors.ErrInvalidArgument)
	}

	t := &Tracker{
		names:   make([]string, 0, len(names)),
		records: make(map[string]*models.MetricRecord, len(names)),
		logger:  zap.NewNop().Sugar(),
	}
	for _, name := range names {
		if name == "" {
			return nil, fmt.Errorf("empty metric name: %w", internalerrors.ErrInvalidArgument)
		}
		if _, exists := t.records[name]; exists {
			return nil, fmt.Errorf("duplicate metric name %q: %w", name, internalerrors.ErrInvalidArgument)
		}
		t.names = append(t.names, name)
		t.records[name] = &models.MetricRecord{Name: name}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Reset zeroes every record without changing the set of names.
func (t *Tracker) Reset() {
	for _, rec := range t.records {
		rec.Total = 0
		rec.Count = 0
		rec.Average = 0
	}
}

// Update records value with weight 1.
func (t *Tracker) Update(name string, value float64) error {
	return t.UpdateWeighted(name, value, 1)
}

// Accumulate returns the total and count of rec after adding value with
// weight. It fails with ErrInvalidArgument when weight is not a finite positive
// number or when the new total or count would not be finite.
func Accumulate(rec models.MetricRecord, value, weight float64) (total, count float64, err error) {
	if weight <= 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
		return 0, 0, fmt.Errorf("update %q: weight %v: %w", rec.Name, weight, internalerrors.ErrInvalidArgument)
	}
	total = rec.Total + value*weight
	count = rec.Count + weight
	if math.IsNaN(total) || math.IsInf(total, 0) || math.IsInf(count, 0) {
		return 0, 0, fmt.Errorf("update %q: value %v with weight %v overflows: %w",
			rec.Name, value, weight, internalerrors.ErrInvalidArgument)
	}
	return total, count, nil
}

// UpdateWeighted forwards (name, value) to the sink, then adds value*weight to
// the total and weight to the count of name. An observation that would make
// the total or count non-finite is rejected before the sink sees it.
func (t *Tracker) UpdateWeighted(name string, value, weight float64) error {
	rec, exists := t.records[name]
	if !exists {
		return fmt.Errorf("update %q: %w", name, internalerrors.ErrKeyNotFound)
	}
	total, count, err := Accumulate(*rec, value, weight)
	if err != nil {
		return err
	}

	var sinkErr error
	if t.sink != nil {
		sinkErr = t.sink.Record(name, value)
	}

	rec.Total = total
	rec.Count = count
	rec.Average = rec.Total / rec.Count

	if sinkErr == nil {
		return nil
	}
	if t.policy == PropagateSinkErrors {
		return fmt.Errorf("%w: %q: %w", internalerrors.ErrSink, name, sinkErr)
	}
	t.logger.Warnw("sink failed", "metric", name, "error", sinkErr)
	return nil
}

// Avg returns the current average of name.
func (t *Tracker) Avg(name string) (float64, error) {
	rec, exists := t.records[name]
	if !exists {
		return 0, fmt.Errorf("avg %q: %w", name, internalerrors.ErrKeyNotFound)
	}
	return rec.Average, nil
}

// Result returns a copy of every average keyed by metric name.
func (t *Tracker) Result() map[string]float64 {
	result := make(map[string]float64, len(t.records))
	for name, rec := range t.records {
		result[name] = rec.Average
	}
	return result
}

// Record returns a copy of the record for name.
func (t *Tracker) Record(name string) (models.MetricRecord, error) {
	rec, exists := t.records[name]
	if !exists {
		return models.MetricRecord{}, fmt.Errorf("record %q: %w", name, internalerrors.ErrKeyNotFound)
	}
	return *rec, nil
}

// Records returns copies of all records in construction order.
func (t *Tracker) Records() []models.MetricRecord {
	result := make([]models.MetricRecord, 0, len(t.names))
	for _, name := range t.names {
		result = append(result, *t.records[name])
	}
	return result
}

// Restore overwrites tracked records with the given ones.
//
// Records for untracked names are rejected with ErrKeyNotFound before anything is changed.
// The average is recomputed from total and count.
func (t *Tracker) Restore(records []models.MetricRecord) error {
	for _, rec := range records {
		if _, exists := t.records[rec.Name]; !exists {
			return fmt.Errorf("restore %q: %w", rec.Name, internalerrors.ErrKeyNotFound)
		}
		if rec.Count < 0 || math.IsNaN(rec.Count) || math.IsInf(rec.Count, 0) {
			return fmt.Errorf("restore %q: count %v: %w", rec.Name, rec.Count, internalerrors.ErrInvalidArgument)
		}
		if math.IsNaN(rec.Total) || math.IsInf(rec.Total, 0) {
			return fmt.Errorf("restore %q: total %v: %w", rec.Name, rec.Total, internalerrors.ErrInvalidArgument)
		}
	}
	for _, rec := range records {
		dst := t.records[rec.Name]
		dst.Total = rec.Total
		dst.Count = rec.Count
		dst.Average = 0
		if rec.Count > 0 {
			dst.Average = rec.Total / rec.Count
		}
	}
	return nil
}

// Names returns the tracked names in construction order.
func (t *Tracker) Names() []string {
	names := make([]string, len(t.names))
	copy(names, t.names)
	return names
}
