// Package sink provides destinations for raw metric observations.
//
// Every sink implements Record(name, value). Sinks are handed to a tracker,
// which calls Record once per update; the tracker never closes them.
package sink

import (
	"go.uber.org/multierr"
)

// Sink receives raw metric observations.
type Sink interface {
	// Record forwards a single observation.
	Record(name string, value float64) error
}

// Func adapts an ordinary function to the Sink interface.
type Func func(name string, value float64) error

// Record calls f(name, value).
func (f Func) Record(name string, value float64) error {
	return f(name, value)
}

// Nop discards every observation.
type Nop struct{}

// Record does nothing.
func (Nop) Record(string, float64) error {
	return nil
}

// Multi forwards every observation to all of its children.
type Multi []Sink

// NewMulti returns a Multi over the non-nil sinks.
func NewMulti(sinks ...Sink) Multi {
	m := make(Multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

// Record forwards the observation to every child, even after a failure,
// and returns the combined error.
func (m Multi) Record(name string, value float64) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Record(name, value))
	}
	return err
}
