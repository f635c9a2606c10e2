// Package models defines the data structures shared by the tracker, the
// tracking server and its clients.
package models

import "time"

// MetricRecord holds the running state of a single tracked metric.
type MetricRecord struct {
	// Name is the unique identifier for the metric within a tracker
	Name string `json:"name"`

	// Total is the weighted sum of every reported value
	Total float64 `json:"total"`

	// Count is the sum of every reported weight
	Count float64 `json:"count"`

	// Average is Total / Count, or 0 while Count is 0
	Average float64 `json:"average"`
}

// Observation is a single raw metric report sent to the tracking server.
type Observation struct {
	// ID is the metric name
	ID string `json:"id"`

	// Value is the observed value
	Value float64 `json:"value"`

	// Weight is the observation weight (omitted means 1)
	Weight *float64 `json:"weight,omitempty"`
}

// WeightOrDefault returns the observation weight, defaulting to 1.
func (o Observation) WeightOrDefault() float64 {
	if o.Weight == nil {
		return 1
	}
	return *o.Weight
}

// RunRequest is the body of a run creation request.
type RunRequest struct {
	// ID identifies the run
	ID string `json:"id"`

	// Metrics lists the metric names tracked for the run
	Metrics []string `json:"metrics"`
}

// RunSnapshot is the persisted state of one run.
type RunSnapshot struct {
	// ID identifies the run
	ID string `json:"id"`

	// Records holds every metric record in tracking order
	Records []MetricRecord `json:"records"`
}

// EpochResult is a per-epoch checkpoint of one metric of one run.
type EpochResult struct {
	Run       string    `json:"run"`
	Epoch     int       `json:"epoch"`
	Metric    string    `json:"metric"`
	Average   float64   `json:"average"`
	Total     float64   `json:"total"`
	Count     float64   `json:"count"`
	CreatedAt time.Time `json:"created_at"`
}

// SinkEvent is one observation as written by the file sink.
type SinkEvent struct {
	// TS is the timestamp of the observation in RFC 3339 format
	TS string `json:"ts"`

	// Metric is the metric name
	Metric string `json:"metric"`

	// Value is the observed value
	Value float64 `json:"value"`
}
