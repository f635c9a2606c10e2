package sink

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus exposes the last observed value and the observation count of
// every metric, labelled by run and metric name.
type Prometheus struct {
	run          string
	lastValue    *prometheus.GaugeVec
	observations *prometheus.CounterVec
}

// NewPrometheus registers the sink collectors on reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		lastValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "trainkit",
			Name:      "metric_last_value",
			Help:      "Last raw value observed for a tracked metric.",
		}, []string{"run", "metric"}),
		observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trainkit",
			Name:      "metric_observations_total",
			Help:      "Observations reported for a tracked metric.",
		}, []string{"run", "metric"}),
	}
	for _, c := range []prometheus.Collector{p.lastValue, p.observations} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register prometheus sink: %w", err)
		}
	}
	return p, nil
}

// ForRun returns a sink sharing the collectors of p that labels its series with run.
func (p *Prometheus) ForRun(run string) *Prometheus {
	return &Prometheus{run: run, lastValue: p.lastValue, observations: p.observations}
}

// Forget removes every series of run.
func (p *Prometheus) Forget(run string) {
	p.lastValue.DeletePartialMatch(prometheus.Labels{"run": run})
	p.observations.DeletePartialMatch(prometheus.Labels{"run": run})
}

// Record updates the series of name.
func (p *Prometheus) Record(name string, value float64) error {
	p.lastValue.WithLabelValues(p.run, name).Set(value)
	p.observations.WithLabelValues(p.run, name).Inc()
	return nil
}
