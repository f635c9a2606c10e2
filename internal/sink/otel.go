package sink

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var attrMetric = attribute.Key("metric")

// OTel records observations on an OpenTelemetry histogram.
type OTel struct {
	values metric.Float64Histogram
	attrs  []attribute.KeyValue
}

// NewOTel creates the instrument on the meter. attrs are attached to every
// measurement.
func NewOTel(m metric.Meter, attrs ...attribute.KeyValue) (*OTel, error) {
	hist, err := m.Float64Histogram("trainkit.metric.value",
		metric.WithDescription("Raw values reported for tracked metrics."))
	if err != nil {
		return nil, fmt.Errorf("create otel histogram: %w", err)
	}
	return &OTel{values: hist, attrs: attrs}, nil
}

// With returns a sink sharing the instrument of o that adds attrs to every measurement.
func (o *OTel) With(attrs ...attribute.KeyValue) *OTel {
	merged := make([]attribute.KeyValue, 0, len(o.attrs)+len(attrs))
	merged = append(merged, o.attrs...)
	merged = append(merged, attrs...)
	return &OTel{values: o.values, attrs: merged}
}

// Record adds the value to the histogram of name.
func (o *OTel) Record(name string, value float64) error {
	attrs := make([]attribute.KeyValue, 0, len(o.attrs)+1)
	attrs = append(attrs, o.attrs...)
	attrs = append(attrs, attrMetric.String(name))
	o.values.Record(context.Background(), value, metric.WithAttributes(attrs...))
	return nil
}
