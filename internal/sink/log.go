package sink

import "go.uber.org/zap"

// Log writes observations to a zap logger at debug level.
type Log struct {
	logger *zap.SugaredLogger
}

// NewLog creates a log sink. Observations are tagged with the given run id.
func NewLog(logger *zap.SugaredLogger, run string) *Log {
	if run != "" {
		logger = logger.With("run", run)
	}
	return &Log{logger: logger}
}

// Record logs the observation.
func (l *Log) Record(name string, value float64) error {
	l.logger.Debugw("metric observed", "metric", name, "value", value)
	return nil
}
