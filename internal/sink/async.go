package sink

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

type observation struct {
	name  string
	value float64
}

// Async decouples a slow sink from the caller.
//
// Record enqueues the observation and returns immediately. When the queue is
// full the observation is dropped. A single worker drains the queue in order.
type Async struct {
	next    Sink
	queue   chan observation
	logger  *zap.SugaredLogger
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewAsync starts a worker forwarding to next with a queue of the given size.
func NewAsync(next Sink, size int, logger *zap.SugaredLogger) *Async {
	if size <= 0 {
		size = 1
	}
	a := &Async{
		next:   next,
		queue:  make(chan observation, size),
		logger: logger,
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for obs := range a.queue {
		if err := a.next.Record(obs.name, obs.value); err != nil {
			a.logger.Warnw("async sink failed", "metric", obs.name, "error", err)
		}
	}
}

// Record enqueues the observation without blocking.
func (a *Async) Record(name string, value float64) error {
	select {
	case a.queue <- observation{name: name, value: value}:
	default:
		a.dropped.Add(1)
		a.logger.Debugw("async sink queue is full, observation dropped", "metric", name)
	}
	return nil
}

// Dropped reports how many observations were discarded.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting observations and waits until the queue is drained.
// Record must not be called after Close.
func (a *Async) Close() error {
	a.closeOnce.Do(func() {
		close(a.queue)
	})
	<-a.done
	return nil
}
