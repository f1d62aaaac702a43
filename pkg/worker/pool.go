package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/ntscope/metric"
)

// Pool runs a fixed number of goroutines that process jobs of type T from a
// bounded queue.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	jobs    chan T
	metrics *poolMetrics
	wg      sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	registry *metric.MetricsRegistry
	name     string
}

type poolMetrics struct {
	queueDepth prometheus.Gauge
	submitted  prometheus.Counter
	processed  prometheus.Counter
	failed     prometheus.Counter
	dropped    prometheus.Counter
	duration   *prometheus.HistogramVec
}

// Option configures a Pool
type Option[T any] func(*Pool[T])

// WithMetrics registers pool metrics under ntscope_<name>_*
func WithMetrics[T any](registry *metric.MetricsRegistry, name string) Option[T] {
	return func(p *Pool[T]) {
		p.registry = registry
		p.name = name
	}
}

// NewPool creates a stopped pool. Non-positive sizes fall back to 4 workers
// and a queue of 64.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		jobs:      make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry != nil && p.name != "" {
		p.metrics = newPoolMetrics(p.registry, p.name)
	}
	return p
}

func (p *Pool[T]) serviceName() string {
	return "worker." + p.name
}

func newPoolMetrics(registry *metric.MetricsRegistry, name string) *poolMetrics {
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ntscope",
			Subsystem: name,
			Name:      "queue_depth",
			Help:      "Jobs waiting in the queue",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ntscope",
			Subsystem: name,
			Name:      "submitted_total",
			Help:      "Jobs accepted by Submit",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ntscope",
			Subsystem: name,
			Name:      "processed_total",
			Help:      "Jobs processed",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ntscope",
			Subsystem: name,
			Name:      "failed_total",
			Help:      "Jobs whose processor returned an error",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ntscope",
			Subsystem: name,
			Name:      "dropped_total",
			Help:      "Jobs rejected because the queue was full",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ntscope",
			Subsystem: name,
			Name:      "processing_duration_seconds",
			Help:      "Time spent processing a job",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"status"}),
	}

	service := "worker." + name
	_ = registry.RegisterGauge(service, "queue_depth", m.queueDepth)
	_ = registry.RegisterCounter(service, "submitted_total", m.submitted)
	_ = registry.RegisterCounter(service, "processed_total", m.processed)
	_ = registry.RegisterCounter(service, "failed_total", m.failed)
	_ = registry.RegisterCounter(service, "dropped_total", m.dropped)
	_ = registry.RegisterHistogramVec(service, "processing_duration_seconds", m.duration)
	return m
}

// Submit queues a job without blocking. It fails with ErrQueueFull when
// every slot is taken.
func (p *Pool[T]) Submit(job T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.jobs <- job:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.queueDepth.Set(float64(len(p.jobs)))
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Start launches the workers. They exit when ctx ends or the pool stops.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx)
	}
	p.started = true
	return nil
}

// Stop closes the queue and waits up to timeout for queued jobs to finish.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started || p.stopped {
		return nil
	}
	close(p.jobs)
	p.stopped = true

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		if p.registry != nil && p.metrics != nil {
			p.registry.UnregisterService(p.serviceName())
		}
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns a snapshot of the pool counters
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.jobs),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// Stats are the pool counters
type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) work(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}

			start := time.Now()
			err := p.processor(ctx, job)
			elapsed := time.Since(start)

			if p.metrics != nil {
				status := "success"
				if err != nil {
					p.metrics.failed.Inc()
					status = "error"
				}
				p.metrics.processed.Inc()
				p.metrics.duration.WithLabelValues(status).Observe(elapsed.Seconds())
				p.metrics.queueDepth.Set(float64(len(p.jobs)))
			}
			if err != nil {
				p.failed.Add(1)
			}
			p.processed.Add(1)
		}
	}
}
