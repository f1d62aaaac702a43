package wpilog

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/ntscope/errors"
	"github.com/c360/ntscope/fieldstore"
	"github.com/c360/ntscope/metric"
	"github.com/c360/ntscope/pkg/worker"
)

// ImporterConfig sizes the decode pool.
type ImporterConfig struct {
	Workers   int `json:"workers" yaml:"workers" toml:"workers"`
	QueueSize int `json:"queue_size" yaml:"queue_size" toml:"queue_size"`
}

// DefaultImporterConfig decodes one log at a time with a short queue.
func DefaultImporterConfig() ImporterConfig {
	return ImporterConfig{Workers: 1, QueueSize: 4}
}

// Result is the outcome of one import. Snapshot holds the CBOR-encoded
// fieldstore snapshot so nothing built on the worker is shared with the
// consumer.
type Result struct {
	JobID      string        `json:"job_id"`
	Name       string        `json:"name"`
	Generation uint64        `json:"generation"`
	Snapshot   []byte        `json:"-"`
	Stats      Stats         `json:"stats"`
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"`
}

// Progress is reported while a job decodes.
type Progress struct {
	JobID    string  `json:"job_id"`
	Name     string  `json:"name"`
	Fraction float64 `json:"fraction"`
}

type importJob struct {
	id         string
	name       string
	generation uint64
	data       []byte
	opts       []fieldstore.Option
}

// ImporterOption configures an Importer
type ImporterOption func(*Importer)

// WithImportLogger sets the importer logger
func WithImportLogger(logger *slog.Logger) ImporterOption {
	return func(i *Importer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithImportMetrics records decode durations and pool metrics in registry
func WithImportMetrics(registry *metric.MetricsRegistry) ImporterOption {
	return func(i *Importer) { i.registry = registry }
}

// WithProgress sets the progress callback. It runs on worker goroutines.
func WithProgress(fn func(Progress)) ImporterOption {
	return func(i *Importer) { i.onProgress = fn }
}

// Importer decodes logs on a worker pool. Every submission carries the
// generation current when it was made; Invalidate moves the generation on
// and any result or progress from an older generation is discarded.
type Importer struct {
	pool       *worker.Pool[importJob]
	generation atomic.Uint64
	onResult   func(Result)
	onProgress func(Progress)
	logger     *slog.Logger
	registry   *metric.MetricsRegistry
	stale      atomic.Int64
}

// NewImporter creates a stopped importer delivering results to onResult,
// which runs on a worker goroutine.
func NewImporter(cfg ImporterConfig, onResult func(Result), opts ...ImporterOption) *Importer {
	i := &Importer{
		onResult: onResult,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With("component", "wpilog")

	var poolOpts []worker.Option[importJob]
	if i.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetrics[importJob](i.registry, "import"))
	}
	i.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, i.process, poolOpts...)
	return i
}

// Start launches the decode workers
func (i *Importer) Start(ctx context.Context) error {
	if err := i.pool.Start(ctx); err != nil {
		return errors.WrapInvalid(err, "Importer", "Start", "start pool")
	}
	return nil
}

// Stop waits up to timeout for queued imports
func (i *Importer) Stop(timeout time.Duration) error {
	if err := i.pool.Stop(timeout); err != nil {
		return errors.WrapTransient(err, "Importer", "Stop", "stop pool")
	}
	return nil
}

// Generation returns the current generation token
func (i *Importer) Generation() uint64 {
	return i.generation.Load()
}

// Invalidate discards every queued or running import.
func (i *Importer) Invalidate() uint64 {
	return i.generation.Add(1)
}

// Submit queues a log for decoding under the current generation and
// returns the job id.
func (i *Importer) Submit(name string, data []byte, opts ...fieldstore.Option) (string, uint64, error) {
	job := importJob{
		id:         uuid.NewString(),
		name:       name,
		generation: i.generation.Load(),
		data:       data,
		opts:       opts,
	}
	if err := i.pool.Submit(job); err != nil {
		if errors.IsTransient(err) {
			return "", 0, errors.WrapTransient(err, "Importer", "Submit", "queue import "+name)
		}
		return "", 0, errors.WrapInvalid(err, "Importer", "Submit", "queue import "+name)
	}
	i.logger.Info("log import queued", "job", job.id, "name", name, "bytes", len(data))
	return job.id, job.generation, nil
}

// Stats returns pool counters plus the number of discarded stale results.
func (i *Importer) Stats() (worker.Stats, int64) {
	return i.pool.Stats(), i.stale.Load()
}

func (i *Importer) current(gen uint64) bool {
	return i.generation.Load() == gen
}

// checkGeneration fails with ErrStaleGeneration once gen has been
// invalidated.
func (i *Importer) checkGeneration(gen uint64) error {
	if !i.current(gen) {
		return fmt.Errorf("%w: generation %d", errors.ErrStaleGeneration, gen)
	}
	return nil
}

func (i *Importer) discard(job importJob, err error) {
	i.stale.Add(1)
	i.logger.Debug("discarding stale import", "job", job.id, "name", job.name, "error", err)
}

func (i *Importer) process(ctx context.Context, job importJob) error {
	if err := i.checkGeneration(job.generation); errors.IsStale(err) {
		i.discard(job, err)
		return nil
	}

	started := time.Now()
	progress := func(f float64) {
		if i.onProgress != nil && i.current(job.generation) {
			i.onProgress(Progress{JobID: job.id, Name: job.name, Fraction: f})
		}
	}

	result := Result{JobID: job.id, Name: job.name, Generation: job.generation}
	snap, stats, err := DecodeContext(ctx, job.data, progress, job.opts...)
	result.Stats = stats
	if err == nil {
		result.Snapshot, err = fieldstore.EncodeSnapshot(snap)
	}
	result.Err = err
	result.Duration = time.Since(started)

	if i.registry != nil {
		i.registry.CoreMetrics().RecordImportDuration(result.Duration)
	}

	if err := i.checkGeneration(job.generation); errors.IsStale(err) {
		i.discard(job, err)
		return nil
	}

	if err != nil {
		i.logger.Warn("log import failed", "job", job.id, "name", job.name, "error", err)
		if i.registry != nil {
			i.registry.CoreMetrics().RecordError("wpilog", errors.Classify(err).String())
		}
	} else {
		i.logger.Info("log import finished", "job", job.id, "name", job.name,
			"records", stats.Records, "entries", stats.Entries, "skipped", stats.Skipped,
			"schema_errors", stats.SchemaErrors, "truncated", stats.Truncated, "duration", result.Duration)
	}

	if i.onResult != nil {
		i.onResult(result)
	}
	return err
}
