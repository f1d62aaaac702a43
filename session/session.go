package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/ntscope/errors"
	"github.com/c360/ntscope/fieldstore"
	"github.com/c360/ntscope/health"
	"github.com/c360/ntscope/metric"
	"github.com/c360/ntscope/nt4"
	"github.com/c360/ntscope/wpilog"
)

// Origin names where the current source's data comes from.
type Origin string

const (
	OriginNone Origin = ""
	OriginLive Origin = "live"
	OriginLog  Origin = "log"
)

// Config configures a Session.
type Config struct {
	Nested bool                  `json:"nested" yaml:"nested" toml:"nested"`
	Flat   bool                  `json:"flat" yaml:"flat" toml:"flat"`
	Import wpilog.ImporterConfig `json:"import" yaml:"import" toml:"import"`

	// StopTimeout bounds how long Close waits for a live client.
	StopTimeout time.Duration `json:"stop_timeout" yaml:"stop_timeout" toml:"stop_timeout"`
}

// DefaultConfig keeps both trees and decodes one log at a time.
func DefaultConfig() Config {
	return Config{
		Nested:      true,
		Flat:        true,
		Import:      wpilog.DefaultImporterConfig(),
		StopTimeout: 5 * time.Second,
	}
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records samples, topics, imports and client metrics in registry
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *Session) { s.registry = registry }
}

// SwapFunc is called with the new source whenever the session replaces it.
type SwapFunc func(src *fieldstore.Source, origin Origin)

// Session owns the Source currently shown to consumers. Opening a log or
// connecting to a robot replaces the source; every replacement or Close
// moves the epoch on, and writers from an older epoch are ignored.
type Session struct {
	cfg      Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	importer *wpilog.Importer

	epoch atomic.Uint64

	mu      sync.RWMutex
	source  *fieldstore.Source
	origin  Origin
	name    string
	client  *nt4.Client
	pending pendingImport
	lastErr error

	swapMu  sync.Mutex
	swapSeq uint64
	swaps   map[uint64]SwapFunc

	lifecycleMu sync.Mutex
	started     bool
	startTime   time.Time
}

type pendingImport struct {
	jobID      string
	name       string
	epoch      uint64
	generation uint64
	active     bool
}

// New creates a stopped session holding an empty source.
func New(cfg Config, opts ...Option) *Session {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultConfig().StopTimeout
	}
	s := &Session{
		cfg:    cfg,
		logger: slog.Default(),
		swaps:  make(map[uint64]SwapFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session")
	s.source = s.newSource()

	importOpts := []wpilog.ImporterOption{wpilog.WithImportLogger(s.logger)}
	if s.registry != nil {
		importOpts = append(importOpts, wpilog.WithImportMetrics(s.registry))
	}
	s.importer = wpilog.NewImporter(cfg.Import, s.handleImport, importOpts...)
	return s
}

func (s *Session) storeOptions() []fieldstore.Option {
	return []fieldstore.Option{
		fieldstore.WithTrees(s.cfg.Nested, s.cfg.Flat),
		fieldstore.WithLogger(s.logger),
	}
}

func (s *Session) newSource() *fieldstore.Source {
	return fieldstore.NewSource(s.storeOptions()...)
}

// Start launches the log import workers.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Session", "Start", "start session")
	}
	if err := s.importer.Start(ctx); err != nil {
		return errors.Wrap(err, "Session", "Start", "start importer")
	}
	s.started = true
	s.startTime = time.Now()
	return nil
}

// Stop closes the current data source and stops the import workers.
func (s *Session) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false

	closeErr := s.Close()
	if err := s.importer.Stop(timeout); err != nil {
		return errors.Wrap(err, "Session", "Stop", "stop importer")
	}
	return closeErr
}

// Source returns the current source. It is never nil.
func (s *Session) Source() *fieldstore.Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

// Origin returns where the current source came from and its name: the
// server URL for live data or the file name for a log.
func (s *Session) Origin() (Origin, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.origin, s.name
}

// Epoch returns the current epoch token.
func (s *Session) Epoch() uint64 {
	return s.epoch.Load()
}

// Current reports whether epoch is still the session's epoch.
func (s *Session) Current(epoch uint64) bool {
	return s.epoch.Load() == epoch
}

// Client returns the live client, or nil when not connected live.
func (s *Session) Client() *nt4.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// OnSwap registers fn for source replacements and returns a cancel func.
func (s *Session) OnSwap(fn SwapFunc) func() {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()

	s.swapSeq++
	id := s.swapSeq
	s.swaps[id] = fn
	return func() {
		s.swapMu.Lock()
		defer s.swapMu.Unlock()
		delete(s.swaps, id)
	}
}

func (s *Session) notifySwap(src *fieldstore.Source, origin Origin) {
	s.swapMu.Lock()
	fns := make([]SwapFunc, 0, len(s.swaps))
	for _, fn := range s.swaps {
		fns = append(fns, fn)
	}
	s.swapMu.Unlock()

	for _, fn := range fns {
		fn(src, origin)
	}
}

// ConnectLive closes the current source and streams from an NT4 server
// into a new one. Every topic is subscribed with all samples. The client
// runs until Close, Stop or cancellation of ctx.
func (s *Session) ConnectLive(ctx context.Context, cfg nt4.Config) error {
	if err := s.Close(); err != nil {
		s.logger.Warn("close before connect", "error", err)
	}
	epoch := s.epoch.Load()

	src := s.newSource()
	adapter := newLiveAdapter(s, epoch, src)

	clientOpts := []nt4.Option{nt4.WithLogger(s.logger)}
	if s.registry != nil {
		clientOpts = append(clientOpts, nt4.WithMetrics(s.registry))
	}
	client, err := nt4.NewClient(cfg, adapter.callbacks(), clientOpts...)
	if err != nil {
		return errors.Wrap(err, "Session", "ConnectLive", "create client")
	}
	client.Subscribe([]string{""}, nt4.SubscriptionOptions{All: true, Prefix: true})

	s.mu.Lock()
	if !s.Current(epoch) {
		s.mu.Unlock()
		return errors.WrapTransient(errors.ErrStaleGeneration, "Session", "ConnectLive", "replaced while connecting")
	}
	s.source = src
	s.origin = OriginLive
	s.name = cfg.URL()
	s.client = client
	s.lastErr = nil
	s.mu.Unlock()

	if err := client.Start(ctx); err != nil {
		s.mu.Lock()
		if s.client == client {
			s.client = nil
		}
		s.lastErr = err
		s.mu.Unlock()
		return errors.Wrap(err, "Session", "ConnectLive", "start client")
	}

	if !s.Current(epoch) {
		// closed between the swap and Start
		_ = client.Stop(s.cfg.StopTimeout)
		return errors.WrapTransient(errors.ErrStaleGeneration, "Session", "ConnectLive", "replaced while connecting")
	}

	s.logger.Info("live session opened", "url", cfg.URL(), "epoch", epoch)
	s.notifySwap(src, OriginLive)
	return nil
}

// OpenLog closes the current source and decodes data in the background.
// The decoded source replaces the current one when the import finishes,
// unless the session has moved on by then. It returns the import job id.
func (s *Session) OpenLog(_ context.Context, name string, data []byte) (string, error) {
	if err := s.Close(); err != nil {
		s.logger.Warn("close before import", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	epoch := s.epoch.Load()
	jobID, gen, err := s.importer.Submit(name, data, s.storeOptions()...)
	if err != nil {
		return "", errors.Wrap(err, "Session", "OpenLog", "submit import")
	}
	s.pending = pendingImport{jobID: jobID, name: name, epoch: epoch, generation: gen, active: true}
	return jobID, nil
}

// Importing reports the job id of an import still in progress.
func (s *Session) Importing() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending.jobID, s.pending.active
}

// checkImport fails with ErrStaleGeneration when r is not the pending
// import of the current epoch. Callers must hold s.mu.
func (s *Session) checkImport(r wpilog.Result) error {
	p := s.pending
	if !p.active || p.jobID != r.JobID || p.generation != r.Generation || !s.Current(p.epoch) {
		return fmt.Errorf("%w: import %s", errors.ErrStaleGeneration, r.JobID)
	}
	return nil
}

// handleImport swaps in a finished import. The snapshot is restored
// without holding s.mu; the result is re-checked before the swap.
func (s *Session) handleImport(r wpilog.Result) {
	s.mu.RLock()
	err := s.checkImport(r)
	epoch := s.pending.epoch
	s.mu.RUnlock()
	if errors.IsStale(err) {
		s.logger.Debug("dropping stale import", "job", r.JobID, "name", r.Name, "error", err)
		return
	}

	var src *fieldstore.Source
	importErr := r.Err
	if importErr == nil {
		src, importErr = s.restore(r.Snapshot)
	}

	s.mu.Lock()
	if err := s.checkImport(r); errors.IsStale(err) {
		s.mu.Unlock()
		s.logger.Debug("dropping stale import", "job", r.JobID, "name", r.Name, "error", err)
		return
	}
	s.pending = pendingImport{}
	s.lastErr = importErr
	if importErr == nil {
		s.source = src
		s.origin = OriginLog
		s.name = r.Name
	}
	s.mu.Unlock()

	if importErr != nil {
		if r.Err == nil {
			s.logger.Error("restore imported log", "name", r.Name, "error", importErr)
		}
		return
	}

	if s.registry != nil {
		ref, _ := src.Lookup("/")
		s.registry.CoreMetrics().RecordTopics(string(OriginLog), len(ref.Children))
	}
	s.logger.Info("log session opened", "name", r.Name, "records", r.Stats.Records, "epoch", epoch)
	s.notifySwap(src, OriginLog)
}

func (s *Session) restore(data []byte) (*fieldstore.Source, error) {
	snap, err := fieldstore.DecodeSnapshot(data)
	if err != nil {
		return nil, errors.Wrap(err, "Session", "restore", "decode snapshot")
	}
	src, err := fieldstore.FromSerialized(snap, fieldstore.DefaultValueRegistry(), s.storeOptions()...)
	if err != nil {
		return nil, errors.Wrap(err, "Session", "restore", "restore snapshot")
	}
	return src, nil
}

// Close detaches the current data source: the epoch moves on, pending
// imports are invalidated and a live client is stopped. The source keeps
// the data received so far. Close must not be called from an NT4 callback.
func (s *Session) Close() error {
	s.epoch.Add(1)
	s.importer.Invalidate()

	s.mu.Lock()
	client := s.client
	s.client = nil
	s.pending = pendingImport{}
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.Stop(s.cfg.StopTimeout); err != nil {
		return errors.Wrap(err, "Session", "Close", "stop client")
	}
	s.logger.Info("live session closed", "client", client.Name())
	return nil
}

// Health reports the live client's health when connected live, otherwise
// whether the last import succeeded.
func (s *Session) Health() health.Status {
	s.mu.RLock()
	client := s.client
	origin := s.origin
	lastErr := s.lastErr
	importing := s.pending.active
	s.mu.RUnlock()

	var status health.Status
	switch {
	case client != nil:
		status = health.Aggregate("session", []health.Status{client.Health()})
	case lastErr != nil:
		status = health.FromError("session", lastErr)
	case importing:
		status = health.NewDegraded("session", "importing log")
	case origin == OriginNone:
		status = health.NewHealthy("session", "no data source")
	default:
		status = health.NewHealthy("session", "showing "+string(origin)+" data")
	}

	s.lifecycleMu.Lock()
	startTime := s.startTime
	s.lifecycleMu.Unlock()
	if !startTime.IsZero() {
		status = status.WithMetrics(&health.Metrics{Uptime: time.Since(startTime)})
	}
	return status
}
