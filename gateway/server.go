package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/ntscope/errors"
	"github.com/c360/ntscope/fieldstore"
	"github.com/c360/ntscope/health"
	"github.com/c360/ntscope/metric"
	"github.com/c360/ntscope/session"
)

// Sessions is the data session the gateway serves.
type Sessions interface {
	Source() *fieldstore.Source
	Origin() (session.Origin, string)
	OnSwap(fn session.SwapFunc) func()
	OpenLog(ctx context.Context, name string, data []byte) (string, error)
	Close() error
	Health() health.Status
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the gateway logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics serves /metrics from registry and records request metrics in it
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *Server) { s.registry = registry }
}

// WithMonitor aggregates the session's health with the monitor's other
// components on /health.
func WithMonitor(monitor *health.Monitor) Option {
	return func(s *Server) { s.monitor = monitor }
}

// Server is the HTTP and websocket query surface over a session.
type Server struct {
	cfg      Config
	sessions Sessions
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	monitor  *health.Monitor
	metrics  *gatewayMetrics
	upgrader websocket.Upgrader

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	streams  sync.WaitGroup
}

// NewServer validates cfg and creates a stopped server.
func NewServer(cfg Config, sessions Sessions, opts ...Option) (*Server, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Server", "NewServer", "validate config")
	}
	if sessions == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Server", "NewServer", "session is required")
	}

	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "gateway")
	s.metrics = newMetrics(s.registry, s.logger)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Handler returns the gateway routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "GET /api/v1/fields", "fields", s.handleFields)
	s.route(mux, "GET /api/v1/value", "value", s.handleValue)
	s.route(mux, "GET /api/v1/range", "range", s.handleRange)
	s.route(mux, "GET /api/v1/playback", "playback", s.handlePlayback)
	s.route(mux, "PUT /api/v1/playback", "playback", s.handleSetPlayback)
	s.route(mux, "GET /api/v1/session", "session", s.handleSession)
	s.route(mux, "DELETE /api/v1/session", "session", s.handleCloseSession)
	s.route(mux, "POST /api/v1/logs", "logs", s.handleOpenLog)
	s.route(mux, "GET /api/v1/changes", "changes", s.handleChanges)
	s.route(mux, "GET /health", "health", s.handleHealth)
	if s.cfg.EnableCORS {
		s.route(mux, "OPTIONS /", "preflight", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}
	if s.registry != nil {
		mux.Handle("GET /metrics", s.registry.Handler())
	}
	return mux
}

// Start binds the listener and serves in the background until Stop. ctx
// bounds the change streams.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "start gateway")
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("listen on %s", s.cfg.Addr))
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}
	s.server = srv
	s.listener = ln

	go func() {
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway serve failed", "error", err)
		}
	}()
	s.logger.Info("gateway listening", "addr", ln.Addr().String())
	return nil
}

// Stop closes every change stream and shuts the server down, waiting up
// to timeout for in-flight requests.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.cancel()
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "shut down gateway")
	}

	done := make(chan struct{})
	go func() {
		s.streams.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Server", "Stop", "wait for change streams")
	}
}

// Addr returns the bound address once started, otherwise the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// route wraps h with request ids, CORS and request metrics.
func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		if s.cfg.EnableCORS {
			s.applyCORS(w, r)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)

		s.metrics.request(name, strconv.Itoa(rec.status), time.Since(started).Seconds())
		if rec.status >= http.StatusInternalServerError {
			s.logger.Warn("request failed", "route", name, "status", rec.status, "request_id", requestID)
		}
	})
}

func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if !s.originAllowed(origin) {
		return
	}
	if origin == "" {
		origin = "*"
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// checkOrigin admits same-host websocket clients, plus configured CORS
// origins when CORS is enabled.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.cfg.EnableCORS && s.originAllowed(origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

// statusRecorder captures the response code. Hijack is passed through for
// websocket upgrades.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	data, _ := json.Marshal(map[string]any{
		"error":  message,
		"status": status,
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// statusFor maps classified errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sanitizeError returns a client-safe message for err.
func sanitizeError(err error) string {
	switch {
	case errors.IsInvalid(err):
		return "invalid request"
	case errors.IsTransient(err):
		return "service temporarily unavailable"
	default:
		return "internal server error"
	}
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	if int64(len(data)) > limit {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds maximum size of %d bytes", limit))
		return nil, false
	}
	return data, true
}
