package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ontracksystems/ontrack-etl/internal/partition"
	"github.com/ontracksystems/ontrack-etl/internal/pipeline"
)

// Common errors.
var (
	ErrBusy      = errors.New("http: a run is already in progress")
	ErrBadTarget = errors.New("http: invalid run target")
)

// Runner runs the pipeline for one partition.
type Runner interface {
	Run(ctx context.Context, p partition.Partition) (*pipeline.Report, error)
}

// Options configures the server.
type Options struct {
	// Addr is the listen address.
	// Default: :8080
	Addr string

	// Schedule triggers a run at this interval. Zero disables it.
	Schedule time.Duration

	// Location and Lag select the target partition for triggers that do not
	// name one. Default: America/Sao_Paulo and one hour.
	Location *time.Location
	Lag      time.Duration

	// Gatherer backs /metrics.
	// Default: prometheus.DefaultGatherer
	Gatherer prometheus.Gatherer

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

// Server triggers pipeline runs over HTTP and on a schedule.
type Server struct {
	runner Runner
	opts   Options
	log    *zap.Logger

	mu      sync.Mutex
	running bool
	last    *Summary
}

// NewServer creates a server that triggers runner.
func NewServer(runner Runner, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.Location == nil {
		opts.Location, _ = partition.LoadLocation("")
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{runner: runner, opts: opts, log: opts.Logger}
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /run", s.handleRun)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully,
// waiting for an in-flight run to finish its request.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("http: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	schedCtx, stopSchedule := context.WithCancel(ctx)
	defer stopSchedule()

	var wg sync.WaitGroup
	if s.opts.Schedule > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.schedule(schedCtx)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", zap.String("addr", ln.Addr().String()), zap.Duration("schedule", s.opts.Schedule))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		stopSchedule()
		wg.Wait()
		return fmt.Errorf("http: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	wg.Wait()
	<-errCh
	if err != nil {
		return fmt.Errorf("http: shutdown: %w", err)
	}
	return nil
}

// Trigger runs the pipeline for p unless a run is already in progress, in
// which case it returns ErrBusy without waiting.
func (s *Server) Trigger(ctx context.Context, p partition.Partition) (*Summary, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	report, err := s.runner.Run(ctx, p)
	if err != nil {
		return nil, err
	}

	summary := Summarize(report)
	s.mu.Lock()
	s.last = summary
	s.mu.Unlock()
	return summary, nil
}

// Last returns the summary of the last completed run, or nil.
func (s *Server) Last() *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Target returns the partition a trigger without an explicit target uses.
func (s *Server) Target() partition.Partition {
	return partition.Target(s.opts.Now(), s.opts.Location, s.opts.Lag)
}

func (s *Server) schedule(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Schedule)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p := s.Target()
			summary, err := s.Trigger(ctx, p)
			switch {
			case errors.Is(err, ErrBusy):
				s.log.Warn("scheduled run skipped, previous run still in progress", zap.Stringer("partition", p))
			case err != nil:
				s.log.Error("scheduled run failed", zap.Stringer("partition", p), zap.Error(err))
			default:
				s.log.Info("scheduled run finished", zap.String("run_id", summary.RunID), zap.Int("failed", summary.Failed))
			}
		}
	}
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	p, err := s.parseTarget(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// A dropped client connection must not abort the run.
	summary, err := s.Trigger(context.WithoutCancel(r.Context()), p)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	code := http.StatusOK
	if summary.Failed > 0 {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, summary)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	last := s.Last()
	if last == nil {
		writeError(w, http.StatusNotFound, errors.New("no run has completed yet"))
		return
	}
	writeJSON(w, http.StatusOK, last)
}

// parseTarget reads the partition from the "partition" or "at" query
// parameters, falling back to Target.
func (s *Server) parseTarget(r *http.Request) (partition.Partition, error) {
	q := r.URL.Query()
	if v := q.Get("partition"); v != "" {
		p, err := partition.Parse(v)
		if err != nil {
			return partition.Partition{}, fmt.Errorf("%w: %w", ErrBadTarget, err)
		}
		return p, nil
	}
	if v := q.Get("at"); v != "" {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return partition.Partition{}, fmt.Errorf("%w: %w", ErrBadTarget, err)
		}
		return partition.Target(at, s.opts.Location, s.opts.Lag), nil
	}
	return s.Target(), nil
}

// statusFor maps an error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrBusy):
		return http.StatusConflict
	case errors.Is(err, partition.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
