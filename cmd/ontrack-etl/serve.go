package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	ontrackhttp "github.com/ontracksystems/ontrack-etl/internal/http"
	"github.com/ontracksystems/ontrack-etl/internal/partition"
	"github.com/ontracksystems/ontrack-etl/internal/pipeline"
)

// runServe serves HTTP triggers and, when a schedule is set, runs the
// pipeline for the target partition at that interval.
func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)

	var pf pipelineFlags
	pf.register(fs)
	listen := fs.String("listen", "", "Listen address (default :8080)")
	schedule := fs.Duration("schedule", 0, "Run interval, e.g. 1h (default disabled)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: ontrack-etl serve [options]

Serve POST /run, GET /status, GET /healthz and GET /metrics.
With -schedule, a run for the target partition starts at every interval.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := pf.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfig
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if *schedule > 0 {
		cfg.Schedule = *schedule
	}

	loc, err := partition.LoadLocation(cfg.TimeZone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfig
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return ExitConfig
	}
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	raw, trusted, err := openBuckets(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer raw.Close()
	defer trusted.Close()

	runner := pipeline.NewRunner(raw, trusted, pipeline.Options{
		Workers:    cfg.Workers,
		StagingDir: cfg.StagingDir,
		Sources:    cfg.Sources,
		Timeout:    cfg.RunTimeout,
		Metrics:    pipeline.NewMetrics(prometheus.DefaultRegisterer),
		Logger:     logger,
	})

	srv := ontrackhttp.NewServer(runner, ontrackhttp.Options{
		Addr:     cfg.ListenAddr,
		Schedule: cfg.Schedule,
		Location: loc,
		Lag:      cfg.Lag,
		Logger:   logger,
	})

	logger.Info("starting ontrack-etl server",
		zap.String("addr", cfg.ListenAddr),
		zap.String("raw_bucket", raw.URL()),
		zap.String("trusted_bucket", trusted.URL()),
		zap.Duration("schedule", cfg.Schedule),
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server error", zap.Error(err))
		return ExitGeneralError
	}
	return ExitSuccess
}
