package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ontracksystems/ontrack-etl/internal/config"
	"github.com/ontracksystems/ontrack-etl/internal/store"
)

// pipelineFlags are the flags shared by run and serve. Flag values override
// the environment, which overrides the config file.
type pipelineFlags struct {
	configPath string
	raw        string
	trusted    string
	timeZone   string
	stagingDir string
	sources    string
	logLevel   string
	workers    int
	timeout    time.Duration
}

func (f *pipelineFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "Path to YAML config file")
	fs.StringVar(&f.raw, "raw-bucket", "", "Raw bucket URL or name (env ONTRACK_RAW_BUCKET, BUCKET_RAW)")
	fs.StringVar(&f.trusted, "trusted-bucket", "", "Trusted bucket URL or name (env ONTRACK_TRUSTED_BUCKET, BUCKET_TRUSTED)")
	fs.StringVar(&f.timeZone, "time-zone", "", "Time zone of the partition clock (default America/Sao_Paulo)")
	fs.StringVar(&f.stagingDir, "staging-dir", "", "Local staging directory")
	fs.StringVar(&f.sources, "source", "", "Comma-separated sources to process (default all)")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.IntVar(&f.workers, "workers", 0, "Number of sources processed in parallel (default 4)")
	fs.DurationVar(&f.timeout, "timeout", 0, "Run timeout (default 15m)")
}

// load builds the effective configuration and validates it.
func (f *pipelineFlags) load() (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		cfg, err = config.LoadFromFile(f.configPath)
		if err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	override := config.Config{
		RawBucket:     f.raw,
		TrustedBucket: f.trusted,
		TimeZone:      f.timeZone,
		StagingDir:    f.stagingDir,
		LogLevel:      f.logLevel,
		Workers:       f.workers,
		RunTimeout:    f.timeout,
	}
	if f.sources != "" {
		override.Sources = strings.Split(f.sources, ",")
	}
	cfg = cfg.Merge(override)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// newLogger builds a production zap logger writing JSON to stderr.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logConfig := zap.NewProductionConfig()
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logConfig.Level = zap.NewAtomicLevelAt(lvl)
	return logConfig.Build()
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n[ontrack] Received interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// openBuckets opens the raw and trusted buckets. On error nothing is left open.
func openBuckets(ctx context.Context, cfg config.Config) (raw, trusted *store.Bucket, err error) {
	opts := cfg.StoreOptions()
	raw, err = store.Open(ctx, config.BucketURL(cfg.RawBucket), opts)
	if err != nil {
		return nil, nil, err
	}
	trusted, err = store.Open(ctx, config.BucketURL(cfg.TrustedBucket), opts)
	if err != nil {
		raw.Close()
		return nil, nil, err
	}
	return raw, trusted, nil
}
