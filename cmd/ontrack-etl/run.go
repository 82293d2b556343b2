package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ontracksystems/ontrack-etl/internal/partition"
	"github.com/ontracksystems/ontrack-etl/internal/pipeline"
	"github.com/ontracksystems/ontrack-etl/internal/progress"
)

// runRun consolidates one partition for every source of the raw bucket and
// publishes the results to the trusted bucket.
func runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)

	var pf pipelineFlags
	pf.register(fs)
	partitionFlag := fs.String("partition", "", "Partition to consolidate, e.g. ano=2025/mes=03/dia=07/hora=09/")
	atFlag := fs.String("at", "", "Consolidate the partition targeted at this RFC3339 instant")
	showProgress := fs.Bool("progress", false, "Show progress output")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: ontrack-etl run [options]

Consolidate one hour partition. By default the partition is the previous
civil hour in the configured time zone. Each source with shards in the
partition gets one consolidado_HH.csv in the trusted bucket.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *partitionFlag != "" && *atFlag != "" {
		fmt.Fprintln(os.Stderr, "Error: -partition and -at are mutually exclusive")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := pf.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfig
	}
	cfg.Progress = cfg.Progress || *showProgress

	loc, err := partition.LoadLocation(cfg.TimeZone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfig
	}

	var target partition.Partition
	switch {
	case *partitionFlag != "":
		target, err = partition.Parse(*partitionFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
	case *atFlag != "":
		at, err := time.Parse(time.RFC3339, *atFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid -at: %v\n", err)
			return ExitInvalidArgs
		}
		target = partition.Target(at, loc, cfg.Lag)
	default:
		target = partition.Target(time.Now(), loc, cfg.Lag)
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

	var reporter *progress.Reporter
	if cfg.Progress {
		reporter = progress.NewReporter(progress.Options{
			Partition:      target.String(),
			Workers:        cfg.Workers,
			UpdateInterval: 5 * time.Second,
		})
		reporter.Start()
		defer reporter.Stop()
	}

	runner := pipeline.NewRunner(raw, trusted, pipeline.Options{
		Workers:    cfg.Workers,
		StagingDir: cfg.StagingDir,
		Sources:    cfg.Sources,
		Timeout:    cfg.RunTimeout,
		Progress:   reporter,
		Logger:     logger,
	})

	report, err := runner.Run(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "[ontrack] Run interrupted before any source was processed")
			return ExitGeneralError
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, partition.ErrInvalid) {
			return ExitInvalidArgs
		}
		return ExitStorageError
	}

	printReport(report)

	if err := report.Err(); err != nil {
		var runErr *pipeline.RunError
		if errors.As(err, &runErr) {
			logger.Error("run finished with failed sources", zap.Int("failed", len(runErr.Failed)))
		}
		return ExitSourceFailed
	}
	return ExitSuccess
}

// printReport writes one line per source and a total line to stderr.
func printReport(report *pipeline.Report) {
	for _, res := range report.Sources {
		switch res.Status {
		case pipeline.StatusPublished:
			fmt.Fprintf(os.Stderr, "[ontrack] %s published %s (%d rows, %d dropped, %d shards)\n",
				res.Source, res.Output, res.Stats.RowsWritten, res.Stats.DroppedTotal(), res.Shards)
		case pipeline.StatusFailed:
			fmt.Fprintf(os.Stderr, "[ontrack] %s FAILED: %v\n", res.Source, res.Err)
		default:
			fmt.Fprintf(os.Stderr, "[ontrack] %s %s\n", res.Source, res.Status)
		}
	}
	fmt.Fprintf(os.Stderr, "[ontrack] Partition %s: %d published | %d no data | %d empty | %d failed | %s\n",
		report.Partition,
		report.Count(pipeline.StatusPublished),
		report.Count(pipeline.StatusNoData),
		report.Count(pipeline.StatusEmpty),
		report.Failed(),
		progress.FormatDuration(report.Duration),
	)
}
