package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ontracksystems/ontrack-etl/internal/partition"
	"github.com/ontracksystems/ontrack-etl/internal/progress"
	"github.com/ontracksystems/ontrack-etl/internal/store"
	"github.com/ontracksystems/ontrack-etl/pkg/consolidate"
)

// Options configures a Runner.
type Options struct {
	// Workers is the number of sources processed in parallel.
	// Default: 4
	Workers int

	// StagingDir is the root of the local staging area. Each source gets
	// <StagingDir>/<source>/<read path>, which is cleared before use.
	// Default: $TMPDIR/ontrack-etl
	StagingDir string

	// Sources restricts the run to these sources. Names may be given with
	// or without the trailing slash. Empty means every listed source.
	Sources []string

	// Timeout bounds a whole run. Sources not started before it expires
	// are reported as failed. Zero disables the timeout.
	Timeout time.Duration

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// Metrics is optional.
	Metrics *Metrics

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Status is the outcome of one source.
type Status string

const (
	// StatusPublished means a consolidated file was uploaded.
	StatusPublished Status = "published"
	// StatusNoData means no shards exist for the partition.
	StatusNoData Status = "no_data"
	// StatusEmpty means shards exist but none had a single row.
	StatusEmpty Status = "empty"
	// StatusFailed means the source must be retried by a later run.
	StatusFailed Status = "failed"
)

// SourceResult records what happened to one source.
type SourceResult struct {
	Source       string
	Status       Status
	Shards       int    // shards listed
	FailedShards int    // shards skipped because they could not be fetched
	Output       string // destination key when published
	Stats        consolidate.Stats
	Duration     time.Duration
	Err          error
}

// Report describes a finished run.
type Report struct {
	RunID     string
	Partition partition.Partition
	Started   time.Time
	Duration  time.Duration
	Sources   []SourceResult // in listing order
}

// Count returns the number of sources with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Sources {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Failed returns the number of failed sources.
func (r *Report) Failed() int {
	return r.Count(StatusFailed)
}

// Err returns a *RunError if any source failed, nil otherwise.
func (r *Report) Err() error {
	var failed []SourceResult
	for _, res := range r.Sources {
		if res.Status == StatusFailed {
			failed = append(failed, res)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &RunError{Partition: r.Partition, Total: len(r.Sources), Failed: failed}
}

// RunError is returned by Report.Err when one or more sources failed.
// Use errors.As to extract it and inspect Failed for details.
type RunError struct {
	Partition partition.Partition
	Total     int
	Failed    []SourceResult
}

func (e *RunError) Error() string {
	names := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		names[i] = fmt.Sprintf("%s (%v)", f.Source, f.Err)
	}
	return fmt.Sprintf("pipeline: %d of %d sources failed for %s: %s",
		len(e.Failed), e.Total, e.Partition, strings.Join(names, "; "))
}

// Unwrap returns the per-source errors.
func (e *RunError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

// Runner consolidates one partition across the sources of the raw bucket
// and publishes the results to the trusted bucket.
type Runner struct {
	raw     *store.Bucket
	trusted *store.Bucket
	opts    Options
	log     *zap.Logger
	metrics *Metrics
}

// NewRunner returns a Runner reading from raw and publishing to trusted.
// The buckets are not closed by the Runner.
func NewRunner(raw, trusted *store.Bucket, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.StagingDir == "" {
		opts.StagingDir = filepath.Join(os.TempDir(), "ontrack-etl")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Runner{
		raw:     raw,
		trusted: trusted,
		opts:    opts,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
}

// Run consolidates partition p for every source.
//
// Returns an error only if p is invalid or the sources can not be listed.
// Per-source failures are recorded in the Report; see Report.Err.
func (r *Runner) Run(ctx context.Context, p partition.Partition) (*Report, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	report := &Report{
		RunID:     uuid.NewString(),
		Partition: p,
		Started:   time.Now(),
	}
	log := r.log.With(zap.String("run_id", report.RunID), zap.Stringer("partition", p))

	sources, err := ListSources(ctx, r.raw)
	if err != nil {
		r.metrics.runAborted()
		log.Error("listing sources failed", zap.Error(err))
		return nil, err
	}
	sources = filterSources(sources, r.opts.Sources)
	report.Sources = make([]SourceResult, len(sources))

	if r.opts.Progress != nil {
		r.opts.Progress.SetTotal(len(sources))
	}
	log.Info("run started", zap.Int("sources", len(sources)), zap.Int("workers", r.opts.Workers))

	g := new(errgroup.Group)
	g.SetLimit(r.opts.Workers)
	for i, source := range sources {
		if err := ctx.Err(); err != nil {
			report.Sources[i] = SourceResult{Source: source, Status: StatusFailed, Err: err}
			r.metrics.sourceFinished(report.Sources[i])
			continue
		}
		g.Go(func() error {
			report.Sources[i] = r.runSource(ctx, p, source, log)
			return nil
		})
	}
	g.Wait()

	report.Duration = time.Since(report.Started)
	r.metrics.runFinished(report, report.Duration)
	log.Info("run finished",
		zap.Int("published", report.Count(StatusPublished)),
		zap.Int("no_data", report.Count(StatusNoData)),
		zap.Int("empty", report.Count(StatusEmpty)),
		zap.Int("failed", report.Failed()),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// runSource runs list, fetch, consolidate and publish for one source.
func (r *Runner) runSource(ctx context.Context, p partition.Partition, source string, log *zap.Logger) (res SourceResult) {
	start := time.Now()
	res.Source = source
	log = log.With(zap.String("source", source))
	if r.opts.Progress != nil {
		r.opts.Progress.SourceStarted()
	}

	defer func() {
		res.Duration = time.Since(start)
		r.metrics.sourceFinished(res)
		if r.opts.Progress != nil {
			if res.Status == StatusFailed {
				r.opts.Progress.SourceFailed()
			} else {
				r.opts.Progress.SourceCompleted(res.Stats.RowsWritten)
			}
		}

		switch res.Status {
		case StatusFailed:
			log.Error("source failed", zap.Error(res.Err), zap.Duration("duration", res.Duration))
		case StatusPublished:
			log.Info("source published",
				zap.String("output", res.Output),
				zap.Int("shards", res.Shards),
				zap.Int("failed_shards", res.FailedShards),
				zap.Int("rows_written", res.Stats.RowsWritten),
				zap.Int("rows_dropped", res.Stats.DroppedTotal()),
				zap.Duration("duration", res.Duration),
			)
		default:
			log.Info("source skipped", zap.String("status", string(res.Status)), zap.Int("shards", res.Shards))
		}
	}()

	fail := func(err error) SourceResult {
		res.Status = StatusFailed
		res.Err = err
		return res
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	readPath := p.ReadPath()
	shards, err := ListShards(ctx, r.raw, source, readPath)
	if err != nil {
		return fail(err)
	}
	res.Shards = len(shards)
	if len(shards) == 0 {
		res.Status = StatusNoData
		return res
	}

	dir, err := StagingPath(r.opts.StagingDir, source, readPath)
	if err != nil {
		return fail(err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fail(fmt.Errorf("pipeline: clear staging: %w", err))
	}

	fetched, err := r.FetchAll(ctx, shards, source+readPath, filepath.Join(dir, "shards"), log)
	res.FailedShards = fetched.Failed
	if err != nil {
		return fail(err)
	}
	if len(fetched.Paths) == 0 {
		return fail(fmt.Errorf("pipeline: all %d shards failed to fetch", len(shards)))
	}

	output := filepath.Join(dir, p.OutputName())
	merged, err := consolidate.ConsolidateFiles(fetched.Paths, output)
	if err != nil {
		return fail(err)
	}
	res.Stats = merged.Stats

	if !merged.Produced {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn("clearing staging failed", zap.String("dir", dir), zap.Error(err))
		}
		res.Status = StatusEmpty
		return res
	}

	key := OutputKey(source, p)
	if err := Publish(ctx, r.trusted, output, key, dir); err != nil {
		if !errors.Is(err, ErrCleanup) {
			return fail(err)
		}
		log.Warn("output published but staging not removed", zap.String("dir", dir), zap.Error(err))
	}
	res.Status = StatusPublished
	res.Output = key
	return res
}

// StagingPath returns <root>/<source>/<readPath> using the local separator.
// It rejects sources or paths that would resolve outside root.
func StagingPath(root, source, readPath string) (string, error) {
	dir := filepath.Join(root, filepath.FromSlash(source), filepath.FromSlash(readPath))
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, source+readPath)
	}
	return dir, nil
}

// filterSources keeps the sources named in want, preserving listing order.
func filterSources(sources, want []string) []string {
	if len(want) == 0 {
		return sources
	}
	keep := make(map[string]bool, len(want))
	for _, w := range want {
		keep[strings.TrimSuffix(w, "/")+"/"] = true
	}
	out := sources[:0:0]
	for _, s := range sources {
		if keep[s] {
			out = append(out, s)
		}
	}
	return out
}
