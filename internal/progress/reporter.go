package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// Partition is the partition being consolidated (for display).
	Partition string

	// TotalSources is the number of sources, if known up front.
	// It can be set later with SetTotal.
	TotalSources int

	// Workers is the number of sources processed in parallel.
	Workers int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 1s
	UpdateInterval time.Duration
}

// Reporter outputs human-readable progress information.
// Its counters are safe for concurrent use.
type Reporter struct {
	opts Options

	mu        sync.Mutex
	total     atomic.Int32
	completed atomic.Int32
	failed    atomic.Int32
	running   atomic.Int32
	rows      atomic.Int64
	fetched   atomic.Int64
	startTime time.Time
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
	stopped   bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = time.Second
	}

	r := &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	r.total.Store(int32(opts.TotalSources))
	return r
}

// Start prints the header and begins periodic updates.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true
	r.startTime = time.Now()

	fmt.Fprintf(r.opts.Output, "[ontrack] Consolidating partition: %s\n", r.opts.Partition)
	go r.updateLoop()
}

// Stop stops periodic updates and prints the final status.
// It is safe to call more than once.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// SetTotal sets the number of sources once they have been listed.
func (r *Reporter) SetTotal(n int) {
	r.total.Store(int32(n))
	fmt.Fprintf(r.opts.Output, "[ontrack] Sources: %d | Workers: %d\n", n, r.opts.Workers)
}

// SourceStarted marks a source as in progress.
func (r *Reporter) SourceStarted() {
	r.running.Add(1)
}

// SourceCompleted marks a source as done, with the rows it wrote.
func (r *Reporter) SourceCompleted(rows int) {
	r.rows.Add(int64(rows))
	r.completed.Add(1)
	r.running.Add(-1)
}

// SourceFailed marks a source as failed (removes it from in-progress).
func (r *Reporter) SourceFailed() {
	r.failed.Add(1)
	r.running.Add(-1)
}

// ShardFetched adds size bytes to the fetched total.
func (r *Reporter) ShardFetched(size int64) {
	r.fetched.Add(size)
}

func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

func (r *Reporter) printProgress() {
	total := int(r.total.Load())
	done := int(r.completed.Load()) + int(r.failed.Load())
	running := int(r.running.Load())

	var percent float64
	if total > 0 {
		percent = float64(done) / float64(total) * 100
	}
	pending := total - done - running
	if pending < 0 {
		pending = 0
	}

	fmt.Fprintf(r.opts.Output, "[ontrack] Progress: %.1f%% | %d done | %d in-progress | %d pending | %s fetched\n",
		percent,
		done,
		running,
		pending,
		FormatBytes(r.fetched.Load()),
	)
}

func (r *Reporter) printFinalStatus() {
	fmt.Fprintf(r.opts.Output, "[ontrack] Done: %d completed | %d failed | %d rows written | %s fetched\n",
		r.completed.Load(),
		r.failed.Load(),
		r.rows.Load(),
		FormatBytes(r.fetched.Load()),
	)
	fmt.Fprintf(r.opts.Output, "[ontrack] Total time: %s\n", FormatDuration(time.Since(r.startTime)))
}

// FormatBytes formats bytes using binary units.
func FormatBytes(b int64) string {
	const (
		KiB = 1024
		MiB = KiB * 1024
		GiB = MiB * 1024
		TiB = GiB * 1024
	)

	switch {
	case b >= TiB:
		return fmt.Sprintf("%.2f TiB", float64(b)/float64(TiB))
	case b >= GiB:
		return fmt.Sprintf("%.2f GiB", float64(b)/float64(GiB))
	case b >= MiB:
		return fmt.Sprintf("%.2f MiB", float64(b)/float64(MiB))
	case b >= KiB:
		return fmt.Sprintf("%.2f KiB", float64(b)/float64(KiB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// FormatDuration formats a duration as a human-readable string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
