// Package progress provides progress reporting for consolidation runs.
//
// This package writes human-readable progress lines, one per update
// interval, with the number of sources finished, in flight and pending.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    Partition: p.String(),
//	    Workers:   4,
//	    Output:    os.Stderr,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	reporter.SetTotal(len(sources))
//	reporter.SourceStarted()
//	reporter.ShardFetched(size)
//	reporter.SourceCompleted(rowsWritten)
//
// # Output Format
//
//	[ontrack] Consolidating partition: ano=2025/mes=03/dia=07/hora=09/
//	[ontrack] Sources: 12 | Workers: 4
//	[ontrack] Progress: 41.7% | 5 done | 4 in-progress | 3 pending | 12.40 MiB fetched
//	[ontrack] Done: 11 completed | 1 failed | 18204 rows written | 31.02 MiB fetched
package progress
