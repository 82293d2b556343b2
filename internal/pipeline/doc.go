// Package pipeline runs one hourly consolidation across every source of the
// raw bucket.
//
// A run lists the sources under the raw bucket root, then for each source
// independently:
//
//   - lists the shards under <source>/<partition read path>
//   - downloads them into a private staging directory
//   - merges them with pkg/consolidate
//   - uploads the result to <source>/<partition write path>/consolidado_HH.csv
//     in the trusted bucket and removes the staging directory
//
// # Usage
//
//	runner := pipeline.NewRunner(raw, trusted, pipeline.Options{
//	    Workers:    4,
//	    StagingDir: "/tmp/ontrack-etl",
//	    Logger:     logger,
//	    Metrics:    pipeline.NewMetrics(prometheus.DefaultRegisterer),
//	})
//
//	report, err := runner.Run(ctx, p)
//	if err != nil {
//	    // sources could not be listed
//	}
//	if err := report.Err(); err != nil {
//	    // at least one source failed; errors.As(err, &runErr)
//	}
//
// # Failure Isolation
//
// A failed shard download is logged and the shard is left out. A failed
// source is recorded in the Report and never stops the other sources. Only
// a failure to list the sources aborts the run.
package pipeline
