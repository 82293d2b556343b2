// Package consolidate merges hourly CSV shards into a single deduplicated,
// validated CSV file.
//
// Every shard is expected to carry its own header row. The output keeps the
// header of the first shard that has at least one row and drops the header of
// every other shard. Data rows are filtered and deduplicated:
//
//   - rows with fewer than six fields are dropped
//   - fields 2, 4 and 5 (CPU %, RAM %, disk) must parse as numbers
//   - CPU and RAM must lie in [0, 100], disk must be >= 0
//   - field 0 (the timestamp) is compared as a raw string; the first row
//     carrying a timestamp wins and later rows with the same value are dropped
//
// Filtered rows are data, not faults: they are counted in [Stats] and never
// returned as errors. The only errors are failures to create or write the
// output.
//
// # Byte fidelity
//
// Header and data rows are copied as the exact bytes they had in their shard
// (a missing trailing newline is added), so consolidating the same shards
// twice yields identical output.
//
// # Usage
//
//	res, err := consolidate.ConsolidateFiles([]string{"a.csv", "b.csv"}, "out.csv")
//	if err != nil {
//	    return err
//	}
//	if !res.Produced {
//	    // every shard was empty; out.csv was not created
//	}
//
// Use [CheckRow] to evaluate a single row and [Verify] to check an existing
// consolidated file.
package consolidate
