package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ontracksystems/ontrack-etl/pkg/consolidate"
)

// runConsolidate merges local shard files into one consolidated file.
func runConsolidate(args []string) int {
	fs := flag.NewFlagSet("consolidate", flag.ExitOnError)

	output := fs.String("output", "", "Output file path, or - for stdout (required)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: ontrack-etl consolidate -output <file> <shard.csv>...

Merge local CSV shards, in the order given, into one file. The header is
taken from the first non-empty shard. Rows with fewer than six fields,
non-numeric or out-of-range CPU, RAM or disk values, and repeated
timestamps are dropped. No file is written when every shard is empty.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	shards := fs.Args()
	if *output == "" || len(shards) == 0 {
		fmt.Fprintln(os.Stderr, "Error: -output and at least one shard are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	var (
		res *consolidate.Result
		err error
	)
	if *output == "-" {
		res, err = consolidateToStdout(shards)
	} else {
		res, err = consolidate.ConsolidateFiles(shards, *output)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}

	s := res.Stats
	fmt.Fprintf(os.Stderr, "[ontrack] Shards: %d (%d empty, %d skipped)\n", s.Shards, s.EmptyShards, s.SkippedShards)
	fmt.Fprintf(os.Stderr, "[ontrack] Rows: %d read | %d written | %d dropped\n", s.RowsRead, s.RowsWritten, s.DroppedTotal())
	for _, reason := range consolidate.Reasons {
		if n := s.Dropped[reason]; n > 0 {
			fmt.Fprintf(os.Stderr, "[ontrack]   %s: %d\n", reason, n)
		}
	}
	if !res.Produced {
		fmt.Fprintln(os.Stderr, "[ontrack] All shards empty, no output written")
	} else if res.Output != "" {
		fmt.Fprintf(os.Stderr, "[ontrack] Output: %s\n", res.Output)
	}
	return ExitSuccess
}

func consolidateToStdout(paths []string) (*consolidate.Result, error) {
	readers := make([]io.Reader, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			// Consolidate skips a shard whose reader fails.
			readers = append(readers, errReader{err})
			continue
		}
		defer f.Close()
		readers = append(readers, f)
	}
	return consolidate.Consolidate(os.Stdout, readers...)
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
