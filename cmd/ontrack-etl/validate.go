package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ontracksystems/ontrack-etl/internal/config"
	"github.com/ontracksystems/ontrack-etl/internal/partition"
	"github.com/ontracksystems/ontrack-etl/internal/pipeline"
	"github.com/ontracksystems/ontrack-etl/internal/store"
	"github.com/ontracksystems/ontrack-etl/pkg/consolidate"
)

// runValidate checks a consolidated file: the header is present, every row
// passes the row checks and no timestamp repeats.
func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)

	file := fs.String("file", "", "Local consolidated file")
	bucket := fs.String("bucket", "", "Trusted bucket URL or name")
	object := fs.String("object", "", "Object key in -bucket")
	source := fs.String("source", "", "Source whose output to check, with -partition")
	partitionFlag := fs.String("partition", "", "Partition whose output to check, with -source")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: ontrack-etl validate [options]

Check a consolidated file. Give either -file, or -bucket with -object, or
-bucket with -source and -partition to check a published output.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	var (
		r    io.ReadCloser
		name string
	)
	switch {
	case *file != "":
		f, err := os.Open(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitGeneralError
		}
		r, name = f, *file

	case *bucket != "":
		key := *object
		if key == "" {
			if *source == "" || *partitionFlag == "" {
				fmt.Fprintln(os.Stderr, "Error: -bucket needs -object, or -source and -partition")
				fs.Usage()
				return ExitInvalidArgs
			}
			p, err := partition.Parse(*partitionFlag)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return ExitInvalidArgs
			}
			key = pipeline.OutputKey(*source, p)
		}

		ctx, cancel := signalContext()
		defer cancel()

		rc, err := openObject(ctx, config.BucketURL(*bucket), key)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitStorageError
		}
		r, name = rc, *bucket+"/"+key

	default:
		fmt.Fprintln(os.Stderr, "Error: -file or -bucket is required")
		fs.Usage()
		return ExitInvalidArgs
	}
	defer r.Close()

	result, err := consolidate.Verify(r)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	fmt.Fprintf(os.Stderr, "[ontrack] %s: %d rows | %d invalid | %d duplicate\n",
		name, result.Rows, result.InvalidRows, result.DuplicateRows)
	for _, msg := range result.Errors {
		fmt.Fprintf(os.Stderr, "[ontrack]   %s\n", msg)
	}
	if !result.Valid {
		fmt.Fprintln(os.Stderr, "[ontrack] Validation FAILED")
		return ExitValidationFailed
	}
	fmt.Fprintln(os.Stderr, "[ontrack] Validation passed")
	return ExitSuccess
}

// openObject opens key for reading; closing the reader closes the bucket.
func openObject(ctx context.Context, url, key string) (io.ReadCloser, error) {
	bkt, err := store.Open(ctx, url, store.DefaultOptions())
	if err != nil {
		return nil, err
	}
	rc, err := bkt.NewReader(ctx, key)
	if err != nil {
		bkt.Close()
		return nil, err
	}
	return &bucketReader{ReadCloser: rc, bkt: bkt}, nil
}

type bucketReader struct {
	io.ReadCloser
	bkt *store.Bucket
}

func (r *bucketReader) Close() error {
	err := r.ReadCloser.Close()
	r.bkt.Close()
	return err
}
