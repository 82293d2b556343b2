package main

import (
	"fmt"
	"os"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

// Exit codes
const (
	ExitSuccess          = 0
	ExitGeneralError     = 1
	ExitInvalidArgs      = 2
	ExitConfig           = 3
	ExitStorageError     = 4
	ExitSourceFailed     = 5
	ExitValidationFailed = 6
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "run":
		return runRun(cmdArgs)
	case "serve":
		return runServe(cmdArgs)
	case "consolidate":
		return runConsolidate(cmdArgs)
	case "validate":
		return runValidate(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: ontrack-etl <command> [options]

Commands:
  run          Consolidate one hour partition for every source and publish it
  serve        Serve HTTP triggers, metrics and an optional hourly schedule
  consolidate  Merge local CSV shards into one file, no object store involved
  validate     Check a consolidated file for header, row validity and duplicates

Run 'ontrack-etl <command> -h' for command-specific help.`)
}
