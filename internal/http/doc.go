// Package http exposes the consolidation pipeline over HTTP.
//
// The server handles:
//   - POST /run to consolidate a partition on demand
//   - GET /status with the summary of the last run
//   - GET /healthz for liveness probes
//   - GET /metrics in the Prometheus text format
//
// An optional schedule triggers a run for the target partition at a fixed
// interval. Only one run executes at a time; a trigger that arrives while a
// run is in progress is answered with 409 Conflict.
//
// # Usage
//
//	srv := http.NewServer(runner, http.Options{
//	    Addr:     ":8080",
//	    Schedule: time.Hour,
//	    Location: loc,
//	    Lag:      time.Hour,
//	    Logger:   logger,
//	})
//	err := srv.ListenAndServe(ctx)
//
// # Triggering a Run
//
//	POST /run                                       target partition for now
//	POST /run?at=2025-03-07T10:15:00-03:00          target partition for an instant
//	POST /run?partition=ano=2025/mes=03/dia=07/hora=09/
//
// The response is the run summary as JSON. It is 200 when no source failed
// and 500 otherwise.
package http
