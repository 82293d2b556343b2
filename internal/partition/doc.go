// Package partition derives the hourly partition a run targets and renders
// the object-store paths for it.
//
// A partition is a civil hour in a fixed time zone. The target partition is
// computed from a reference instant by moving it into the zone, truncating to
// the top of the hour and then subtracting the processing lag, so a job that
// starts at 10:02 or 10:58 both target 09:00.
//
// # Paths
//
//	read:   ano=2025/mes=03/dia=07/hora=09/
//	write:  ano=2025/mes=03/dia=07/
//	output: consolidado_09.csv
//
// Read paths select raw shards; write paths are day-granular so every hourly
// run of a day lands in the same folder.
package partition
