package consolidate

import (
	"strconv"
	"strings"
)

// Field positions inside a data row.
const (
	FieldTimestamp = 0
	FieldCPU       = 2
	FieldRAM       = 4
	FieldDisk      = 5

	// MinFields is the shortest structurally valid row.
	MinFields = 6
)

// Reason is the outcome of evaluating one data row.
type Reason string

const (
	// Accepted means the row passes every check and will be written unless
	// its timestamp was already seen.
	Accepted Reason = "accepted"
	// ShortRow means the row has fewer than MinFields fields.
	ShortRow Reason = "short_row"
	// MalformedNumber means CPU, RAM or disk did not parse as a number.
	MalformedNumber Reason = "malformed_number"
	// CPUOutOfRange means CPU is outside [0, 100].
	CPUOutOfRange Reason = "cpu_out_of_range"
	// RAMOutOfRange means RAM is outside [0, 100].
	RAMOutOfRange Reason = "ram_out_of_range"
	// DiskOutOfRange means disk is negative.
	DiskOutOfRange Reason = "disk_out_of_range"
	// Duplicate means an earlier row carried the same timestamp.
	Duplicate Reason = "duplicate"
	// Malformed means the CSV decoder could not parse the record.
	Malformed Reason = "malformed_record"
)

// Reasons lists every drop reason in a stable order.
var Reasons = []Reason{ShortRow, MalformedNumber, CPUOutOfRange, RAMOutOfRange, DiskOutOfRange, Duplicate, Malformed}

// CheckRow evaluates the shape and value checks for one data row.
// It never reports Duplicate; deduplication needs the state held by a Merger.
func CheckRow(fields []string) Reason {
	if len(fields) < MinFields {
		return ShortRow
	}

	cpu, ok := parseNumber(fields[FieldCPU])
	if !ok {
		return MalformedNumber
	}
	ram, ok := parseNumber(fields[FieldRAM])
	if !ok {
		return MalformedNumber
	}
	disk, ok := parseNumber(fields[FieldDisk])
	if !ok {
		return MalformedNumber
	}

	// Written as negated ranges so NaN fails every check.
	if !(cpu >= 0 && cpu <= 100) {
		return CPUOutOfRange
	}
	if !(ram >= 0 && ram <= 100) {
		return RAMOutOfRange
	}
	if !(disk >= 0) {
		return DiskOutOfRange
	}
	return Accepted
}

func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
