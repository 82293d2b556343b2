package partition

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeZone is the civil zone the raw shards are partitioned in.
const DefaultTimeZone = "America/Sao_Paulo"

// DefaultLag is how far behind the current hour a run processes.
const DefaultLag = time.Hour

// ErrInvalid is returned for partitions whose fields fall outside their
// civil ranges or whose path can not be parsed.
var ErrInvalid = errors.New("partition: invalid partition")

// Partition identifies one civil hour.
type Partition struct {
	Year  int
	Month time.Month
	Day   int
	Hour  int
}

// LoadLocation resolves a time zone name. A failure here is a startup error;
// callers should abort before processing any source.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimeZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("partition: load time zone %q: %w", name, err)
	}
	return loc, nil
}

// Target returns the partition a run started at ref should process.
// ref is truncated to the top of its civil hour in loc before lag is
// subtracted, so the result does not depend on the minute the job runs.
func Target(ref time.Time, loc *time.Location, lag time.Duration) Partition {
	if loc == nil {
		loc = time.UTC
	}
	t := ref.In(loc)
	top := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
	return FromTime(top.Add(-lag).In(loc))
}

// FromTime returns the partition containing t, in t's location.
func FromTime(t time.Time) Partition {
	return Partition{
		Year:  t.Year(),
		Month: t.Month(),
		Day:   t.Day(),
		Hour:  t.Hour(),
	}
}

// Validate checks that every field is inside its civil range.
func (p Partition) Validate() error {
	if p.Year < 1 || p.Year > 9999 {
		return fmt.Errorf("%w: year %d", ErrInvalid, p.Year)
	}
	if p.Month < time.January || p.Month > time.December {
		return fmt.Errorf("%w: month %d", ErrInvalid, p.Month)
	}
	if p.Hour < 0 || p.Hour > 23 {
		return fmt.Errorf("%w: hour %d", ErrInvalid, p.Hour)
	}
	// time.Date normalizes day overflow (Feb 30 -> Mar 2), so a round trip
	// exposes days that do not exist in the month.
	d := time.Date(p.Year, p.Month, p.Day, 0, 0, 0, 0, time.UTC)
	if p.Day < 1 || d.Day() != p.Day {
		return fmt.Errorf("%w: day %d of %04d-%02d", ErrInvalid, p.Day, p.Year, int(p.Month))
	}
	return nil
}

// Start returns the first instant of the partition hour in loc.
func (p Partition) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(p.Year, p.Month, p.Day, p.Hour, 0, 0, 0, loc)
}

// ReadPath returns the hour-granular prefix raw shards are written under.
func (p Partition) ReadPath() string {
	return fmt.Sprintf("ano=%04d/mes=%02d/dia=%02d/hora=%02d/", p.Year, int(p.Month), p.Day, p.Hour)
}

// WritePath returns the day-granular prefix consolidated outputs land in.
func (p Partition) WritePath() string {
	return fmt.Sprintf("ano=%04d/mes=%02d/dia=%02d/", p.Year, int(p.Month), p.Day)
}

// OutputName returns the hour-qualified file name of the consolidated output.
func (p Partition) OutputName() string {
	return fmt.Sprintf("consolidado_%02d.csv", p.Hour)
}

// String implements fmt.Stringer using the read path without the trailing slash.
func (p Partition) String() string {
	return strings.TrimSuffix(p.ReadPath(), "/")
}

// Parse parses a read path such as "ano=2025/mes=03/dia=07/hora=09/".
// The trailing slash is optional. The result is validated.
func Parse(path string) (Partition, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 4 {
		return Partition{}, fmt.Errorf("%w: %q: expected ano=/mes=/dia=/hora=", ErrInvalid, path)
	}

	keys := [4]string{"ano", "mes", "dia", "hora"}
	var vals [4]int
	for i, part := range parts {
		k, v, ok := strings.Cut(part, "=")
		if !ok || k != keys[i] {
			return Partition{}, fmt.Errorf("%w: %q: segment %d must be %s=", ErrInvalid, path, i, keys[i])
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return Partition{}, fmt.Errorf("%w: %q: %s: %v", ErrInvalid, path, keys[i], err)
		}
		vals[i] = n
	}

	p := Partition{Year: vals[0], Month: time.Month(vals[1]), Day: vals[2], Hour: vals[3]}
	if err := p.Validate(); err != nil {
		return Partition{}, err
	}
	return p, nil
}
