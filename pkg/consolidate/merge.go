package consolidate

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// Stats counts what happened to the shards and rows offered to a Merger.
type Stats struct {
	Shards        int            // shards offered, including empty and skipped ones
	EmptyShards   int            // shards without a single row
	SkippedShards int            // shards that could not be read
	RowsRead      int            // data rows seen, headers excluded
	RowsWritten   int            // data rows written to the output
	Dropped       map[Reason]int // data rows dropped, by reason
}

// DroppedTotal returns the number of dropped data rows.
func (s Stats) DroppedTotal() int {
	n := 0
	for _, c := range s.Dropped {
		n += c
	}
	return n
}

// Result describes a finished consolidation.
type Result struct {
	// Produced is false when no shard had a single row; in that case no
	// output was created.
	Produced bool
	// Output is the path of the consolidated file when Produced is set by
	// ConsolidateFiles.
	Output string
	Stats  Stats
}

// Merger holds the state of one consolidation: the set of timestamps already
// written, whether the header has been written, and the output writer.
// A Merger must not be reused across consolidations.
type Merger struct {
	open   func() (io.Writer, error)
	w      io.Writer
	seen   map[string]struct{}
	header bool
	stats  Stats
}

// NewMerger returns a Merger that calls open the first time it has something
// to write. If every shard is empty, open is never called.
func NewMerger(open func() (io.Writer, error)) *Merger {
	return &Merger{
		open:  open,
		seen:  make(map[string]struct{}),
		stats: Stats{Dropped: make(map[Reason]int)},
	}
}

// Add merges one shard. The shard's first row is treated as its header: it
// becomes the output header if none has been written yet and is discarded
// otherwise. Only failures to open or write the output are returned.
func (m *Merger) Add(data []byte) error {
	m.stats.Shards++

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	var prev int64
	first := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		off := r.InputOffset()
		raw := data[prev:off]
		prev = off

		if first {
			first = false
			if !m.header {
				if err := m.write(raw); err != nil {
					return err
				}
				m.header = true
			}
			continue
		}

		m.stats.RowsRead++
		if err != nil {
			m.stats.Dropped[Malformed]++
			continue
		}
		if reason := CheckRow(rec); reason != Accepted {
			m.stats.Dropped[reason]++
			continue
		}

		ts := rec[FieldTimestamp]
		if _, dup := m.seen[ts]; dup {
			m.stats.Dropped[Duplicate]++
			continue
		}
		m.seen[ts] = struct{}{}

		if err := m.write(raw); err != nil {
			return err
		}
		m.stats.RowsWritten++
	}

	if first {
		m.stats.EmptyShards++
	}
	return nil
}

// Skip records a shard that could not be read.
func (m *Merger) Skip() {
	m.stats.Shards++
	m.stats.SkippedShards++
}

// Produced reports whether a header has been written.
func (m *Merger) Produced() bool {
	return m.header
}

// Stats returns a copy of the counters.
func (m *Merger) Stats() Stats {
	s := m.stats
	s.Dropped = make(map[Reason]int, len(m.stats.Dropped))
	for k, v := range m.stats.Dropped {
		s.Dropped[k] = v
	}
	return s
}

// write copies one raw record to the output, opening it on first use.
// Blank lines the decoder skipped before the record are trimmed and a
// trailing newline is added when the shard did not end with one.
func (m *Merger) write(raw []byte) error {
	if m.w == nil {
		w, err := m.open()
		if err != nil {
			return err
		}
		m.w = w
	}

	raw = bytes.TrimLeft(raw, "\r\n")
	if _, err := m.w.Write(raw); err != nil {
		return fmt.Errorf("consolidate: write output: %w", err)
	}
	if len(raw) == 0 || raw[len(raw)-1] != '\n' {
		if _, err := m.w.Write([]byte{'\n'}); err != nil {
			return fmt.Errorf("consolidate: write output: %w", err)
		}
	}
	return nil
}

// Consolidate merges shards, in order, into w. Nothing is written to w when
// every shard is empty. Shards that fail to read are skipped.
func Consolidate(w io.Writer, shards ...io.Reader) (*Result, error) {
	m := NewMerger(func() (io.Writer, error) { return w, nil })
	for _, s := range shards {
		data, err := io.ReadAll(s)
		if err != nil {
			m.Skip()
			continue
		}
		if err := m.Add(data); err != nil {
			return nil, err
		}
	}
	return &Result{Produced: m.Produced(), Stats: m.Stats()}, nil
}

// ConsolidateFiles merges the shard files at paths, in order, into output.
//
// Any file already at output is removed first. The output is created only
// when the first non-empty shard is reached, so when every shard is empty
// the result has Produced == false and no file exists at output. Shards that
// are missing or unreadable are skipped and counted in Stats.SkippedShards.
//
// Returns an error if:
//   - A stale output can not be removed
//   - The output can not be created, written or closed (a partial output is removed)
func ConsolidateFiles(paths []string, output string) (*Result, error) {
	if err := os.Remove(output); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("consolidate: remove stale output: %w", err)
	}

	out := &fileOutput{path: output}
	m := NewMerger(out.open)

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			m.Skip()
			continue
		}
		if err := m.Add(data); err != nil {
			out.abort()
			return nil, err
		}
	}

	if err := out.close(); err != nil {
		out.abort()
		return nil, fmt.Errorf("consolidate: close output: %w", err)
	}

	res := &Result{Produced: m.Produced(), Stats: m.Stats()}
	if res.Produced {
		res.Output = output
	}
	return res, nil
}

// fileOutput creates its file lazily.
type fileOutput struct {
	path string
	f    *os.File
	bw   *bufio.Writer
}

func (o *fileOutput) open() (io.Writer, error) {
	f, err := os.Create(o.path)
	if err != nil {
		return nil, fmt.Errorf("consolidate: create output: %w", err)
	}
	o.f = f
	o.bw = bufio.NewWriter(f)
	return o.bw, nil
}

func (o *fileOutput) close() error {
	if o.f == nil {
		return nil
	}
	if err := o.bw.Flush(); err != nil {
		return err
	}
	err := o.f.Close()
	o.f = nil
	return err
}

// abort closes and removes a partially written output.
func (o *fileOutput) abort() {
	if o.f != nil {
		o.f.Close()
		o.f = nil
	}
	os.Remove(o.path)
}
