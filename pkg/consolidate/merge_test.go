package consolidate

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const header = "timestamp,mac,cpu,ram_gb,ram_percent,disk_percent\n"

// writeShards writes each shard body to its own file in a temp dir and
// returns the paths in order.
func writeShards(t *testing.T, shards ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(shards))
	for i, s := range shards {
		paths[i] = filepath.Join(dir, "shard-"+string(rune('a'+i))+".csv")
		if err := os.WriteFile(paths[i], []byte(s), 0644); err != nil {
			t.Fatalf("write shard: %v", err)
		}
	}
	return paths
}

func consolidateString(t *testing.T, shards ...string) (string, *Result) {
	t.Helper()
	readers := make([]io.Reader, len(shards))
	for i, s := range shards {
		readers[i] = strings.NewReader(s)
	}
	var buf bytes.Buffer
	res, err := Consolidate(&buf, readers...)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	return buf.String(), res
}

func TestConsolidateWorkedExample(t *testing.T) {
	a := header + "t1,h,50,x,60,10\n"
	b := header + "t1,h,50,x,60,10\n" + "t2,h,999,x,1,1\n"

	got, res := consolidateString(t, a, b)

	want := header + "t1,h,50,x,60,10\n"
	if got != want {
		t.Fatalf("output mismatch:\n got: %q\nwant: %q", got, want)
	}
	if !res.Produced {
		t.Error("expected Produced")
	}
	if res.Stats.Dropped[Duplicate] != 1 {
		t.Errorf("expected 1 duplicate, got %d", res.Stats.Dropped[Duplicate])
	}
	if res.Stats.Dropped[CPUOutOfRange] != 1 {
		t.Errorf("expected 1 cpu drop, got %d", res.Stats.Dropped[CPUOutOfRange])
	}
	if res.Stats.RowsRead != 3 || res.Stats.RowsWritten != 1 {
		t.Errorf("unexpected counts: read=%d written=%d", res.Stats.RowsRead, res.Stats.RowsWritten)
	}
}

func TestConsolidateShortRowDoesNotStopShard(t *testing.T) {
	s := header + "t1,h,10,x,10,1\n" + "t3,x\n" + "t4,h,20,x,20,2\n"

	got, res := consolidateString(t, s)

	want := header + "t1,h,10,x,10,1\n" + "t4,h,20,x,20,2\n"
	if got != want {
		t.Fatalf("output mismatch:\n got: %q\nwant: %q", got, want)
	}
	if res.Stats.Dropped[ShortRow] != 1 {
		t.Errorf("expected 1 short row, got %d", res.Stats.Dropped[ShortRow])
	}
}

func TestConsolidateEarliestShardWins(t *testing.T) {
	a := header + "t1,first,10,x,10,1\n"
	b := header + "t2,second,20,x,20,2\n" + "t1,second,30,x,30,3\n"
	c := header + "t2,third,40,x,40,4\n" + "t3,third,50,x,50,5\n"

	got, _ := consolidateString(t, a, b, c)

	want := header +
		"t1,first,10,x,10,1\n" +
		"t2,second,20,x,20,2\n" +
		"t3,third,50,x,50,5\n"
	if got != want {
		t.Fatalf("output mismatch:\n got: %q\nwant: %q", got, want)
	}
}

func TestConsolidateInvalidRowDoesNotClaimTimestamp(t *testing.T) {
	// An invalid row must not mark its timestamp as seen.
	a := header + "t1,h,101,x,10,1\n"
	b := header + "t1,h,99,x,10,1\n"

	got, _ := consolidateString(t, a, b)

	want := header + "t1,h,99,x,10,1\n"
	if got != want {
		t.Fatalf("output mismatch:\n got: %q\nwant: %q", got, want)
	}
}

func TestConsolidateTimestampIsRawString(t *testing.T) {
	// Same instant, different spelling: both are kept.
	s := header + "07/03/2025 09:00:00,h,1,x,1,1\n" + "2025-03-07T09:00:00,h,1,x,1,1\n"

	got, res := consolidateString(t, s)
	if got != s {
		t.Fatalf("expected both rows kept, got %q", got)
	}
	if res.Stats.RowsWritten != 2 {
		t.Errorf("expected 2 rows written, got %d", res.Stats.RowsWritten)
	}
}

func TestConsolidateHeaderFromFirstNonEmptyShard(t *testing.T) {
	h2 := "\"timestamp\",\"mac\",\"cpu\",\"ram\",\"ram%\",\"disk\"\r\n"
	h3 := "ts,m,c,r,rp,d\n"
	empty := ""
	blank := "\n\n"
	b := h2 + "t1,h,1,x,1,1\r\n"
	c := h3 + "t2,h,2,x,2,2\n"

	got, res := consolidateString(t, empty, blank, b, c)

	want := h2 + "t1,h,1,x,1,1\r\n" + "t2,h,2,x,2,2\n"
	if got != want {
		t.Fatalf("output mismatch:\n got: %q\nwant: %q", got, want)
	}
	if !strings.HasPrefix(got, h2) {
		t.Errorf("header not preserved byte-for-byte: %q", got)
	}
	if strings.Count(got, "timestamp") != 1 {
		t.Errorf("expected exactly one header line, got %q", got)
	}
	if res.Stats.EmptyShards != 2 {
		t.Errorf("expected 2 empty shards, got %d", res.Stats.EmptyShards)
	}
}

func TestConsolidateHeaderOnlyShard(t *testing.T) {
	got, res := consolidateString(t, header, header)
	if got != header {
		t.Fatalf("expected header only, got %q", got)
	}
	if !res.Produced {
		t.Error("header-only output is still produced")
	}
}

func TestConsolidateAddsMissingTrailingNewline(t *testing.T) {
	a := "ts,m,c,r,rp,d"
	b := header + "t1,h,1,x,1,1"

	got, _ := consolidateString(t, a, b)

	want := "ts,m,c,r,rp,d\n" + "t1,h,1,x,1,1\n"
	if got != want {
		t.Fatalf("output mismatch:\n got: %q\nwant: %q", got, want)
	}
}

func TestConsolidateQuotedFieldsKeptVerbatim(t *testing.T) {
	s := header + "\"t1\",\"h, with comma\",\"50\",\"x\",\"60\",\"10\"\n"

	got, res := consolidateString(t, s)
	if got != s {
		t.Fatalf("output mismatch:\n got: %q\nwant: %q", got, s)
	}
	if res.Stats.RowsWritten != 1 {
		t.Errorf("expected 1 row written, got %d", res.Stats.RowsWritten)
	}
}

func TestConsolidateNoShards(t *testing.T) {
	var buf bytes.Buffer
	res, err := Consolidate(&buf)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if res.Produced || buf.Len() != 0 {
		t.Errorf("expected nothing produced, got %q", buf.String())
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("disk full") }

func TestConsolidateWriteErrorIsFatal(t *testing.T) {
	_, err := Consolidate(failingWriter{}, strings.NewReader(header))
	if err == nil {
		t.Fatal("expected write error")
	}
}

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) { return 0, errors.New("connection reset") }

func TestConsolidateUnreadableShardSkipped(t *testing.T) {
	var buf bytes.Buffer
	res, err := Consolidate(&buf, failingReader{}, strings.NewReader(header+"t1,h,1,x,1,1\n"))
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if res.Stats.SkippedShards != 1 || res.Stats.Shards != 2 {
		t.Errorf("unexpected stats %+v", res.Stats)
	}
	if buf.String() != header+"t1,h,1,x,1,1\n" {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestConsolidateFiles(t *testing.T) {
	paths := writeShards(t,
		header+"t1,h,50,x,60,10\n",
		header+"t1,h,50,x,60,10\n"+"t2,h,999,x,1,1\n"+"t3,h,1,x,2,3\n",
	)
	out := filepath.Join(t.TempDir(), "consolidado_09.csv")

	res, err := ConsolidateFiles(paths, out)
	if err != nil {
		t.Fatalf("ConsolidateFiles: %v", err)
	}
	if !res.Produced || res.Output != out {
		t.Fatalf("unexpected result %+v", res)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	want := header + "t1,h,50,x,60,10\n" + "t3,h,1,x,2,3\n"
	if string(data) != want {
		t.Fatalf("output mismatch:\n got: %q\nwant: %q", data, want)
	}
}

func TestConsolidateFilesIdempotent(t *testing.T) {
	paths := writeShards(t,
		header+"t1,h,50,x,60,10\n"+"t2,h,5,x,6,1\n",
		"",
		header+"t2,h,7,x,8,1\n"+"t0,h,1,x,1,1\n",
	)
	out := filepath.Join(t.TempDir(), "out.csv")

	if _, err := ConsolidateFiles(paths, out); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if _, err := ConsolidateFiles(paths, out); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Fatalf("outputs differ:\n%q\n%q", first, second)
	}
}

func TestConsolidateFilesAllEmptyProducesNothing(t *testing.T) {
	paths := writeShards(t, "", "\n", "\r\n\r\n")
	out := filepath.Join(t.TempDir(), "out.csv")

	// A stale output from an earlier attempt must not survive.
	if err := os.WriteFile(out, []byte("stale"), 0644); err != nil {
		t.Fatalf("write stale: %v", err)
	}

	res, err := ConsolidateFiles(paths, out)
	if err != nil {
		t.Fatalf("ConsolidateFiles: %v", err)
	}
	if res.Produced {
		t.Error("expected nothing produced")
	}
	if res.Output != "" {
		t.Errorf("expected empty output path, got %q", res.Output)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("expected no output file, stat err = %v", err)
	}
	if res.Stats.EmptyShards != 3 {
		t.Errorf("expected 3 empty shards, got %d", res.Stats.EmptyShards)
	}
}

func TestConsolidateFilesNoPaths(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.csv")
	res, err := ConsolidateFiles(nil, out)
	if err != nil {
		t.Fatalf("ConsolidateFiles: %v", err)
	}
	if res.Produced {
		t.Error("expected nothing produced")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("expected no output file, stat err = %v", err)
	}
}

func TestConsolidateFilesMissingShardSkipped(t *testing.T) {
	paths := writeShards(t, header+"t1,h,1,x,1,1\n")
	paths = append([]string{filepath.Join(t.TempDir(), "gone.csv")}, paths...)
	out := filepath.Join(t.TempDir(), "out.csv")

	res, err := ConsolidateFiles(paths, out)
	if err != nil {
		t.Fatalf("ConsolidateFiles: %v", err)
	}
	if res.Stats.SkippedShards != 1 {
		t.Errorf("expected 1 skipped shard, got %d", res.Stats.SkippedShards)
	}
	if !res.Produced {
		t.Error("expected output from remaining shard")
	}
}

func TestConsolidateFilesOutputNotCreatable(t *testing.T) {
	paths := writeShards(t, header+"t1,h,1,x,1,1\n")
	out := filepath.Join(t.TempDir(), "missing-dir", "out.csv")

	if _, err := ConsolidateFiles(paths, out); err == nil {
		t.Fatal("expected error creating output in missing directory")
	}
}

func TestMergerStatsIsCopy(t *testing.T) {
	m := NewMerger(func() (io.Writer, error) { return io.Discard, nil })
	if err := m.Add([]byte(header + "t1,h,999,x,1,1\n")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s := m.Stats()
	s.Dropped[CPUOutOfRange] = 42

	if m.Stats().Dropped[CPUOutOfRange] != 1 {
		t.Error("Stats must return an independent copy")
	}
	if s.DroppedTotal() != 42 {
		t.Errorf("DroppedTotal = %d", s.DroppedTotal())
	}
}
