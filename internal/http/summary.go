package http

import (
	"time"

	"github.com/ontracksystems/ontrack-etl/internal/pipeline"
)

// Summary is the JSON view of a pipeline.Report.
type Summary struct {
	RunID     string          `json:"run_id"`
	Partition string          `json:"partition"`
	Started   string          `json:"started"`
	Duration  string          `json:"duration"`
	Published int             `json:"published"`
	NoData    int             `json:"no_data"`
	Empty     int             `json:"empty"`
	Failed    int             `json:"failed"`
	Sources   []SourceSummary `json:"sources"`
}

// SourceSummary is the JSON view of a pipeline.SourceResult.
type SourceSummary struct {
	Source       string `json:"source"`
	Status       string `json:"status"`
	Output       string `json:"output,omitempty"`
	Shards       int    `json:"shards"`
	FailedShards int    `json:"failed_shards,omitempty"`
	RowsWritten  int    `json:"rows_written"`
	RowsDropped  int    `json:"rows_dropped"`
	Error        string `json:"error,omitempty"`
}

// Summarize converts a report into its JSON view.
func Summarize(r *pipeline.Report) *Summary {
	s := &Summary{
		RunID:     r.RunID,
		Partition: r.Partition.String(),
		Started:   r.Started.Format(time.RFC3339),
		Duration:  r.Duration.String(),
		Published: r.Count(pipeline.StatusPublished),
		NoData:    r.Count(pipeline.StatusNoData),
		Empty:     r.Count(pipeline.StatusEmpty),
		Failed:    r.Failed(),
		Sources:   make([]SourceSummary, len(r.Sources)),
	}
	for i, src := range r.Sources {
		ss := SourceSummary{
			Source:       src.Source,
			Status:       string(src.Status),
			Output:       src.Output,
			Shards:       src.Shards,
			FailedShards: src.FailedShards,
			RowsWritten:  src.Stats.RowsWritten,
			RowsDropped:  src.Stats.DroppedTotal(),
		}
		if src.Err != nil {
			ss.Error = src.Err.Error()
		}
		s.Sources[i] = ss
	}
	return s
}
