package report

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/openshelf/coverage/internal"
	"github.com/openshelf/coverage/internal/coverage"
)

/*
A report is the durable record of one provider run. Reports are an
audit primitive: the timestamp row is overwritten on every run, a
report is kept per run.
*/

// Report summarizes a single provider run.
type Report struct {
	RunID      string `json:"run_id"`
	Service    string `json:"service"`
	DataSource string `json:"data_source"`
	Operation  string `json:"operation,omitempty"`
	Collection string `json:"collection,omitempty"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	ItemsProcessed     int `json:"items_processed"`
	Successes          int `json:"successes"`
	TransientFailures  int `json:"transient_failures"`
	PersistentFailures int `json:"persistent_failures"`

	Completed bool   `json:"completed"`
	Exception string `json:"exception,omitempty"`
}

// New builds a Report for a finished run.
func New(runID string, cfg coverage.Config, progress coverage.Progress) Report {
	return Report{
		RunID:      runID,
		Service:    cfg.ServiceName,
		DataSource: cfg.DataSource,
		Operation:  cfg.Operation,
		Collection: cfg.Collection,

		StartTime: progress.Start,
		EndTime:   progress.Finish,

		ItemsProcessed:     progress.Successes + progress.TransientFailures + progress.PersistentFailures,
		Successes:          progress.Successes,
		TransientFailures:  progress.TransientFailures,
		PersistentFailures: progress.PersistentFailures,

		Completed: progress.Complete() && progress.Exception == "",
		Exception: progress.Exception,
	}
}

// Publish writes the report as report.json. The repository is expected
// to be prefixed with the run's directory.
func (r Report) Publish(ctx context.Context, repo internal.Repository) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return repo.Write(ctx, "report.json", bytes.NewReader(data))
}
