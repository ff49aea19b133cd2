package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/openshelf/coverage/internal"
)

/*
The catalog describes one export: where the rows came from, how many
were expected and how many made it into the artifact. It is written
next to the artifact so exports can be verified and audited.
*/

type Catalog struct {
	StartTime           time.Time `json:"start_time"`
	EndTime             time.Time `json:"end_time"`
	Source              string    `json:"source"`
	NumSourceRecords    int       `json:"num_source_records"`
	NumRecordsProcessed int       `json:"num_records_processed"`
	Completed           bool      `json:"completed"`
}

// Write serializes the catalog as catalog.json into the repository.
func (c Catalog) Write(ctx context.Context, repo internal.Repository) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return repo.Write(ctx, "catalog.json", bytes.NewReader(data))
}
