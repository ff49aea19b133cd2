package parquet

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/coverage/internal"
	"github.com/openshelf/coverage/internal/local"
)

func TestPreserverWritesParquetFile(t *testing.T) {
	tempDir := t.TempDir()

	p, err := New(
		WithSchema(Schema{
			{Name: "identifier", Type: "BYTE_ARRAY", ConvertedType: "UTF8"},
			{Name: "status", Type: "BYTE_ARRAY", ConvertedType: "UTF8"},
			{Name: "timestamp", Type: "INT64", ConvertedType: "TIMESTAMP_MICROS"},
		}),
		WithRepository(local.New(tempDir)),
		WithBatchSizeNumRecords(2),
	)
	require.NoError(t, err)

	ctx := context.Background()
	ts := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	for _, value := range []string{"9780000000001", "9780000000002", "9780000000003"} {
		row := internal.NewRow(
			[]string{"identifier", "status", "timestamp"},
			[]any{value, "success", ts},
		)
		require.NoError(t, p.Preserve(ctx, row))
	}
	assert.Equal(t, 3, p.NumRows())

	require.NoError(t, p.Flush(ctx, "records.parquet"))

	data, err := os.ReadFile(filepath.Join(tempDir, "records.parquet"))
	require.NoError(t, err)

	// A parquet file is framed by the PAR1 magic at both ends.
	require.Greater(t, len(data), 8)
	assert.True(t, bytes.HasPrefix(data, []byte("PAR1")))
	assert.True(t, bytes.HasSuffix(data, []byte("PAR1")))
}

func TestPreserverRequiresSchemaAndRepository(t *testing.T) {
	_, err := New(WithRepository(local.New(t.TempDir())))
	assert.ErrorContains(t, err, "schema")

	_, err = New(WithSchema(Schema{{Name: "x", Type: "INT64"}}))
	assert.ErrorContains(t, err, "repository")
}
