package parquet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/coverage/internal"
)

func TestToGoParquetSchema(t *testing.T) {
	s := Schema{
		{Name: "identifier", Type: "BYTE_ARRAY", ConvertedType: "UTF8"},
		{Name: "timestamp", Type: "INT64", ConvertedType: "TIMESTAMP_MICROS"},
		{Name: "counter", Type: "INT64", RepetitionType: "OPTIONAL"},
	}

	assert.Equal(t, []string{
		"name=identifier, type=BYTE_ARRAY, convertedtype=UTF8",
		"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MICROS",
		"name=counter, type=INT64, repetitiontype=OPTIONAL",
	}, s.ToGoParquetSchema())
}

func TestRowToParquetRow(t *testing.T) {
	s := Schema{
		{Name: "status", Type: "BYTE_ARRAY", ConvertedType: "UTF8"},
		{Name: "timestamp", Type: "INT64", ConvertedType: "TIMESTAMP_MICROS"},
	}

	ts := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	t.Run("converts time and byte slices", func(t *testing.T) {
		row := internal.NewRow(
			[]string{"status", "timestamp"},
			[]any{[]byte("success"), ts},
		)
		values, err := s.RowToParquetRow(row)
		require.NoError(t, err)
		assert.Equal(t, []any{"success", ts.UnixMicro()}, values)
	})

	t.Run("column count mismatch", func(t *testing.T) {
		row := internal.NewRow([]string{"status"}, []any{"success"})
		_, err := s.RowToParquetRow(row)
		assert.Error(t, err)
	})
}
