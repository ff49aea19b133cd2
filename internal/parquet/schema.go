package parquet

import (
	"fmt"
	"strings"
	"time"

	"github.com/openshelf/coverage/internal"
)

type Field struct {
	Name           string
	Type           string
	ConvertedType  string
	RepetitionType string
}

type Schema []Field

// ToGoParquetSchema renders the schema in the tag format the go
// parquet writer expects, e.g. "name=status, type=BYTE_ARRAY,
// convertedtype=UTF8".
func (s Schema) ToGoParquetSchema() []string {
	schema := make([]string, len(s))
	for i, field := range s {
		parts := []string{
			fmt.Sprintf("name=%s", field.Name),
			fmt.Sprintf("type=%s", field.Type),
		}
		if field.ConvertedType != "" {
			parts = append(parts, fmt.Sprintf("convertedtype=%s", field.ConvertedType))
		}
		if field.RepetitionType != "" {
			parts = append(parts, fmt.Sprintf("repetitiontype=%s", field.RepetitionType))
		}
		schema[i] = strings.Join(parts, ", ")
	}
	return schema
}

// RowToParquetRow coerces scanned database values into the physical
// types the writer wants for each column.
func (s Schema) RowToParquetRow(r *internal.Row) ([]any, error) {
	if len(s) != r.Len() {
		return nil, fmt.Errorf(
			"schema and row mismatch: schema has %d fields, row has %d columns",
			len(s), r.Len(),
		)
	}

	row := make([]any, len(s))
	values := r.Values()

	for i, field := range s {
		row[i] = values[i]

		switch field.ConvertedType {
		case "TIMESTAMP_MICROS":
			t, ok := values[i].(time.Time)
			if !ok {
				return nil, fmt.Errorf("column %s: expected time.Time, got %T", field.Name, values[i])
			}
			row[i] = t.UnixMicro()
		case "UTF8":
			// Some drivers hand text columns back as []byte.
			if bs, ok := values[i].([]byte); ok {
				row[i] = string(bs)
			}
		}
	}

	return row, nil
}
