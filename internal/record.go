package internal

// Row is one result row from a snapshot query. Column order is kept
// alongside the values because the parquet serializer is positional.
type Row struct {
	columns []string
	values  []any
}

func NewRow(columns []string, values []any) *Row {
	return &Row{
		columns: columns,
		values:  values,
	}
}

func (r *Row) Len() int {
	return len(r.columns)
}

func (r *Row) Values() []any {
	return r.values
}

func (r *Row) Map() map[string]any {
	m := make(map[string]any, len(r.columns))
	for i, column := range r.columns {
		m[column] = r.values[i]
	}
	return m
}
