package domain

import "fmt"

// QueryResult is a column-oriented result set. Rows are tagged-value arrays
// that marshal to plain JSON scalars.
type QueryResult struct {
	Columns  []string  `json:"columns"`
	Data     [][]Value `json:"data"`
	RowCount int       `json:"rowCount"`
}

// NewQueryResult derives RowCount from the row slice.
func NewQueryResult(columns []string, data [][]Value) QueryResult {
	return QueryResult{Columns: columns, Data: data, RowCount: len(data)}
}

// IsEmpty reports whether the result has no rows.
func (r QueryResult) IsEmpty() bool { return len(r.Data) == 0 }

// AggregationOp is one aggregate computation over a field.
type AggregationOp string

const (
	AggSum           AggregationOp = "sum"
	AggAvg           AggregationOp = "avg"
	AggCount         AggregationOp = "count"
	AggMin           AggregationOp = "min"
	AggMax           AggregationOp = "max"
	AggDistinctCount AggregationOp = "distinct_count"
)

// ValidAggregationOp reports whether op names a supported aggregate.
func ValidAggregationOp(op AggregationOp) bool {
	switch op {
	case AggSum, AggAvg, AggCount, AggMin, AggMax, AggDistinctCount:
		return true
	}
	return false
}

// AggregationOperation pairs a field with the aggregate applied to it.
type AggregationOperation struct {
	Field     string        `json:"field"`
	Operation AggregationOp `json:"operation"`
	Alias     string        `json:"alias,omitempty"`
}

// EffectiveAlias is the output column name, defaulting to operation_field.
func (op AggregationOperation) EffectiveAlias() string {
	if op.Alias != "" {
		return op.Alias
	}
	return fmt.Sprintf("%s_%s", op.Operation, op.Field)
}

// AggregationRequest is the structured alternative to free-form SQL for the
// aggregation path. It compiles to a canonical statement so it shares the
// query cache and the safety gate without exposing raw SQL.
type AggregationRequest struct {
	DataSourceID string                 `json:"dataSourceId"`
	Operations   []AggregationOperation `json:"operations"`
	GroupBy      []string               `json:"groupBy,omitempty"`
	Limit        int                    `json:"limit,omitempty"`
}
