package domain

// Row-level issue codes surfaced in ingestion reports.
const (
	CodeInvalidValue    = "INVALID_VALUE"
	CodeMissingRequired = "MISSING_REQUIRED"
	CodeMalformedRecord = "MALFORMED_RECORD"
)

// RowIssue is one validation finding. Row is 1-based and optional; zero means
// the issue is not tied to a specific row.
type RowIssue struct {
	Code    string `json:"code"`
	Row     int    `json:"row,omitempty"`
	Column  string `json:"column,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

// ValueCount pairs an observed value with its occurrence count.
type ValueCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// ColumnStatistics summarizes one column after a full inference pass.
// UniqueCount is exact below the configured threshold and a probabilistic
// estimate above it, flagged by ApproxUnique.
type ColumnStatistics struct {
	Name         string       `json:"name"`
	NullCount    int64        `json:"nullCount"`
	UniqueCount  int64        `json:"uniqueCount"`
	ApproxUnique bool         `json:"approxUnique,omitempty"`
	Min          string       `json:"min,omitempty"`
	Max          string       `json:"max,omitempty"`
	Mean         *float64     `json:"mean,omitempty"`
	MostCommon   []ValueCount `json:"mostCommon,omitempty"`
}

// IngestionReport is the ephemeral result of one ingestion run. It is
// returned to the caller alongside the registered DataSource and not
// persisted by the core.
type IngestionReport struct {
	TotalRows int64              `json:"totalRows"`
	ValidRows int64              `json:"validRows"`
	ErrorRows int64              `json:"errorRows"`
	Columns   []ColumnStatistics `json:"columns"`
	Errors    []RowIssue         `json:"errors"`
	Warnings  []RowIssue         `json:"warnings"`
}
