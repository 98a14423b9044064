package domain

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// ColumnType is the storage type of an ingested column.
type ColumnType string

const (
	ColumnInteger   ColumnType = "INTEGER"
	ColumnDouble    ColumnType = "DOUBLE"
	ColumnVarchar   ColumnType = "VARCHAR"
	ColumnDate      ColumnType = "DATE"
	ColumnTimestamp ColumnType = "TIMESTAMP"
	ColumnBoolean   ColumnType = "BOOLEAN"
)

// SourceOrigin describes where a data source came from.
type SourceOrigin string

const (
	OriginFile     SourceOrigin = "file"
	OriginDatabase SourceOrigin = "database"
	OriginAPI      SourceOrigin = "api"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name satisfies column identifier syntax:
// letter or underscore first, alphanumerics or underscores thereafter.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// ColumnSchema describes one column of an ingested table.
type ColumnSchema struct {
	Name       string     `json:"name"`
	Type       ColumnType `json:"type"`
	Nullable   bool       `json:"nullable"`
	Unique     bool       `json:"unique"`
	PrimaryKey bool       `json:"primaryKey"`
}

// DataSource is a registered, schema-typed table backing one ingested file.
// The id is immutable once assigned and the schema is fixed after successful
// ingestion; transformations register a new source instead of mutating.
type DataSource struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Origin    SourceOrigin   `json:"origin"`
	Schema    []ColumnSchema `json:"schema"`
	RowCount  int64          `json:"rowCount"`
	SizeBytes int64          `json:"sizeBytes"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// NewDataSource assigns a fresh id and stamps creation time.
func NewDataSource(name string, origin SourceOrigin, schema []ColumnSchema) DataSource {
	now := time.Now().UTC()
	return DataSource{
		ID:        uuid.New().String(),
		Name:      name,
		Origin:    origin,
		Schema:    schema,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// WithStats returns a copy carrying row/byte counts and a bumped updatedAt.
func (d DataSource) WithStats(rowCount, sizeBytes int64) DataSource {
	d.RowCount = rowCount
	d.SizeBytes = sizeBytes
	d.UpdatedAt = time.Now().UTC()
	return d
}

// Version identifies the current content of the source. Any re-ingestion or
// row append changes it, which is what keys cached query results.
func (d DataSource) Version() string {
	return fmt.Sprintf("%d:%d:%d", d.RowCount, d.SizeBytes, d.UpdatedAt.UnixNano())
}

// Column returns the schema entry for name.
func (d DataSource) Column(name string) (ColumnSchema, bool) {
	for _, col := range d.Schema {
		if col.Name == name {
			return col, true
		}
	}
	return ColumnSchema{}, false
}

// ValidateSchema checks identifier syntax and the single-primary-key rule.
func ValidateSchema(schema []ColumnSchema) error {
	if len(schema) == 0 {
		return fmt.Errorf("schema has no columns")
	}
	primaryKeys := 0
	seen := make(map[string]struct{}, len(schema))
	for _, col := range schema {
		if !ValidIdentifier(col.Name) {
			return fmt.Errorf("column %q is not a valid identifier", col.Name)
		}
		if _, dup := seen[col.Name]; dup {
			return fmt.Errorf("duplicate column %q", col.Name)
		}
		seen[col.Name] = struct{}{}
		if col.PrimaryKey {
			primaryKeys++
		}
	}
	if primaryKeys > 1 {
		return fmt.Errorf("at most one column may be primary key, found %d", primaryKeys)
	}
	return nil
}
