package inference

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/datapulse/datapulse/internal/domain"
)

// RowSink receives each validated row in stream order.
type RowSink func(ctx context.Context, row []domain.Value) error

// Validate re-streams the spool against the resolved schema and classifies
// row-level problems. Rows whose cells all coerce are delivered to sink;
// a cell that fails coercion in a nullable column is stored as null and the
// row is still delivered, so one bad value does not discard the row.
//
// Problems are collected exhaustively (bounded by MaxIssues), never
// short-circuited on the first failure. Malformed records are warnings when
// SkipMalformed is set, otherwise the whole run fails with MalformedInput.
func (s *Service) Validate(ctx context.Context, spool *Spool, schema []domain.ColumnSchema, sink RowSink) (domain.IngestionReport, error) {
	report := domain.IngestionReport{
		Errors:   []domain.RowIssue{},
		Warnings: []domain.RowIssue{},
	}

	source, err := openSource(spool)
	if err != nil {
		return report, domain.ErrMalformedInput(err.Error())
	}
	defer source.Close()

	headers := source.Headers()
	if len(headers) != len(schema) {
		return report, domain.ErrMalformedInput(
			fmt.Sprintf("schema has %d columns but stream has %d", len(schema), len(headers)))
	}

	rowNum := 0
	for {
		record, err := source.Next()
		if err == io.EOF {
			break
		}
		rowNum++
		report.TotalRows++

		if err != nil {
			if !isMalformed(err) {
				return report, domain.ErrStorageFailure(err)
			}
			report.ErrorRows++
			if !s.opts.SkipMalformed {
				return report, domain.ErrMalformedInput(err.Error())
			}
			s.addWarning(&report, domain.RowIssue{
				Code:    domain.CodeMalformedRecord,
				Row:     rowNum,
				Message: err.Error(),
			})
			continue
		}

		row := make([]domain.Value, len(schema))
		rowHasError := false
		skipRow := false

		for i, col := range schema {
			raw := ""
			if i < len(record) {
				raw = strings.TrimSpace(record[i])
			}

			if raw == "" {
				row[i] = domain.Null
				if !col.Nullable {
					rowHasError = true
					skipRow = true
					s.addError(&report, domain.RowIssue{
						Code:    domain.CodeMissingRequired,
						Row:     rowNum,
						Column:  col.Name,
						Message: fmt.Sprintf("null in non-nullable column %s", col.Name),
					})
				}
				continue
			}

			value, coerceErr := coerceValue(col.Type, raw)
			if coerceErr != nil {
				rowHasError = true
				s.addError(&report, domain.RowIssue{
					Code:    domain.CodeInvalidValue,
					Row:     rowNum,
					Column:  col.Name,
					Value:   raw,
					Message: fmt.Sprintf("cannot coerce %q into %s", raw, col.Type),
				})
				if col.Nullable {
					row[i] = domain.Null
				} else {
					skipRow = true
				}
				continue
			}
			row[i] = value
		}

		if rowHasError {
			report.ErrorRows++
		} else {
			report.ValidRows++
		}
		if skipRow {
			continue
		}

		if err := sink(ctx, row); err != nil {
			return report, err
		}

		if rowNum%s.opts.ChunkSize == 0 {
			if err := ctx.Err(); err != nil {
				return report, err
			}
		}
	}

	return report, nil
}

func (s *Service) addError(report *domain.IngestionReport, issue domain.RowIssue) {
	if len(report.Errors) < s.opts.MaxIssues {
		report.Errors = append(report.Errors, issue)
	}
}

func (s *Service) addWarning(report *domain.IngestionReport, issue domain.RowIssue) {
	if len(report.Warnings) < s.opts.MaxIssues {
		report.Warnings = append(report.Warnings, issue)
	}
}

// coerceValue parses raw into the tagged variant for columnType.
func coerceValue(columnType domain.ColumnType, raw string) (domain.Value, error) {
	switch columnType {
	case domain.ColumnBoolean:
		switch strings.ToLower(raw) {
		case "true", "1", "yes":
			return domain.BooleanValue(true), nil
		case "false", "0", "no":
			return domain.BooleanValue(false), nil
		}
		return domain.Null, fmt.Errorf("not a boolean: %q", raw)
	case domain.ColumnInteger:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.Null, fmt.Errorf("not an integer: %q", raw)
		}
		return domain.IntegerValue(i), nil
	case domain.ColumnDouble:
		f, ok := parseFloat(raw)
		if !ok {
			return domain.Null, fmt.Errorf("not a double: %q", raw)
		}
		return domain.DoubleValue(f), nil
	case domain.ColumnDate:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return domain.DateValue(t), nil
			}
		}
		return domain.Null, fmt.Errorf("not a date: %q", raw)
	case domain.ColumnTimestamp:
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return domain.TimestampValue(t), nil
			}
		}
		// Date-only values are valid timestamps at midnight.
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return domain.TimestampValue(t), nil
			}
		}
		return domain.Null, fmt.Errorf("not a timestamp: %q", raw)
	case domain.ColumnVarchar:
		return domain.TextValue(raw), nil
	default:
		return domain.Null, fmt.Errorf("unknown column type %s", columnType)
	}
}
