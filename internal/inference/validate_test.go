package inference

import (
	"context"
	"errors"
	"testing"

	"github.com/datapulse/datapulse/internal/domain"
)

func collectRows(rows *[][]domain.Value) RowSink {
	return func(ctx context.Context, row []domain.Value) error {
		*rows = append(*rows, row)
		return nil
	}
}

func TestValidateSubstitutesNullForBadNullableValue(t *testing.T) {
	data := `order_id,amount
a1,10.50
a2,not-a-number
`
	spool := spoolFromString(t, "orders.csv", data)
	schema := []domain.ColumnSchema{
		{Name: "order_id", Type: domain.ColumnVarchar},
		{Name: "amount", Type: domain.ColumnDouble, Nullable: true},
	}

	var rows [][]domain.Value
	service := New(Options{SkipMalformed: true})
	report, err := service.Validate(context.Background(), spool, schema, collectRows(&rows))
	if err != nil {
		t.Fatalf("validate returned error: %v", err)
	}

	if report.TotalRows != 2 || report.ValidRows != 1 || report.ErrorRows != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d", len(report.Errors))
	}
	issue := report.Errors[0]
	if issue.Code != domain.CodeInvalidValue || issue.Row != 2 || issue.Column != "amount" {
		t.Fatalf("unexpected issue: %+v", issue)
	}

	// The bad value becomes null; the row is still stored.
	if len(rows) != 2 {
		t.Fatalf("expected 2 delivered rows, got %d", len(rows))
	}
	if !rows[1][1].IsNull() {
		t.Fatalf("expected null amount in second row")
	}
	if rows[0][1].Float() != 10.5 {
		t.Fatalf("expected 10.5, got %v", rows[0][1])
	}
}

func TestInferThenValidateStoresBadDeclaredValueAsNull(t *testing.T) {
	data := `order_id,amount
a1,10.50
a2,oops
a3,7.25
`
	declared := []domain.ColumnSchema{
		{Name: "amount", Type: domain.ColumnDouble},
	}

	service := New(Options{SkipMalformed: true})
	schema, _, err := service.Infer(context.Background(), spoolFromString(t, "orders.csv", data), declared)
	if err != nil {
		t.Fatalf("infer returned error: %v", err)
	}

	var rows [][]domain.Value
	report, err := service.Validate(context.Background(), spoolFromString(t, "orders.csv", data), schema, collectRows(&rows))
	if err != nil {
		t.Fatalf("validate returned error: %v", err)
	}

	if report.TotalRows != 3 || report.ValidRows != 2 || report.ErrorRows != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d", len(report.Errors))
	}
	issue := report.Errors[0]
	if issue.Code != domain.CodeInvalidValue || issue.Column != "amount" {
		t.Fatalf("unexpected issue: %+v", issue)
	}

	// All three rows land in the store; the bad cell is null.
	if len(rows) != 3 {
		t.Fatalf("expected 3 delivered rows, got %d", len(rows))
	}
	if !rows[1][1].IsNull() {
		t.Fatalf("expected null amount in second row")
	}
}

func TestValidateSkipsRowMissingRequiredValue(t *testing.T) {
	data := `id,name
1,alpha
,beta
`
	spool := spoolFromString(t, "required.csv", data)
	schema := []domain.ColumnSchema{
		{Name: "id", Type: domain.ColumnInteger},
		{Name: "name", Type: domain.ColumnVarchar},
	}

	var rows [][]domain.Value
	service := New(Options{SkipMalformed: true})
	report, err := service.Validate(context.Background(), spool, schema, collectRows(&rows))
	if err != nil {
		t.Fatalf("validate returned error: %v", err)
	}

	if report.ValidRows != 1 || report.ErrorRows != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(rows) != 1 {
		t.Fatalf("row with missing required value must not be delivered, got %d rows", len(rows))
	}
	if report.Errors[0].Code != domain.CodeMissingRequired {
		t.Fatalf("expected MISSING_REQUIRED, got %s", report.Errors[0].Code)
	}
}

func TestValidateMalformedRecordBecomesWarning(t *testing.T) {
	data := `a,b
1,2
3
4,5
`
	spool := spoolFromString(t, "ragged.csv", data)
	schema := []domain.ColumnSchema{
		{Name: "a", Type: domain.ColumnInteger},
		{Name: "b", Type: domain.ColumnInteger},
	}

	var rows [][]domain.Value
	service := New(Options{SkipMalformed: true})
	report, err := service.Validate(context.Background(), spool, schema, collectRows(&rows))
	if err != nil {
		t.Fatalf("validate returned error: %v", err)
	}

	if report.TotalRows != 3 || report.ValidRows != 2 || report.ErrorRows != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.Warnings) != 1 || report.Warnings[0].Code != domain.CodeMalformedRecord {
		t.Fatalf("expected one MALFORMED_RECORD warning: %+v", report.Warnings)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 delivered rows, got %d", len(rows))
	}
}

func TestValidateMalformedRecordFailsWhenStrict(t *testing.T) {
	data := `a,b
1,2
3
`
	spool := spoolFromString(t, "strict.csv", data)
	schema := []domain.ColumnSchema{
		{Name: "a", Type: domain.ColumnInteger},
		{Name: "b", Type: domain.ColumnInteger},
	}

	service := New(Options{SkipMalformed: false})
	_, err := service.Validate(context.Background(), spool, schema, func(context.Context, []domain.Value) error { return nil })
	if !domain.IsCode(err, domain.CodeMalformedInput) {
		t.Fatalf("expected MALFORMED_INPUT, got %v", err)
	}
}

func TestValidateIsRepeatable(t *testing.T) {
	data := `id
1
2
`
	spool := spoolFromString(t, "repeat.csv", data)
	schema := []domain.ColumnSchema{{Name: "id", Type: domain.ColumnInteger}}
	sink := func(context.Context, []domain.Value) error { return nil }

	service := New(Options{SkipMalformed: true})
	first, err := service.Validate(context.Background(), spool, schema, sink)
	if err != nil {
		t.Fatalf("first validate failed: %v", err)
	}
	second, err := service.Validate(context.Background(), spool, schema, sink)
	if err != nil {
		t.Fatalf("second validate failed: %v", err)
	}
	if first.TotalRows != second.TotalRows || first.ValidRows != second.ValidRows {
		t.Fatalf("validation is not repeatable: %+v vs %+v", first, second)
	}
}

func TestValidatePropagatesSinkError(t *testing.T) {
	data := `id
1
`
	spool := spoolFromString(t, "sink.csv", data)
	schema := []domain.ColumnSchema{{Name: "id", Type: domain.ColumnInteger}}

	sinkErr := errors.New("disk full")
	service := New(Options{SkipMalformed: true})
	_, err := service.Validate(context.Background(), spool, schema, func(context.Context, []domain.Value) error { return sinkErr })
	if !errors.Is(err, sinkErr) {
		t.Fatalf("expected sink error, got %v", err)
	}
}
