package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/datapulse/datapulse/internal/domain"
)

// Aggregate compiles a structured aggregation request into a canonical
// statement and runs it through the same gate, cache, and timeout as
// free-form queries. The structured path exists so dashboard widgets never
// hand raw SQL to the engine.
func (e *Engine) Aggregate(ctx context.Context, req domain.AggregationRequest) (domain.QueryResult, error) {
	src, ok := e.resolver.Get(req.DataSourceID)
	if !ok {
		return domain.QueryResult{}, domain.ErrSourceNotFound(req.DataSourceID)
	}

	if err := validateAggregation(req, src); err != nil {
		return domain.QueryResult{}, err
	}

	stmt := compileAggregation(req)
	return e.Execute(ctx, stmt, nil, req.DataSourceID, true)
}

// validateAggregation collects every problem with the request instead of
// stopping at the first, so the caller can fix all of them in one round trip.
func validateAggregation(req domain.AggregationRequest, src domain.DataSource) error {
	var problems *multierror.Error

	if len(req.Operations) == 0 {
		problems = multierror.Append(problems, fmt.Errorf("at least one operation is required"))
	}
	for _, op := range req.Operations {
		if !domain.ValidAggregationOp(op.Operation) {
			problems = multierror.Append(problems, fmt.Errorf("unknown operation %q", op.Operation))
		}
		if _, ok := src.Column(op.Field); !ok {
			problems = multierror.Append(problems, fmt.Errorf("unknown field %q", op.Field))
		}
		if op.Alias != "" && !domain.ValidIdentifier(op.Alias) {
			problems = multierror.Append(problems, fmt.Errorf("alias %q is not a valid identifier", op.Alias))
		}
	}
	for _, column := range req.GroupBy {
		if _, ok := src.Column(column); !ok {
			problems = multierror.Append(problems, fmt.Errorf("unknown group-by column %q", column))
		}
	}

	if err := problems.ErrorOrNil(); err != nil {
		return &domain.EngineError{Code: domain.CodeValidation, Message: "invalid aggregation request", Err: err}
	}
	return nil
}

func compileAggregation(req domain.AggregationRequest) string {
	var selects []string
	for _, column := range req.GroupBy {
		selects = append(selects, quoteIdent(column))
	}
	for _, op := range req.Operations {
		selects = append(selects, fmt.Sprintf("%s AS %s", compileOperation(op), quoteIdent(op.EffectiveAlias())))
	}

	stmt := "SELECT " + strings.Join(selects, ", ") + " FROM " + tablePlaceholder
	if len(req.GroupBy) > 0 {
		grouped := make([]string, len(req.GroupBy))
		for i, column := range req.GroupBy {
			grouped[i] = quoteIdent(column)
		}
		stmt += " GROUP BY " + strings.Join(grouped, ", ")
		stmt += " ORDER BY " + strings.Join(grouped, ", ")
	}
	if req.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", req.Limit)
	}
	return stmt
}

func compileOperation(op domain.AggregationOperation) string {
	field := quoteIdent(op.Field)
	switch op.Operation {
	case domain.AggSum:
		return "SUM(" + field + ")"
	case domain.AggAvg:
		return "AVG(" + field + ")"
	case domain.AggCount:
		return "COUNT(" + field + ")"
	case domain.AggMin:
		return "MIN(" + field + ")"
	case domain.AggMax:
		return "MAX(" + field + ")"
	case domain.AggDistinctCount:
		return "COUNT(DISTINCT " + field + ")"
	default:
		return "COUNT(*)"
	}
}
