// Package inference derives column schemas and quality statistics from
// streamed tabular uploads, then validates the same stream against the
// resolved schema. Both passes read bounded chunks so peak memory does not
// depend on row count.
package inference

import (
	"context"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/axiomhq/hyperloglog"

	"github.com/datapulse/datapulse/internal/domain"
)

// Options bound the resource use of an inference run.
type Options struct {
	ChunkSize              int
	ExactDistinctThreshold int
	MostCommonValues       int
	SkipMalformed          bool
	MaxIssues              int
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 4096
	}
	if o.ExactDistinctThreshold <= 0 {
		o.ExactDistinctThreshold = 50_000
	}
	if o.MostCommonValues <= 0 {
		o.MostCommonValues = 5
	}
	if o.MaxIssues <= 0 {
		o.MaxIssues = 1000
	}
	return o
}

// Service runs schema inference and validation passes over spooled uploads.
type Service struct {
	opts Options
}

// New creates an inference service.
func New(opts Options) *Service {
	return &Service{opts: opts.withDefaults()}
}

var (
	dateLayouts = []string{
		"2006-01-02",
		"2006/01/02",
	}
	timestampLayouts = []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05.000000",
		"2006-01-02T15:04:05",
	}
)

// columnProfile accumulates per-column candidate types and statistics. The
// candidate set starts wide and observed values eliminate members; the most
// specific survivor wins, VARCHAR being the universal fallback.
type columnProfile struct {
	name     string
	declared *domain.ColumnSchema

	isBool      bool
	isInt       bool
	isDouble    bool
	isTimestamp bool
	isDate      bool

	nullCount int64
	nonNull   int64

	sum      float64
	numCount int64
	minNum   float64
	maxNum   float64
	hasNum   bool

	minStr string
	maxStr string
	hasStr bool

	counts    map[string]int64
	sketch    *hyperloglog.Sketch
	approx    bool
	threshold int
}

func newColumnProfile(name string, declared *domain.ColumnSchema, threshold int) *columnProfile {
	return &columnProfile{
		name:        name,
		declared:    declared,
		isBool:      true,
		isInt:       true,
		isDouble:    true,
		isTimestamp: true,
		isDate:      true,
		counts:      make(map[string]int64),
		threshold:   threshold,
	}
}

func (p *columnProfile) observe(value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		p.nullCount++
		return
	}
	if p.declared != nil {
		if _, err := coerceValue(p.declared.Type, value); err != nil {
			// The validation pass stores this cell as null, so the pinned
			// column has to admit nulls.
			p.nullCount++
			return
		}
	}
	p.nonNull++

	if p.isBool && !looksLikeBool(value) {
		p.isBool = false
	}
	if p.isInt && !looksLikeInt(value) {
		p.isInt = false
	}
	if p.isDouble {
		f, ok := parseFloat(value)
		if ok {
			p.sum += f
			p.numCount++
			if !p.hasNum || f < p.minNum {
				p.minNum = f
			}
			if !p.hasNum || f > p.maxNum {
				p.maxNum = f
			}
			p.hasNum = true
		} else {
			p.isDouble = false
		}
	}
	if p.isTimestamp && !looksLikeTimestamp(value) {
		p.isTimestamp = false
	}
	if p.isDate && !looksLikeDate(value) {
		p.isDate = false
	}

	if !p.hasStr || value < p.minStr {
		p.minStr = value
	}
	if !p.hasStr || value > p.maxStr {
		p.maxStr = value
	}
	p.hasStr = true

	p.observeDistinct(value)
}

// observeDistinct keeps an exact counter map up to the threshold, then
// switches to a HyperLogLog sketch, seeding it with the values seen so far.
// The counter map is frozen at that point and still serves most-common-value
// reporting for the exact prefix.
func (p *columnProfile) observeDistinct(value string) {
	if p.approx {
		p.sketch.Insert([]byte(value))
		return
	}
	p.counts[value]++
	if len(p.counts) > p.threshold {
		p.sketch = hyperloglog.New16()
		for seen := range p.counts {
			p.sketch.Insert([]byte(seen))
		}
		p.approx = true
	}
}

func (p *columnProfile) resolvedType() domain.ColumnType {
	if p.declared != nil {
		return p.declared.Type
	}
	if p.nonNull == 0 {
		return domain.ColumnVarchar
	}
	switch {
	case p.isBool:
		return domain.ColumnBoolean
	case p.isInt:
		return domain.ColumnInteger
	case p.isDouble:
		return domain.ColumnDouble
	case p.isTimestamp:
		return domain.ColumnTimestamp
	case p.isDate:
		return domain.ColumnDate
	default:
		return domain.ColumnVarchar
	}
}

func (p *columnProfile) distinctCount() int64 {
	if p.approx {
		return int64(p.sketch.Estimate())
	}
	return int64(len(p.counts))
}

func (p *columnProfile) statistics(columnType domain.ColumnType, mostCommon int) domain.ColumnStatistics {
	stats := domain.ColumnStatistics{
		Name:         p.name,
		NullCount:    p.nullCount,
		UniqueCount:  p.distinctCount(),
		ApproxUnique: p.approx,
	}

	numeric := columnType == domain.ColumnInteger || columnType == domain.ColumnDouble
	if numeric && p.hasNum {
		stats.Min = formatStatNumber(p.minNum, columnType)
		stats.Max = formatStatNumber(p.maxNum, columnType)
		if p.numCount > 0 {
			mean := p.sum / float64(p.numCount)
			stats.Mean = &mean
		}
	} else if p.hasStr {
		stats.Min = p.minStr
		stats.Max = p.maxStr
	}

	if !p.approx && len(p.counts) > 0 {
		stats.MostCommon = topValues(p.counts, mostCommon)
	}
	return stats
}

func formatStatNumber(f float64, columnType domain.ColumnType) string {
	if columnType == domain.ColumnInteger && f == math.Trunc(f) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func topValues(counts map[string]int64, n int) []domain.ValueCount {
	all := make([]domain.ValueCount, 0, len(counts))
	for value, count := range counts {
		all = append(all, domain.ValueCount{Value: value, Count: count})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Count != all[j].Count {
			return all[i].Count > all[j].Count
		}
		return all[i].Value < all[j].Value
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// Infer streams the spool once and returns the resolved schema plus
// per-column statistics. Declared columns pin their type; inference still
// profiles them so statistics and nullability stay observation-based. A
// value that does not fit a pinned type counts as a null observation,
// because validation will store it as one.
func (s *Service) Infer(ctx context.Context, spool *Spool, declared []domain.ColumnSchema) ([]domain.ColumnSchema, []domain.ColumnStatistics, error) {
	source, err := openSource(spool)
	if err != nil {
		return nil, nil, domain.ErrMalformedInput(err.Error())
	}
	defer source.Close()

	headers := source.Headers()
	declaredByName := make(map[string]domain.ColumnSchema, len(declared))
	for _, col := range declared {
		declaredByName[col.Name] = col
	}

	profiles := make([]*columnProfile, len(headers))
	for i, name := range headers {
		var pinned *domain.ColumnSchema
		if col, ok := declaredByName[name]; ok {
			pinned = &col
		}
		profiles[i] = newColumnProfile(name, pinned, s.opts.ExactDistinctThreshold)
	}

	rows := 0
	for {
		record, err := source.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if isMalformed(err) {
				// Counted by the validation pass; type inference just skips.
				continue
			}
			return nil, nil, domain.ErrMalformedInput(err.Error())
		}

		for i, profile := range profiles {
			if i < len(record) {
				profile.observe(record[i])
			} else {
				profile.nullCount++
			}
		}

		rows++
		if rows%s.opts.ChunkSize == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
	}

	schema := make([]domain.ColumnSchema, len(profiles))
	stats := make([]domain.ColumnStatistics, len(profiles))
	primaryAssigned := false
	for i, profile := range profiles {
		columnType := profile.resolvedType()
		unique := !profile.approx && profile.nonNull > 0 && profile.distinctCount() == profile.nonNull
		nullable := profile.nullCount > 0
		if profile.declared != nil && profile.declared.Nullable {
			nullable = true
		}

		col := domain.ColumnSchema{
			Name:     profile.name,
			Type:     columnType,
			Nullable: nullable,
			Unique:   unique,
		}
		if unique && !nullable && !primaryAssigned {
			col.PrimaryKey = true
			primaryAssigned = true
		}
		schema[i] = col
		stats[i] = profile.statistics(columnType, s.opts.MostCommonValues)
	}

	if err := domain.ValidateSchema(schema); err != nil {
		return nil, nil, domain.ErrMalformedInput(err.Error())
	}
	return schema, stats, nil
}

func looksLikeBool(value string) bool {
	switch strings.ToLower(value) {
	case "true", "false", "1", "0", "yes", "no":
		return true
	}
	return false
}

func looksLikeInt(value string) bool {
	_, err := strconv.ParseInt(value, 10, 64)
	return err == nil
}

func parseFloat(value string) (float64, bool) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func looksLikeTimestamp(value string) bool {
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}

func looksLikeDate(value string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}
