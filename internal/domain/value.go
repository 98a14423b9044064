package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ValueKind discriminates the variants a table cell can hold.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBoolean
	KindInteger
	KindDouble
	KindText
	KindDate
	KindTimestamp
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBoolean:
		return "boolean"
	case KindInteger:
		return "integer"
	case KindDouble:
		return "double"
	case KindText:
		return "text"
	case KindDate:
		return "date"
	case KindTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Value is a tagged cell value. Consumers switch on Kind() instead of doing
// runtime type assertions on interface{} rows.
type Value struct {
	kind ValueKind
	i    int64
	f    float64
	s    string
	b    bool
	t    time.Time
}

// Null is the shared null cell.
var Null = Value{kind: KindNull}

func BooleanValue(b bool) Value        { return Value{kind: KindBoolean, b: b} }
func IntegerValue(i int64) Value       { return Value{kind: KindInteger, i: i} }
func DoubleValue(f float64) Value      { return Value{kind: KindDouble, f: f} }
func TextValue(s string) Value         { return Value{kind: KindText, s: s} }
func DateValue(t time.Time) Value      { return Value{kind: KindDate, t: t} }
func TimestampValue(t time.Time) Value { return Value{kind: KindTimestamp, t: t} }

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }
func (v Value) Bool() bool      { return v.b }
func (v Value) Int() int64      { return v.i }
func (v Value) Float() float64  { return v.f }
func (v Value) Text() string    { return v.s }
func (v Value) Time() time.Time { return v.t }

// Driver returns the value in a form database/sql can bind.
func (v Value) Driver() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBoolean:
		return v.b
	case KindInteger:
		return v.i
	case KindDouble:
		return v.f
	case KindText:
		return v.s
	case KindDate:
		return v.t.Format("2006-01-02")
	case KindTimestamp:
		return v.t.UTC().Format(time.RFC3339Nano)
	default:
		return nil
	}
}

// String renders the value for display and CSV export. Null renders empty.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBoolean:
		return strconv.FormatBool(v.b)
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindDouble:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText:
		return v.s
	case KindDate:
		return v.t.Format("2006-01-02")
	case KindTimestamp:
		return v.t.UTC().Format(time.RFC3339)
	default:
		return ""
	}
}

// MarshalJSON encodes cells as plain JSON scalars so clients receive ordinary
// row arrays rather than tagged objects.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBoolean:
		return json.Marshal(v.b)
	case KindInteger:
		return json.Marshal(v.i)
	case KindDouble:
		return json.Marshal(v.f)
	case KindText:
		return json.Marshal(v.s)
	case KindDate:
		return json.Marshal(v.t.Format("2006-01-02"))
	case KindTimestamp:
		return json.Marshal(v.t.UTC().Format(time.RFC3339))
	default:
		return nil, fmt.Errorf("cannot marshal value of kind %d", v.kind)
	}
}

// UnmarshalJSON decodes a plain scalar back into a tagged value. JSON cannot
// distinguish dates and timestamps from plain strings, so both decode as
// text; numbers without a fractional part decode as integers.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch value := raw.(type) {
	case nil:
		*v = Null
	case bool:
		*v = BooleanValue(value)
	case json.Number:
		if i, err := value.Int64(); err == nil {
			*v = IntegerValue(i)
			return nil
		}
		f, err := value.Float64()
		if err != nil {
			return err
		}
		*v = DoubleValue(f)
	case string:
		*v = TextValue(value)
	default:
		return fmt.Errorf("cannot decode %s into a value", data)
	}
	return nil
}

// FromDriver converts a database/sql scan result into a Value, guided by the
// column type the scan targeted.
func FromDriver(raw any, columnType ColumnType) Value {
	if raw == nil {
		return Null
	}
	switch columnType {
	case ColumnBoolean:
		switch b := raw.(type) {
		case bool:
			return BooleanValue(b)
		case int64:
			return BooleanValue(b != 0)
		}
	case ColumnInteger:
		if i, ok := raw.(int64); ok {
			return IntegerValue(i)
		}
	case ColumnDouble:
		switch f := raw.(type) {
		case float64:
			return DoubleValue(f)
		case int64:
			return DoubleValue(float64(f))
		}
	case ColumnDate:
		if s, ok := raw.(string); ok {
			if t, err := time.Parse("2006-01-02", s); err == nil {
				return DateValue(t)
			}
		}
	case ColumnTimestamp:
		if s, ok := raw.(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return TimestampValue(t)
			}
		}
	}
	switch s := raw.(type) {
	case string:
		return TextValue(s)
	case []byte:
		return TextValue(string(s))
	case int64:
		return IntegerValue(s)
	case float64:
		return DoubleValue(s)
	case bool:
		return BooleanValue(s)
	case time.Time:
		return TimestampValue(s)
	}
	return TextValue(fmt.Sprint(raw))
}
