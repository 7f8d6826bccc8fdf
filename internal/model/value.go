package model

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindDecimal // exact numeric kept as its text form
	KindTime
	KindBytes
	KindString
	KindJSON
)

var kindNames = [...]string{"null", "bool", "int", "float", "decimal", "time", "bytes", "string", "json"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	for i, n := range kindNames {
		if n == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown value kind %q", b)
}

// Value is a tagged union for one cell moving between the source and the
// target type systems. Callers switch on Kind instead of inspecting Go types.
type Value struct {
	Kind Kind
	b    bool
	i    int64
	f    float64
	s    string // decimal, string, json
	t    time.Time
	raw  []byte
}

func Null() Value            { return Value{} }
func Bool(b bool) Value      { return Value{Kind: KindBool, b: b} }
func Int(i int64) Value      { return Value{Kind: KindInt, i: i} }
func Float(f float64) Value  { return Value{Kind: KindFloat, f: f} }
func Decimal(s string) Value { return Value{Kind: KindDecimal, s: s} }
func String(s string) Value  { return Value{Kind: KindString, s: s} }
func JSON(s string) Value    { return Value{Kind: KindJSON, s: s} }
func Bytes(b []byte) Value   { return Value{Kind: KindBytes, raw: b} }

// Time wraps t. The zero time becomes Null: MySQL zero dates have no
// PostgreSQL equivalent.
func Time(t time.Time) Value {
	if t.IsZero() {
		return Null()
	}
	return Value{Kind: KindTime, t: t}
}

func (v Value) IsNull() bool       { return v.Kind == KindNull }
func (v Value) BoolVal() bool      { return v.b }
func (v Value) IntVal() int64      { return v.i }
func (v Value) FloatVal() float64  { return v.f }
func (v Value) TimeVal() time.Time { return v.t }
func (v Value) BytesVal() []byte   { return v.raw }

// Text returns the textual form of the value, as a database would render it.
func (v Value) Text() string {
	switch v.Kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	case KindBytes:
		return string(v.raw)
	case KindDecimal, KindString, KindJSON:
		return v.s
	}
	return ""
}

// Any returns the value as a database/sql argument.
func (v Value) Any() any {
	switch v.Kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindTime:
		return v.t
	case KindBytes:
		return v.raw
	case KindDecimal, KindString, KindJSON:
		return v.s
	}
	return nil
}

// ValueOf wraps a value returned by a database/sql driver.
func ValueOf(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint8:
		return Int(int64(t))
	case uint16:
		return Int(int64(t))
	case uint32:
		return Int(int64(t))
	case uint64:
		if t > 1<<63-1 {
			return Decimal(strconv.FormatUint(t, 10))
		}
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case time.Time:
		return Time(t)
	case []byte:
		return Bytes(append([]byte(nil), t...))
	case string:
		return String(t)
	case json.RawMessage:
		return JSON(string(t))
	case fmt.Stringer:
		return String(t.String())
	}
	return String(fmt.Sprint(x))
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Coerce converts v to the target kind, as needed when a source value lands
// in a typed target column (tinyint(1) → boolean, bit(1) → boolean, ...).
func (v Value) Coerce(target Kind) (Value, error) {
	if v.Kind == KindNull || v.Kind == target {
		return v, nil
	}
	switch target {
	case KindBool:
		switch v.Kind {
		case KindInt:
			return Bool(v.i != 0), nil
		case KindFloat:
			return Bool(v.f != 0), nil
		case KindBytes:
			for _, c := range v.raw {
				if c != 0 && c != '0' {
					return Bool(true), nil
				}
			}
			return Bool(false), nil
		case KindString, KindDecimal:
			switch strings.ToLower(strings.TrimSpace(v.s)) {
			case "1", "true", "t", "y", "yes", "on":
				return Bool(true), nil
			case "0", "false", "f", "n", "no", "off", "":
				return Bool(false), nil
			}
		}
	case KindInt:
		switch v.Kind {
		case KindBool:
			if v.b {
				return Int(1), nil
			}
			return Int(0), nil
		case KindFloat:
			if v.f == float64(int64(v.f)) {
				return Int(int64(v.f)), nil
			}
		case KindString, KindDecimal, KindBytes:
			if n, err := strconv.ParseInt(strings.TrimSpace(v.Text()), 10, 64); err == nil {
				return Int(n), nil
			}
		}
	case KindFloat:
		switch v.Kind {
		case KindInt:
			return Float(float64(v.i)), nil
		case KindString, KindDecimal, KindBytes:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v.Text()), 64); err == nil {
				return Float(f), nil
			}
		}
	case KindDecimal:
		switch v.Kind {
		case KindInt, KindFloat, KindString, KindBytes:
			return Decimal(v.Text()), nil
		case KindBool:
			if v.b {
				return Decimal("1"), nil
			}
			return Decimal("0"), nil
		}
	case KindTime:
		switch v.Kind {
		case KindString, KindBytes:
			s := strings.TrimSpace(v.Text())
			if strings.HasPrefix(s, "0000-00-00") {
				return Null(), nil
			}
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, s); err == nil {
					return Time(t), nil
				}
			}
		}
	case KindString:
		return String(v.Text()), nil
	case KindJSON:
		text := v.Text()
		if json.Valid([]byte(text)) {
			return JSON(text), nil
		}
		quoted, _ := json.Marshal(text)
		return JSON(string(quoted)), nil
	case KindBytes:
		return Bytes([]byte(v.Text())), nil
	}
	return v, fmt.Errorf("cannot convert %s value %q to %s", v.Kind, v.Text(), target)
}

// MarshalJSON renders the value as its natural JSON form. Decimals are
// rendered as strings to keep their precision.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return strconv.AppendBool(nil, v.b), nil
	case KindInt:
		return strconv.AppendInt(nil, v.i, 10), nil
	case KindFloat:
		return json.Marshal(v.f)
	case KindTime:
		return json.Marshal(v.t)
	case KindBytes:
		return json.Marshal(v.raw)
	case KindJSON:
		if json.Valid([]byte(v.s)) {
			return []byte(v.s), nil
		}
		return json.Marshal(v.s)
	default:
		return json.Marshal(v.s)
	}
}

// decodeValue restores a value of the given kind from its JSON form.
func decodeValue(kind Kind, raw json.RawMessage) (Value, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Null(), nil
	}
	switch kind {
	case KindBool:
		var b bool
		if err := json.Unmarshal(trimmed, &b); err == nil {
			return Bool(b), nil
		}
	case KindInt:
		var n int64
		if err := json.Unmarshal(trimmed, &n); err == nil {
			return Int(n), nil
		}
	case KindFloat:
		var f float64
		if err := json.Unmarshal(trimmed, &f); err == nil {
			return Float(f), nil
		}
	case KindTime:
		var t time.Time
		if err := json.Unmarshal(trimmed, &t); err == nil {
			return Time(t), nil
		}
	case KindBytes:
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			b, err := base64.StdEncoding.DecodeString(s)
			if err == nil {
				return Bytes(b), nil
			}
		}
	case KindJSON:
		return JSON(string(trimmed)), nil
	case KindDecimal, KindString:
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			if kind == KindDecimal {
				return Decimal(s), nil
			}
			return String(s), nil
		}
	}

	// The column kind did not match; fall back on the JSON token type.
	var generic any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return Null(), fmt.Errorf("decode %s value: %w", kind, err)
	}
	switch g := generic.(type) {
	case bool:
		return Bool(g), nil
	case json.Number:
		if n, err := g.Int64(); err == nil {
			return Int(n), nil
		}
		return Decimal(g.String()), nil
	case string:
		return String(g), nil
	default:
		return JSON(string(trimmed)), nil
	}
}

// ColumnDesc describes one result column.
type ColumnDesc struct {
	Name         string `json:"name"`
	DatabaseType string `json:"database_type,omitempty"`
	Kind         Kind   `json:"kind"`
}

// ResultSet is an ordered, typed block of rows.
type ResultSet struct {
	Columns []ColumnDesc
	Rows    [][]Value
}

// NewResultSet returns an empty result set with the given columns.
func NewResultSet(cols []ColumnDesc) *ResultSet {
	return &ResultSet{Columns: cols, Rows: [][]Value{}}
}

// Len returns the number of rows.
func (rs *ResultSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}

// ColumnNames returns the column names in order.
func (rs *ResultSet) ColumnNames() []string {
	names := make([]string, len(rs.Columns))
	for i, c := range rs.Columns {
		names[i] = c.Name
	}
	return names
}

// Append adds a row, learning a column's kind from its first non-null value.
func (rs *ResultSet) Append(row []Value) {
	for i, v := range row {
		if i < len(rs.Columns) && rs.Columns[i].Kind == KindNull && v.Kind != KindNull {
			rs.Columns[i].Kind = v.Kind
		}
	}
	rs.Rows = append(rs.Rows, row)
}

// Records returns the rows as column-name keyed maps, the shape chart
// renderers consume.
func (rs *ResultSet) Records() []map[string]Value {
	if rs == nil {
		return []map[string]Value{}
	}
	out := make([]map[string]Value, len(rs.Rows))
	for i, row := range rs.Rows {
		rec := make(map[string]Value, len(rs.Columns))
		for j, c := range rs.Columns {
			if j < len(row) {
				rec[c.Name] = row[j]
			}
		}
		out[i] = rec
	}
	return out
}

type resultSetJSON struct {
	Columns []ColumnDesc        `json:"columns"`
	Rows    [][]json.RawMessage `json:"rows"`
}

// MarshalJSON encodes the result set as column descriptors plus row arrays.
func (rs ResultSet) MarshalJSON() ([]byte, error) {
	out := resultSetJSON{Columns: rs.Columns, Rows: make([][]json.RawMessage, len(rs.Rows))}
	if out.Columns == nil {
		out.Columns = []ColumnDesc{}
	}
	for i, row := range rs.Rows {
		cells := make([]json.RawMessage, len(row))
		for j, v := range row {
			b, err := v.MarshalJSON()
			if err != nil {
				return nil, err
			}
			cells[j] = b
		}
		out.Rows[i] = cells
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a result set encoded by MarshalJSON, using the
// column kinds to rebuild each value.
func (rs *ResultSet) UnmarshalJSON(b []byte) error {
	var in resultSetJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	rs.Columns = in.Columns
	rs.Rows = make([][]Value, len(in.Rows))
	for i, cells := range in.Rows {
		row := make([]Value, len(cells))
		for j, raw := range cells {
			kind := KindString
			if j < len(in.Columns) {
				kind = in.Columns[j].Kind
			}
			v, err := decodeValue(kind, raw)
			if err != nil {
				return fmt.Errorf("row %d column %d: %w", i, j, err)
			}
			row[j] = v
		}
		rs.Rows[i] = row
	}
	return nil
}
