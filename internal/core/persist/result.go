package persist

import (
	"fmt"
	"math"
	"strconv"
)

// Field is one column value of a row. Getters convert between the storage
// representations drivers return (int64, float64, []byte, string, bool).
type Field struct {
	raw any
}

func NewField(raw any) Field {
	return Field{raw: raw}
}

func (f Field) IsNull() bool {
	return f.raw == nil
}

func (f Field) Raw() any {
	return f.raw
}

func (f Field) Int64() int64 {
	switch v := f.raw.(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case []byte:
		i, _ := strconv.ParseInt(string(v), 10, 64)
		return i
	case string:
		i, _ := strconv.ParseInt(v, 10, 64)
		return i
	default:
		return 0
	}
}

// Uint64 reverses the bit-pattern storage used for unsigned parameters.
func (f Field) Uint64() uint64 {
	switch v := f.raw.(type) {
	case []byte:
		u, _ := strconv.ParseUint(string(v), 10, 64)
		return u
	case string:
		u, _ := strconv.ParseUint(v, 10, 64)
		return u
	default:
		return uint64(f.Int64())
	}
}

func (f Field) Bool() bool     { return f.Int64() != 0 }
func (f Field) Int8() int8     { return int8(f.Int64()) }
func (f Field) Int16() int16   { return int16(f.Int64()) }
func (f Field) Int32() int32   { return int32(f.Int64()) }
func (f Field) Uint8() uint8   { return uint8(f.Int64()) }
func (f Field) Uint16() uint16 { return uint16(f.Int64()) }
func (f Field) Uint32() uint32 { return uint32(f.Int64()) }

func (f Field) Double() float64 {
	switch v := f.raw.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case []byte:
		d, _ := strconv.ParseFloat(string(v), 64)
		return d
	case string:
		d, _ := strconv.ParseFloat(v, 64)
		return d
	default:
		return 0
	}
}

func (f Field) Float() float32 {
	d := f.Double()
	if d > math.MaxFloat32 {
		return math.MaxFloat32
	}
	return float32(d)
}

func (f Field) String() string {
	switch v := f.raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func (f Field) Bytes() []byte {
	switch v := f.raw.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}

type Row []Field

// ResultSet is a fully materialized query result with a row cursor.
//
//	for rs.Next() {
//		row := rs.Row()
//		id := row[0].Uint32()
//	}
type ResultSet struct {
	columns []string
	rows    []Row
	cursor  int
}

func NewResultSet(columns []string, rows []Row) *ResultSet {
	return &ResultSet{columns: columns, rows: rows, cursor: -1}
}

func (r *ResultSet) Columns() []string { return r.columns }
func (r *ResultSet) RowCount() int     { return len(r.rows) }
func (r *ResultSet) IsEmpty() bool     { return len(r.rows) == 0 }

// Next advances the cursor. The first call moves to the first row.
func (r *ResultSet) Next() bool {
	if r.cursor+1 >= len(r.rows) {
		r.cursor = len(r.rows)
		return false
	}
	r.cursor++
	return true
}

// Row returns the row under the cursor.
func (r *ResultSet) Row() Row {
	if r.cursor < 0 || r.cursor >= len(r.rows) {
		return nil
	}
	return r.rows[r.cursor]
}

// First returns the first row, or nil when the result is empty.
func (r *ResultSet) First() Row {
	if len(r.rows) == 0 {
		return nil
	}
	return r.rows[0]
}

func (r *ResultSet) Rows() []Row {
	return r.rows
}

// Column looks a field of the current row up by name.
func (r *ResultSet) Column(name string) (Field, error) {
	row := r.Row()
	for i, c := range r.columns {
		if c == name && i < len(row) {
			return row[i], nil
		}
	}
	return Field{}, fmt.Errorf("%w: %s", ErrNoSuchColumn, name)
}
