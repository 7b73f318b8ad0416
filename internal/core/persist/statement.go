package persist

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// StatementID indexes the statement catalog.
type StatementID uint32

func (id StatementID) String() string {
	return fmt.Sprintf("#%d", uint32(id))
}

// ConnFlags select which connection roles prepare a statement.
type ConnFlags uint8

const (
	ConnAsync ConnFlags = 1 << iota
	ConnSync
	ConnBoth = ConnAsync | ConnSync
)

type Template struct {
	SQL   string
	Flags ConnFlags
}

// Catalog is the fixed set of statements a pool prepares on open.
type Catalog struct {
	templates map[StatementID]Template
	ids       []StatementID
}

func NewCatalog(entries map[StatementID]Template) *Catalog {
	c := &Catalog{templates: make(map[StatementID]Template, len(entries))}
	for id, t := range entries {
		c.templates[id] = t
		c.ids = append(c.ids, id)
	}
	slices.Sort(c.ids)
	return c
}

func (c *Catalog) Template(id StatementID) (Template, bool) {
	t, ok := c.templates[id]
	return t, ok
}

// IDs returns the statement ids in ascending order.
func (c *Catalog) IDs() []StatementID {
	return slices.Clone(c.ids)
}

func (c *Catalog) Len() int {
	return len(c.ids)
}

// Fingerprint hashes the catalog contents. Two processes with the same
// fingerprint prepare the same statements.
func (c *Catalog) Fingerprint() uint64 {
	d := xxhash.New()
	var buf [5]byte
	for _, id := range c.ids {
		t := c.templates[id]
		binary.LittleEndian.PutUint32(buf[:4], uint32(id))
		buf[4] = byte(t.Flags)
		_, _ = d.Write(buf[:])
		_, _ = d.WriteString(t.SQL)
	}
	return d.Sum64()
}

// Statement is a catalog index plus positional parameters. Handing it to
// the pool transfers ownership; touching it afterwards panics.
type Statement struct {
	id     StatementID
	params []Value
	spent  atomic.Bool
}

func NewStatement(id StatementID) *Statement {
	return &Statement{id: id}
}

func (s *Statement) ID() StatementID {
	return s.id
}

func (s *Statement) Params() []Value {
	return slices.Clone(s.params)
}

// Args converts the parameters for database/sql.
func (s *Statement) Args() []any {
	args := make([]any, len(s.params))
	for i, p := range s.params {
		args[i] = p.Arg()
	}
	return args
}

func (s *Statement) claim() {
	if !s.spent.CompareAndSwap(false, true) {
		panic(&StatementReusedError{ID: s.id})
	}
}

func (s *Statement) set(index int, v Value) *Statement {
	if s.spent.Load() {
		panic(&StatementReusedError{ID: s.id})
	}
	if index < 0 {
		panic(fmt.Sprintf("persist: negative parameter index %d", index))
	}
	if index >= len(s.params) {
		s.params = append(s.params, make([]Value, index+1-len(s.params))...)
	}
	s.params[index] = v
	return s
}

func (s *Statement) SetBool(i int, v bool) *Statement     { return s.set(i, BoolValue(v)) }
func (s *Statement) SetUint8(i int, v uint8) *Statement   { return s.set(i, Uint8Value(v)) }
func (s *Statement) SetUint16(i int, v uint16) *Statement { return s.set(i, Uint16Value(v)) }
func (s *Statement) SetUint32(i int, v uint32) *Statement { return s.set(i, Uint32Value(v)) }
func (s *Statement) SetUint64(i int, v uint64) *Statement { return s.set(i, Uint64Value(v)) }
func (s *Statement) SetInt8(i int, v int8) *Statement     { return s.set(i, Int8Value(v)) }
func (s *Statement) SetInt16(i int, v int16) *Statement   { return s.set(i, Int16Value(v)) }
func (s *Statement) SetInt32(i int, v int32) *Statement   { return s.set(i, Int32Value(v)) }
func (s *Statement) SetInt64(i int, v int64) *Statement   { return s.set(i, Int64Value(v)) }
func (s *Statement) SetFloat(i int, v float32) *Statement { return s.set(i, FloatValue(v)) }
func (s *Statement) SetDouble(i int, v float64) *Statement {
	return s.set(i, DoubleValue(v))
}
func (s *Statement) SetString(i int, v string) *Statement { return s.set(i, StringValue(v)) }
func (s *Statement) SetBinary(i int, v []byte) *Statement { return s.set(i, BinaryValue(v)) }
func (s *Statement) SetNull(i int) *Statement             { return s.set(i, NullValue()) }
