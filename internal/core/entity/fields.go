package entity

import (
	"fmt"
	"math"
	"math/bits"
)

// FieldIndexError is the panic value for an access outside the field array.
type FieldIndexError struct {
	Index int
	Len   int
}

func (e *FieldIndexError) Error() string {
	return fmt.Sprintf("field index %d out of range [0,%d)", e.Index, e.Len)
}

// Fields is a fixed-size array of 32-bit slots addressed by stable index.
// 64-bit values occupy two consecutive slots, low word first. Every write
// that changes a slot marks it dirty and bumps the version.
type Fields struct {
	slots   []uint32
	dirty   []uint64
	version uint64
}

func NewFields(n int) *Fields {
	return &Fields{
		slots: make([]uint32, n),
		dirty: make([]uint64, (n+63)/64),
	}
}

func (f *Fields) Len() int {
	return len(f.slots)
}

func (f *Fields) check(index, width int) {
	if index < 0 || index+width > len(f.slots) {
		panic(&FieldIndexError{Index: index, Len: len(f.slots)})
	}
}

func (f *Fields) store(index int, v uint32) {
	if f.slots[index] == v {
		return
	}
	f.slots[index] = v
	f.dirty[index/64] |= 1 << (uint(index) % 64)
	f.version++
}

func (f *Fields) Uint32(index int) uint32 {
	f.check(index, 1)
	return f.slots[index]
}

func (f *Fields) SetUint32(index int, v uint32) {
	f.check(index, 1)
	f.store(index, v)
}

func (f *Fields) Int32(index int) int32 {
	return int32(f.Uint32(index))
}

func (f *Fields) SetInt32(index int, v int32) {
	f.SetUint32(index, uint32(v))
}

func (f *Fields) Float(index int) float32 {
	return math.Float32frombits(f.Uint32(index))
}

func (f *Fields) SetFloat(index int, v float32) {
	f.SetUint32(index, math.Float32bits(v))
}

func (f *Fields) Uint64(index int) uint64 {
	f.check(index, 2)
	return uint64(f.slots[index]) | uint64(f.slots[index+1])<<32
}

func (f *Fields) SetUint64(index int, v uint64) {
	f.check(index, 2)
	f.store(index, uint32(v))
	f.store(index+1, uint32(v>>32))
}

func (f *Fields) Int64(index int) int64 {
	return int64(f.Uint64(index))
}

func (f *Fields) SetInt64(index int, v int64) {
	f.SetUint64(index, uint64(v))
}

// Byte reads byte offset (0..3) of a slot.
func (f *Fields) Byte(index int, offset uint) uint8 {
	if offset > 3 {
		panic(fmt.Sprintf("byte offset %d out of slot", offset))
	}
	return uint8(f.Uint32(index) >> (offset * 8))
}

func (f *Fields) SetByte(index int, offset uint, v uint8) {
	if offset > 3 {
		panic(fmt.Sprintf("byte offset %d out of slot", offset))
	}
	cur := f.Uint32(index)
	mask := uint32(0xFF) << (offset * 8)
	f.store(index, cur&^mask|uint32(v)<<(offset*8))
}

func (f *Fields) HasFlag(index int, flag uint32) bool {
	return f.Uint32(index)&flag != 0
}

func (f *Fields) SetFlag(index int, flag uint32) {
	f.SetUint32(index, f.Uint32(index)|flag)
}

func (f *Fields) RemoveFlag(index int, flag uint32) {
	f.SetUint32(index, f.Uint32(index)&^flag)
}

func (f *Fields) IsDirty(index int) bool {
	f.check(index, 1)
	return f.dirty[index/64]&(1<<(uint(index)%64)) != 0
}

// Dirty lists the changed slot indexes in ascending order.
func (f *Fields) Dirty() []int {
	var out []int
	for w, word := range f.dirty {
		for word != 0 {
			b := bits.TrailingZeros64(word)
			out = append(out, w*64+b)
			word &^= 1 << uint(b)
		}
	}
	return out
}

func (f *Fields) HasChanges() bool {
	for _, word := range f.dirty {
		if word != 0 {
			return true
		}
	}
	return false
}

func (f *Fields) ClearDirty() {
	clear(f.dirty)
}

func (f *Fields) Version() uint64 {
	return f.version
}

// Raw returns a copy of the slots.
func (f *Fields) Raw() []uint32 {
	out := make([]uint32, len(f.slots))
	copy(out, f.slots)
	return out
}
