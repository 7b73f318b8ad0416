package entity

import (
	"encoding/binary"
	"math"
)

// AppendSnapshot appends the full client-visible state of e: handle, kind,
// position, layer and every field slot.
func AppendSnapshot(buf []byte, e Entity) []byte {
	pos := e.Position()
	buf = binary.LittleEndian.AppendUint32(buf, uint32(e.Handle()))
	buf = append(buf, byte(e.Kind()), pos.Layer)
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(pos.X)))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(pos.Y)))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(pos.Z)))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(pos.Face)))

	slots := e.Fields().slots
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(slots)))
	for _, s := range slots {
		buf = binary.LittleEndian.AppendUint32(buf, s)
	}
	return buf
}

// AppendDelta appends only the dirty slots of e as (index, value) pairs.
func AppendDelta(buf []byte, e Entity) []byte {
	f := e.Fields()
	dirty := f.Dirty()
	buf = binary.LittleEndian.AppendUint32(buf, uint32(e.Handle()))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(dirty)))
	for _, i := range dirty {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(i))
		buf = binary.LittleEndian.AppendUint32(buf, f.slots[i])
	}
	return buf
}
