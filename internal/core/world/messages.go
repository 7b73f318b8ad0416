package world

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/zeusync/worldcore/internal/core/handle"
	"github.com/zeusync/worldcore/internal/core/motion"
	"github.com/zeusync/worldcore/internal/core/region"
	"github.com/zeusync/worldcore/internal/core/session"
)

// Packet ids the world itself produces or consumes. Game rules register
// their own ids through HandlePacket.
const (
	MsgLogin       uint16 = 1
	MsgLoginResult uint16 = 2

	MsgMoveRequest uint16 = 10
	MsgMove        uint16 = 11
	MsgStop        uint16 = 12
	MsgRegionAck   uint16 = 13
	MsgWarp        uint16 = 14

	MsgEnter  uint16 = 20
	MsgLeave  uint16 = 21
	MsgUpdate uint16 = 22

	MsgPickup uint16 = 30
	MsgGold   uint16 = 31
)

// Login result codes.
const (
	LoginOK uint8 = iota
	LoginUnknownCharacter
	LoginFailed
	LoginAlreadyBound
)

// maxPathPoints bounds a client move request.
const maxPathPoints = 32

var errMalformed = errors.New("malformed payload")

func appendFloat(buf []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
}

func readFloat(b []byte) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
}

func appendPath(buf []byte, dests []motion.Position) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(dests)))
	for _, d := range dests {
		buf = appendFloat(buf, d.X)
		buf = appendFloat(buf, d.Y)
	}
	return buf
}

// Move: u32 handle, f32 speed, u16 n, n x (f32 x, f32 y).
func movePacket(h handle.Handle, speed float64, dests []motion.Position) session.Packet {
	buf := make([]byte, 0, 10+8*len(dests))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(h))
	buf = appendFloat(buf, speed)
	return session.Packet{ID: MsgMove, Payload: appendPath(buf, dests)}
}

// Stop and Warp: u32 handle, f32 x, f32 y, f32 z, u8 layer.
func placePacket(id uint16, h handle.Handle, pos motion.Position) session.Packet {
	buf := make([]byte, 0, 17)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(h))
	buf = appendFloat(buf, pos.X)
	buf = appendFloat(buf, pos.Y)
	buf = appendFloat(buf, pos.Z)
	buf = append(buf, pos.Layer)
	return session.Packet{ID: id, Payload: buf}
}

// RegionAck: i32 x, i32 y, u8 layer.
func regionAckPacket(c region.CellID) session.Packet {
	buf := make([]byte, 0, 9)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(c.X))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(c.Y))
	buf = append(buf, c.Layer)
	return session.Packet{ID: MsgRegionAck, Payload: buf}
}

func leavePacket(h handle.Handle) session.Packet {
	return session.Packet{ID: MsgLeave, Payload: binary.LittleEndian.AppendUint32(nil, uint32(h))}
}

// Gold: u64 amount.
func goldPacket(gold uint64) session.Packet {
	return session.Packet{ID: MsgGold, Payload: binary.LittleEndian.AppendUint64(nil, gold)}
}

// LoginResult: u8 code, u32 handle.
func loginResultPacket(code uint8, h handle.Handle) session.Packet {
	buf := append(make([]byte, 0, 5), code)
	return session.Packet{ID: MsgLoginResult, Payload: binary.LittleEndian.AppendUint32(buf, uint32(h))}
}

// MoveRequest: f32 speed, u16 n, n x (f32 x, f32 y). Points keep the
// mover's layer.
func decodeMoveRequest(b []byte, layer uint8) (float64, []motion.Position, error) {
	if len(b) < 6 {
		return 0, nil, errMalformed
	}
	speed := readFloat(b)
	n := int(binary.LittleEndian.Uint16(b[4:]))
	if n > maxPathPoints || len(b) != 6+8*n {
		return 0, nil, errMalformed
	}
	dests := make([]motion.Position, n)
	for i := range dests {
		off := 6 + 8*i
		dests[i] = motion.At(readFloat(b[off:]), readFloat(b[off+4:]), layer)
	}
	return speed, dests, nil
}

// Pickup: u32 item handle.
func decodePickup(b []byte) (handle.Handle, error) {
	if len(b) != 4 {
		return handle.Invalid, errMalformed
	}
	return handle.Handle(binary.LittleEndian.Uint32(b)), nil
}
