// Package session carries opaque packets between network connections and
// the simulation. Payload layouts belong to the game protocol; this package
// only knows the packet id and the frame around it.
package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame layout: u32 length (little endian, counts id and payload), u16 id,
// payload.
const (
	lengthSize = 4
	idSize     = 2
	HeaderSize = lengthSize + idSize

	DefaultMaxFrame = 64 * 1024
)

var (
	ErrFrameTooLarge = errors.New("frame too large")
	ErrShortFrame    = errors.New("short frame")
)

type Packet struct {
	ID      uint16
	Payload []byte
}

func (p Packet) String() string {
	return fmt.Sprintf("packet(%d, %d bytes)", p.ID, len(p.Payload))
}

// AppendFrame appends the framed packet to buf.
func AppendFrame(buf []byte, p Packet) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(idSize+len(p.Payload)))
	buf = binary.LittleEndian.AppendUint16(buf, p.ID)
	return append(buf, p.Payload...)
}

// DecodeFrame parses one frame from the start of b and returns the number
// of bytes consumed. The payload aliases b.
func DecodeFrame(b []byte, maxFrame int) (Packet, int, error) {
	if len(b) < HeaderSize {
		return Packet{}, 0, ErrShortFrame
	}
	n := int(binary.LittleEndian.Uint32(b))
	if n < idSize {
		return Packet{}, 0, fmt.Errorf("%w: length %d", ErrShortFrame, n)
	}
	if maxFrame > 0 && n > maxFrame {
		return Packet{}, 0, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxFrame)
	}
	if len(b) < lengthSize+n {
		return Packet{}, 0, ErrShortFrame
	}
	p := Packet{
		ID:      binary.LittleEndian.Uint16(b[lengthSize:]),
		Payload: b[HeaderSize : lengthSize+n],
	}
	return p, lengthSize + n, nil
}

// ReadFrame reads exactly one frame from a stream.
func ReadFrame(r io.Reader, maxFrame int) (Packet, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Packet{}, err
	}
	n := int(binary.LittleEndian.Uint32(header[:]))
	if n < idSize {
		return Packet{}, fmt.Errorf("%w: length %d", ErrShortFrame, n)
	}
	if maxFrame > 0 && n > maxFrame {
		return Packet{}, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxFrame)
	}
	p := Packet{ID: binary.LittleEndian.Uint16(header[lengthSize:])}
	if n > idSize {
		p.Payload = make([]byte, n-idSize)
		if _, err := io.ReadFull(r, p.Payload); err != nil {
			return Packet{}, err
		}
	}
	return p, nil
}

// WriteFrame writes p as one frame.
func WriteFrame(w io.Writer, p Packet) error {
	_, err := w.Write(AppendFrame(make([]byte, 0, HeaderSize+len(p.Payload)), p))
	return err
}
