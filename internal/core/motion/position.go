package motion

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Tick is a simulation timestamp in milliseconds.
type Tick uint64

// Position is a point on the map. Layer separates overlapping floors of the
// same map area; two positions on different layers are never close.
type Position struct {
	X, Y, Z float64
	Face    float64
	Layer   uint8
}

func At(x, y float64, layer uint8) Position {
	return Position{X: x, Y: y, Layer: layer}
}

func (p Position) Vec() mgl64.Vec3 {
	return mgl64.Vec3{p.X, p.Y, p.Z}
}

func (p Position) vec2() mgl64.Vec2 {
	return mgl64.Vec2{p.X, p.Y}
}

// Distance2D is the planar distance, or +Inf across layers.
func (p Position) Distance2D(o Position) float64 {
	if p.Layer != o.Layer {
		return math.Inf(1)
	}
	return o.vec2().Sub(p.vec2()).Len()
}

func (p Position) Distance(o Position) float64 {
	if p.Layer != o.Layer {
		return math.Inf(1)
	}
	return o.Vec().Sub(p.Vec()).Len()
}

// Lerp interpolates towards o. ratio is clamped to [0,1]; the result faces
// the direction of travel and keeps p's layer.
func (p Position) Lerp(o Position, ratio float64) Position {
	ratio = mgl64.Clamp(ratio, 0, 1)
	if ratio == 1 {
		return o
	}
	v := p.Vec().Add(o.Vec().Sub(p.Vec()).Mul(ratio))
	return Position{
		X:     v.X(),
		Y:     v.Y(),
		Z:     v.Z(),
		Face:  p.FaceTowards(o),
		Layer: p.Layer,
	}
}

// FaceTowards returns the heading from p to o in radians, or p.Face when the
// points coincide.
func (p Position) FaceTowards(o Position) float64 {
	d := o.vec2().Sub(p.vec2())
	if d.Len() == 0 {
		return p.Face
	}
	return math.Atan2(d.Y(), d.X())
}

func (p Position) Equal(o Position) bool {
	return p.Layer == o.Layer &&
		mgl64.FloatEqual(p.X, o.X) &&
		mgl64.FloatEqual(p.Y, o.Y) &&
		mgl64.FloatEqual(p.Z, o.Z)
}

func (p Position) String() string {
	return fmt.Sprintf("(%.1f,%.1f,%.1f)@%d", p.X, p.Y, p.Z, p.Layer)
}
