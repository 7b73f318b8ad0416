package motion

import "math"

type State uint8

const (
	Idle State = iota
	Moving
)

func (s State) String() string {
	if s == Moving {
		return "moving"
	}
	return "idle"
}

// Leg is one waypoint of a path and the time the mover reaches it.
type Leg struct {
	To      Position
	Arrival Tick
}

// Track resolves where a mover is at a given time. Resolve is a pure
// function of the track state and the queried time; only SetMove, Step,
// Stop and Warp change the state.
//
// Track is owned by the simulation goroutine.
type Track struct {
	start     Position
	startTime Tick
	speed     float64
	legs      []Leg
	state     State
}

func NewTrack(pos Position) *Track {
	return &Track{start: pos}
}

// SetMove replaces any path in flight. The new path starts where the old one
// resolves at now; leg arrivals accumulate from startTime at speed world
// units per second. A non-positive speed or an empty path stops the mover.
func (t *Track) SetMove(dests []Position, speed float64, startTime, now Tick) {
	from := t.Resolve(now)
	if speed <= 0 || len(dests) == 0 {
		t.Stop(now)
		return
	}

	t.start = from
	t.startTime = startTime
	t.speed = speed
	t.legs = t.legs[:0]

	prev, at := from, startTime
	for _, d := range dests {
		d.Layer = from.Layer
		d.Face = prev.FaceTowards(d)
		at += travelTime(prev.Distance2D(d), speed)
		t.legs = append(t.legs, Leg{To: d, Arrival: at})
		prev = d
	}
	t.state = Moving
}

func travelTime(dist, speed float64) Tick {
	if dist <= 0 {
		return 0
	}
	return Tick(math.Ceil(dist / speed * 1000))
}

// Resolve returns the interpolated position at time at.
func (t *Track) Resolve(at Tick) Position {
	if t.state == Idle || len(t.legs) == 0 || at <= t.startTime {
		return t.start
	}

	prev, prevTime := t.start, t.startTime
	for _, leg := range t.legs {
		if at < leg.Arrival {
			span := float64(leg.Arrival - prevTime)
			ratio := float64(at-prevTime) / span
			return prev.Lerp(leg.To, ratio)
		}
		prev, prevTime = leg.To, leg.Arrival
	}
	return prev
}

// Step resolves the position at now and drops the legs that are complete.
// It reports whether the mover is still under way.
func (t *Track) Step(now Tick) (Position, bool) {
	pos := t.Resolve(now)
	if t.state == Idle {
		return pos, false
	}

	done := 0
	for _, leg := range t.legs {
		if leg.Arrival > now {
			break
		}
		t.start, t.startTime = leg.To, leg.Arrival
		done++
	}
	t.legs = append(t.legs[:0], t.legs[done:]...)
	if len(t.legs) == 0 {
		t.state = Idle
		t.start = pos
	}
	return pos, t.state == Moving
}

// Stop freezes the mover where it is at now.
func (t *Track) Stop(now Tick) {
	t.start = t.Resolve(now)
	t.startTime = now
	t.legs = t.legs[:0]
	t.state = Idle
}

// Warp drops any path and places the mover at pos.
func (t *Track) Warp(pos Position, now Tick) {
	t.start = pos
	t.startTime = now
	t.legs = t.legs[:0]
	t.state = Idle
}

func (t *Track) State() State {
	return t.state
}

func (t *Track) IsMoving() bool {
	return t.state == Moving
}

func (t *Track) Speed() float64 {
	return t.speed
}

// Legs returns a copy of the remaining legs.
func (t *Track) Legs() []Leg {
	out := make([]Leg, len(t.legs))
	copy(out, t.legs)
	return out
}

// ArrivalTime is when the final destination is reached.
func (t *Track) ArrivalTime() Tick {
	if len(t.legs) == 0 {
		return t.startTime
	}
	return t.legs[len(t.legs)-1].Arrival
}

// Destination is the final waypoint, or the resting position when idle.
func (t *Track) Destination() Position {
	if len(t.legs) == 0 {
		return t.start
	}
	return t.legs[len(t.legs)-1].To
}
