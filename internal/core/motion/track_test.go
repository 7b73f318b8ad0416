package motion

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveBetweenWaypoints(t *testing.T) {
	tr := NewTrack(At(100, 100, 0))
	tr.SetMove([]Position{At(300, 100, 0)}, 10, 0, 0)

	require.Equal(t, Moving, tr.State())
	assert.Equal(t, Tick(20000), tr.ArrivalTime())

	p := tr.Resolve(1000)
	assert.Greater(t, p.X, 100.0)
	assert.Less(t, p.X, 300.0)
	assert.InDelta(t, 110.0, p.X, 1e-9)
	assert.InDelta(t, 100.0, p.Y, 1e-9)

	end := tr.Resolve(20000)
	assert.True(t, end.Equal(At(300, 100, 0)))
	assert.True(t, tr.Resolve(50000).Equal(At(300, 100, 0)))
}

func TestResolveBeforeStart(t *testing.T) {
	tr := NewTrack(At(0, 0, 0))
	tr.SetMove([]Position{At(100, 0, 0)}, 50, 1000, 1000)

	assert.True(t, tr.Resolve(500).Equal(At(0, 0, 0)))
	assert.True(t, tr.Resolve(1000).Equal(At(0, 0, 0)))
}

func TestMultiLegPath(t *testing.T) {
	tr := NewTrack(At(0, 0, 0))
	tr.SetMove([]Position{At(100, 0, 0), At(100, 100, 0)}, 100, 0, 0)

	legs := tr.Legs()
	require.Len(t, legs, 2)
	assert.Equal(t, Tick(1000), legs[0].Arrival)
	assert.Equal(t, Tick(2000), legs[1].Arrival)

	mid := tr.Resolve(1500)
	assert.InDelta(t, 100, mid.X, 1e-9)
	assert.InDelta(t, 50, mid.Y, 1e-9)
	assert.InDelta(t, math.Pi/2, mid.Face, 1e-9)
}

func TestZeroDurationLeg(t *testing.T) {
	tr := NewTrack(At(10, 10, 0))
	tr.SetMove([]Position{At(10, 10, 0)}, 5, 100, 100)

	assert.True(t, tr.Resolve(100).Equal(At(10, 10, 0)))
	pos, moving := tr.Step(100)
	assert.False(t, moving)
	assert.True(t, pos.Equal(At(10, 10, 0)))
	assert.Equal(t, Idle, tr.State())
}

func TestStopFreezesPosition(t *testing.T) {
	tr := NewTrack(At(0, 0, 0))
	tr.SetMove([]Position{At(1000, 0, 0)}, 100, 0, 0)

	tr.Stop(2500)
	frozen := tr.Resolve(2500)
	assert.InDelta(t, 250, frozen.X, 1e-9)
	assert.Equal(t, Idle, tr.State())
	assert.True(t, tr.Resolve(9000).Equal(frozen))
}

func TestSetMoveReplacesPathFromCurrentPosition(t *testing.T) {
	tr := NewTrack(At(0, 0, 0))
	tr.SetMove([]Position{At(1000, 0, 0)}, 100, 0, 0)
	tr.SetMove([]Position{At(500, 300, 0)}, 100, 5000, 5000)

	assert.True(t, tr.Resolve(5000).Equal(At(500, 0, 0)))
	assert.Equal(t, Tick(8000), tr.ArrivalTime())
	assert.True(t, tr.Destination().Equal(At(500, 300, 0)))
}

func TestNonPositiveSpeedStops(t *testing.T) {
	tr := NewTrack(At(0, 0, 0))
	tr.SetMove([]Position{At(10, 0, 0)}, 0, 0, 0)
	assert.Equal(t, Idle, tr.State())
}

func TestStepDropsCompletedLegs(t *testing.T) {
	tr := NewTrack(At(0, 0, 0))
	tr.SetMove([]Position{At(100, 0, 0), At(200, 0, 0)}, 100, 0, 0)

	pos, moving := tr.Step(1200)
	assert.True(t, moving)
	assert.InDelta(t, 120, pos.X, 1e-9)
	assert.Len(t, tr.Legs(), 1)
	assert.InDelta(t, 150, tr.Resolve(1500).X, 1e-9)

	pos, moving = tr.Step(2000)
	assert.False(t, moving)
	assert.True(t, pos.Equal(At(200, 0, 0)))
}

func TestResolveIsMonotonicAndIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		start := At(rng.Float64()*1000, rng.Float64()*1000, 0)
		dest := At(rng.Float64()*1000, rng.Float64()*1000, 0)
		speed := 1 + rng.Float64()*200

		tr := NewTrack(start)
		tr.SetMove([]Position{dest}, speed, 0, 0)
		arrival := tr.ArrivalTime()

		prev := 0.0
		for step := Tick(0); step <= arrival; step += 1 + arrival/50 {
			p := tr.Resolve(step)
			assert.Equal(t, p, tr.Resolve(step))
			d := start.Distance2D(p)
			assert.GreaterOrEqual(t, d+1e-9, prev)
			prev = d
		}
		assert.True(t, tr.Resolve(arrival).Equal(dest))
	}
}

func TestDistanceAcrossLayers(t *testing.T) {
	assert.True(t, math.IsInf(At(0, 0, 0).Distance2D(At(0, 0, 1)), 1))
	assert.InDelta(t, 5, At(0, 0, 0).Distance2D(At(3, 4, 0)), 1e-9)
}
