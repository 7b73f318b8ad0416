package world

import (
	"time"

	"github.com/zeusync/worldcore/internal/core/entity"
	"github.com/zeusync/worldcore/internal/core/handle"
	"github.com/zeusync/worldcore/internal/core/motion"
	"github.com/zeusync/worldcore/internal/core/observability/log"
	"github.com/zeusync/worldcore/internal/core/registry"
	"github.com/zeusync/worldcore/internal/core/timer"
)

// maxPlacementAttempts bounds the search for a free spot in a spawn area.
const maxPlacementAttempts = 500

// SpawnArea keeps up to MaxCount monsters of one template alive inside a
// rectangle. Count monsters are placed when the world starts; every
// Interval up to Increment more are added.
type SpawnArea struct {
	MonsterID uint32
	Level     int32
	Health    int32

	Left, Top, Right, Bottom float64
	Layer                    uint8

	Count     int
	MaxCount  int
	Increment int
	Interval  time.Duration
}

type respawnPoint struct {
	id    uint32
	area  SpawnArea
	timer *timer.IntervalTimer
	// spawned holds weak references; dead handles are dropped on recount.
	spawned []handle.Handle
}

func newRespawnPoint(id uint32, area SpawnArea) *respawnPoint {
	if area.MaxCount < area.Count {
		area.MaxCount = area.Count
	}
	if area.Increment <= 0 {
		area.Increment = 1
	}
	return &respawnPoint{
		id:    id,
		area:  area,
		timer: timer.NewIntervalTimer(uint64(area.Interval.Milliseconds())),
	}
}

func (rp *respawnPoint) update(w *World, diff motion.Tick) {
	rp.timer.Update(uint64(diff))
	if !rp.timer.Passed() {
		return
	}
	rp.timer.Reset()
	rp.spawn(w, rp.area.Increment)
}

// alive recounts the spawned monsters through the registry.
func (rp *respawnPoint) alive(w *World) int {
	kept := rp.spawned[:0]
	for _, h := range rp.spawned {
		if m, ok := registry.Find[*entity.Monster](w.reg, h); ok && m.InWorld() {
			kept = append(kept, h)
		}
	}
	rp.spawned = kept
	return len(kept)
}

// spawn adds up to n monsters without exceeding MaxCount.
func (rp *respawnPoint) spawn(w *World, n int) int {
	n = min(n, rp.area.MaxCount-rp.alive(w))
	added := 0
	for range n {
		pos, ok := rp.place(w)
		if !ok {
			w.log.Warn("no spawn position found",
				log.Uint32("respawn", rp.id),
				log.Uint32("monster", rp.area.MonsterID),
				log.Int("attempts", maxPlacementAttempts),
			)
			break
		}
		m := entity.NewMonster(rp.area.MonsterID, rp.area.Level, rp.area.Health, pos)
		m.Spawner = rp.id
		if err := w.AddToWorld(m); err != nil {
			w.log.Warn("spawn monster", log.Uint32("respawn", rp.id), log.Error(err))
			break
		}
		rp.spawned = append(rp.spawned, m.Handle())
		added++
	}
	return added
}

func (rp *respawnPoint) place(w *World) (motion.Position, bool) {
	a := rp.area
	for range maxPlacementAttempts {
		pos := motion.At(
			a.Left+w.rng.Float64()*(a.Right-a.Left),
			a.Top+w.rng.Float64()*(a.Bottom-a.Top),
			a.Layer,
		)
		if w.grid.Contains(pos) {
			return pos, true
		}
	}
	return motion.Position{}, false
}
