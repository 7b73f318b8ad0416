package region

import (
	"math"
	"sync/atomic"

	"github.com/zeusync/worldcore/internal/core/handle"
	"github.com/zeusync/worldcore/internal/core/motion"
	"github.com/zeusync/worldcore/pkg/generic"
)

type cell struct {
	members []Member
	index   map[handle.Handle]int
}

func (c *cell) add(m Member) {
	c.index[m.Handle()] = len(c.members)
	c.members = append(c.members, m)
}

func (c *cell) remove(h handle.Handle) bool {
	i, ok := c.index[h]
	if !ok {
		return false
	}
	last := len(c.members) - 1
	if i != last {
		moved := c.members[last]
		c.members[i] = moved
		c.index[moved.Handle()] = i
	}
	c.members[last] = nil
	c.members = c.members[:last]
	delete(c.index, h)
	return true
}

// Grid is owned by the simulation goroutine. Only Stats may be called from
// other goroutines.
type Grid struct {
	cfg      Config
	radius   int32
	cells    map[CellID]*cell
	where    map[handle.Handle]CellID
	notifier Notifier
	scratch  *generic.Pool[*[]Member]

	members  atomic.Int64
	occupied atomic.Int64
}

type Stats struct {
	Cells    int64   `json:"cells"`
	Members  int64   `json:"members"`
	Average  float64 `json:"average_per_cell"`
	Radius   int     `json:"radius"`
	CellSize float64 `json:"cell_size"`
}

func New(cfg Config, notifier Notifier) (*Grid, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Grid{
		cfg:      cfg,
		radius:   int32(cfg.Radius),
		cells:    make(map[CellID]*cell),
		where:    make(map[handle.Handle]CellID),
		notifier: notifier,
		scratch: generic.NewResetPool(
			func() *[]Member { s := make([]Member, 0, 64); return &s },
			func(s *[]Member) { clear(*s); *s = (*s)[:0] },
		),
	}, nil
}

func (g *Grid) Config() Config {
	return g.cfg
}

// CellFor derives the cell of a position with floor division.
func (g *Grid) CellFor(pos motion.Position) CellID {
	return CellID{
		X:     int32(math.Floor(pos.X / g.cfg.RegionSize)),
		Y:     int32(math.Floor(pos.Y / g.cfg.RegionSize)),
		Layer: pos.Layer,
	}
}

// Contains reports whether pos lies inside the map bounds.
func (g *Grid) Contains(pos motion.Position) bool {
	return pos.X >= 0 && pos.Y >= 0 && pos.X < g.cfg.MapWidth && pos.Y < g.cfg.MapHeight
}

func (g *Grid) CellOf(h handle.Handle) (CellID, bool) {
	c, ok := g.where[h]
	return c, ok
}

// AddEntity places m in id without notifying anyone.
func (g *Grid) AddEntity(id CellID, m Member) {
	h := m.Handle()
	if cur, ok := g.where[h]; ok {
		panic(&PlacementError{Handle: h, Reason: "already placed in " + cur.String()})
	}
	c, ok := g.cells[id]
	if !ok {
		c = &cell{index: make(map[handle.Handle]int)}
		g.cells[id] = c
	}
	if len(c.members) == 0 {
		g.occupied.Add(1)
	}
	c.add(m)
	g.where[h] = id
	g.members.Add(1)
}

// RemoveEntity takes m out of id without notifying anyone.
func (g *Grid) RemoveEntity(id CellID, m Member) {
	h := m.Handle()
	cur, ok := g.where[h]
	if !ok || cur != id {
		panic(&PlacementError{Handle: h, Reason: "not placed in " + id.String()})
	}
	c := g.cells[id]
	c.remove(h)
	if len(c.members) == 0 {
		delete(g.cells, id)
		g.occupied.Add(-1)
	}
	delete(g.where, h)
	g.members.Add(-1)
}

// ForEachInNeighborhood calls visit once for every member of the block
// around center that mode accepts.
func (g *Grid) ForEachInNeighborhood(center CellID, mode VisitMode, visit func(Member)) {
	buf := g.scratch.Get()
	defer g.scratch.Put(buf)

	*buf = g.collect(*buf, center, func(id CellID) bool { return true }, mode)
	for _, m := range *buf {
		visit(m)
	}
}

// ForEachVisible visits the neighborhood of a placed member, m included.
func (g *Grid) ForEachVisible(m Member, mode VisitMode, visit func(Member)) {
	id, ok := g.where[m.Handle()]
	if !ok {
		panic(&PlacementError{Handle: m.Handle(), Reason: "neighborhood query on unplaced member"})
	}
	g.ForEachInNeighborhood(id, mode, visit)
}

// InRange returns the members of the block around pos within dist of it.
func (g *Grid) InRange(pos motion.Position, dist float64, mode VisitMode) []Member {
	var out []Member
	g.ForEachInNeighborhood(g.CellFor(pos), mode, func(m Member) {
		if pos.Distance2D(m.Position()) <= dist {
			out = append(out, m)
		}
	})
	return out
}

// collect appends the members of the cells around center for which keep
// returns true. Cells are walked row by row so visiting order is stable.
func (g *Grid) collect(dst []Member, center CellID, keep func(CellID) bool, mode VisitMode) []Member {
	r := g.radius
	for y := center.Y - r; y <= center.Y+r; y++ {
		for x := center.X - r; x <= center.X+r; x++ {
			id := CellID{X: x, Y: y, Layer: center.Layer}
			c, ok := g.cells[id]
			if !ok || !keep(id) {
				continue
			}
			for _, m := range c.members {
				if mode.accepts(m) {
					dst = append(dst, m)
				}
			}
		}
	}
	return dst
}

// Enter places m at pos and announces it to its new neighborhood.
func (g *Grid) Enter(m Member, pos motion.Position) CellID {
	id := g.CellFor(pos)
	g.AddEntity(id, m)
	g.notifyBlock(m, id, func(CellID) bool { return true }, NoticeEnter)
	return id
}

// Leave takes m out of the grid and tells its neighborhood.
func (g *Grid) Leave(m Member) {
	id, ok := g.where[m.Handle()]
	if !ok {
		panic(&PlacementError{Handle: m.Handle(), Reason: "leave without placement"})
	}
	g.RemoveEntity(id, m)
	g.notifyBlock(m, id, func(CellID) bool { return true }, NoticeLeave)
}

// OnEntityMoved moves m to the cell of next and sends enter/leave notices
// for the cells that entered or left its neighborhood. Cells present in both
// neighborhoods produce nothing. A layer change leaves every old neighbor
// and enters every new one. It reports whether the cell changed.
func (g *Grid) OnEntityMoved(m Member, prev, next motion.Position) bool {
	h := m.Handle()
	from, ok := g.where[h]
	if !ok {
		panic(&PlacementError{Handle: h, Reason: "move of unplaced member from " + prev.String()})
	}
	to := g.CellFor(next)
	if from == to {
		return false
	}

	g.RemoveEntity(from, m)
	g.AddEntity(to, m)

	r := g.radius
	if from.Layer != to.Layer {
		g.notifyBlock(m, from, func(CellID) bool { return true }, NoticeLeave)
		g.notifyBlock(m, to, func(CellID) bool { return true }, NoticeEnter)
		return true
	}
	g.notifyBlock(m, from, func(id CellID) bool { return !id.near(to, r) }, NoticeLeave)
	g.notifyBlock(m, to, func(id CellID) bool { return !id.near(from, r) }, NoticeEnter)
	return true
}

// notifyBlock sends kind in both directions between subject and every other
// member of the selected cells around center.
func (g *Grid) notifyBlock(subject Member, center CellID, keep func(CellID) bool, kind NoticeKind) {
	if g.notifier == nil {
		return
	}
	buf := g.scratch.Get()
	defer g.scratch.Put(buf)

	*buf = g.collect(*buf, center, keep, VisitAll)
	h := subject.Handle()
	for _, other := range *buf {
		if other.Handle() == h {
			continue
		}
		if kind == NoticeEnter {
			g.notifier.OnEnter(other, subject)
			g.notifier.OnEnter(subject, other)
		} else {
			g.notifier.OnLeave(other, subject)
			g.notifier.OnLeave(subject, other)
		}
	}
}

func (g *Grid) Stats() Stats {
	s := Stats{
		Cells:    g.occupied.Load(),
		Members:  g.members.Load(),
		Radius:   g.cfg.Radius,
		CellSize: g.cfg.RegionSize,
	}
	if s.Cells > 0 {
		s.Average = float64(s.Members) / float64(s.Cells)
	}
	return s
}
