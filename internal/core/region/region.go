// Package region partitions the map into square cells per layer and answers
// "who can see whom" with a (2r+1)x(2r+1) block of cells around a cell.
package region

import (
	"fmt"
	"math"

	"github.com/zeusync/worldcore/internal/core/handle"
	"github.com/zeusync/worldcore/internal/core/motion"
)

// Member is anything that can be placed in the grid.
type Member interface {
	Handle() handle.Handle
	Position() motion.Position
	IsClient() bool
	IsMovable() bool
}

type VisitMode uint8

const (
	VisitAll VisitMode = iota
	VisitClients
	VisitMovables
	VisitStatics
)

func (m VisitMode) accepts(member Member) bool {
	switch m {
	case VisitClients:
		return member.IsClient()
	case VisitMovables:
		return member.IsMovable()
	case VisitStatics:
		return !member.IsMovable()
	default:
		return true
	}
}

type CellID struct {
	X, Y  int32
	Layer uint8
}

func (c CellID) String() string {
	return fmt.Sprintf("(%d,%d)@%d", c.X, c.Y, c.Layer)
}

// near reports whether o lies in the block of radius r around c.
func (c CellID) near(o CellID, r int32) bool {
	return c.Layer == o.Layer && abs(c.X-o.X) <= r && abs(c.Y-o.Y) <= r
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

type Config struct {
	RegionSize float64
	MapWidth   float64
	MapHeight  float64
	// Radius is the neighborhood radius in cells; 1 gives the 3x3 block.
	Radius int
}

func DefaultConfig() Config {
	return Config{
		RegionSize: 180,
		MapWidth:   700000,
		MapHeight:  1000000,
		Radius:     1,
	}
}

func (c Config) Validate() error {
	if c.RegionSize <= 0 || math.IsNaN(c.RegionSize) {
		return fmt.Errorf("region size must be positive, got %v", c.RegionSize)
	}
	if c.MapWidth <= 0 || c.MapHeight <= 0 {
		return fmt.Errorf("map size must be positive, got %vx%v", c.MapWidth, c.MapHeight)
	}
	if c.Radius < 0 {
		return fmt.Errorf("neighborhood radius must not be negative, got %d", c.Radius)
	}
	return nil
}

// NoticeKind tells an observer whether a subject appeared or disappeared.
type NoticeKind uint8

const (
	NoticeEnter NoticeKind = iota
	NoticeLeave
)

func (k NoticeKind) String() string {
	if k == NoticeLeave {
		return "leave"
	}
	return "enter"
}

// Notifier receives visibility changes. Enter means observer must now be
// sent a full snapshot of subject; Leave means observer must drop it.
type Notifier interface {
	OnEnter(observer, subject Member)
	OnLeave(observer, subject Member)
}

// PlacementError is the panic value for membership invariant violations.
type PlacementError struct {
	Handle handle.Handle
	Reason string
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("region: %s: %s", e.Handle, e.Reason)
}
