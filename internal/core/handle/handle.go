// Package handle encodes entity handles: 32-bit values whose top three bits
// carry the entity category and whose low 29 bits are a per-category counter.
package handle

import (
	"fmt"
	"sync/atomic"
)

type Handle uint32

type Category uint8

const (
	CategoryItem    Category = 0 // 000
	CategoryObject  Category = 1 // 001, NPCs and field props
	CategoryMonster Category = 2 // 010
	CategoryPlayer  Category = 4 // 100
	CategorySummon  Category = 6 // 110
)

const (
	categoryShift = 29
	CategoryMask  = Handle(0xE0000000)
	SequenceMask  = Handle(0x1FFFFFFF)

	// Invalid is never issued; counters start at 1.
	Invalid Handle = 0
)

// Categories lists every category that owns an allocator.
var Categories = [...]Category{
	CategoryItem,
	CategoryObject,
	CategoryMonster,
	CategoryPlayer,
	CategorySummon,
}

func (c Category) String() string {
	switch c {
	case CategoryItem:
		return "item"
	case CategoryObject:
		return "object"
	case CategoryMonster:
		return "monster"
	case CategoryPlayer:
		return "player"
	case CategorySummon:
		return "summon"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

func (c Category) Valid() bool {
	switch c {
	case CategoryItem, CategoryObject, CategoryMonster, CategoryPlayer, CategorySummon:
		return true
	}
	return false
}

// Make composes a handle. seq must fit in 29 bits.
func Make(c Category, seq uint32) Handle {
	return Handle(uint32(c)<<categoryShift) | (Handle(seq) & SequenceMask)
}

func (h Handle) Category() Category {
	return Category(uint32(h&CategoryMask) >> categoryShift)
}

func (h Handle) Sequence() uint32 {
	return uint32(h & SequenceMask)
}

func (h Handle) Valid() bool {
	return h.Sequence() != 0 && h.Category().Valid()
}

func (h Handle) String() string {
	if h == Invalid {
		return "invalid"
	}
	return fmt.Sprintf("%s#%d", h.Category(), h.Sequence())
}

// OverflowError is raised (as a panic value) when a category exhausts its
// 29-bit counter.
type OverflowError struct {
	Category Category
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("handle counter exhausted for category %s", e.Category)
}

// Allocator issues handles. Counters never reset and released handles are
// never reissued, so a stale handle can only ever miss.
type Allocator struct {
	counters [8]atomic.Uint32
}

func NewAllocator() *Allocator {
	return &Allocator{}
}

func (a *Allocator) Allocate(c Category) Handle {
	if !c.Valid() {
		panic(fmt.Sprintf("handle: allocate for unknown category %d", c))
	}
	seq := a.counters[c].Add(1)
	if seq > uint32(SequenceMask) {
		panic(&OverflowError{Category: c})
	}
	return Make(c, seq)
}

// Issued returns how many handles the category has issued.
func (a *Allocator) Issued(c Category) uint32 {
	return a.counters[c&7].Load()
}
