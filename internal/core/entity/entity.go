// Package entity holds the world object kinds and their field arrays.
//
// Entities are owned by the simulation goroutine. Anything that outlives a
// tick keeps a handle.Handle and resolves it through the registry again.
package entity

import (
	"errors"
	"fmt"

	"github.com/zeusync/worldcore/internal/core/handle"
	"github.com/zeusync/worldcore/internal/core/motion"
)

type Kind uint8

const (
	KindItem Kind = iota
	KindObject
	KindMonster
	KindPlayer
	KindSummon
)

func (k Kind) Category() handle.Category {
	switch k {
	case KindItem:
		return handle.CategoryItem
	case KindMonster:
		return handle.CategoryMonster
	case KindPlayer:
		return handle.CategoryPlayer
	case KindSummon:
		return handle.CategorySummon
	default:
		return handle.CategoryObject
	}
}

func (k Kind) String() string {
	return k.Category().String()
}

var ErrHandleAssigned = errors.New("entity already has a handle")

// UpdateContext is passed to every live entity once per tick.
type UpdateContext struct {
	Now   motion.Tick
	Delta motion.Tick
}

type Entity interface {
	Handle() handle.Handle
	SetHandle(h handle.Handle) error
	Kind() Kind
	Fields() *Fields

	Position() motion.Position
	SetPosition(pos motion.Position)

	// IsPassive entities (items, field props) never enter the live update set.
	IsPassive() bool
	IsClient() bool
	IsMovable() bool

	InWorld() bool
	SetInWorld(in bool)
	RequestDelete()
	DeleteRequested() bool

	Update(ctx UpdateContext) error
}

// Mover is an entity with a movement track.
type Mover interface {
	Entity
	Track() *motion.Track
}

// Base implements the bookkeeping shared by every kind.
type Base struct {
	handle  handle.Handle
	kind    Kind
	fields  *Fields
	pos     motion.Position
	inWorld bool
	deleted bool
}

func newBase(kind Kind, slots int, pos motion.Position) Base {
	return Base{
		kind:   kind,
		fields: NewFields(slots),
		pos:    pos,
	}
}

func (b *Base) Handle() handle.Handle { return b.handle }
func (b *Base) Kind() Kind            { return b.kind }
func (b *Base) Fields() *Fields       { return b.fields }

func (b *Base) SetHandle(h handle.Handle) error {
	if b.handle != handle.Invalid {
		return fmt.Errorf("%w: %s", ErrHandleAssigned, b.handle)
	}
	if h.Category() != b.kind.Category() {
		return fmt.Errorf("handle %s does not match kind %s", h, b.kind)
	}
	b.handle = h
	return nil
}

func (b *Base) Position() motion.Position       { return b.pos }
func (b *Base) SetPosition(pos motion.Position) { b.pos = pos }

func (b *Base) InWorld() bool         { return b.inWorld }
func (b *Base) SetInWorld(in bool)    { b.inWorld = in }
func (b *Base) RequestDelete()        { b.deleted = true }
func (b *Base) DeleteRequested() bool { return b.deleted }

func (b *Base) IsPassive() bool { return false }
func (b *Base) IsClient() bool  { return false }
func (b *Base) IsMovable() bool { return false }
