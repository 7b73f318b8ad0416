package entity

import (
	"errors"
	"fmt"

	"github.com/zeusync/worldcore/internal/core/handle"
	"github.com/zeusync/worldcore/internal/core/motion"
)

// MaxGold caps the carried gold of a player.
const MaxGold uint64 = 100_000_000_000

var (
	ErrInsufficientGold = errors.New("insufficient gold")
	ErrGoldOverflow     = errors.New("gold limit exceeded")
)

// Player is a client-controlled unit.
type Player struct {
	Unit
	CharacterID uint64
	Name        string
	AccountID   uint32

	regenCarry motion.Tick
}

func NewPlayer(characterID uint64, name string, pos motion.Position) *Player {
	p := &Player{
		Unit:        newUnit(KindPlayer, PlayerFieldEnd, pos),
		CharacterID: characterID,
		Name:        name,
	}
	p.fields.SetUint32(UnitFieldUID, uint32(characterID))
	return p
}

func (p *Player) IsClient() bool { return true }

func (p *Player) Gold() uint64 { return p.fields.Uint64(PlayerFieldGold) }

func (p *Player) SetGold(v uint64) { p.fields.SetUint64(PlayerFieldGold, v) }

// ChangeGold applies delta and returns the previous amount.
func (p *Player) ChangeGold(delta int64) (uint64, error) {
	old := p.Gold()
	switch {
	case delta < 0 && uint64(-delta) > old:
		return old, ErrInsufficientGold
	case delta > 0 && old+uint64(delta) > MaxGold:
		return old, ErrGoldOverflow
	}
	p.SetGold(uint64(int64(old) + delta))
	return old, nil
}

func (p *Player) PartyID() int32       { return p.fields.Int32(PlayerFieldPartyID) }
func (p *Player) SetPartyID(id int32)  { p.fields.SetInt32(PlayerFieldPartyID, id) }
func (p *Player) GuildID() int32       { return p.fields.Int32(PlayerFieldGuildID) }
func (p *Player) SetGuildID(id int32)  { p.fields.SetInt32(PlayerFieldGuildID, id) }
func (p *Player) Permission() int32    { return p.fields.Int32(PlayerFieldPermission) }
func (p *Player) SetPermission(v int32) { p.fields.SetInt32(PlayerFieldPermission, v) }

func (p *Player) Update(ctx UpdateContext) error {
	p.regen(ctx, &p.regenCarry)
	return nil
}

func (p *Player) String() string {
	return fmt.Sprintf("player %q (%s)", p.Name, p.handle)
}

// MonsterDeleteDelay is how long a corpse stays in the world.
const MonsterDeleteDelay motion.Tick = 5000

// Monster is a server-controlled hostile unit.
type Monster struct {
	Unit
	TemplateID uint32
	// Spawner is the respawn point that owns this monster, if any.
	Spawner uint32

	regenCarry motion.Tick
}

func NewMonster(templateID uint32, level int32, maxHealth int32, pos motion.Position) *Monster {
	m := &Monster{
		Unit:       newUnit(KindMonster, BattleFieldEnd, pos),
		TemplateID: templateID,
	}
	m.fields.SetUint32(UnitFieldCode, templateID)
	m.SetLevel(level)
	m.SetMaxHealth(maxHealth)
	m.fields.SetInt32(UnitFieldHealth, maxHealth)
	return m
}

// Update regenerates a living monster and schedules a corpse for deletion.
func (m *Monster) Update(ctx UpdateContext) error {
	if m.IsDead() {
		dead := motion.Tick(m.fields.Uint32(UnitFieldDeadTime))
		if ctx.Now >= dead+MonsterDeleteDelay {
			m.RequestDelete()
		}
		return nil
	}
	m.regen(ctx, &m.regenCarry)
	return nil
}

// Summon is a unit bound to a player.
type Summon struct {
	Unit
	Code uint32
}

func NewSummon(owner handle.Handle, code uint32, pos motion.Position) *Summon {
	s := &Summon{
		Unit: newUnit(KindSummon, SummonFieldEnd, pos),
		Code: code,
	}
	s.fields.SetUint32(UnitFieldCode, code)
	s.fields.SetUint32(SummonFieldOwner, uint32(owner))
	return s
}

func (s *Summon) Owner() handle.Handle {
	return handle.Handle(s.fields.Uint32(SummonFieldOwner))
}

func (s *Summon) Update(UpdateContext) error {
	if s.Owner() == handle.Invalid {
		return fmt.Errorf("summon %s has no owner", s.handle)
	}
	return nil
}

// ItemDropLifetime is how long an item lies on the ground before it expires.
const ItemDropLifetime motion.Tick = 180_000

// Item exists unregistered while carried and registers with a handle only
// when dropped into the world.
type Item struct {
	Base
	ItemID uint64
}

func NewItem(itemID uint64, code uint32, count uint64) *Item {
	it := &Item{
		Base:   newBase(KindItem, ItemFieldEnd, motion.Position{}),
		ItemID: itemID,
	}
	it.fields.SetUint32(ItemFieldCode, code)
	it.fields.SetUint64(ItemFieldCount, count)
	return it
}

func (it *Item) SetHandle(h handle.Handle) error {
	if err := it.Base.SetHandle(h); err != nil {
		return err
	}
	it.fields.SetUint32(ItemFieldHandle, uint32(h))
	return nil
}

// ReleaseHandle forgets the world handle when the item goes back into an
// inventory. The released handle is never issued again.
func (it *Item) ReleaseHandle() {
	it.handle = handle.Invalid
	it.fields.SetUint32(ItemFieldHandle, 0)
	it.deleted = false
}

func (it *Item) IsPassive() bool  { return true }
func (it *Item) Code() uint32      { return it.fields.Uint32(ItemFieldCode) }
func (it *Item) Count() uint64     { return it.fields.Uint64(ItemFieldCount) }
func (it *Item) SetCount(n uint64) { it.fields.SetUint64(ItemFieldCount, n) }

func (it *Item) Owner() handle.Handle {
	return handle.Handle(it.fields.Uint32(ItemFieldOwner))
}

func (it *Item) SetOwner(h handle.Handle) {
	it.fields.SetUint32(ItemFieldOwner, uint32(h))
}

func (it *Item) DropTime() motion.Tick {
	return motion.Tick(it.fields.Uint32(ItemFieldDropTime))
}

func (it *Item) SetDropTime(t motion.Tick) {
	it.fields.SetUint32(ItemFieldDropTime, uint32(t))
}

// Update expires a dropped item. Items never enter the live set, so the
// world calls this from its ground-item sweep.
func (it *Item) Update(ctx UpdateContext) error {
	if it.inWorld && ctx.Now >= it.DropTime()+ItemDropLifetime {
		it.RequestDelete()
	}
	return nil
}

// StaticObject is an NPC or a field prop. Props are passive.
type StaticObject struct {
	Base
	Code uint32
	prop bool
}

func NewNPC(code uint32, pos motion.Position) *StaticObject {
	return newStatic(code, pos, false)
}

func NewFieldProp(code uint32, pos motion.Position) *StaticObject {
	return newStatic(code, pos, true)
}

func newStatic(code uint32, pos motion.Position, prop bool) *StaticObject {
	o := &StaticObject{
		Base: newBase(KindObject, UnitEnd, pos),
		Code: code,
		prop: prop,
	}
	o.fields.SetUint32(UnitFieldCode, code)
	return o
}

func (o *StaticObject) SetHandle(h handle.Handle) error {
	if err := o.Base.SetHandle(h); err != nil {
		return err
	}
	o.fields.SetUint32(UnitFieldHandle, uint32(h))
	return nil
}

func (o *StaticObject) IsPassive() bool { return o.prop }
func (o *StaticObject) IsProp() bool    { return o.prop }

func (o *StaticObject) Update(UpdateContext) error { return nil }
