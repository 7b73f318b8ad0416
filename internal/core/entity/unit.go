package entity

import (
	"github.com/zeusync/worldcore/internal/core/handle"
	"github.com/zeusync/worldcore/internal/core/motion"
)

// Unit is the common part of everything that has health and can move.
type Unit struct {
	Base
	track *motion.Track
}

func newUnit(kind Kind, slots int, pos motion.Position) Unit {
	u := Unit{
		Base:  newBase(kind, slots, pos),
		track: motion.NewTrack(pos),
	}
	u.fields.SetFlag(UnitFieldStatus, StatusMovable)
	return u
}

func (u *Unit) SetHandle(h handle.Handle) error {
	if err := u.Base.SetHandle(h); err != nil {
		return err
	}
	u.fields.SetUint32(UnitFieldHandle, uint32(h))
	return nil
}

func (u *Unit) Track() *motion.Track { return u.track }

func (u *Unit) IsMovable() bool {
	return u.fields.HasFlag(UnitFieldStatus, StatusMovable)
}

// SetPosition places the unit. An idle track is moved along with it.
func (u *Unit) SetPosition(pos motion.Position) {
	u.Base.SetPosition(pos)
	if !u.track.IsMoving() {
		u.track.Warp(pos, 0)
	}
}

func (u *Unit) Level() int32         { return u.fields.Int32(UnitFieldLevel) }
func (u *Unit) SetLevel(v int32)     { u.fields.SetInt32(UnitFieldLevel, v) }
func (u *Unit) Health() int32        { return u.fields.Int32(UnitFieldHealth) }
func (u *Unit) MaxHealth() int32     { return u.fields.Int32(UnitFieldMaxHealth) }
func (u *Unit) Mana() int32          { return u.fields.Int32(UnitFieldMana) }
func (u *Unit) MaxMana() int32       { return u.fields.Int32(UnitFieldMaxMana) }
func (u *Unit) Exp() int64           { return u.fields.Int64(UnitFieldExp) }
func (u *Unit) SetExp(v int64)       { u.fields.SetInt64(UnitFieldExp, v) }
func (u *Unit) IsDead() bool         { return u.fields.HasFlag(UnitFieldStatus, StatusDead) }
func (u *Unit) Target() handle.Handle {
	return handle.Handle(u.fields.Uint32(BattleFieldTargetHandle))
}

func (u *Unit) SetTarget(h handle.Handle) {
	u.fields.SetUint32(BattleFieldTargetHandle, uint32(h))
}

func (u *Unit) SetMaxHealth(v int32) {
	u.fields.SetInt32(UnitFieldMaxHealth, v)
	if u.Health() > v {
		u.fields.SetInt32(UnitFieldHealth, v)
	}
}

func (u *Unit) SetMaxMana(v int32) {
	u.fields.SetInt32(UnitFieldMaxMana, v)
	if u.Mana() > v {
		u.fields.SetInt32(UnitFieldMana, v)
	}
}

// SetHealth clamps to [0, max]. Reaching zero marks the unit dead and
// records the time of death.
func (u *Unit) SetHealth(v int32, now motion.Tick) {
	v = min(max(v, 0), u.MaxHealth())
	u.fields.SetInt32(UnitFieldHealth, v)
	if v == 0 && !u.IsDead() {
		u.fields.SetFlag(UnitFieldStatus, StatusDead)
		u.fields.SetUint32(UnitFieldDeadTime, uint32(now))
		u.track.Stop(now)
	}
}

func (u *Unit) SetMana(v int32) {
	u.fields.SetInt32(UnitFieldMana, min(max(v, 0), u.MaxMana()))
}

// Revive clears the dead flag and restores health.
func (u *Unit) Revive(health int32) {
	u.fields.RemoveFlag(UnitFieldStatus, StatusDead)
	u.fields.SetUint32(UnitFieldDeadTime, 0)
	u.fields.SetInt32(UnitFieldHealth, min(max(health, 1), u.MaxHealth()))
}

// regen restores a share of health and mana every regenInterval.
func (u *Unit) regen(ctx UpdateContext, carry *motion.Tick) {
	if u.IsDead() {
		*carry = 0
		return
	}
	*carry += ctx.Delta
	for *carry >= regenInterval {
		*carry -= regenInterval
		u.fields.SetInt32(UnitFieldHealth, min(u.Health()+regenAmount(u.MaxHealth()), u.MaxHealth()))
		u.fields.SetInt32(UnitFieldMana, min(u.Mana()+regenAmount(u.MaxMana()), u.MaxMana()))
	}
}

const regenInterval motion.Tick = 3000

func regenAmount(maxValue int32) int32 {
	return max(maxValue/100, 1)
}
