package world

import (
	"fmt"

	"github.com/zeusync/worldcore/internal/core/entity"
	"github.com/zeusync/worldcore/internal/core/events/bus"
	"github.com/zeusync/worldcore/internal/core/handle"
	"github.com/zeusync/worldcore/internal/core/motion"
	"github.com/zeusync/worldcore/internal/core/observability/log"
	"github.com/zeusync/worldcore/internal/core/registry"
	"github.com/zeusync/worldcore/internal/core/storage"
)

// DropItem puts a carried item on the ground at pos. The item receives a
// handle and expires after entity.ItemDropLifetime. If the ownership write
// fails the item is taken off the ground and handed back to its owner.
func (w *World) DropItem(it *entity.Item, pos motion.Position) error {
	owner := it.Owner()
	ownerID := w.characterOf(owner)
	if err := w.placeItem(it, pos, w.Now()); err != nil {
		return err
	}
	h := it.Handle()
	w.persistItem(it.ItemID, storage.ItemOwnerStatement(it.ItemID, 0), func(cause error) {
		w.undoDrop(it, h, owner, ownerID, cause)
	})
	return nil
}

func (w *World) placeItem(it *entity.Item, pos motion.Position, dropped motion.Tick) error {
	if it.InWorld() {
		return fmt.Errorf("%w: %s", ErrAlreadyInWorld, it.Handle())
	}
	if !w.grid.Contains(pos) {
		return fmt.Errorf("%w: %s", ErrOutOfBounds, pos)
	}
	it.SetPosition(pos)
	it.SetDropTime(dropped)
	it.SetOwner(handle.Invalid)
	if err := w.AddToWorld(it); err != nil {
		return err
	}
	w.ground[it.Handle()] = it
	return nil
}

// PickupItem moves the ground item h into p's inventory. The item's world
// handle dies with the pick up. If the ownership write fails the item goes
// back on the ground where it lay, under a new handle.
func (w *World) PickupItem(p *entity.Player, h handle.Handle) (*entity.Item, error) {
	it, ok := registry.Find[*entity.Item](w.reg, h)
	if !ok || !it.InWorld() || it.DeleteRequested() {
		return nil, fmt.Errorf("%w: %s", ErrItemGone, h)
	}
	if d := p.Position().Distance2D(it.Position()); d > w.opts.PickupRange {
		return nil, fmt.Errorf("%w: %s is %.1f away", ErrOutOfRange, h, d)
	}
	pos, dropped := it.Position(), it.DropTime()
	if err := w.RemoveFromWorld(it); err != nil {
		return nil, err
	}
	it.ReleaseHandle()
	it.SetOwner(p.Handle())
	owner, ownerID := p.Handle(), p.CharacterID
	w.persistItem(it.ItemID, storage.ItemOwnerStatement(it.ItemID, ownerID), func(cause error) {
		w.undoPickup(it, owner, ownerID, pos, dropped, cause)
	})
	return it, nil
}

func (w *World) undoDrop(it *entity.Item, h, owner handle.Handle, ownerID uint64, cause error) {
	fields := []log.Field{log.Uint64("item", it.ItemID), log.Stringer("handle", h), log.Error(cause)}
	if it.Handle() != h || !it.InWorld() {
		w.log.Error("item drop write failed after the item left the ground", fields...)
		return
	}
	if err := w.RemoveFromWorld(it); err != nil {
		w.log.Error("undo item drop", append(fields, log.ErrorWithKey("remove", err))...)
		return
	}
	it.ReleaseHandle()
	it.SetOwner(owner)
	w.log.Warn("item drop write failed, returned to owner", append(fields, log.Stringer("owner", owner))...)
	w.publish(bus.PersistRollback, h, bus.RollbackData{
		Field:    "item_owner",
		Previous: int64(ownerID),
		Attempt:  0,
		Err:      cause,
	})
}

func (w *World) undoPickup(it *entity.Item, owner handle.Handle, ownerID uint64, pos motion.Position, dropped motion.Tick, cause error) {
	fields := []log.Field{log.Uint64("item", it.ItemID), log.Stringer("owner", owner), log.Error(cause)}
	if it.InWorld() || it.Owner() != owner {
		w.log.Error("item pick up write failed after the item moved on", fields...)
		return
	}
	if err := w.placeItem(it, pos, dropped); err != nil {
		w.log.Error("undo item pick up", append(fields, log.ErrorWithKey("place", err))...)
		return
	}
	w.log.Warn("item pick up write failed, returned to the ground", append(fields, log.Stringer("handle", it.Handle()))...)
	w.publish(bus.PersistRollback, it.Handle(), bus.RollbackData{
		Field:    "item_owner",
		Previous: 0,
		Attempt:  int64(ownerID),
		Err:      cause,
	})
}

// characterOf is the stored id behind a player handle, or 0 for the ground.
func (w *World) characterOf(h handle.Handle) uint64 {
	if p, ok := registry.Find[*entity.Player](w.reg, h); ok {
		return p.CharacterID
	}
	return 0
}

// sweepItems expires ground items. Items are passive and never join the
// live set, so this is their only update.
func (w *World) sweepItems() {
	ctx := entity.UpdateContext{Now: w.Now()}
	for h, it := range w.ground {
		if err := it.Update(ctx); err != nil {
			w.log.Warn("item update failed", log.Stringer("handle", h), log.Error(err))
			continue
		}
		if !it.DeleteRequested() {
			continue
		}
		if err := w.RemoveFromWorld(it); err != nil {
			w.log.Warn("remove expired item", log.Stringer("handle", h), log.Error(err))
			delete(w.ground, h)
			continue
		}
		w.persistItem(it.ItemID, storage.DeleteItemStatement(it.ItemID), nil)
	}
}
