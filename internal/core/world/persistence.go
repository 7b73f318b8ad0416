package world

import (
	"github.com/zeusync/worldcore/internal/core/entity"
	"github.com/zeusync/worldcore/internal/core/events/bus"
	"github.com/zeusync/worldcore/internal/core/handle"
	"github.com/zeusync/worldcore/internal/core/observability/log"
	"github.com/zeusync/worldcore/internal/core/persist"
	"github.com/zeusync/worldcore/internal/core/registry"
	"github.com/zeusync/worldcore/internal/core/storage"
)

// ChangeGold applies delta to p and writes the new amount through the
// async pipeline on the character's slot. When the write fails the
// in-memory change is undone, the client is told the restored amount and
// a persist.rollback event is published.
func (w *World) ChangeGold(p *entity.Player, delta int64) error {
	old, err := p.ChangeGold(delta)
	if err != nil {
		return err
	}
	w.SendTo(p.Handle(), goldPacket(p.Gold()))
	if w.pool == nil {
		return nil
	}

	attempt := p.Gold()
	h, id := p.Handle(), p.CharacterID
	f := w.pool.AsyncExecuteOn(id, storage.GoldStatement(id, attempt))
	persist.AddFuture(w.proc, f, func(_ persist.Done, err error) {
		if err != nil {
			w.rollbackGold(h, id, old, attempt, delta, err)
		}
	})
	return nil
}

func (w *World) rollbackGold(h handle.Handle, id, old, attempt uint64, delta int64, cause error) {
	fields := []log.Field{
		log.Stringer("handle", h),
		log.Uint64("character", id),
		log.Int64("delta", delta),
		log.Error(cause),
	}
	p, ok := registry.Find[*entity.Player](w.reg, h)
	if !ok {
		w.log.Error("gold write failed for a player no longer in world", fields...)
		return
	}
	if _, err := p.ChangeGold(-delta); err != nil {
		p.SetGold(old)
	}
	w.log.Warn("gold write failed, rolled back", append(fields, log.Uint64("gold", p.Gold()))...)
	w.SendTo(h, goldPacket(p.Gold()))
	w.publish(bus.PersistRollback, h, bus.RollbackData{
		Field:    "gold",
		Previous: int64(old),
		Attempt:  int64(attempt),
		Err:      cause,
	})
}

// SavePlayer queues a full save of p on its character slot. A successful
// save publishes player.saved on a later tick.
func (w *World) SavePlayer(p *entity.Player) *persist.Future[persist.Done] {
	if w.pool == nil {
		return persist.Resolved(persist.Done{}, ErrNoPersistence)
	}
	h, id := p.Handle(), p.CharacterID
	f := w.pool.AsyncExecuteOn(id, storage.SaveCharacterStatement(storage.CharacterOf(p)))
	persist.AddFuture(w.proc, f, func(_ persist.Done, err error) {
		if err != nil {
			w.log.Error("save player", log.Stringer("handle", h), log.Uint64("character", id), log.Error(err))
			return
		}
		w.publish(bus.PlayerSaved, h, id)
	})
	return f
}

// persistItem writes an item change on the item's slot. A failed write is
// logged and then handed to undo when set.
func (w *World) persistItem(itemID uint64, stmt *persist.Statement, undo func(error)) {
	if w.pool == nil {
		return
	}
	sid := stmt.ID()
	f := w.pool.AsyncExecuteOn(itemID, stmt)
	persist.AddFuture(w.proc, f, func(_ persist.Done, err error) {
		if err == nil {
			return
		}
		w.log.Error("item write failed", log.Uint64("item", itemID), log.Stringer("statement", sid), log.Error(err))
		if undo != nil {
			undo(err)
		}
	})
}
