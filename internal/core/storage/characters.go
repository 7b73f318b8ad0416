package storage

import (
	"context"
	"fmt"

	"github.com/zeusync/worldcore/internal/core/entity"
	"github.com/zeusync/worldcore/internal/core/motion"
	"github.com/zeusync/worldcore/internal/core/persist"
)

// Character is the stored form of a player.
type Character struct {
	ID        uint64
	AccountID uint32
	Name      string
	Level     int32
	Exp       int64
	Health    int32
	Mana      int32
	MaxHealth int32
	MaxMana   int32
	Gold      uint64
	Position  motion.Position
}

func characterFromRow(row persist.Row) Character {
	return Character{
		ID:        row[0].Uint64(),
		AccountID: row[1].Uint32(),
		Name:      row[2].String(),
		Level:     row[3].Int32(),
		Exp:       row[4].Int64(),
		Health:    row[5].Int32(),
		Mana:      row[6].Int32(),
		MaxHealth: row[7].Int32(),
		MaxMana:   row[8].Int32(),
		Gold:      row[9].Uint64(),
		Position: motion.Position{
			X:     row[10].Double(),
			Y:     row[11].Double(),
			Z:     row[12].Double(),
			Face:  row[13].Double(),
			Layer: row[14].Uint8(),
		},
	}
}

// CharacterOf captures the persistent state of p.
func CharacterOf(p *entity.Player) Character {
	return Character{
		ID:        p.CharacterID,
		AccountID: p.AccountID,
		Name:      p.Name,
		Level:     p.Level(),
		Exp:       p.Exp(),
		Health:    p.Health(),
		Mana:      p.Mana(),
		MaxHealth: p.MaxHealth(),
		MaxMana:   p.MaxMana(),
		Gold:      p.Gold(),
		Position:  p.Position(),
	}
}

// Player builds an entity from the stored character. The player has no
// handle yet.
func (c Character) Player() *entity.Player {
	p := entity.NewPlayer(c.ID, c.Name, c.Position)
	p.AccountID = c.AccountID
	p.SetLevel(c.Level)
	p.SetExp(c.Exp)
	p.SetMaxHealth(c.MaxHealth)
	p.SetMaxMana(c.MaxMana)
	p.SetHealth(c.Health, 0)
	p.SetMana(c.Mana)
	p.SetGold(c.Gold)
	p.Fields().ClearDirty()
	return p
}

// LoadCharacter reads a character on a sync connection. A missing character
// reports false without an error.
func LoadCharacter(ctx context.Context, pool *persist.Pool, id uint64) (Character, bool, error) {
	rs, err := pool.Query(ctx, persist.NewStatement(StmtLoadCharacter).SetUint64(0, id))
	if err != nil {
		return Character{}, false, fmt.Errorf("load character %d: %w", id, err)
	}
	if row := rs.First(); row != nil {
		return characterFromRow(row), true, nil
	}
	return Character{}, false, nil
}

// LoadCharacterAsync queues the lookup by name; fn runs on the goroutine
// draining proc.
func LoadCharacterAsync(pool *persist.Pool, proc *persist.CallbackProcessor, name string, fn func(Character, bool, error)) {
	stmt := persist.NewStatement(StmtLoadCharacterByName).SetString(0, name)
	proc.Add(pool.AsyncQueryOn(persist.KeyForString(name), stmt).WithCallback(func(rs *persist.ResultSet, err error) {
		if err != nil {
			fn(Character{}, false, err)
			return
		}
		if row := rs.First(); row != nil {
			fn(characterFromRow(row), true, nil)
			return
		}
		fn(Character{}, false, nil)
	}))
}

func CreateCharacter(ctx context.Context, pool *persist.Pool, c Character) error {
	stmt := persist.NewStatement(StmtInsertCharacter).
		SetUint64(0, c.ID).
		SetUint32(1, c.AccountID).
		SetString(2, c.Name).
		SetInt32(3, c.Level).
		SetInt64(4, c.Exp).
		SetInt32(5, c.Health).
		SetInt32(6, c.Mana).
		SetInt32(7, c.MaxHealth).
		SetInt32(8, c.MaxMana).
		SetUint64(9, c.Gold).
		SetDouble(10, c.Position.X).
		SetDouble(11, c.Position.Y).
		SetDouble(12, c.Position.Z).
		SetDouble(13, c.Position.Face).
		SetUint8(14, c.Position.Layer)
	if _, err := pool.Execute(ctx, stmt); err != nil {
		return fmt.Errorf("create character %q: %w", c.Name, err)
	}
	return nil
}

// SaveCharacterStatement builds the full save of c.
func SaveCharacterStatement(c Character) *persist.Statement {
	return persist.NewStatement(StmtSaveCharacter).
		SetInt32(0, c.Level).
		SetInt64(1, c.Exp).
		SetInt32(2, c.Health).
		SetInt32(3, c.Mana).
		SetInt32(4, c.MaxHealth).
		SetInt32(5, c.MaxMana).
		SetUint64(6, c.Gold).
		SetDouble(7, c.Position.X).
		SetDouble(8, c.Position.Y).
		SetDouble(9, c.Position.Z).
		SetDouble(10, c.Position.Face).
		SetUint8(11, c.Position.Layer).
		SetUint64(12, c.ID)
}

func GoldStatement(characterID, gold uint64) *persist.Statement {
	return persist.NewStatement(StmtUpdateGold).SetUint64(0, gold).SetUint64(1, characterID)
}

// ItemRecord is an inventory row.
type ItemRecord struct {
	ID    uint64
	Code  uint32
	Count uint64
}

func LoadItems(ctx context.Context, pool *persist.Pool, ownerID uint64) ([]ItemRecord, error) {
	rs, err := pool.Query(ctx, persist.NewStatement(StmtLoadItems).SetUint64(0, ownerID))
	if err != nil {
		return nil, fmt.Errorf("load items of %d: %w", ownerID, err)
	}
	items := make([]ItemRecord, 0, rs.RowCount())
	for rs.Next() {
		row := rs.Row()
		items = append(items, ItemRecord{ID: row[0].Uint64(), Code: row[1].Uint32(), Count: row[2].Uint64()})
	}
	return items, nil
}

func InsertItemStatement(ownerID uint64, it ItemRecord) *persist.Statement {
	return persist.NewStatement(StmtInsertItem).
		SetUint64(0, it.ID).
		SetUint64(1, ownerID).
		SetUint32(2, it.Code).
		SetUint64(3, it.Count)
}

// ItemOwnerStatement moves an item to ownerID; owner 0 is the ground.
func ItemOwnerStatement(itemID, ownerID uint64) *persist.Statement {
	return persist.NewStatement(StmtUpdateItemOwner).SetUint64(0, ownerID).SetUint64(1, itemID)
}

func DeleteItemStatement(itemID uint64) *persist.Statement {
	return persist.NewStatement(StmtDeleteItem).SetUint64(0, itemID)
}
