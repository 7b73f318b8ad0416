// Package storage holds the world's statement catalog, its schema and the
// helpers that turn entities into statements and rows back into entities.
package storage

import "github.com/zeusync/worldcore/internal/core/persist"

const (
	StmtSchemaVersion persist.StatementID = iota + 1
	StmtLoadCharacter
	StmtLoadCharacterByName
	StmtInsertCharacter
	StmtSaveCharacter
	StmtUpdateGold
	StmtLoadItems
	StmtInsertItem
	StmtUpdateItemOwner
	StmtDeleteItem
)

const characterColumns = "id, account_id, name, level, exp, health, mana, max_health, max_mana, gold, x, y, z, face, layer"

// Catalog returns the statements every world connection prepares.
func Catalog() *persist.Catalog {
	return persist.NewCatalog(map[persist.StatementID]persist.Template{
		StmtSchemaVersion: {
			SQL:   "SELECT version FROM schema_version",
			Flags: persist.ConnSync,
		},
		StmtLoadCharacter: {
			SQL:   "SELECT " + characterColumns + " FROM characters WHERE id = ?",
			Flags: persist.ConnBoth,
		},
		StmtLoadCharacterByName: {
			SQL:   "SELECT " + characterColumns + " FROM characters WHERE name = ?",
			Flags: persist.ConnBoth,
		},
		StmtInsertCharacter: {
			SQL:   "INSERT INTO characters (" + characterColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			Flags: persist.ConnSync,
		},
		StmtSaveCharacter: {
			SQL: "UPDATE characters SET level = ?, exp = ?, health = ?, mana = ?, max_health = ?, max_mana = ?, " +
				"gold = ?, x = ?, y = ?, z = ?, face = ?, layer = ? WHERE id = ?",
			Flags: persist.ConnAsync,
		},
		StmtUpdateGold: {
			SQL:   "UPDATE characters SET gold = ? WHERE id = ?",
			Flags: persist.ConnAsync,
		},
		StmtLoadItems: {
			SQL:   "SELECT id, code, count FROM items WHERE owner_id = ? ORDER BY id",
			Flags: persist.ConnBoth,
		},
		StmtInsertItem: {
			SQL:   "INSERT INTO items (id, owner_id, code, count) VALUES (?, ?, ?, ?)",
			Flags: persist.ConnAsync,
		},
		StmtUpdateItemOwner: {
			SQL:   "UPDATE items SET owner_id = ? WHERE id = ?",
			Flags: persist.ConnAsync,
		},
		StmtDeleteItem: {
			SQL:   "DELETE FROM items WHERE id = ?",
			Flags: persist.ConnAsync,
		},
	})
}
