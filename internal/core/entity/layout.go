package entity

// Unit slot layout shared by players, monsters, summons and NPCs.
const (
	UnitFieldHandle = iota
	UnitFieldUID
	UnitFieldLevel
	UnitFieldStatus
	UnitFieldHealth
	UnitFieldMana
	UnitFieldMaxHealth
	UnitFieldMaxMana
	UnitFieldRace
	UnitFieldJob
	UnitFieldExp // 2 slots
	_
	UnitFieldDeadTime
	UnitFieldCode
	UnitEnd
)

const (
	BattleFieldTargetHandle = UnitEnd + iota
	BattleFieldNextAttackableTime
	BattleFieldEnd
)

const (
	PlayerFieldAccountID = BattleFieldEnd + iota
	PlayerFieldPermission
	PlayerFieldPartyID
	PlayerFieldGuildID
	PlayerFieldGold // 2 slots
	_
	PlayerFieldStorageGold // 2 slots
	_
	PlayerFieldEnd
)

const (
	SummonFieldOwner = BattleFieldEnd + iota
	SummonFieldEnd
)

// Item slot layout.
const (
	ItemFieldHandle = iota
	ItemFieldCode
	ItemFieldCount // 2 slots
	_
	ItemFieldOwner
	ItemFieldDropTime
	ItemFieldEnd
)

// Status flags stored in UnitFieldStatus.
const (
	StatusFirstEnter uint32 = 1 << iota
	StatusDead
	StatusInvisible
	StatusMovable
)
