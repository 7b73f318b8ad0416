package world

import (
	"context"
	"encoding/binary"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/worldcore/internal/core/entity"
	"github.com/zeusync/worldcore/internal/core/events/bus"
	"github.com/zeusync/worldcore/internal/core/handle"
	"github.com/zeusync/worldcore/internal/core/motion"
	"github.com/zeusync/worldcore/internal/core/observability/log"
	"github.com/zeusync/worldcore/internal/core/persist"
	"github.com/zeusync/worldcore/internal/core/region"
	"github.com/zeusync/worldcore/internal/core/registry"
	"github.com/zeusync/worldcore/internal/core/session"
	"github.com/zeusync/worldcore/internal/core/storage"
)

type countingRecorder struct {
	ticks        int
	updateErrors int
	notices      map[string]int
}

func (r *countingRecorder) ObserveTick(time.Duration) { r.ticks++ }
func (r *countingRecorder) SetEntities(string, int)   {}
func (r *countingRecorder) SetSessions(int)           {}
func (r *countingRecorder) Notice(kind string)        { r.notices[kind]++ }
func (r *countingRecorder) UpdateError()              { r.updateErrors++ }

func testOptions() Options {
	opts := DefaultOptions()
	opts.Region = region.Config{RegionSize: 180, MapWidth: 10000, MapHeight: 10000, Radius: 1}
	opts.Autosave = 0
	opts.KeepAlive = 0
	return opts
}

func newTestWorld(t *testing.T, opts Options, deps Deps) *World {
	t.Helper()
	if deps.Log == nil {
		deps.Log = log.NewNop()
	}
	w, err := New(opts, deps)
	require.NoError(t, err)
	return w
}

func enter(t *testing.T, w *World, p *entity.Player) *session.Session {
	t.Helper()
	s := session.New("test", session.Options{SendQueue: 1024})
	require.NoError(t, w.EnterPlayer(s, p))
	return s
}

func drain(s *session.Session) []session.Packet {
	var out []session.Packet
	for {
		select {
		case p := <-s.Outbound():
			out = append(out, p)
		default:
			return out
		}
	}
}

// handlesIn returns the leading handle of every packet with the given id.
func handlesIn(pkts []session.Packet, id uint16) []handle.Handle {
	var out []handle.Handle
	for _, p := range pkts {
		if p.ID == id {
			out = append(out, handle.Handle(binary.LittleEndian.Uint32(p.Payload)))
		}
	}
	return out
}

func count(pkts []session.Packet, id uint16) int {
	n := 0
	for _, p := range pkts {
		if p.ID == id {
			n++
		}
	}
	return n
}

func collect(t *testing.T, w *World, kind bus.Kind) *[]bus.Event {
	t.Helper()
	var events []bus.Event
	_, err := w.Bus().Subscribe(kind, func(e bus.Event) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)
	return &events
}

func advanceUntil(t *testing.T, w *World, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w.Advance(1)
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestMoveAcrossRegionBoundary(t *testing.T) {
	w := newTestWorld(t, testOptions(), Deps{})

	p := entity.NewPlayer(1, "p", motion.At(100, 100, 0))
	b := entity.NewPlayer(2, "b", motion.At(400, 100, 0))
	c := entity.NewPlayer(3, "c", motion.At(100, 300, 0))
	sp, sb, sc := enter(t, w, p), enter(t, w, b), enter(t, w, c)

	cell, ok := w.Grid().CellOf(p.Handle())
	require.True(t, ok)
	assert.Equal(t, region.CellID{X: 0, Y: 0}, cell)
	assert.NotContains(t, handlesIn(drain(sb), MsgEnter), p.Handle(), "b starts two cells away")
	drain(sp)
	drain(sc)

	w.Advance(1)
	require.NoError(t, w.SetMove(p, []motion.Position{motion.At(300, 100, 0)}, 10))
	assert.Equal(t, []handle.Handle{p.Handle()}, handlesIn(drain(sc), MsgMove))

	for range 25 {
		w.Advance(1000)
	}

	assert.True(t, p.Position().Equal(motion.At(300, 100, 0)), "got %s", p.Position())
	assert.False(t, p.Track().IsMoving())
	cell, _ = w.Grid().CellOf(p.Handle())
	assert.Equal(t, region.CellID{X: 1, Y: 0}, cell)

	toB := drain(sb)
	assert.Equal(t, []handle.Handle{p.Handle()}, handlesIn(toB, MsgEnter))
	assert.Zero(t, count(toB, MsgLeave))

	toP := drain(sp)
	assert.Equal(t, []handle.Handle{b.Handle()}, handlesIn(toP, MsgEnter))
	assert.Zero(t, count(toP, MsgLeave))
	assert.Equal(t, 1, count(toP, MsgRegionAck))

	toC := drain(sc)
	assert.Zero(t, count(toC, MsgEnter))
	assert.Zero(t, count(toC, MsgLeave))
}

func TestInterpolatedPositionBetweenTicks(t *testing.T) {
	w := newTestWorld(t, testOptions(), Deps{})
	p := entity.NewPlayer(1, "p", motion.At(100, 100, 0))
	enter(t, w, p)

	require.NoError(t, w.SetMove(p, []motion.Position{motion.At(300, 100, 0)}, 10))
	w.Advance(1000)
	assert.InDelta(t, 110, p.Position().X, 1e-9)
	assert.True(t, p.Track().IsMoving())

	require.NoError(t, w.StopMove(p))
	assert.False(t, p.Track().IsMoving())
	w.Advance(5000)
	assert.InDelta(t, 110, p.Position().X, 1e-9)
}

func TestDeletedEntityIsRemovedAfterUpdate(t *testing.T) {
	w := newTestWorld(t, testOptions(), Deps{})
	removed := collect(t, w, bus.EntityRemoved)

	watcher := entity.NewPlayer(1, "w", motion.At(60, 60, 0))
	sw := enter(t, w, watcher)

	m := entity.NewMonster(7, 1, 100, motion.At(50, 50, 0))
	require.NoError(t, w.AddToWorld(m))
	h := m.Handle()
	assert.Equal(t, []handle.Handle{h}, handlesIn(drain(sw), MsgEnter))

	w.Advance(1)
	assert.Equal(t, 2, w.Stats().Live)

	m.SetHealth(0, w.Now())
	w.Advance(entity.MonsterDeleteDelay)

	_, ok := registry.Find[*entity.Monster](w.Registry(), h)
	assert.False(t, ok)
	assert.False(t, m.InWorld())
	assert.Equal(t, 1, w.Stats().Live)
	require.Len(t, *removed, 1)
	assert.Equal(t, h, (*removed)[0].Handle)
	assert.Equal(t, []handle.Handle{h}, handlesIn(drain(sw), MsgLeave))
}

func TestUpdateErrorsAreIsolated(t *testing.T) {
	rec := &countingRecorder{notices: make(map[string]int)}
	w := newTestWorld(t, testOptions(), Deps{Recorder: rec})

	orphan := entity.NewSummon(handle.Invalid, 3, motion.At(10, 10, 0))
	require.NoError(t, w.AddToWorld(orphan))
	m := entity.NewMonster(7, 1, 100, motion.At(20, 20, 0))
	require.NoError(t, w.AddToWorld(m))

	w.Advance(100)
	w.Advance(100)

	assert.Equal(t, 2, rec.updateErrors)
	assert.Equal(t, 2, rec.ticks)
	assert.True(t, orphan.InWorld())
	assert.True(t, m.InWorld())
}

func TestDispatchRunsHandlersInOrder(t *testing.T) {
	w := newTestWorld(t, testOptions(), Deps{})
	opened := collect(t, w, bus.SessionOpened)

	var got []byte
	w.HandlePacket(100, func(_ *session.Session, p session.Packet) error {
		got = append(got, p.Payload[0])
		switch p.Payload[0] {
		case 2:
			panic("boom")
		case 3:
			return errors.New("rejected")
		}
		return nil
	})

	s := session.New("a", session.DefaultOptions())
	require.NoError(t, w.Hub().Open(s))
	gone := session.New("b", session.DefaultOptions())
	gone.Close(nil)

	in := w.Ingress()
	for _, b := range []byte{1, 2, 3} {
		require.True(t, in.Push(s, session.Packet{ID: 100, Payload: []byte{b}}))
	}
	require.True(t, in.Push(gone, session.Packet{ID: 100, Payload: []byte{9}}))
	require.True(t, in.Push(s, session.Packet{ID: 999}))
	require.True(t, in.Push(s, session.Packet{ID: 100, Payload: []byte{4}}))

	w.Advance(1)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
	assert.Zero(t, in.Len())
	require.Len(t, *opened, 1)
	assert.Equal(t, s.ID(), (*opened)[0].Data)
	assert.Equal(t, 1, w.Stats().Sessions)
}

func TestClosedSessionRemovesPlayer(t *testing.T) {
	w := newTestWorld(t, testOptions(), Deps{})
	closed := collect(t, w, bus.SessionClosed)

	s := session.New("a", session.DefaultOptions())
	require.NoError(t, w.Hub().Open(s))
	w.Advance(1)

	p := entity.NewPlayer(1, "p", motion.At(100, 100, 0))
	require.NoError(t, w.EnterPlayer(s, p))
	got, ok := w.Player(s)
	require.True(t, ok)
	assert.Same(t, p, got)

	s.Close(nil)
	w.Hub().Closed(s)
	w.Advance(1)

	assert.False(t, p.InWorld())
	_, ok = w.Player(s)
	assert.False(t, ok)
	require.Len(t, *closed, 1)
	assert.Equal(t, p.Handle(), (*closed)[0].Handle)
	assert.Zero(t, w.Stats().Players)
}

func TestMoveRequestPacket(t *testing.T) {
	w := newTestWorld(t, testOptions(), Deps{})
	p := entity.NewPlayer(1, "p", motion.At(100, 100, 0))
	s := enter(t, w, p)
	drain(s)

	payload := binary.LittleEndian.AppendUint32(nil, 0x41200000) // 10.0
	payload = appendPath(payload, []motion.Position{motion.At(120, 100, 0), motion.At(120, 150, 0)})
	require.True(t, w.Ingress().Push(s, session.Packet{ID: MsgMoveRequest, Payload: payload}))
	w.Advance(1)

	require.True(t, p.Track().IsMoving())
	assert.True(t, p.Track().Destination().Equal(motion.At(120, 150, 0)))
	assert.Equal(t, []handle.Handle{p.Handle()}, handlesIn(drain(s), MsgMove))

	_, _, err := decodeMoveRequest(payload[:len(payload)-1], 0)
	assert.ErrorIs(t, err, errMalformed)
}

func TestWorldRejectsInvalidRequests(t *testing.T) {
	w := newTestWorld(t, testOptions(), Deps{})

	far := entity.NewMonster(1, 1, 10, motion.At(20000, 10, 0))
	assert.ErrorIs(t, w.AddToWorld(far), ErrOutOfBounds)

	m := entity.NewMonster(1, 1, 10, motion.At(10, 10, 0))
	require.NoError(t, w.AddToWorld(m))
	assert.ErrorIs(t, w.AddToWorld(m), ErrAlreadyInWorld)
	assert.ErrorIs(t, w.SetMove(m, []motion.Position{motion.At(-5, 10, 0)}, 10), ErrOutOfBounds)

	npc := entity.NewNPC(4, motion.At(30, 30, 0))
	require.NoError(t, w.AddToWorld(npc))
	assert.ErrorIs(t, w.SetMove(npc, []motion.Position{motion.At(40, 30, 0)}, 10), ErrNotMovable)

	require.NoError(t, w.RemoveFromWorld(m))
	assert.ErrorIs(t, w.RemoveFromWorld(m), ErrNotInWorld)
	assert.ErrorIs(t, w.Warp(m, motion.At(10, 10, 1)), ErrNotInWorld)
}

func TestEnterPlayerRefusedBeforeLoginResult(t *testing.T) {
	w := newTestWorld(t, testOptions(), Deps{})
	s := session.New("test", session.Options{SendQueue: 16})

	lost := entity.NewPlayer(3, "lost", motion.At(20000, 10, 0))
	assert.ErrorIs(t, w.EnterPlayer(s, lost), ErrOutOfBounds)
	assert.Empty(t, drain(s))
	assert.Equal(t, handle.Invalid, s.Player())
	assert.Equal(t, handle.Invalid, lost.Handle())

	p := entity.NewPlayer(4, "p", motion.At(100, 100, 0))
	require.NoError(t, w.EnterPlayer(s, p))
	pkts := drain(s)
	require.NotEmpty(t, pkts)
	assert.Equal(t, MsgLoginResult, pkts[0].ID)
	assert.Equal(t, LoginOK, pkts[0].Payload[0])
}

func TestWarpChangesLayer(t *testing.T) {
	w := newTestWorld(t, testOptions(), Deps{})

	p := entity.NewPlayer(1, "p", motion.At(100, 100, 0))
	ground := entity.NewPlayer(2, "g", motion.At(110, 100, 0))
	upstairs := entity.NewPlayer(3, "u", motion.At(110, 100, 1))
	sp, sg, su := enter(t, w, p), enter(t, w, ground), enter(t, w, upstairs)
	drain(sp)
	drain(sg)
	drain(su)

	require.NoError(t, w.Warp(p, motion.At(100, 100, 1)))

	assert.Equal(t, []handle.Handle{p.Handle()}, handlesIn(drain(sg), MsgLeave))
	assert.Equal(t, []handle.Handle{p.Handle()}, handlesIn(drain(su), MsgEnter))

	toP := drain(sp)
	assert.Equal(t, []handle.Handle{ground.Handle()}, handlesIn(toP, MsgLeave))
	assert.Equal(t, []handle.Handle{upstairs.Handle()}, handlesIn(toP, MsgEnter))
	require.Equal(t, 1, count(toP, MsgRegionAck))
	for _, pkt := range toP {
		if pkt.ID == MsgRegionAck {
			assert.Equal(t, uint8(1), pkt.Payload[8])
		}
	}
}

func TestDropAndPickupItem(t *testing.T) {
	w := newTestWorld(t, testOptions(), Deps{})
	p := entity.NewPlayer(1, "p", motion.At(100, 100, 0))
	sp := enter(t, w, p)
	drain(sp)

	it := entity.NewItem(900, 5, 1)
	require.NoError(t, w.DropItem(it, motion.At(110, 100, 0)))
	h := it.Handle()
	assert.Equal(t, handle.CategoryItem, h.Category())
	assert.Equal(t, []handle.Handle{h}, handlesIn(drain(sp), MsgEnter))
	w.Advance(1)
	assert.Equal(t, 1, w.Stats().Ground)

	stranger := entity.NewPlayer(2, "s", motion.At(400, 100, 0))
	enter(t, w, stranger)
	_, err := w.PickupItem(stranger, h)
	assert.ErrorIs(t, err, ErrOutOfRange)

	got, err := w.PickupItem(p, h)
	require.NoError(t, err)
	assert.Same(t, it, got)
	assert.Equal(t, handle.Invalid, it.Handle())
	assert.Equal(t, p.Handle(), it.Owner())
	assert.Equal(t, []handle.Handle{h}, handlesIn(drain(sp), MsgLeave))

	_, ok := registry.Find[*entity.Item](w.Registry(), h)
	assert.False(t, ok)
	_, err = w.PickupItem(p, h)
	assert.ErrorIs(t, err, ErrItemGone)

	w.Advance(1)
	assert.Zero(t, w.Stats().Ground)
}

func TestGroundItemExpires(t *testing.T) {
	w := newTestWorld(t, testOptions(), Deps{})
	it := entity.NewItem(901, 5, 1)
	require.NoError(t, w.DropItem(it, motion.At(50, 50, 0)))
	h := it.Handle()

	w.Advance(entity.ItemDropLifetime - 1000)
	assert.True(t, it.InWorld())

	w.Advance(1000)
	assert.False(t, it.InWorld())
	_, ok := registry.Find[*entity.Item](w.Registry(), h)
	assert.False(t, ok)
	assert.Zero(t, w.Stats().Ground)
}

func TestRespawnPointKeepsPopulation(t *testing.T) {
	opts := testOptions()
	opts.Respawns = []SpawnArea{{
		MonsterID: 30, Level: 4, Health: 80,
		Left: 200, Top: 200, Right: 400, Bottom: 300,
		Count: 2, MaxCount: 4, Increment: 1, Interval: time.Second,
	}}
	w := newTestWorld(t, opts, Deps{})
	reg := w.Registry()
	assert.Equal(t, 2, reg.Count(handle.CategoryMonster))

	w.Advance(1000)
	assert.Equal(t, 3, reg.Count(handle.CategoryMonster))
	w.Advance(1000)
	w.Advance(1000)
	assert.Equal(t, 4, reg.Count(handle.CategoryMonster))

	var victim *entity.Monster
	reg.ForEach(handle.CategoryMonster, func(e entity.Entity) {
		m := e.(*entity.Monster)
		assert.Equal(t, uint32(1), m.Spawner)
		assert.Equal(t, uint32(30), m.TemplateID)
		pos := m.Position()
		assert.True(t, pos.X >= 200 && pos.X <= 400 && pos.Y >= 200 && pos.Y <= 300, "spawned at %s", pos)
		victim = m
	})
	require.NoError(t, w.RemoveFromWorld(victim))
	assert.Equal(t, 3, reg.Count(handle.CategoryMonster))

	w.Advance(1000)
	assert.Equal(t, 4, reg.Count(handle.CategoryMonster))
	assert.Equal(t, uint32(5), reg.Issued(handle.CategoryMonster), "handles are never reused")
}

func TestRunAdvancesClock(t *testing.T) {
	opts := testOptions()
	opts.TickRate = 2 * time.Millisecond
	w := newTestWorld(t, opts, Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	var live int
	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()
	require.NoError(t, w.Call(callCtx, func() {
		m := entity.NewMonster(1, 1, 10, motion.At(10, 10, 0))
		_ = w.AddToWorld(m)
		live = w.Registry().Count(handle.CategoryMonster)
	}))
	assert.Equal(t, 1, live)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Positive(t, uint64(w.Now()))
}

func openWorldPool(t *testing.T) *persist.Pool {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "world.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := persist.OpenDB("sqlite", dsn, 3)
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(context.Background(), db))

	opts := persist.DefaultOptions()
	opts.SyncConnections, opts.AsyncConnections = 1, 2
	pool := persist.NewPool(opts, persist.SQLDialer(db, storage.Catalog()), log.NewNop(), nil)
	require.NoError(t, pool.Open(context.Background()))
	t.Cleanup(func() {
		assert.NoError(t, pool.Close())
		assert.NoError(t, db.Close())
	})
	return pool
}

func TestLoginChangeGoldAndSave(t *testing.T) {
	pool := openWorldPool(t)
	ctx := context.Background()
	require.NoError(t, storage.CreateCharacter(ctx, pool, storage.Character{
		ID: 42, Name: "Arin", Level: 3, Health: 50, MaxHealth: 50, Gold: 1000,
		Position: motion.At(500, 500, 0),
	}))

	w := newTestWorld(t, testOptions(), Deps{Pool: pool})
	saved := collect(t, w, bus.PlayerSaved)

	s := session.New("a", session.DefaultOptions())
	require.NoError(t, w.Hub().Open(s))
	require.True(t, w.Ingress().Push(s, session.Packet{ID: MsgLogin, Payload: []byte("Arin")}))
	advanceUntil(t, w, func() bool { return s.Player() != handle.Invalid })

	p, ok := w.Player(s)
	require.True(t, ok)
	assert.True(t, p.InWorld())
	assert.Equal(t, uint64(42), p.CharacterID)

	first := drain(s)
	require.NotEmpty(t, first)
	assert.Equal(t, MsgLoginResult, first[0].ID)
	assert.Equal(t, LoginOK, first[0].Payload[0])

	require.NoError(t, w.ChangeGold(p, -250))
	assert.Equal(t, uint64(750), p.Gold())
	advanceUntil(t, w, func() bool {
		c, _, err := storage.LoadCharacter(ctx, pool, 42)
		return err == nil && c.Gold == 750
	})

	assert.ErrorIs(t, w.ChangeGold(p, -1000), entity.ErrInsufficientGold)

	require.NoError(t, w.Warp(p, motion.At(600, 520, 0)))
	s.Close(nil)
	w.Hub().Closed(s)
	advanceUntil(t, w, func() bool { return len(*saved) == 1 })
	assert.False(t, p.InWorld())

	c, found, err := storage.LoadCharacter(ctx, pool, 42)
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 600, c.Position.X, 1e-9)
	assert.Equal(t, uint64(750), c.Gold)
}

func TestLoginUnknownCharacter(t *testing.T) {
	w := newTestWorld(t, testOptions(), Deps{Pool: openWorldPool(t)})

	s := session.New("a", session.DefaultOptions())
	require.NoError(t, w.Hub().Open(s))
	require.True(t, w.Ingress().Push(s, session.Packet{ID: MsgLogin, Payload: []byte("nobody")}))

	var reply []session.Packet
	advanceUntil(t, w, func() bool {
		reply = append(reply, drain(s)...)
		return len(reply) > 0
	})
	assert.Equal(t, MsgLoginResult, reply[0].ID)
	assert.Equal(t, LoginUnknownCharacter, reply[0].Payload[0])
	assert.Equal(t, handle.Invalid, s.Player())
}

var errDiskFull = errors.New("disk full")

type failingConn struct{}

func (failingConn) Exec(context.Context, *persist.Statement) (int64, error) { return 0, errDiskFull }
func (failingConn) Query(context.Context, *persist.Statement) (*persist.ResultSet, error) {
	return nil, errDiskFull
}
func (failingConn) ExecTx(context.Context, []*persist.Statement) error { return errDiskFull }
func (failingConn) Ping(context.Context) error                         { return nil }
func (failingConn) Close() error                                       { return nil }

func TestChangeGoldRollsBackOnWriteFailure(t *testing.T) {
	dial := func(context.Context, persist.ConnFlags) (persist.Conn, error) { return failingConn{}, nil }
	pool := persist.NewPool(persist.DefaultOptions(), dial, log.NewNop(), nil)
	require.NoError(t, pool.Open(context.Background()))
	t.Cleanup(func() { assert.NoError(t, pool.Close()) })

	w := newTestWorld(t, testOptions(), Deps{Pool: pool})
	rollbacks := collect(t, w, bus.PersistRollback)

	p := entity.NewPlayer(7, "p", motion.At(100, 100, 0))
	p.SetGold(100)
	s := enter(t, w, p)
	drain(s)

	require.NoError(t, w.ChangeGold(p, 50))
	assert.Equal(t, uint64(150), p.Gold())

	advanceUntil(t, w, func() bool { return len(*rollbacks) == 1 })
	assert.Equal(t, uint64(100), p.Gold())

	data, ok := (*rollbacks)[0].Data.(bus.RollbackData)
	require.True(t, ok)
	assert.Equal(t, "gold", data.Field)
	assert.Equal(t, int64(100), data.Previous)
	assert.Equal(t, int64(150), data.Attempt)
	assert.ErrorIs(t, data.Err, errDiskFull)

	var last session.Packet
	for _, pkt := range drain(s) {
		if pkt.ID == MsgGold {
			last = pkt
		}
	}
	assert.Equal(t, uint64(100), binary.LittleEndian.Uint64(last.Payload))
}

// switchConn fails every write while fail is set and counts the rest.
type switchConn struct {
	failingConn
	fail  *atomic.Bool
	execs *atomic.Int32
}

func (c switchConn) Exec(context.Context, *persist.Statement) (int64, error) {
	if c.fail.Load() {
		return 0, errDiskFull
	}
	c.execs.Add(1)
	return 1, nil
}

func openSwitchPool(t *testing.T) (*persist.Pool, *atomic.Bool, *atomic.Int32) {
	t.Helper()
	fail, execs := new(atomic.Bool), new(atomic.Int32)
	dial := func(context.Context, persist.ConnFlags) (persist.Conn, error) {
		return switchConn{fail: fail, execs: execs}, nil
	}
	pool := persist.NewPool(persist.DefaultOptions(), dial, log.NewNop(), nil)
	require.NoError(t, pool.Open(context.Background()))
	t.Cleanup(func() { assert.NoError(t, pool.Close()) })
	return pool, fail, execs
}

func TestDropItemRollsBackOnWriteFailure(t *testing.T) {
	pool, fail, _ := openSwitchPool(t)
	fail.Store(true)

	w := newTestWorld(t, testOptions(), Deps{Pool: pool})
	rollbacks := collect(t, w, bus.PersistRollback)

	p := entity.NewPlayer(7, "p", motion.At(100, 100, 0))
	s := enter(t, w, p)
	drain(s)

	it := entity.NewItem(900, 5, 1)
	it.SetOwner(p.Handle())
	require.NoError(t, w.DropItem(it, motion.At(110, 100, 0)))
	h := it.Handle()
	assert.Equal(t, handle.Invalid, it.Owner())

	advanceUntil(t, w, func() bool { return len(*rollbacks) == 1 })
	w.Advance(1)

	assert.False(t, it.InWorld())
	assert.Equal(t, handle.Invalid, it.Handle())
	assert.Equal(t, p.Handle(), it.Owner())
	assert.Zero(t, w.Stats().Ground)
	_, ok := registry.Find[*entity.Item](w.Registry(), h)
	assert.False(t, ok)

	pkts := drain(s)
	assert.Equal(t, []handle.Handle{h}, handlesIn(pkts, MsgEnter))
	assert.Equal(t, []handle.Handle{h}, handlesIn(pkts, MsgLeave))

	data, ok := (*rollbacks)[0].Data.(bus.RollbackData)
	require.True(t, ok)
	assert.Equal(t, "item_owner", data.Field)
	assert.Equal(t, int64(7), data.Previous)
	assert.Zero(t, data.Attempt)
	assert.ErrorIs(t, data.Err, errDiskFull)
}

func TestPickupItemRollsBackOnWriteFailure(t *testing.T) {
	pool, fail, execs := openSwitchPool(t)

	w := newTestWorld(t, testOptions(), Deps{Pool: pool})
	rollbacks := collect(t, w, bus.PersistRollback)

	p := entity.NewPlayer(7, "p", motion.At(100, 100, 0))
	s := enter(t, w, p)

	it := entity.NewItem(900, 5, 1)
	require.NoError(t, w.DropItem(it, motion.At(110, 100, 0)))
	advanceUntil(t, w, func() bool { return execs.Load() == 1 })
	dropped := it.DropTime()
	h := it.Handle()
	drain(s)

	fail.Store(true)
	_, err := w.PickupItem(p, h)
	require.NoError(t, err)
	assert.Equal(t, p.Handle(), it.Owner())
	assert.False(t, it.InWorld())

	advanceUntil(t, w, func() bool { return len(*rollbacks) == 1 })
	w.Advance(1)

	require.True(t, it.InWorld())
	assert.Equal(t, handle.Invalid, it.Owner())
	again := it.Handle()
	assert.NotEqual(t, h, again)
	assert.Equal(t, handle.CategoryItem, again.Category())
	assert.True(t, it.Position().Equal(motion.At(110, 100, 0)))
	assert.Equal(t, dropped, it.DropTime())
	assert.Equal(t, 1, w.Stats().Ground)

	pkts := drain(s)
	assert.Equal(t, []handle.Handle{h}, handlesIn(pkts, MsgLeave))
	assert.Equal(t, []handle.Handle{again}, handlesIn(pkts, MsgEnter))

	data, ok := (*rollbacks)[0].Data.(bus.RollbackData)
	require.True(t, ok)
	assert.Equal(t, "item_owner", data.Field)
	assert.Zero(t, data.Previous)
	assert.Equal(t, int64(7), data.Attempt)
	assert.Equal(t, again, (*rollbacks)[0].Handle)

	got, err := w.PickupItem(p, again)
	require.NoError(t, err)
	assert.Same(t, it, got)
}
