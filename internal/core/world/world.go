// Package world runs the simulation: it owns the registry, the region grid,
// the timers and the persistence callbacks, and advances them in a fixed
// order once per tick.
//
// Everything except Post, Now and Stats must be called from the simulation
// goroutine, which is the goroutine running Run (or calling Advance).
package world

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/worldcore/internal/core/entity"
	"github.com/zeusync/worldcore/internal/core/events/bus"
	"github.com/zeusync/worldcore/internal/core/handle"
	"github.com/zeusync/worldcore/internal/core/motion"
	"github.com/zeusync/worldcore/internal/core/observability/log"
	"github.com/zeusync/worldcore/internal/core/persist"
	"github.com/zeusync/worldcore/internal/core/region"
	"github.com/zeusync/worldcore/internal/core/registry"
	"github.com/zeusync/worldcore/internal/core/session"
	"github.com/zeusync/worldcore/internal/core/timer"
)

var (
	ErrOutOfBounds    = errors.New("position outside the map")
	ErrAlreadyInWorld = errors.New("entity already in world")
	ErrNotInWorld     = errors.New("entity not in world")
	ErrNotMovable     = errors.New("entity cannot move")
	ErrNoPersistence  = errors.New("persistence disabled")
	ErrItemGone       = errors.New("item is not on the ground")
	ErrOutOfRange     = errors.New("target out of range")
	ErrNotLoggedIn    = errors.New("session has no player")
)

// Recorder receives tick level measurements. The metrics package
// implements it.
type Recorder interface {
	ObserveTick(d time.Duration)
	SetEntities(category string, n int)
	SetSessions(n int)
	Notice(kind string)
	UpdateError()
}

type nopRecorder struct{}

func (nopRecorder) ObserveTick(time.Duration) {}
func (nopRecorder) SetEntities(string, int)   {}
func (nopRecorder) SetSessions(int)           {}
func (nopRecorder) Notice(string)             {}
func (nopRecorder) UpdateError()              {}

type Options struct {
	Region   region.Config
	TickRate time.Duration

	Autosave  time.Duration
	KeepAlive time.Duration
	ItemSweep time.Duration

	// PickupRange is the largest distance a player may pick an item from.
	PickupRange float64
	Respawns    []SpawnArea
}

func DefaultOptions() Options {
	return Options{
		Region:      region.DefaultConfig(),
		TickRate:    50 * time.Millisecond,
		Autosave:    5 * time.Minute,
		KeepAlive:   5 * time.Minute,
		ItemSweep:   time.Second,
		PickupRange: 60,
	}
}

// Deps are the collaborators of a World. Only Log is required; a nil Pool
// runs the world without persistence.
type Deps struct {
	Log      log.Log
	Pool     *persist.Pool
	Bus      bus.EventBus
	Hub      *session.Hub
	Ingress  *session.Ingress
	Recorder Recorder
}

// Handler processes one inbound packet on the simulation goroutine.
type Handler func(s *session.Session, p session.Packet) error

// Stats is a snapshot published at the end of every tick.
type Stats struct {
	Tick     uint64         `json:"tick"`
	Now      uint64         `json:"now_ms"`
	Live     int            `json:"live"`
	Players  int            `json:"players"`
	Ground   int            `json:"ground_items"`
	Sessions int            `json:"sessions"`
	Grid     region.Stats   `json:"grid"`
	Persist  *persist.Stats `json:"persist,omitempty"`
}

type World struct {
	opts Options
	log  log.Log

	reg   *registry.Registry
	grid  *region.Grid
	pool  *persist.Pool
	proc  *persist.CallbackProcessor
	sched *timer.Scheduler
	bus   bus.EventBus
	hub   *session.Hub
	in    *session.Ingress
	rec   Recorder

	ctx   context.Context
	clock atomic.Uint64
	tick  uint64

	live    []entity.Entity
	inLive  map[handle.Handle]bool
	ground  map[handle.Handle]*entity.Item
	players map[handle.Handle]*session.Session

	handlers map[uint16]Handler
	inbound  []session.Inbound

	respawns  []*respawnPoint
	autosave  timer.Handle
	keepAlive timer.Handle

	postMu sync.Mutex
	posted []func()

	stats atomic.Pointer[Stats]
	rng   *rand.Rand
}

func New(opts Options, deps Deps) (*World, error) {
	if deps.Log == nil {
		return nil, fmt.Errorf("world: logger is required")
	}
	if opts.TickRate <= 0 {
		return nil, fmt.Errorf("world: tick rate must be positive, got %s", opts.TickRate)
	}
	if deps.Bus == nil {
		deps.Bus = bus.New()
	}
	if deps.Hub == nil {
		deps.Hub = session.NewHub(0)
	}
	if deps.Ingress == nil {
		deps.Ingress = session.NewIngress(0)
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}

	w := &World{
		opts:     opts,
		log:      deps.Log.With(log.String("component", "world")),
		reg:      registry.New(),
		pool:     deps.Pool,
		proc:     persist.NewCallbackProcessor(),
		sched:    timer.NewScheduler(deps.Log),
		bus:      deps.Bus,
		hub:      deps.Hub,
		in:       deps.Ingress,
		rec:      deps.Recorder,
		ctx:      context.Background(),
		inLive:   make(map[handle.Handle]bool),
		ground:   make(map[handle.Handle]*entity.Item),
		players:  make(map[handle.Handle]*session.Session),
		handlers: make(map[uint16]Handler),
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
	}

	grid, err := region.New(opts.Region, visibility{w: w})
	if err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}
	w.grid = grid

	w.SetIntervals(opts.Autosave, opts.KeepAlive)
	if opts.ItemSweep > 0 {
		w.sched.AddPeriodic(timer.EventFunc(func(uint64) { w.sweepItems() }), uint64(opts.ItemSweep.Milliseconds()))
	}

	w.HandlePacket(MsgLogin, w.handleLogin)
	w.HandlePacket(MsgMoveRequest, w.handleMoveRequest)
	w.HandlePacket(MsgPickup, w.handlePickup)

	for i, area := range opts.Respawns {
		w.respawns = append(w.respawns, newRespawnPoint(uint32(i+1), area))
	}
	for _, rp := range w.respawns {
		rp.spawn(w, rp.area.Count)
	}

	w.publishStats()
	return w, nil
}

func (w *World) Registry() *registry.Registry { return w.reg }
func (w *World) Grid() *region.Grid           { return w.grid }
func (w *World) Bus() bus.EventBus            { return w.bus }
func (w *World) Hub() *session.Hub            { return w.hub }
func (w *World) Ingress() *session.Ingress    { return w.in }

// Now is the world clock in milliseconds. Safe from any goroutine.
func (w *World) Now() motion.Tick {
	return motion.Tick(w.clock.Load())
}

// Stats returns the snapshot of the last completed tick. Safe from any
// goroutine.
func (w *World) Stats() Stats {
	return *w.stats.Load()
}

// HandlePacket registers h for packet id, replacing any previous handler.
func (w *World) HandlePacket(id uint16, h Handler) {
	w.handlers[id] = h
}

// Post queues fn to run at the start of the next tick. Safe from any
// goroutine.
func (w *World) Post(fn func()) {
	w.postMu.Lock()
	w.posted = append(w.posted, fn)
	w.postMu.Unlock()
}

// Call runs fn on the simulation goroutine and waits for it.
func (w *World) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	w.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetIntervals reschedules autosave and database keep-alive. A zero
// interval disables the timer.
func (w *World) SetIntervals(autosave, keepAlive time.Duration) {
	w.autosave.Abort()
	w.keepAlive.Abort()
	w.autosave, w.keepAlive = timer.Handle{}, timer.Handle{}

	if autosave > 0 {
		w.autosave = w.sched.AddPeriodic(timer.EventFunc(func(uint64) { w.saveAll() }), uint64(autosave.Milliseconds()))
	}
	if keepAlive > 0 && w.pool != nil {
		w.keepAlive = w.sched.AddPeriodic(timer.EventFunc(func(uint64) { w.pingDatabase() }), uint64(keepAlive.Milliseconds()))
	}
}

func (w *World) publish(kind bus.Kind, h handle.Handle, data any) {
	err := w.bus.Publish(bus.Event{Kind: kind, Handle: h, Tick: w.clock.Load(), Data: data})
	if err != nil {
		w.log.Warn("event handler failed", log.String("kind", string(kind)), log.Stringer("handle", h), log.Error(err))
	}
}

// AddToWorld assigns a handle when e has none, registers it and places it
// in the grid. Observers in range receive an enter notice.
func (w *World) AddToWorld(e entity.Entity) error {
	if err := w.checkAdd(e); err != nil {
		return err
	}
	pos := e.Position()
	if e.Handle() == handle.Invalid {
		if err := e.SetHandle(w.reg.Allocate(e.Kind().Category())); err != nil {
			return err
		}
	}
	if err := w.reg.Register(e); err != nil {
		return err
	}
	e.SetInWorld(true)

	mover, isMover := e.(entity.Mover)
	if isMover {
		e.Fields().SetFlag(entity.UnitFieldStatus, entity.StatusFirstEnter)
		mover.Track().Warp(pos, w.Now())
	}
	w.grid.Enter(e, pos)
	if isMover {
		e.Fields().RemoveFlag(entity.UnitFieldStatus, entity.StatusFirstEnter)
	}

	w.publish(bus.EntityAdded, e.Handle(), e.Kind())
	return nil
}

// checkAdd reports why AddToWorld would refuse e.
func (w *World) checkAdd(e entity.Entity) error {
	if e.InWorld() {
		return fmt.Errorf("%w: %s", ErrAlreadyInWorld, e.Handle())
	}
	if pos := e.Position(); !w.grid.Contains(pos) {
		return fmt.Errorf("%w: %s", ErrOutOfBounds, pos)
	}
	if h := e.Handle(); h != handle.Invalid && w.reg.Lookup(h) != nil {
		return fmt.Errorf("%w: %s", registry.ErrAlreadyRegistered, h)
	}
	return nil
}

// RemoveFromWorld takes e out of the grid and the registry. Its handle is
// dead afterwards; the live set forgets it at the end of the tick.
func (w *World) RemoveFromWorld(e entity.Entity) error {
	if !e.InWorld() {
		return fmt.Errorf("%w: %s", ErrNotInWorld, e.Handle())
	}
	if m, ok := e.(entity.Mover); ok && m.Track().IsMoving() {
		now := w.Now()
		m.Track().Stop(now)
		e.SetPosition(m.Track().Resolve(now))
	}
	w.grid.Leave(e)
	w.reg.Remove(e)
	e.SetInWorld(false)
	if e.Kind() == entity.KindItem {
		delete(w.ground, e.Handle())
	}

	w.publish(bus.EntityRemoved, e.Handle(), e.Kind())
	return nil
}

func (w *World) mover(e entity.Entity) (entity.Mover, error) {
	if !e.InWorld() {
		return nil, fmt.Errorf("%w: %s", ErrNotInWorld, e.Handle())
	}
	m, ok := e.(entity.Mover)
	if !ok || !e.IsMovable() {
		return nil, fmt.Errorf("%w: %s", ErrNotMovable, e.Handle())
	}
	return m, nil
}

// SetMove starts e along dests at speed world units per second. The path
// is announced to every client that can see e.
func (w *World) SetMove(e entity.Entity, dests []motion.Position, speed float64) error {
	m, err := w.mover(e)
	if err != nil {
		return err
	}
	for _, d := range dests {
		if !w.grid.Contains(d) {
			return fmt.Errorf("%w: %s", ErrOutOfBounds, d)
		}
	}
	now := w.Now()
	m.Track().SetMove(dests, speed, now, now)
	if !m.Track().IsMoving() {
		return w.StopMove(e)
	}
	w.BroadcastVisible(e, region.VisitClients, movePacket(e.Handle(), speed, dests))
	return nil
}

// StopMove freezes e where its track resolves now.
func (w *World) StopMove(e entity.Entity) error {
	m, err := w.mover(e)
	if err != nil {
		return err
	}
	now := w.Now()
	m.Track().Stop(now)
	prev, next := e.Position(), m.Track().Resolve(now)
	e.SetPosition(next)
	w.moved(e, prev, next)
	w.BroadcastVisible(e, region.VisitClients, placePacket(MsgStop, e.Handle(), next))
	return nil
}

// Warp moves e to pos instantly. It is also the only way to change layer.
func (w *World) Warp(e entity.Entity, pos motion.Position) error {
	if !e.InWorld() {
		return fmt.Errorf("%w: %s", ErrNotInWorld, e.Handle())
	}
	if !w.grid.Contains(pos) {
		return fmt.Errorf("%w: %s", ErrOutOfBounds, pos)
	}
	if m, ok := e.(entity.Mover); ok {
		m.Track().Warp(pos, w.Now())
	}
	prev := e.Position()
	e.SetPosition(pos)
	w.moved(e, prev, pos)
	w.BroadcastVisible(e, region.VisitClients, placePacket(MsgWarp, e.Handle(), pos))
	return nil
}

// moved updates the grid after a position change and tells a client mover
// about its new cell.
func (w *World) moved(e entity.Entity, prev, next motion.Position) {
	if !w.grid.OnEntityMoved(e, prev, next) || !e.IsClient() {
		return
	}
	w.SendTo(e.Handle(), regionAckPacket(w.grid.CellFor(next)))
}

// SendTo queues p for the session bound to h.
func (w *World) SendTo(h handle.Handle, p session.Packet) bool {
	s, ok := w.players[h]
	if !ok {
		return false
	}
	return s.Send(p)
}

// Broadcast sends p to every client in the block around cell. It returns
// the number of clients reached.
func (w *World) Broadcast(cell region.CellID, mode region.VisitMode, p session.Packet) int {
	n := 0
	w.grid.ForEachInNeighborhood(cell, mode, func(m region.Member) {
		if m.IsClient() && w.SendTo(m.Handle(), p) {
			n++
		}
	})
	return n
}

// BroadcastVisible sends p to every client that can see e, e included.
func (w *World) BroadcastVisible(e entity.Entity, mode region.VisitMode, p session.Packet) int {
	n := 0
	w.grid.ForEachVisible(e, mode, func(m region.Member) {
		if m.IsClient() && w.SendTo(m.Handle(), p) {
			n++
		}
	})
	return n
}

// EnumMovable returns the handles of movable entities within dist of pos.
func (w *World) EnumMovable(pos motion.Position, dist float64) []handle.Handle {
	members := w.grid.InRange(pos, dist, region.VisitMovables)
	out := make([]handle.Handle, len(members))
	for i, m := range members {
		out[i] = m.Handle()
	}
	return out
}

// visibility turns grid notices into enter and leave packets.
type visibility struct {
	w *World
}

func (v visibility) OnEnter(observer, subject region.Member) {
	if !observer.IsClient() {
		return
	}
	e, ok := subject.(entity.Entity)
	if !ok {
		return
	}
	v.w.SendTo(observer.Handle(), session.Packet{ID: MsgEnter, Payload: entity.AppendSnapshot(nil, e)})
	v.w.rec.Notice(region.NoticeEnter.String())
}

func (v visibility) OnLeave(observer, subject region.Member) {
	if !observer.IsClient() {
		return
	}
	v.w.SendTo(observer.Handle(), leavePacket(subject.Handle()))
	v.w.rec.Notice(region.NoticeLeave.String())
}
