package world

import (
	"context"
	"fmt"
	"time"

	"github.com/zeusync/worldcore/internal/core/entity"
	"github.com/zeusync/worldcore/internal/core/events/bus"
	"github.com/zeusync/worldcore/internal/core/handle"
	"github.com/zeusync/worldcore/internal/core/motion"
	"github.com/zeusync/worldcore/internal/core/observability/log"
	"github.com/zeusync/worldcore/internal/core/region"
	"github.com/zeusync/worldcore/internal/core/registry"
	"github.com/zeusync/worldcore/internal/core/session"
)

const keepAliveTimeout = 30 * time.Second

// Run advances the world on every tick of the configured rate until ctx
// ends. Elapsed wall time is converted to whole milliseconds and the
// remainder carried into the next tick. On exit every logged-in player is
// queued for a final save.
func (w *World) Run(ctx context.Context) error {
	w.ctx = ctx
	ticker := time.NewTicker(w.opts.TickRate)
	defer ticker.Stop()

	w.log.Info("world running",
		log.Duration("tick_rate", w.opts.TickRate),
		log.Float64("region_size", w.opts.Region.RegionSize),
		log.Int("respawn_points", len(w.respawns)),
	)

	last := time.Now()
	var carry time.Duration
	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return nil
		case t := <-ticker.C:
			elapsed := t.Sub(last) + carry
			last = t
			ms := elapsed.Milliseconds()
			carry = elapsed - time.Duration(ms)*time.Millisecond
			if ms > 0 {
				w.Advance(motion.Tick(ms))
			}
		}
	}
}

// Advance runs one tick of delta milliseconds:
//  1. posted calls, session queues and inbound packets;
//  2. newly registered entities join the live set, every live entity
//     updates and requested deletions are carried out;
//  3. moving entities step along their track and the grid follows;
//  4. completed persistence callbacks;
//  5. scheduled events and respawn points.
func (w *World) Advance(delta motion.Tick) {
	start := time.Now()
	now := motion.Tick(w.clock.Add(uint64(delta)))

	w.runPosted()
	w.adoptSessions()
	w.dropSessions()
	w.dispatch()

	w.updateLive(now, delta)
	w.stepMovers(now)

	w.proc.ProcessReady()

	w.sched.Update(uint64(delta))
	for _, rp := range w.respawns {
		rp.update(w, delta)
	}

	w.tick++
	w.publishStats()
	w.rec.ObserveTick(time.Since(start))
}

func (w *World) runPosted() {
	w.postMu.Lock()
	fns := w.posted
	w.posted = nil
	w.postMu.Unlock()

	for _, fn := range fns {
		w.guard("posted call", handle.Invalid, fn)
	}
}

// guard runs fn and turns a panic into a logged error.
func (w *World) guard(what string, h handle.Handle, fn func()) (failed bool) {
	defer func() {
		if r := recover(); r != nil {
			failed = true
			w.log.Error("recovered panic", log.String("in", what), log.Stringer("handle", h), log.Any("panic", r))
		}
	}()
	fn()
	return false
}

func (w *World) adoptSessions() {
	for _, s := range w.hub.DrainPending() {
		w.log.Debug("session opened", log.Stringer("session", s.ID()), log.String("remote", s.Remote()))
		w.publish(bus.SessionOpened, handle.Invalid, s.ID())
	}
}

// dropSessions saves and removes the players of ended sessions.
func (w *World) dropSessions() {
	for _, s := range w.hub.DrainClosed() {
		h := s.Player()
		if p, ok := registry.Find[*entity.Player](w.reg, h); ok && w.players[h] == s {
			if w.pool != nil {
				w.SavePlayer(p)
			}
			if p.InWorld() {
				if err := w.RemoveFromWorld(p); err != nil {
					w.log.Warn("remove player", log.Stringer("handle", h), log.Error(err))
				}
			}
			delete(w.players, h)
		}
		w.log.Debug("session closed", log.Stringer("session", s.ID()), log.Stringer("player", h), log.Error(s.Err()))
		w.publish(bus.SessionClosed, h, s.ID())
	}
}

func (w *World) dispatch() {
	batch := w.in.Drain(w.inbound)
	for _, in := range batch {
		if in.Session.Err() != nil {
			continue
		}
		h, ok := w.handlers[in.Packet.ID]
		if !ok {
			w.log.Debug("no handler for packet", log.Uint16("id", in.Packet.ID), log.Stringer("session", in.Session.ID()))
			continue
		}
		var err error
		if w.guard(fmt.Sprintf("packet %d", in.Packet.ID), in.Session.Player(), func() { err = h(in.Session, in.Packet) }) {
			continue
		}
		if err != nil {
			w.log.Warn("packet rejected",
				log.Uint16("id", in.Packet.ID),
				log.Stringer("session", in.Session.ID()),
				log.Stringer("player", in.Session.Player()),
				log.Error(err),
			)
		}
	}
	clear(batch)
	w.inbound = batch[:0]
}

func (w *World) updateLive(now, delta motion.Tick) {
	for _, e := range w.reg.DrainPending() {
		h := e.Handle()
		if !e.InWorld() || w.inLive[h] {
			continue
		}
		w.inLive[h] = true
		w.live = append(w.live, e)
	}

	ctx := entity.UpdateContext{Now: now, Delta: delta}
	for _, e := range w.live {
		if !e.InWorld() {
			continue
		}
		var err error
		if w.guard("update", e.Handle(), func() { err = e.Update(ctx) }) {
			w.rec.UpdateError()
			continue
		}
		if err != nil {
			w.rec.UpdateError()
			w.log.Warn("entity update failed", log.Stringer("handle", e.Handle()), log.Error(err))
		}
		if f := e.Fields(); f.HasChanges() {
			w.BroadcastVisible(e, region.VisitClients, session.Packet{ID: MsgUpdate, Payload: entity.AppendDelta(nil, e)})
			f.ClearDirty()
		}
	}

	kept := w.live[:0]
	for _, e := range w.live {
		if e.InWorld() && e.DeleteRequested() {
			if err := w.RemoveFromWorld(e); err != nil {
				w.log.Warn("remove deleted entity", log.Stringer("handle", e.Handle()), log.Error(err))
			}
		}
		if !e.InWorld() {
			delete(w.inLive, e.Handle())
			continue
		}
		kept = append(kept, e)
	}
	clear(w.live[len(kept):])
	w.live = kept
}

func (w *World) stepMovers(now motion.Tick) {
	for _, e := range w.live {
		m, ok := e.(entity.Mover)
		if !ok || !m.Track().IsMoving() {
			continue
		}
		prev := e.Position()
		next, _ := m.Track().Step(now)
		e.SetPosition(next)
		w.moved(e, prev, next)
	}
}

func (w *World) publishStats() {
	s := &Stats{
		Tick:     w.tick,
		Now:      w.clock.Load(),
		Live:     len(w.live),
		Players:  len(w.players),
		Ground:   len(w.ground),
		Sessions: w.hub.Len(),
		Grid:     w.grid.Stats(),
	}
	if w.pool != nil {
		ps := w.pool.Stats()
		s.Persist = &ps
	}
	w.stats.Store(s)

	w.rec.SetSessions(s.Sessions)
	for _, c := range handle.Categories {
		w.rec.SetEntities(c.String(), w.reg.Count(c))
	}
}

// saveAll queues a save of every logged-in player.
func (w *World) saveAll() int {
	if w.pool == nil {
		return 0
	}
	n := 0
	for h := range w.players {
		if p, ok := registry.Find[*entity.Player](w.reg, h); ok {
			w.SavePlayer(p)
			n++
		}
	}
	if n > 0 {
		w.log.Info("autosave queued", log.Int("players", n))
	}
	return n
}

func (w *World) pingDatabase() {
	ctx, pool := w.ctx, w.pool
	go func() {
		ctx, cancel := context.WithTimeout(ctx, keepAliveTimeout)
		defer cancel()
		pool.KeepAlive(ctx)
	}()
}

func (w *World) shutdown() {
	n := w.saveAll()
	w.hub.CloseAll(session.ErrSessionClosed)
	w.sched.KillAll()
	w.log.Info("world stopped", log.Uint64("ticks", w.tick), log.Int("saved", n))
}
