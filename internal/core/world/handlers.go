package world

import (
	"fmt"

	"github.com/zeusync/worldcore/internal/core/entity"
	"github.com/zeusync/worldcore/internal/core/handle"
	"github.com/zeusync/worldcore/internal/core/observability/log"
	"github.com/zeusync/worldcore/internal/core/registry"
	"github.com/zeusync/worldcore/internal/core/session"
	"github.com/zeusync/worldcore/internal/core/storage"
)

// Player resolves the player bound to s.
func (w *World) Player(s *session.Session) (*entity.Player, bool) {
	h := s.Player()
	if w.players[h] != s {
		return nil, false
	}
	return registry.Find[*entity.Player](w.reg, h)
}

// handleLogin loads the character named by the payload and enters it into
// the world once the query completes.
func (w *World) handleLogin(s *session.Session, p session.Packet) error {
	if s.Player() != handle.Invalid {
		s.Send(loginResultPacket(LoginAlreadyBound, s.Player()))
		return nil
	}
	if w.pool == nil {
		s.Send(loginResultPacket(LoginFailed, handle.Invalid))
		return ErrNoPersistence
	}
	name := string(p.Payload)
	if name == "" {
		return errMalformed
	}

	storage.LoadCharacterAsync(w.pool, w.proc, name, func(c storage.Character, found bool, err error) {
		switch {
		case s.Err() != nil:
			return
		case err != nil:
			w.log.Error("load character", log.String("name", name), log.Error(err))
			s.Send(loginResultPacket(LoginFailed, handle.Invalid))
			return
		case !found:
			s.Send(loginResultPacket(LoginUnknownCharacter, handle.Invalid))
			return
		}
		if err := w.EnterPlayer(s, c.Player()); err != nil {
			w.log.Warn("enter player", log.String("name", name), log.Error(err))
			s.Send(loginResultPacket(LoginFailed, handle.Invalid))
		}
	})
	return nil
}

// EnterPlayer binds p to s and adds it to the world. p is checked first so
// a refused player never gets LoginOK. The login result goes out before the
// enter notices so the client knows its own handle.
func (w *World) EnterPlayer(s *session.Session, p *entity.Player) error {
	if s.Player() != handle.Invalid {
		return fmt.Errorf("session %s already bound to %s", s.ID(), s.Player())
	}
	if err := w.checkAdd(p); err != nil {
		return err
	}
	if p.Handle() == handle.Invalid {
		if err := p.SetHandle(w.reg.Allocate(handle.CategoryPlayer)); err != nil {
			return err
		}
	}
	h := p.Handle()
	w.players[h] = s
	s.Bind(h)
	s.Send(loginResultPacket(LoginOK, h))

	if err := w.AddToWorld(p); err != nil {
		delete(w.players, h)
		s.Bind(handle.Invalid)
		return err
	}
	w.log.Info("player entered", log.String("name", p.Name), log.Stringer("handle", h), log.Stringer("position", p.Position()))
	return nil
}

func (w *World) handleMoveRequest(s *session.Session, p session.Packet) error {
	pl, ok := w.Player(s)
	if !ok {
		return ErrNotLoggedIn
	}
	speed, dests, err := decodeMoveRequest(p.Payload, pl.Position().Layer)
	if err != nil {
		return err
	}
	return w.SetMove(pl, dests, speed)
}

func (w *World) handlePickup(s *session.Session, p session.Packet) error {
	pl, ok := w.Player(s)
	if !ok {
		return ErrNotLoggedIn
	}
	h, err := decodePickup(p.Payload)
	if err != nil {
		return err
	}
	_, err = w.PickupItem(pl, h)
	return err
}
