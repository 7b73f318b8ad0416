package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"

	"github.com/zeusync/worldcore/internal/core/entity"
	"github.com/zeusync/worldcore/internal/core/handle"
	"github.com/zeusync/worldcore/internal/core/observability/log"
)

// EntityView is the admin representation of one registered entity.
type EntityView struct {
	Handle  uint32  `json:"handle"`
	Kind    string  `json:"kind"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Z       float64 `json:"z"`
	Layer   uint8   `json:"layer"`
	InWorld bool    `json:"in_world"`
	Moving  bool    `json:"moving"`
	Level   int32   `json:"level,omitempty"`
	Health  int32   `json:"health,omitempty"`
	Gold    *uint64 `json:"gold,omitempty"`
	Player  string  `json:"player,omitempty"`
	Spawner uint32  `json:"spawner,omitempty"`
	ItemID  uint64  `json:"item_id,omitempty"`
}

// observe records request metrics by route pattern so the label set stays
// bounded. The request id becomes the trace of every log line the request
// writes.
func (g *Gateway) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		r = r.WithContext(log.ContextWithTrace(r.Context(), middleware.GetReqID(r.Context())))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		took := time.Since(start)
		g.metrics.Request(r.Method, endpoint, status, took)
		g.log.WithContext(r.Context()).Debug("admin request",
			log.String("method", r.Method),
			log.String("endpoint", endpoint),
			log.Int("status", status),
			log.Duration("took", took),
		)
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := g.world.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"tick":     stats.Tick,
		"sessions": stats.Sessions,
	})
}

func (g *Gateway) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.world.Stats())
}

func (g *Gateway) handleEntity(w http.ResponseWriter, r *http.Request) {
	h, err := parseHandle(chi.URLParam(r, "handle"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var (
		view  EntityView
		found bool
	)
	// Entity state belongs to the simulation goroutine.
	err = g.world.Call(r.Context(), func() {
		e := g.world.Registry().Lookup(h)
		if e == nil {
			return
		}
		view, found = viewOf(e), true
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, errors.Wrap(err, "world did not answer"))
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, errors.Wrapf(ErrEntityNotFound, "%s", h))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (g *Gateway) handleReload(w http.ResponseWriter, r *http.Request) {
	if g.reload == nil {
		writeError(w, http.StatusNotImplemented, ErrNoReloader)
		return
	}
	if err := g.reload(); err != nil {
		g.log.WithContext(r.Context()).Warn("config reload rejected", log.Error(err))
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// parseHandle accepts decimal or 0x-prefixed raw handle values.
func parseHandle(s string) (handle.Handle, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return handle.Invalid, errors.Wrapf(ErrBadHandle, "%q", s)
	}
	h := handle.Handle(v)
	if !h.Valid() {
		return handle.Invalid, errors.Wrapf(ErrBadHandle, "%q", s)
	}
	return h, nil
}

func viewOf(e entity.Entity) EntityView {
	pos := e.Position()
	v := EntityView{
		Handle:  uint32(e.Handle()),
		Kind:    e.Kind().String(),
		X:       pos.X,
		Y:       pos.Y,
		Z:       pos.Z,
		Layer:   pos.Layer,
		InWorld: e.InWorld(),
	}
	if m, ok := e.(entity.Mover); ok {
		v.Moving = m.Track().IsMoving()
	}
	switch x := e.(type) {
	case *entity.Player:
		gold := x.Gold()
		v.Player, v.Level, v.Health, v.Gold = x.Name, x.Level(), x.Health(), &gold
	case *entity.Monster:
		v.Level, v.Health, v.Spawner = x.Level(), x.Health(), x.Spawner
	case *entity.Item:
		v.ItemID = x.ItemID
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
