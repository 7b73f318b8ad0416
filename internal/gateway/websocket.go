package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/worldcore/internal/core/observability/log"
	"github.com/zeusync/worldcore/internal/core/session"
)

// maxBatch caps how many queued frames are coalesced into one message.
const maxBatch = 32 * 1024

// wsConn pumps one websocket connection. The reader owns the connection's
// lifetime; the writer exits when the session closes.
type wsConn struct {
	g    *Gateway
	conn *websocket.Conn
	s    *session.Session
	log  log.Log
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.metrics.Rejected(rejectUpgrade)
		g.log.Debug("websocket upgrade failed", log.String("remote", r.RemoteAddr), log.Error(err))
		return
	}

	s, err := g.open(conn.RemoteAddr().String())
	if err != nil {
		g.log.Warn("websocket refused", log.String("remote", r.RemoteAddr), log.Error(err))
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()), deadline)
		_ = conn.Close()
		return
	}

	c := &wsConn{
		g:    g,
		conn: conn,
		s:    s,
		log:  g.log.With(log.Stringer("session", s.ID()), log.String("remote", s.Remote())),
	}
	c.log.Debug("websocket connected")

	go c.writeLoop()
	err = c.readLoop()
	s.Close(err)
	g.world.Hub().Closed(s)
	c.log.Debug("websocket disconnected", log.Error(s.Err()))
}

func (c *wsConn) readLoop() error {
	opts := c.g.opts
	c.conn.SetReadLimit(int64(16 * (opts.MaxFrame + session.HeaderSize)))
	if opts.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
		})
	}

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return session.ErrSessionClosed
			}
			return errors.Wrap(err, "failed to read message")
		}
		if opts.ReadTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
		}
		if messageType != websocket.BinaryMessage {
			c.g.metrics.Rejected(rejectFrame)
			return errors.Wrap(ErrInvalidFrame, "unsupported message type")
		}

		// One message may carry several frames.
		for len(data) > 0 {
			p, n, err := session.DecodeFrame(data, opts.MaxFrame)
			if err != nil {
				c.g.metrics.Rejected(rejectFrame)
				return errors.Wrap(ErrInvalidFrame, err.Error())
			}
			data = data[n:]
			if err := c.g.deliver(c.s, p); err != nil {
				return err
			}
		}
	}
}

func (c *wsConn) writeLoop() {
	defer c.conn.Close()

	var ping <-chan time.Time
	if c.g.opts.PingInterval > 0 {
		t := time.NewTicker(c.g.opts.PingInterval)
		defer t.Stop()
		ping = t.C
	}

	out := c.s.Outbound()
	buf := make([]byte, 0, 4096)
	for {
		select {
		case <-c.s.Done():
			c.closeWith(c.s.Err())
			return
		case <-ping:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.s.Close(err)
				return
			}
		case p := <-out:
			buf = session.AppendFrame(buf[:0], p)
		batch:
			for len(buf) < maxBatch {
				select {
				case p := <-out:
					buf = session.AppendFrame(buf, p)
				default:
					break batch
				}
			}
			if err := c.write(websocket.BinaryMessage, buf); err != nil {
				c.s.Close(err)
				return
			}
		}
	}
}

func (c *wsConn) write(messageType int, data []byte) error {
	if c.g.opts.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.g.opts.WriteTimeout))
	}
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

func (c *wsConn) closeWith(reason error) {
	code, text := websocket.CloseNormalClosure, ""
	switch {
	case errors.Is(reason, session.ErrSlowConsumer), errors.Is(reason, session.ErrRateLimited):
		code, text = websocket.ClosePolicyViolation, reason.Error()
	case errors.Is(reason, ErrInvalidFrame):
		code, text = websocket.CloseUnsupportedData, "invalid frame"
	case errors.Is(reason, ErrIngressFull):
		code, text = websocket.CloseTryAgainLater, reason.Error()
	}
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}
