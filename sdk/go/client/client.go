// Package client is a QUIC client for a worldcore server. It logs a
// character in, sends movement and pick up requests and dispatches every
// server packet to registered handlers.
package client

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/worldcore/internal/core/handle"
	"github.com/zeusync/worldcore/internal/core/observability/log"
	"github.com/zeusync/worldcore/internal/core/session"
	"github.com/zeusync/worldcore/internal/core/world"
	"github.com/zeusync/worldcore/internal/gateway"
)

// Config holds configuration for the client
type Config struct {
	ServerAddr     string
	ConnectTimeout time.Duration
	MaxFrame       int

	// TLS defaults to trusting any certificate, which suits the
	// self-signed certificate of a development server.
	TLS *tls.Config
	Log log.Log
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() Config {
	return Config{
		ServerAddr:     "localhost:4516",
		ConnectTimeout: 10 * time.Second,
		MaxFrame:       session.DefaultMaxFrame,
	}
}

// PacketHandler runs on the client's reader goroutine.
type PacketHandler func(p session.Packet)

// Point is a destination on the client's current layer.
type Point struct {
	X, Y float64
}

type loginResult struct {
	code   uint8
	handle handle.Handle
}

// Client represents a worldcore client connection
type Client struct {
	config Config
	logger log.Log

	conn    *quic.Conn
	stream  *quic.Stream
	writeMu sync.Mutex

	handlerMu sync.RWMutex
	handlers  map[uint16][]PacketHandler

	player atomic.Uint32
	logins chan loginResult

	connected atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	err       error
}

func NewClient(config Config) *Client {
	if config.MaxFrame <= 0 {
		config.MaxFrame = session.DefaultMaxFrame
	}
	logger := config.Log
	if logger == nil {
		logger = log.Provide()
	}
	return &Client{
		config:   config,
		logger:   logger.With(log.String("component", "client"), log.String("server", config.ServerAddr)),
		handlers: make(map[uint16][]PacketHandler),
		logins:   make(chan loginResult, 1),
		done:     make(chan struct{}),
	}
}

// Connect dials the server and opens the packet stream.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	if !c.connected.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}

	tlsConf := c.config.TLS
	if tlsConf == nil {
		tlsConf = &tls.Config{InsecureSkipVerify: true, NextProtos: []string{gateway.NextProto}}
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()
	conn, err := quic.DialAddr(dialCtx, c.config.ServerAddr, tlsConf, nil)
	if err != nil {
		c.connected.Store(false)
		return errors.Wrap(err, "dial server")
	}
	stream, err := conn.OpenStreamSync(dialCtx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		c.connected.Store(false)
		return errors.Wrap(err, "open stream")
	}
	c.conn, c.stream = conn, stream

	c.logger.Info("Connected to server", log.String("local_addr", conn.LocalAddr().String()))
	go c.readLoop()
	return nil
}

// OnPacket registers h for packet id. Handlers for one id run in
// registration order.
func (c *Client) OnPacket(id uint16, h PacketHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers[id] = append(c.handlers[id], h)
}

// Send writes one packet to the server.
func (c *Client) Send(p session.Packet) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := session.WriteFrame(c.stream, p); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	return nil
}

// Login asks the server to load the named character and waits for the
// result. On success the player's handle is returned.
func (c *Client) Login(ctx context.Context, name string) (handle.Handle, error) {
	if err := c.Send(session.Packet{ID: world.MsgLogin, Payload: []byte(name)}); err != nil {
		return handle.Invalid, err
	}
	select {
	case r := <-c.logins:
		switch r.code {
		case world.LoginOK:
			c.player.Store(uint32(r.handle))
			c.logger.Info("Logged in", log.String("name", name), log.Stringer("handle", r.handle))
			return r.handle, nil
		case world.LoginUnknownCharacter:
			return handle.Invalid, errors.Wrap(ErrUnknownCharacter, name)
		case world.LoginAlreadyBound:
			return handle.Invalid, ErrAlreadyBound
		default:
			return handle.Invalid, ErrLoginFailed
		}
	case <-c.done:
		return handle.Invalid, c.Err()
	case <-ctx.Done():
		return handle.Invalid, ctx.Err()
	}
}

// Handle is the logged in player, or handle.Invalid.
func (c *Client) Handle() handle.Handle {
	return handle.Handle(c.player.Load())
}

// MoveTo requests a path through dests at speed units per second.
func (c *Client) MoveTo(speed float64, dests ...Point) error {
	if c.Handle() == handle.Invalid {
		return ErrNotLoggedIn
	}
	buf := make([]byte, 0, 6+8*len(dests))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(speed)))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(dests)))
	for _, d := range dests {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(d.X)))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(d.Y)))
	}
	return c.Send(session.Packet{ID: world.MsgMoveRequest, Payload: buf})
}

// Pickup requests the ground item h.
func (c *Client) Pickup(h handle.Handle) error {
	if c.Handle() == handle.Invalid {
		return ErrNotLoggedIn
	}
	return c.Send(session.Packet{ID: world.MsgPickup, Payload: binary.LittleEndian.AppendUint32(nil, uint32(h))})
}

func (c *Client) readLoop() {
	for {
		p, err := session.ReadFrame(c.stream, c.config.MaxFrame)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			c.shutdown(err)
			return
		}
		if p.ID == world.MsgLoginResult {
			if len(p.Payload) != 5 {
				c.logger.Warn("Malformed login result", log.Int("size", len(p.Payload)))
				continue
			}
			r := loginResult{code: p.Payload[0], handle: handle.Handle(binary.LittleEndian.Uint32(p.Payload[1:]))}
			select {
			case c.logins <- r:
			default:
			}
		}

		c.handlerMu.RLock()
		handlers := c.handlers[p.ID]
		c.handlerMu.RUnlock()
		for _, h := range handlers {
			h(p)
		}
	}
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		if c.err == nil {
			c.err = ErrClientClosed
		}
		close(c.done)
		if c.conn != nil {
			_ = c.conn.CloseWithError(0, "")
		}
		c.logger.Info("Disconnected from server", log.Error(err))
	})
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close ends the connection.
func (c *Client) Close() error {
	c.shutdown(nil)
	return nil
}
