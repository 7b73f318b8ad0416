package gateway

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/worldcore/internal/core/observability/log"
	"github.com/zeusync/worldcore/internal/core/session"
)

// NextProto is the ALPN identifier clients must offer.
const NextProto = "worldcore"

// Application error codes sent when a QUIC connection is closed.
const (
	quicCodeNormal   quic.ApplicationErrorCode = 0
	quicCodeRejected quic.ApplicationErrorCode = 1
	quicCodeProtocol quic.ApplicationErrorCode = 2
)

// GenerateSelfSignedTLS returns a TLS 1.3 config with a fresh certificate
// for localhost. Deployments should load a real certificate instead.
func GenerateSelfSignedTLS() (*tls.Config, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, errors.Wrap(err, "generate key")
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, errors.Wrap(err, "generate serial")
	}
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"worldcore"}},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:              []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, errors.Wrap(err, "create certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{certDER}, PrivateKey: privateKey}},
		NextProtos:   []string{NextProto},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

func (g *Gateway) quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  g.opts.ReadTimeout,
		KeepAlivePeriod: g.opts.PingInterval,
	}
}

// ServeQUIC accepts QUIC connections on Options.QUICAddr until ctx is done.
// Each connection carries one bidirectional stream of frames.
func (g *Gateway) ServeQUIC(ctx context.Context, tlsConf *tls.Config) error {
	ln, err := quic.ListenAddr(g.opts.QUICAddr, tlsConf, g.quicConfig())
	if err != nil {
		return errors.Wrapf(err, "listen quic %s", g.opts.QUICAddr)
	}
	return g.ServeQUICListener(ctx, ln)
}

// ServeQUICListener is ServeQUIC on a listener the caller opened.
func (g *Gateway) ServeQUICListener(ctx context.Context, ln *quic.Listener) error {
	logger := g.log.With(log.String("listener_addr", ln.Addr().String()))
	logger.Info("QUIC listener started")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("QUIC listener stopped")
				return nil
			}
			return errors.Wrap(err, "failed to accept QUIC connection")
		}
		logger.Debug("QUIC connection accepted", log.String("remote_addr", conn.RemoteAddr().String()))
		go g.serveQUICConn(ctx, conn)
	}
}

func (g *Gateway) serveQUICConn(ctx context.Context, conn *quic.Conn) {
	acceptCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	stream, err := conn.AcceptStream(acceptCtx)
	cancel()
	if err != nil {
		g.metrics.Rejected(rejectStream)
		_ = conn.CloseWithError(quicCodeProtocol, "no stream")
		return
	}

	s, err := g.open(conn.RemoteAddr().String())
	if err != nil {
		_ = conn.CloseWithError(quicCodeRejected, err.Error())
		return
	}
	logger := g.log.With(log.Stringer("session", s.ID()), log.String("remote", s.Remote()))
	logger.Debug("QUIC session opened")

	go g.quicWriteLoop(s, stream)

	err = g.quicReadLoop(s, stream)
	s.Close(err)
	g.world.Hub().Closed(s)

	code, reason := quicCodeNormal, ""
	if cause := s.Err(); cause != nil && !errors.Is(cause, session.ErrSessionClosed) {
		code, reason = quicCodeProtocol, cause.Error()
	}
	_ = conn.CloseWithError(code, reason)
	logger.Debug("QUIC session closed", log.Error(s.Err()))
}

func (g *Gateway) quicReadLoop(s *session.Session, stream *quic.Stream) error {
	for {
		p, err := session.ReadFrame(stream, g.opts.MaxFrame)
		if err != nil {
			if errors.Is(err, session.ErrFrameTooLarge) || errors.Is(err, session.ErrShortFrame) {
				g.metrics.Rejected(rejectFrame)
				return errors.Wrap(ErrInvalidFrame, err.Error())
			}
			if s.Err() != nil {
				return s.Err()
			}
			if closedByPeer(err) {
				return session.ErrSessionClosed
			}
			return errors.Wrap(err, "failed to read frame")
		}
		if err := g.deliver(s, p); err != nil {
			return err
		}
	}
}

func closedByPeer(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var appErr *quic.ApplicationError
	return errors.As(err, &appErr) && appErr.Remote && appErr.ErrorCode == quicCodeNormal
}

func (g *Gateway) quicWriteLoop(s *session.Session, stream *quic.Stream) {
	defer stream.Close()
	out := s.Outbound()
	for {
		select {
		case <-s.Done():
			stream.CancelRead(0)
			return
		case p := <-out:
			if g.opts.WriteTimeout > 0 {
				_ = stream.SetWriteDeadline(time.Now().Add(g.opts.WriteTimeout))
			}
			if err := session.WriteFrame(stream, p); err != nil {
				s.Close(errors.Wrap(err, "failed to write frame"))
				stream.CancelRead(0)
				return
			}
		}
	}
}
