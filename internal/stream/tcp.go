package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/ezbuy/mgo-core/address"
)

// ErrClosed is returned (wrapped) when an operation is attempted against
// a closed Stream.
var ErrClosed = errors.New("stream: closed")

// tcpStream is the blocking/thread-per-connection transport variant,
// grounded on topology.connection's connect()/write()/read() (see
// DESIGN.md): it dials, optionally wraps in TLS with SNI, applies
// keepalive/no-delay, and serializes writes with a mutex. Its *Async
// methods are the "callback/future driver loop" adapter spec §9 asks
// for over the same blocking primitives, each one supervised by a
// tomb.Tomb so a panicking or long-lived callback goroutine is tracked
// and drained by Close rather than leaked, the way the teacher family
// (gopkg.in/tomb.v2) supervises background goroutines.
type tcpStream struct {
	addr     address.Address
	settings Settings
	dial     dialer

	mu     sync.Mutex
	conn   net.Conn
	closed bool
	async  tomb.Tomb
}

// New constructs a Stream for addr using the default net dialer.
func New(addr address.Address, settings Settings) Stream {
	return &tcpStream{addr: addr, settings: settings, dial: &net.Dialer{Timeout: settings.ConnectTimeout}}
}

func (s *tcpStream) Open(ctx context.Context) error {
	if dl, ok := ctx.Deadline(); !ok && s.settings.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.ConnectTimeout)
		defer cancel()
		_ = dl
	}

	conn, err := s.dial.DialContext(ctx, s.addr.Network(), s.addr.String())
	if err != nil {
		return err
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		idle := s.settings.KeepAliveIdle
		if idle == 0 {
			idle = DefaultSettings().KeepAliveIdle
		}
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(idle) // best-effort: stdlib exposes one period, not idle/interval/count separately
	}

	if s.settings.TLS != nil {
		conn, err = s.configureTLS(ctx, conn)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

// configureTLS sets SNI to the configured host (skipping IP literals, per
// spec §4.3) and performs the handshake, grounded on topology.connection's
// configureTLS.
func (s *tcpStream) configureTLS(ctx context.Context, nc net.Conn) (net.Conn, error) {
	cfg := s.settings.TLS.Config.Clone()
	if cfg.ServerName == "" {
		host := string(s.addr)
		if i := strings.LastIndex(host, ":"); i != -1 {
			host = host[:i]
		}
		if net.ParseIP(host) == nil {
			cfg.ServerName = host
		}
	}
	if s.settings.TLS.DisableEndpointIdentification {
		cfg.InsecureSkipVerify = true
	}

	client := tls.Client(nc, cfg)
	done := make(chan error, 1)
	go func() { done <- client.HandshakeContext(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			_ = nc.Close()
			return nil, err
		}
		return client, nil
	case <-ctx.Done():
		_ = nc.Close()
		return nil, ctx.Err()
	}
}

func (s *tcpStream) Address() address.Address { return s.addr }

func (s *tcpStream) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *tcpStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.async.Kill(ErrClosed)
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *tcpStream) Write(ctx context.Context, buffers ...[]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(dl)
	} else {
		_ = s.conn.SetWriteDeadline(time.Time{})
	}
	for _, b := range buffers {
		if _, err := s.conn.Write(b); err != nil {
			return err
		}
	}
	return nil
}

func (s *tcpStream) WriteAsync(ctx context.Context, cb func(err error), buffers ...[]byte) {
	s.async.Go(func() error {
		err := s.Write(ctx, buffers...)
		cb(err)
		return err
	})
}

func (s *tcpStream) Read(ctx context.Context, n int) ([]byte, error) {
	return s.read(ctx, n, 0)
}

func (s *tcpStream) ReadWithExtraTimeout(ctx context.Context, n int, extra time.Duration) ([]byte, error) {
	return s.read(ctx, n, extra)
}

func (s *tcpStream) read(ctx context.Context, n int, extra time.Duration) ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	conn := s.conn
	s.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if ok && extra > 0 {
		deadline = deadline.Add(extra)
	}
	if ok {
		_ = conn.SetReadDeadline(deadline)
	} else if s.settings.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout + extra))
	} else {
		_ = conn.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

func (s *tcpStream) ReadAsync(ctx context.Context, n int, cb func([]byte, error)) {
	s.async.Go(func() error {
		buf, err := s.Read(ctx, n)
		cb(buf, err)
		return err
	})
}
