// Package stream implements the full-duplex transport capability set of
// spec §4.3: blocking and callback-based read/write with timeouts, over
// TCP (optionally TLS) or a Unix domain socket.
package stream

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/ezbuy/mgo-core/address"
)

// Settings configures how a Stream is dialed, per spec §4.3.
type Settings struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	KeepAliveIdle     time.Duration // default 120s
	KeepAliveInterval time.Duration // default 10s
	KeepAliveCount    int           // default 9, best-effort

	TLS *TLSSettings // nil disables TLS
}

// TLSSettings configures the optional TLS layer, per spec §4.3.
type TLSSettings struct {
	Config                     *tls.Config
	DisableEndpointIdentification bool
}

// DefaultSettings returns the keepalive defaults spec §4.3 names.
func DefaultSettings() Settings {
	return Settings{
		ConnectTimeout:    10 * time.Second,
		ReadTimeout:       0,
		KeepAliveIdle:     120 * time.Second,
		KeepAliveInterval: 10 * time.Second,
		KeepAliveCount:    9,
	}
}

// AsyncCallback is invoked at most once with the result of an async
// operation. Per spec §4.3 it is never invoked synchronously from within
// the call that initiated it.
type AsyncCallback func(n int, err error)

// Stream is the full-duplex byte transport capability set of spec §4.3.
// Writes are serialized and atomic with respect to each other; reads
// return exactly the requested number of bytes or fail. Close is
// idempotent; an operation against a closed Stream fails with
// mgocore.SocketClosedError (surfaced by the connection layer, not this
// package, to avoid an import cycle on the top-level errors type).
type Stream interface {
	Open(ctx context.Context) error
	Write(ctx context.Context, buffers ...[]byte) error
	WriteAsync(ctx context.Context, cb func(err error), buffers ...[]byte)
	Read(ctx context.Context, n int) ([]byte, error)
	ReadWithExtraTimeout(ctx context.Context, n int, extra time.Duration) ([]byte, error)
	ReadAsync(ctx context.Context, n int, cb func([]byte, error))
	Close() error
	IsClosed() bool
	Address() address.Address
}

// dialer abstracts net.Dialer for tests.
type dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}
