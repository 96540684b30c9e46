package connection

import (
	"fmt"
	"sync/atomic"

	"github.com/ezbuy/mgo-core/address"
	"github.com/ezbuy/mgo-core/internal/bufferpool"
	"github.com/ezbuy/mgo-core/internal/stream"
)

// StreamFactory builds the transport for a server address, per spec §6's
// "Stream factory: create(serverAddress, settings, sslSettings) ->
// Stream" collaborator interface.
type StreamFactory func(addr address.Address) stream.Stream

// Factory assembles fresh Connection instances for a server, per spec
// §4.8: given a server identity, Settings and a StreamFactory it
// produces InternalConnection values wired with the shared buffer pool,
// credential-with-cache and command listener.
type Factory struct {
	serverID      address.ServerID
	streamFactory StreamFactory
	settings      Settings

	nextConnID atomic.Uint64
	generation atomic.Uint64
}

// NewFactory constructs a Factory for serverID. pool must be shared
// across every Factory/Connection in the process, per spec §5.
func NewFactory(serverID address.ServerID, streamFactory StreamFactory, settings Settings) *Factory {
	if settings.Pool == nil {
		settings.Pool = bufferpool.New(nil, nil)
	}
	return &Factory{serverID: serverID, streamFactory: streamFactory, settings: settings}
}

// Create produces a fresh, unopened Connection (state PENDING). The
// caller drives Open then Initialize.
func (f *Factory) Create() *Connection {
	id := f.nextConnID.Add(1)
	return &Connection{
		serverID:   f.serverID,
		connID:     fmt.Sprintf("%s[%d]", f.serverID.Address, id),
		generation: f.generation.Load(),
		stream:     f.streamFactory(f.serverID.Address),
		settings:   f.settings,
		pool:       f.settings.Pool,
	}
}

// Bump advances the generation stamp future Create calls attach to
// connections, per SPEC_FULL.md §4.6a: the core never compares
// generations itself, it only carries the tag for the pool (out of
// scope) to use after a topology change invalidates a server's older
// connections.
func (f *Factory) Bump() uint64 {
	return f.generation.Add(1)
}

// ServerID returns the server identity this factory builds connections
// for.
func (f *Factory) ServerID() address.ServerID { return f.serverID }
