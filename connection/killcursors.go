package connection

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"

	mgocore "github.com/ezbuy/mgo-core"
	"github.com/ezbuy/mgo-core/internal/event"
	"github.com/ezbuy/mgo-core/internal/wire"
)

// KillCursors executes the legacy fire-and-forget protocol of spec
// §4.7: build an OP_KILL_CURSORS body, write it, and (since no reply is
// ever sent for this op-code) synthesize a command-succeeded event with
// {ok: 1, cursorsUnknown: [...]} once the write succeeds.
func (c *Connection) KillCursors(ctx context.Context, cursorIDs []int64) error {
	if c.IsClosed() {
		return &mgocore.SocketClosedError{Address: string(c.serverID.Address), ConnectionID: c.connID}
	}

	start := event.CommandStartedEvent{
		CommandName:  "killCursors",
		ConnectionID: c.connID,
		Address:      string(c.serverID.Address),
	}
	finish := event.Emit(c.settings.Monitor, start)

	c.mu.Lock()
	_, err := c.writeMessage(ctx, wire.OpKillCursors, wire.EncodeKillCursors(nil, cursorIDs), true)
	c.mu.Unlock()
	if err != nil {
		c.close()
		finish(nil, err)
		return err
	}

	cursors := make(bson.A, len(cursorIDs))
	for i, id := range cursorIDs {
		cursors[i] = id
	}
	reply, _ := bson.Marshal(bson.D{{Key: "ok", Value: 1}, {Key: "cursorsUnknown", Value: cursors}})
	finish(reply, nil)
	return nil
}
