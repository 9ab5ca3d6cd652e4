// Package conn defines the per-connection state the command dispatcher
// and pub/sub hub operate on: the socket, its outbound send queue, the
// selected logical database, and the normal/pubsub mode flag.
package conn

import (
	"context"
	"net"

	"dredigo/internal/resp"
)

// Mode is the per-connection state flag governing which verbs are
// accepted.
type Mode int

const (
	// ModeNormal accepts the full non-pubsub command set.
	ModeNormal Mode = iota
	// ModePubSub restricts the connection to the (P)SUBSCRIBE,
	// (P)UNSUBSCRIBE, PUBLISH, PUBSUB, PING, and QUIT verbs.
	ModePubSub
)

// Connection owns a socket, a per-connection outbound queue (so pub/sub
// fan-out and command replies can both be written by a single writer
// goroutine without interleaving mid-frame), the selected DB index, and
// the normal/pubsub mode. DBIndex and Mode are only ever read or written
// by the connection's own read loop goroutine, so they need no lock of
// their own; the subscription sets themselves live in the pub/sub hub,
// keyed by this Connection's ID.
type Connection struct {
	ID        uint64
	Conn      net.Conn
	SendQueue chan resp.Value

	DBIndex int
	Mode    Mode
}

// New constructs a Connection wrapping the given socket with a bounded
// outbound queue of size sendQueueSize.
func New(id uint64, c net.Conn, sendQueueSize int) *Connection {
	if sendQueueSize <= 0 {
		sendQueueSize = 256
	}
	return &Connection{
		ID:        id,
		Conn:      c,
		SendQueue: make(chan resp.Value, sendQueueSize),
		DBIndex:   0,
		Mode:      ModeNormal,
	}
}

// Enqueue attempts a non-blocking send of v onto the connection's send
// queue. It reports false if the queue is full, in which case the
// message is dropped rather than blocking the publisher or fan-out
// worker. This is reserved for pub/sub hub pushes, which are explicitly
// best-effort; a direct reply to a command the connection itself issued
// must use Send instead, since dropping it would mean the client never
// hears back at all.
func (c *Connection) Enqueue(v resp.Value) bool {
	select {
	case c.SendQueue <- v:
		return true
	default:
		return false
	}
}

// Send blocks until v is placed on the send queue or ctx is done. Command
// replies are written this way: the socket write is a suspension point,
// not a drop point, so a slow reader applies backpressure to its own
// read loop rather than silently losing a reply to its own command.
func (c *Connection) Send(ctx context.Context, v resp.Value) error {
	select {
	case c.SendQueue <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
