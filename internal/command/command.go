// Package command implements the non-pub/sub and pub/sub command
// handlers and the verb dispatcher that ties them, the keyspace, and the
// pub/sub hub together.
package command

import (
	"bytes"
	"fmt"
	"time"

	"dredigo/internal/conn"
	"dredigo/internal/metrics"
	"dredigo/internal/pubsub"
	"dredigo/internal/resp"
	"dredigo/internal/store"
)

// ProtoError is a structured protocol error: errors are data, not
// exceptions, so handlers return (Value, *ProtoError) and the dispatcher
// serializes whichever branch is non-nil, per spec design note §9.
type ProtoError struct {
	Kind    string
	Message string
}

func (e *ProtoError) Error() string { return e.Kind + " " + e.Message }

func errf(kind, format string, args ...any) *ProtoError {
	return &ProtoError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrongNumberOfArgs(verb string) *ProtoError {
	return errf("ERR", "wrong number of arguments for '%s' command", verb)
}

// pubSubVerbs is the whitelist of verbs permitted while a connection is
// in pubsub mode, and also the set of verbs dispatched to the pub/sub
// handlers rather than the plain key/value handlers.
var pubSubVerbs = map[string]bool{
	"subscribe":    true,
	"unsubscribe":  true,
	"psubscribe":   true,
	"punsubscribe": true,
	"publish":      true,
	"pubsub":       true,
}

// allowedInPubSubMode additionally permits ping and quit while in
// pubsub mode, per spec.md §3/§4.5/§6 (quit is always a terminal verb,
// regardless of mode).
func allowedInPubSubMode(verb string) bool {
	return pubSubVerbs[verb] || verb == "ping" || verb == "quit"
}

// Dispatcher maps a lowercased verb to a handler, enforces the
// subscriber-mode command whitelist, and turns handler errors into
// protocol error frames.
type Dispatcher struct {
	storage *store.Storage
	hub     *pubsub.Hub
	metrics *metrics.Registry
}

// NewDispatcher builds a Dispatcher wired to storage and hub.
func NewDispatcher(storage *store.Storage, hub *pubsub.Hub, metricsRegistry *metrics.Registry) *Dispatcher {
	return &Dispatcher{storage: storage, hub: hub, metrics: metricsRegistry}
}

// Dispatch runs one command vector against c and returns the responses
// to write (almost always exactly one value; SUBSCRIBE/UNSUBSCRIBE and
// their pattern variants return one value per argument, written back to
// back as a Multiple-Responses frame). terminal reports whether the
// connection must be closed after the responses are flushed (QUIT).
func (d *Dispatcher) Dispatch(c *conn.Connection, cmdVec [][]byte) (responses []resp.Value, terminal bool) {
	if d.metrics != nil {
		d.metrics.Commands.Total.Inc()
	}

	verb := normalizeVerb(cmdVec[0])
	args := cmdVec[1:]
	now := time.Now()

	if verb == "quit" {
		return []resp.Value{resp.SimpleString("OK")}, true
	}

	// Unknown-command detection (spec §4.5 step 4) runs before the
	// pubsub-mode whitelist (step 5): an unrecognized verb is always
	// "unknown command", even from a connection stuck in pubsub mode.
	handler, isKVVerb := kvHandlers[verb]
	if !isKVVerb && !pubSubVerbs[verb] {
		if d.metrics != nil {
			d.metrics.Commands.UnknownVerb.Inc()
		}
		return []resp.Value{resp.ErrorReply("ERR", fmt.Sprintf("unknown command '%s'", verb))}, false
	}

	if c.Mode == conn.ModePubSub && !allowedInPubSubMode(verb) {
		if d.metrics != nil {
			d.metrics.Commands.ProtocolErrors.Inc()
		}
		return []resp.Value{resp.ErrorReply("ERR", "only (P)SUBSCRIBE / (P)UNSUBSCRIBE / PING / QUIT allowed in this context")}, false
	}

	if pubSubVerbs[verb] {
		values := d.dispatchPubSub(c, verb, args)
		return values, false
	}

	value, protoErr := handler(d.storage, c, args, now)
	if protoErr != nil {
		if d.metrics != nil {
			d.metrics.Commands.ProtocolErrors.Inc()
		}
		return []resp.Value{resp.ErrorReply(protoErr.Kind, protoErr.Message)}, false
	}
	return []resp.Value{value}, false
}

// normalizeVerb lowercases the verb and truncates it to 50 bytes, to
// bound dispatch-table lookup cost against pathological input.
func normalizeVerb(raw []byte) string {
	v := bytes.ToLower(raw)
	if len(v) > 50 {
		v = v[:50]
	}
	return string(v)
}

type kvHandler func(storage *store.Storage, c *conn.Connection, args [][]byte, now time.Time) (resp.Value, *ProtoError)

var kvHandlers = map[string]kvHandler{
	"ping":   cmdPing,
	"select": cmdSelect,
	"info":   cmdInfo,
	"get":    cmdGet,
	"set":    cmdSet,
	"mget":   cmdMGet,
	"mset":   cmdMSet,
	"keys":   cmdKeys,
}
