package command

import (
	"strings"

	"dredigo/internal/conn"
	"dredigo/internal/globmatch"
	"dredigo/internal/resp"
)

// dispatchPubSub routes a pub/sub verb to its handler. Pub/sub handlers
// are stateful over the hub and the connection's mode, unlike the
// stateless-over-Storage kv handlers, so they live on Dispatcher rather
// than in the kvHandlers table.
func (d *Dispatcher) dispatchPubSub(c *conn.Connection, verb string, args [][]byte) []resp.Value {
	switch verb {
	case "subscribe":
		return d.cmdSubscribe(c, args)
	case "unsubscribe":
		return d.cmdUnsubscribe(c, args)
	case "psubscribe":
		return d.cmdPSubscribe(c, args)
	case "punsubscribe":
		return d.cmdPUnsubscribe(c, args)
	case "publish":
		return []resp.Value{d.cmdPublish(c, args)}
	case "pubsub":
		return []resp.Value{d.cmdPubSub(args)}
	default:
		return []resp.Value{resp.ErrorReply("ERR", "unknown command '"+verb+"'")}
	}
}

func errReply(format string) resp.Value { return resp.ErrorReply("ERR", format) }

func (d *Dispatcher) cmdSubscribe(c *conn.Connection, args [][]byte) []resp.Value {
	if len(args) == 0 {
		return []resp.Value{errReply("wrong number of arguments for 'subscribe' command")}
	}

	responses := make([]resp.Value, 0, len(args))
	for _, ch := range args {
		count := d.hub.Subscribe(c, string(ch))
		responses = append(responses, resp.Array(
			resp.Bulk([]byte("subscribe")), resp.Bulk(ch), resp.Integer(int64(count)),
		))
	}
	c.Mode = conn.ModePubSub
	return responses
}

func (d *Dispatcher) cmdUnsubscribe(c *conn.Connection, args [][]byte) []resp.Value {
	channels := args
	if len(channels) == 0 {
		for _, ch := range d.hub.SubscribedChannels(c) {
			channels = append(channels, []byte(ch))
		}
		if len(channels) == 0 {
			return nil
		}
	}

	responses := make([]resp.Value, 0, len(channels))
	for _, ch := range channels {
		count := d.hub.Unsubscribe(c, string(ch))
		responses = append(responses, resp.Array(
			resp.Bulk([]byte("unsubscribe")), resp.Bulk(ch), resp.Integer(int64(count)),
		))
	}
	if d.hub.SubscriptionCount(c) == 0 {
		c.Mode = conn.ModeNormal
	}
	return responses
}

func (d *Dispatcher) cmdPSubscribe(c *conn.Connection, args [][]byte) []resp.Value {
	if len(args) == 0 {
		return []resp.Value{errReply("wrong number of arguments for 'psubscribe' command")}
	}

	responses := make([]resp.Value, 0, len(args))
	for _, p := range args {
		count := d.hub.PSubscribe(c, string(p))
		responses = append(responses, resp.Array(
			resp.Bulk([]byte("psubscribe")), resp.Bulk(p), resp.Integer(int64(count)),
		))
	}
	// Deliberate improvement over the original engine (see spec design
	// notes): a first pattern subscription also enters pubsub mode.
	c.Mode = conn.ModePubSub
	return responses
}

func (d *Dispatcher) cmdPUnsubscribe(c *conn.Connection, args [][]byte) []resp.Value {
	patterns := args
	if len(patterns) == 0 {
		for _, p := range d.hub.SubscribedPatterns(c) {
			patterns = append(patterns, []byte(p))
		}
		if len(patterns) == 0 {
			return nil
		}
	}

	responses := make([]resp.Value, 0, len(patterns))
	for _, p := range patterns {
		count := d.hub.PUnsubscribe(c, string(p))
		responses = append(responses, resp.Array(
			resp.Bulk([]byte("punsubscribe")), resp.Bulk(p), resp.Integer(int64(count)),
		))
	}
	if d.hub.SubscriptionCount(c) == 0 {
		c.Mode = conn.ModeNormal
	}
	return responses
}

func (d *Dispatcher) cmdPublish(_ *conn.Connection, args [][]byte) resp.Value {
	if len(args) != 2 {
		return errReply("wrong number of arguments for 'publish' command")
	}
	count := d.hub.Publish(string(args[0]), args[1])
	return resp.Integer(int64(count))
}

func (d *Dispatcher) cmdPubSub(args [][]byte) resp.Value {
	if len(args) == 0 {
		return errReply("wrong number of arguments for 'pubsub' command")
	}

	switch strings.ToUpper(string(args[0])) {
	case "CHANNELS":
		pattern := "*"
		if len(args) >= 2 {
			pattern = string(args[1])
		}
		re, err := globmatch.CompileFull(pattern)
		if err != nil {
			return errReply("invalid pattern")
		}
		channels := d.hub.Channels(re.MatchString)
		items := make([]resp.Value, len(channels))
		for i, ch := range channels {
			items[i] = resp.Bulk(ch)
		}
		return resp.Array(items...)

	case "NUMSUB":
		channels := args[1:]
		counts := d.hub.NumSub(channels)
		items := make([]resp.Value, 0, len(channels)*2)
		for i, ch := range channels {
			items = append(items, resp.Bulk(ch), resp.Integer(int64(counts[i])))
		}
		return resp.Array(items...)

	case "NUMPAT":
		if len(args) != 1 {
			return errReply("wrong number of arguments for 'pubsub|numpat' command")
		}
		return resp.Integer(int64(d.hub.NumPat()))

	default:
		return errReply("unknown PUBSUB subcommand")
	}
}
