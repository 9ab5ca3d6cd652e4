// Package pubsub implements the publish/subscribe fabric: channel and
// glob-pattern subscriptions, and fan-out PUBLISH delivery.
//
// Channel subscriber sets are sharded by a hash of the channel name,
// adapted from the connection-ID sharding the teacher's session.Hub uses
// for its broadcast indices — here the shard key is the channel, since
// that is the axis PUBLISH and SUBSCRIBE both index by. Pattern matching
// and frame construction for a PUBLISH run synchronously in Publish; a
// bounded worker pool (again adapted from the teacher's broadcastWorker
// pool) only performs the send-queue enqueues, and does not split one
// PUBLISH's delivery across workers. Each PUBLISH's full recipient list
// is handed to exactly one worker as a single ordered job, so messages from the
// same PUBLISH reach a given subscriber in the order PUBLISH enqueued
// them — the "Recommended" fix for the out-of-order caveat in spec
// design note §9, realized without sacrificing the bounded-pool idiom.
package pubsub

import (
	"hash/fnv"
	"sync"

	"dredigo/internal/conn"
	"dredigo/internal/globmatch"
	"dredigo/internal/metrics"
	"dredigo/internal/resp"
)

type channelShard struct {
	mu   sync.RWMutex
	subs map[string]map[uint64]*conn.Connection // channel -> connID -> Connection
}

type recipient struct {
	c *conn.Connection
	v resp.Value
}

type job struct {
	recipients []recipient
}

// Hub owns the channel→subscribers index and the reverse
// connection→(channels, patterns) indices, and runs the bounded fan-out
// worker pool.
type Hub struct {
	shards  []channelShard
	metrics *metrics.Registry

	connMu       sync.RWMutex
	conns        map[uint64]*conn.Connection
	connChannels map[uint64]map[string]struct{}
	connPatterns map[uint64]map[string]struct{}

	jobs    chan job
	workers int
}

// NewHub builds a Hub with shardCount channel shards and a worker pool of
// the given size fed by a queue of depth queueSize.
func NewHub(shardCount, queueSize, workers int, metricsRegistry *metrics.Registry) *Hub {
	if shardCount <= 0 {
		shardCount = 64
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	if workers <= 0 {
		workers = 1
	}

	shards := make([]channelShard, shardCount)
	for i := range shards {
		shards[i].subs = make(map[string]map[uint64]*conn.Connection)
	}

	return &Hub{
		shards:       shards,
		metrics:      metricsRegistry,
		conns:        make(map[uint64]*conn.Connection),
		connChannels: make(map[uint64]map[string]struct{}),
		connPatterns: make(map[uint64]map[string]struct{}),
		jobs:         make(chan job, queueSize),
		workers:      workers,
	}
}

// StartWorkers spawns the fan-out worker pool. Call once before serving
// traffic.
func (h *Hub) StartWorkers() {
	for i := 0; i < h.workers; i++ {
		go h.worker()
	}
}

func (h *Hub) worker() {
	for j := range h.jobs {
		for _, r := range j.recipients {
			if r.c.Enqueue(r.v) {
				if h.metrics != nil {
					h.metrics.PubSub.Delivered.Inc()
				}
			} else if h.metrics != nil {
				h.metrics.PubSub.Dropped.Inc()
			}
		}
	}
}

func (h *Hub) shardFor(channel string) *channelShard {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(channel))
	return &h.shards[hasher.Sum32()%uint32(len(h.shards))]
}

// Register makes a newly accepted connection known to the hub so it can
// later subscribe. It starts with no subscriptions.
func (h *Hub) Register(c *conn.Connection) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.conns[c.ID] = c
}

// Unregister removes c from every channel and pattern index, and from
// the hub's connection registry. It must run before the connection
// handler exits, satisfying the invariant that a disconnecting
// subscriber is fully removed from all subscription indices.
func (h *Hub) Unregister(c *conn.Connection) {
	h.connMu.Lock()
	channels := h.connChannels[c.ID]
	delete(h.connChannels, c.ID)
	delete(h.connPatterns, c.ID)
	delete(h.conns, c.ID)
	h.connMu.Unlock()

	for channel := range channels {
		shard := h.shardFor(channel)
		shard.mu.Lock()
		if set, ok := shard.subs[channel]; ok {
			delete(set, c.ID)
		}
		shard.mu.Unlock()
	}
}

// Subscribe adds c to channel's subscriber set and returns the
// connection's total subscription count (channels + patterns).
func (h *Hub) Subscribe(c *conn.Connection, channel string) int {
	shard := h.shardFor(channel)
	shard.mu.Lock()
	set, ok := shard.subs[channel]
	if !ok {
		set = make(map[uint64]*conn.Connection)
		shard.subs[channel] = set
	}
	set[c.ID] = c
	shard.mu.Unlock()

	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.connChannels[c.ID] == nil {
		h.connChannels[c.ID] = make(map[string]struct{})
	}
	h.connChannels[c.ID][channel] = struct{}{}
	return h.subscriptionCountLocked(c.ID)
}

// Unsubscribe removes c from channel's subscriber set if it was
// subscribed, and always returns the connection's resulting total
// subscription count.
func (h *Hub) Unsubscribe(c *conn.Connection, channel string) int {
	shard := h.shardFor(channel)
	shard.mu.Lock()
	if set, ok := shard.subs[channel]; ok {
		delete(set, c.ID)
	}
	shard.mu.Unlock()

	h.connMu.Lock()
	defer h.connMu.Unlock()
	if set, ok := h.connChannels[c.ID]; ok {
		delete(set, channel)
	}
	return h.subscriptionCountLocked(c.ID)
}

// SubscribedChannels returns the channels c currently holds, for
// UNSUBSCRIBE called with no arguments.
func (h *Hub) SubscribedChannels(c *conn.Connection) []string {
	h.connMu.RLock()
	defer h.connMu.RUnlock()
	out := make([]string, 0, len(h.connChannels[c.ID]))
	for ch := range h.connChannels[c.ID] {
		out = append(out, ch)
	}
	return out
}

// PSubscribe adds pattern to c's pattern set and returns the
// connection's total subscription count.
func (h *Hub) PSubscribe(c *conn.Connection, pattern string) int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.connPatterns[c.ID] == nil {
		h.connPatterns[c.ID] = make(map[string]struct{})
	}
	h.connPatterns[c.ID][pattern] = struct{}{}
	return h.subscriptionCountLocked(c.ID)
}

// PUnsubscribe removes pattern from c's pattern set if held, and always
// returns the connection's resulting total subscription count.
func (h *Hub) PUnsubscribe(c *conn.Connection, pattern string) int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if set, ok := h.connPatterns[c.ID]; ok {
		delete(set, pattern)
	}
	return h.subscriptionCountLocked(c.ID)
}

// SubscribedPatterns returns the patterns c currently holds, for
// PUNSUBSCRIBE called with no arguments.
func (h *Hub) SubscribedPatterns(c *conn.Connection) []string {
	h.connMu.RLock()
	defer h.connMu.RUnlock()
	out := make([]string, 0, len(h.connPatterns[c.ID]))
	for p := range h.connPatterns[c.ID] {
		out = append(out, p)
	}
	return out
}

// SubscriptionCount returns the connection's total channels+patterns
// subscription count.
func (h *Hub) SubscriptionCount(c *conn.Connection) int {
	h.connMu.RLock()
	defer h.connMu.RUnlock()
	return h.subscriptionCountLocked(c.ID)
}

func (h *Hub) subscriptionCountLocked(id uint64) int {
	return len(h.connChannels[id]) + len(h.connPatterns[id])
}

// Publish computes the full recipient list for channel (exact channel
// subscribers plus every (pattern, connection) pair whose pattern
// matches channel, using a leftmost non-anchored match per spec's
// PUBLISH semantics), submits it as a single ordered fan-out job, and
// returns the count of delivery attempts — channel subscribers plus
// matched pattern pairs, duplicates counted, matching the literal reply
// semantics even though an individual enqueue may later be dropped.
func (h *Hub) Publish(channel string, message []byte) int {
	if h.metrics != nil {
		h.metrics.PubSub.Published.Inc()
	}

	var recipients []recipient

	shard := h.shardFor(channel)
	shard.mu.RLock()
	for _, c := range shard.subs[channel] {
		recipients = append(recipients, recipient{
			c: c,
			v: resp.Array(resp.Bulk([]byte("message")), resp.Bulk([]byte(channel)), resp.Bulk(message)),
		})
	}
	shard.mu.RUnlock()
	channelCount := len(recipients)

	patternCount := 0
	h.connMu.RLock()
	for id, patterns := range h.connPatterns {
		c, ok := h.conns[id]
		if !ok {
			continue
		}
		for pattern := range patterns {
			re, err := globmatch.CompileSearch(pattern)
			if err != nil || !re.MatchString(channel) {
				continue
			}
			recipients = append(recipients, recipient{
				c: c,
				v: resp.Array(
					resp.Bulk([]byte("pmessage")),
					resp.Bulk([]byte(pattern)),
					resp.Bulk([]byte(channel)),
					resp.Bulk(message),
				),
			})
			patternCount++
		}
	}
	h.connMu.RUnlock()

	select {
	case h.jobs <- job{recipients: recipients}:
	default:
		if h.metrics != nil {
			h.metrics.PubSub.Dropped.Add(float64(len(recipients)))
		}
	}

	return channelCount + patternCount
}

// Channels returns every channel with at least one subscriber whose name
// matches re (the anchored, full-string KEYS/CHANNELS glob semantics).
func (h *Hub) Channels(re func(string) bool) [][]byte {
	var out [][]byte
	for i := range h.shards {
		shard := &h.shards[i]
		shard.mu.RLock()
		for channel, subs := range shard.subs {
			if len(subs) > 0 && re(channel) {
				out = append(out, []byte(channel))
			}
		}
		shard.mu.RUnlock()
	}
	return out
}

// NumSub returns the current subscriber count for each requested
// channel, 0 for channels with no subscribers (including never-seen
// channels).
func (h *Hub) NumSub(channels [][]byte) []int {
	counts := make([]int, len(channels))
	for i, ch := range channels {
		shard := h.shardFor(string(ch))
		shard.mu.RLock()
		counts[i] = len(shard.subs[string(ch)])
		shard.mu.RUnlock()
	}
	return counts
}

// NumPat returns the total number of pattern subscriptions across all
// connections (the sum of each connection's pattern-set size).
func (h *Hub) NumPat() int {
	h.connMu.RLock()
	defer h.connMu.RUnlock()
	total := 0
	for _, patterns := range h.connPatterns {
		total += len(patterns)
	}
	return total
}
