package command

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dredigo/internal/conn"
	"dredigo/internal/metrics"
	"dredigo/internal/pubsub"
	"dredigo/internal/resp"
	"dredigo/internal/store"
)

// testMetrics is shared by every test in the package: NewRegistry
// registers its collectors with Prometheus's default registerer, which
// rejects a second registration of the same metric names.
var testMetrics = metrics.NewRegistry()

func newTestDispatcher() (*Dispatcher, *pubsub.Hub) {
	storage := store.NewStorage(16)
	hub := pubsub.NewHub(4, 16, 1, testMetrics)
	hub.StartWorkers()
	return NewDispatcher(storage, hub, testMetrics), hub
}

func newTestConn(id uint64) *conn.Connection {
	return conn.New(id, nil, 8)
}

func cmd(parts ...string) [][]byte {
	out := make([][]byte, len(parts))
	for i, p := range parts {
		out[i] = []byte(p)
	}
	return out
}

// S1: SET foo bar -> +OK; GET foo -> bulk "bar".
func TestScenarioS1(t *testing.T) {
	d, _ := newTestDispatcher()
	c := newTestConn(1)

	resps, terminal := d.Dispatch(c, cmd("SET", "foo", "bar"))
	require.False(t, terminal)
	require.Len(t, resps, 1)
	assert.Equal(t, resp.SimpleString("OK"), resps[0])

	resps, _ = d.Dispatch(c, cmd("GET", "foo"))
	require.Len(t, resps, 1)
	assert.Equal(t, resp.Bulk([]byte("bar")), resps[0])
}

// S2: SET foo bar PX 50; after sleeping 100 ms past the expiry, GET foo ->
// null bulk string (the lazy expiry check on read hides the key).
func TestScenarioS2(t *testing.T) {
	d, _ := newTestDispatcher()
	c := newTestConn(1)

	_, _ = d.Dispatch(c, cmd("SET", "foo", "bar", "PX", "50"))
	time.Sleep(100 * time.Millisecond)

	resps, _ := d.Dispatch(c, cmd("GET", "foo"))
	require.Len(t, resps, 1)
	assert.True(t, resps[0].IsNullBulk())
}

// S3: SET k 1 NX -> OK; SET k 2 NX -> null; GET k -> "1".
func TestScenarioS3(t *testing.T) {
	d, _ := newTestDispatcher()
	c := newTestConn(1)

	resps, _ := d.Dispatch(c, cmd("SET", "k", "1", "NX"))
	assert.Equal(t, resp.SimpleString("OK"), resps[0])

	resps, _ = d.Dispatch(c, cmd("SET", "k", "2", "NX"))
	assert.True(t, resps[0].IsNullBulk())

	resps, _ = d.Dispatch(c, cmd("GET", "k"))
	assert.Equal(t, resp.Bulk([]byte("1")), resps[0])
}

// S4: MSET a 1 b 2 c 3 -> OK; MGET a b c d -> [1,2,3,nil].
func TestScenarioS4(t *testing.T) {
	d, _ := newTestDispatcher()
	c := newTestConn(1)

	resps, _ := d.Dispatch(c, cmd("MSET", "a", "1", "b", "2", "c", "3"))
	assert.Equal(t, resp.SimpleString("OK"), resps[0])

	resps, _ = d.Dispatch(c, cmd("MGET", "a", "b", "c", "d"))
	require.Len(t, resps, 1)
	want := resp.Array(
		resp.Bulk([]byte("1")), resp.Bulk([]byte("2")), resp.Bulk([]byte("3")), resp.NullBulk(),
	)
	assert.Equal(t, want, resps[0])
}

// S5: connection A subscribes to "news"; connection B publishes; A
// receives the message frame and PUBLISH replies with the delivery count.
func TestScenarioS5(t *testing.T) {
	d, hub := newTestDispatcher()
	connA := newTestConn(1)
	connB := newTestConn(2)
	hub.Register(connA)
	hub.Register(connB)

	resps, _ := d.Dispatch(connA, cmd("SUBSCRIBE", "news"))
	require.Len(t, resps, 1)
	assert.Equal(t, resp.Array(resp.Bulk([]byte("subscribe")), resp.Bulk([]byte("news")), resp.Integer(1)), resps[0])
	assert.Equal(t, conn.ModePubSub, connA.Mode)

	resps, _ = d.Dispatch(connB, cmd("PUBLISH", "news", "hello"))
	require.Len(t, resps, 1)
	assert.Equal(t, resp.Integer(1), resps[0])

	select {
	case v := <-connA.SendQueue:
		want := resp.Array(resp.Bulk([]byte("message")), resp.Bulk([]byte("news")), resp.Bulk([]byte("hello")))
		assert.Equal(t, want, v)
	case <-time.After(time.Second):
		t.Fatal("expected connection A to receive the published message")
	}
}

// S6: connection A, already in pubsub mode, issues GET and receives the
// mode-restriction error.
func TestScenarioS6(t *testing.T) {
	d, hub := newTestDispatcher()
	connA := newTestConn(1)
	hub.Register(connA)

	_, _ = d.Dispatch(connA, cmd("SUBSCRIBE", "news"))

	resps, terminal := d.Dispatch(connA, cmd("GET", "x"))
	require.False(t, terminal)
	require.Len(t, resps, 1)
	assert.Equal(t, resp.ErrorReply("ERR", "only (P)SUBSCRIBE / (P)UNSUBSCRIBE / PING / QUIT allowed in this context"), resps[0])
}

func TestQuitIsAlwaysPermittedEvenInPubSubMode(t *testing.T) {
	d, hub := newTestDispatcher()
	c := newTestConn(1)
	hub.Register(c)
	_, _ = d.Dispatch(c, cmd("SUBSCRIBE", "news"))

	resps, terminal := d.Dispatch(c, cmd("QUIT"))
	assert.True(t, terminal)
	assert.Equal(t, resp.SimpleString("OK"), resps[0])
}

func TestSelectIsolatesKeyspaces(t *testing.T) {
	d, _ := newTestDispatcher()
	c := newTestConn(1)

	_, _ = d.Dispatch(c, cmd("SET", "k", "zero"))
	_, _ = d.Dispatch(c, cmd("SELECT", "1"))
	resps, _ := d.Dispatch(c, cmd("GET", "k"))
	assert.True(t, resps[0].IsNullBulk())

	_, _ = d.Dispatch(c, cmd("SELECT", "0"))
	resps, _ = d.Dispatch(c, cmd("GET", "k"))
	assert.Equal(t, resp.Bulk([]byte("zero")), resps[0])
}

func TestSelectRejectsOutOfRangeIndex(t *testing.T) {
	d, _ := newTestDispatcher()
	c := newTestConn(1)

	resps, _ := d.Dispatch(c, cmd("SELECT", "16"))
	require.Len(t, resps, 1)
	assert.Equal(t, resp.ErrorReply("ERR", "invalid DB index"), resps[0])
}

func TestUnknownCommandIsAnError(t *testing.T) {
	d, _ := newTestDispatcher()
	c := newTestConn(1)

	resps, terminal := d.Dispatch(c, cmd("FROBNICATE"))
	assert.False(t, terminal)
	assert.Equal(t, resp.ErrorReply("ERR", "unknown command 'frobnicate'"), resps[0])
}

// An unrecognized verb is still "unknown command", not the mode
// restriction error, even from a connection stuck in pubsub mode.
func TestUnknownCommandTakesPriorityOverPubSubModeRestriction(t *testing.T) {
	d, hub := newTestDispatcher()
	c := newTestConn(1)
	hub.Register(c)
	_, _ = d.Dispatch(c, cmd("SUBSCRIBE", "news"))

	resps, terminal := d.Dispatch(c, cmd("FROBNICATE"))
	assert.False(t, terminal)
	assert.Equal(t, resp.ErrorReply("ERR", "unknown command 'frobnicate'"), resps[0])
}

func TestSetNXAndXXAreMutuallyExclusive(t *testing.T) {
	d, _ := newTestDispatcher()
	c := newTestConn(1)

	resps, _ := d.Dispatch(c, cmd("SET", "k", "v", "NX", "XX"))
	assert.Equal(t, resp.ErrorReply("ERR", "syntax error"), resps[0])
}

func TestSetEXAndPXAreMutuallyExclusive(t *testing.T) {
	d, _ := newTestDispatcher()
	c := newTestConn(1)

	resps, _ := d.Dispatch(c, cmd("SET", "k", "v", "EX", "1", "PX", "1"))
	assert.Equal(t, resp.ErrorReply("ERR", "syntax error"), resps[0])
}

func TestPubSubNumSubCountsAccurately(t *testing.T) {
	d, hub := newTestDispatcher()
	c := newTestConn(1)
	hub.Register(c)
	_, _ = d.Dispatch(c, cmd("SUBSCRIBE", "a", "b"))

	resps, _ := d.Dispatch(c, cmd("PUBSUB", "NUMSUB", "a", "b", "never-subscribed"))
	want := resp.Array(
		resp.Bulk([]byte("a")), resp.Integer(1),
		resp.Bulk([]byte("b")), resp.Integer(1),
		resp.Bulk([]byte("never-subscribed")), resp.Integer(0),
	)
	assert.Equal(t, want, resps[0])
}

func TestPubSubNumPatSumsAcrossConnections(t *testing.T) {
	d, hub := newTestDispatcher()
	c1 := newTestConn(1)
	c2 := newTestConn(2)
	hub.Register(c1)
	hub.Register(c2)
	_, _ = d.Dispatch(c1, cmd("PSUBSCRIBE", "a.*", "b.*"))
	_, _ = d.Dispatch(c2, cmd("PSUBSCRIBE", "c.*"))

	resps, _ := d.Dispatch(c1, cmd("PUBSUB", "NUMPAT"))
	assert.Equal(t, resp.Integer(3), resps[0])
}

func TestUnsubscribeWithNoArgsClearsAllAndReturnsToNormalMode(t *testing.T) {
	d, hub := newTestDispatcher()
	c := newTestConn(1)
	hub.Register(c)
	_, _ = d.Dispatch(c, cmd("SUBSCRIBE", "a", "b"))
	require.Equal(t, conn.ModePubSub, c.Mode)

	resps, _ := d.Dispatch(c, cmd("UNSUBSCRIBE"))
	assert.Len(t, resps, 2)
	assert.Equal(t, conn.ModeNormal, c.Mode)
}
