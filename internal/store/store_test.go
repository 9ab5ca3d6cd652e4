package store

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetThenGetReturnsSameValue(t *testing.T) {
	db := newDB()
	now := time.Now()
	db.Set("foo", []byte("bar"))

	v, ok := db.Get("foo", now)
	require.True(t, ok)
	assert.Equal(t, []byte("bar"), v)
}

func TestSetWithExpiryExpiresAfterDeadline(t *testing.T) {
	db := newDB()
	base := time.Now()
	db.SetWithExpiry("foo", []byte("bar"), base.Add(50*time.Millisecond))

	_, ok := db.Get("foo", base)
	assert.True(t, ok)

	_, ok = db.Get("foo", base.Add(51*time.Millisecond))
	assert.False(t, ok)
}

func TestSetClearsPriorTTL(t *testing.T) {
	db := newDB()
	base := time.Now()
	db.SetWithExpiry("foo", []byte("v1"), base.Add(10*time.Millisecond))
	db.Set("foo", []byte("v2"))

	v, ok := db.Get("foo", base.Add(time.Second))
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), v)
}

func TestTombstoneOverwriteKeepsHeapConsistent(t *testing.T) {
	db := newDB()
	base := time.Now()

	for i := 0; i < 5; i++ {
		db.SetWithExpiry("k", []byte("v"), base.Add(time.Duration(i+1)*time.Millisecond))
	}
	assert.Len(t, db.ttlIndex, 1)
	assert.Greater(t, db.ttl.Len(), 1, "tombstoned entries accumulate until reaped")

	reaped := db.ReapExpired(base.Add(time.Hour))
	assert.Equal(t, 1, reaped, "only the live (non-tombstoned) entry should be counted")
}

func TestReapExpiredDeletesOnlyPastEntries(t *testing.T) {
	db := newDB()
	base := time.Now()
	db.SetWithExpiry("expired", []byte("v"), base.Add(-time.Second))
	db.SetWithExpiry("future", []byte("v"), base.Add(time.Hour))

	reaped := db.ReapExpired(base)
	assert.Equal(t, 1, reaped)

	_, ok := db.data["expired"]
	assert.False(t, ok)
	_, ok = db.data["future"]
	assert.True(t, ok)
}

func TestStorageIsolatesDatabases(t *testing.T) {
	s := NewStorage(16)
	now := time.Now()

	s.DB(0).Set("k", []byte("db0"))
	s.DB(1).Set("k", []byte("db1"))

	v0, ok := s.DB(0).Get("k", now)
	require.True(t, ok)
	assert.Equal(t, []byte("db0"), v0)

	v1, ok := s.DB(1).Get("k", now)
	require.True(t, ok)
	assert.Equal(t, []byte("db1"), v1)
}

// TestSetGetProperty verifies invariant 1: for all keys k set with
// SET k v, an immediate GET k returns v.
func TestSetGetProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("immediate GET after SET returns the written value", prop.ForAll(
		func(key, value string) bool {
			db := newDB()
			db.Set(key, []byte(value))
			v, ok := db.Get(key, time.Now())
			return ok && string(v) == value
		},
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestExpiryProperty verifies invariant 2: for keys set with EX s, at
// time now+s*1000+eps, GET returns the null bulk string (here: ok=false).
func TestExpiryProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("key is inactive strictly after its expiry instant", prop.ForAll(
		func(seconds int) bool {
			db := newDB()
			base := time.Now()
			db.SetWithExpiry("k", []byte("v"), base.Add(time.Duration(seconds)*time.Second))

			_, ok := db.Get("k", base.Add(time.Duration(seconds)*time.Second+time.Millisecond))
			return !ok
		},
		gen.IntRange(1, 30),
	))

	properties.TestingRun(t)
}
