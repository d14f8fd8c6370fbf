package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTombstones_Expire(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ts := NewTombstones(time.Minute)
	ts.now = func() time.Time { return now }

	exp := ts.Add("p1")
	assert.Equal(t, now.Add(time.Minute), exp)
	assert.True(t, ts.Has("p1"))
	assert.False(t, ts.Has("p2"))

	now = now.Add(time.Minute)
	assert.False(t, ts.Has("p1"))
	assert.Equal(t, 0, ts.Len())
}

func TestTombstones_RestoreAndSweep(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ts := NewTombstones(time.Minute)
	ts.now = func() time.Time { return now }

	ts.Add("p1")
	ts.Restore(map[string]time.Time{
		"p1": now.Add(time.Hour),
		"p2": now.Add(-time.Second),
		"p3": now.Add(30 * time.Second),
	})

	assert.Equal(t, 1, ts.Sweep())
	now = now.Add(45 * time.Second)
	assert.True(t, ts.Has("p1"))
	assert.False(t, ts.Has("p3"))
}
