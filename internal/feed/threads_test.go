package feed

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/clipfeed/internal/domain"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func comment(id string, minute int) domain.Comment {
	return domain.Comment{ID: id, Body: "body " + id, CreatedAt: t0.Add(time.Duration(minute) * time.Minute)}
}

func reply(id, parent string, minute int) domain.Comment {
	c := comment(id, minute)
	c.ParentCommentID = parent
	return c
}

func ids(cs []domain.Comment) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func TestIngest_NewestFirst(t *testing.T) {
	m := NewThreadManager()
	m.Ingest("p1", comment("c1", 1))
	m.Ingest("p1", comment("c3", 3))
	m.Ingest("p1", comment("c2", 2))

	assert.Equal(t, []string{"c3", "c2", "c1"}, ids(m.TopLevel("p1")))
}

func TestIngest_TiesFavourLaterArrival(t *testing.T) {
	m := NewThreadManager()
	m.Ingest("p1", comment("a", 1))
	m.Ingest("p1", comment("b", 1))

	assert.Equal(t, []string{"b", "a"}, ids(m.TopLevel("p1")))
}

func TestIngest_Dedup(t *testing.T) {
	m := NewThreadManager()
	assert.True(t, m.Ingest("p1", comment("c1", 1)))
	assert.False(t, m.Ingest("p1", comment("c1", 1)))
	assert.False(t, m.Ingest("p1", domain.Comment{}))

	assert.Len(t, m.TopLevel("p1"), 1)
}

func TestIngest_OrphanReplyNeverTopLevel(t *testing.T) {
	m := NewThreadManager()
	require.True(t, m.Ingest("p1", reply("r1", "c1", 5)))

	assert.Empty(t, m.TopLevel("p1"))
	assert.Empty(t, m.VisibleTopLevel("p1"))
	assert.Equal(t, []string{"r1"}, ids(m.Replies("c1")))

	// A later copy of the reply, even one that lost its parent id, is a
	// duplicate and is not promoted.
	assert.False(t, m.Ingest("p1", comment("r1", 5)))
	assert.Empty(t, m.TopLevel("p1"))

	require.True(t, m.Ingest("p1", comment("c1", 1)))
	assert.Equal(t, []string{"c1"}, ids(m.VisibleTopLevel("p1")))
	assert.Equal(t, []string{"r1"}, ids(m.VisibleReplies("c1")))
}

func TestVisible_CapsToNewestThree(t *testing.T) {
	m := NewThreadManager()
	for i := 1; i <= 5; i++ {
		m.Ingest("p1", comment(fmt.Sprintf("c%d", i), i))
		m.Ingest("p1", reply(fmt.Sprintf("r%d", i), "c1", i))
	}

	assert.Equal(t, []string{"c5", "c4", "c3"}, ids(m.VisibleTopLevel("p1")))
	assert.Equal(t, []string{"r5", "r4", "r3"}, ids(m.VisibleReplies("c1")))
	assert.Len(t, m.TopLevel("p1"), 5)
	assert.Len(t, m.Replies("c1"), 5)
}

func TestVisible_CapProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		m := NewThreadManager()
		type known struct {
			id string
			at time.Time
		}
		var all []known
		n := rng.Intn(12)
		for i := 0; i < n; i++ {
			c := comment(fmt.Sprintf("c%d", i), rng.Intn(1000))
			m.Ingest("p1", c)
			all = append(all, known{c.ID, c.CreatedAt})
		}

		visible := m.VisibleTopLevel("p1")
		require.LessOrEqual(t, len(visible), InlineCap)

		sort.SliceStable(all, func(i, j int) bool { return all[i].at.After(all[j].at) })
		want := len(all)
		if want > InlineCap {
			want = InlineCap
		}
		require.Len(t, visible, want)
		for i, c := range visible {
			// Timestamps must match the newest known set; ids can differ
			// only on ties.
			assert.True(t, c.CreatedAt.Equal(all[i].at), "round %d index %d", round, i)
		}
	}
}

func TestRemove(t *testing.T) {
	m := NewThreadManager()
	m.Ingest("p1", comment("c1", 1))
	m.Ingest("p1", reply("r1", "c1", 2))

	assert.False(t, m.Remove("p2", "c1"))
	assert.True(t, m.Remove("p1", "r1"))
	assert.False(t, m.Remove("p1", "r1"))
	assert.Empty(t, m.Replies("c1"))

	assert.True(t, m.Remove("p1", "c1"))
	assert.Empty(t, m.TopLevel("p1"))
	assert.False(t, m.Has("c1"))
}

func TestDropPost(t *testing.T) {
	m := NewThreadManager()
	m.Ingest("p1", comment("c1", 1))
	m.Ingest("p1", reply("r1", "c1", 2))
	m.Ingest("p1", reply("r2", "gone", 2))
	m.Ingest("p2", comment("c2", 1))

	m.DropPost("p1")

	assert.Empty(t, m.TopLevel("p1"))
	assert.Empty(t, m.Replies("c1"))
	assert.Empty(t, m.Replies("gone"))
	assert.False(t, m.Has("r1"))
	assert.Equal(t, []string{"c2"}, ids(m.TopLevel("p2")))

	// Ids are free again after the post is gone.
	assert.True(t, m.Ingest("p1", comment("c1", 1)))
}

func TestExpandOnce(t *testing.T) {
	m := NewThreadManager()
	assert.True(t, m.beginExpand("p1"))
	assert.False(t, m.beginExpand("p1"))
	assert.True(t, m.Expanding("p1"))

	m.finishExpand("p1", false)
	assert.False(t, m.Expanded("p1"))
	assert.True(t, m.beginExpand("p1"))

	m.finishExpand("p1", true)
	assert.True(t, m.Expanded("p1"))
	assert.False(t, m.beginExpand("p1"))
}
