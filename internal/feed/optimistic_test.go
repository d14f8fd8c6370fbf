package feed

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/clipfeed/internal/domain"
)

func TestToggleLike_AppliesDeltaImmediately(t *testing.T) {
	tr := NewMutationTracker(10)
	e := newPostEntry(domain.Post{ID: "p1"})
	e.likes.Count = 3

	m := tr.toggleLike(e)
	assert.Equal(t, MutationLike, m.Kind)
	assert.Equal(t, LikeAggregate{Liked: true, Count: 4}, e.likes)

	m = tr.toggleLike(e)
	assert.Equal(t, MutationUnlike, m.Kind)
	assert.Equal(t, LikeAggregate{Liked: false, Count: 3}, e.likes)
}

func TestToggleLike_CountNeverNegative(t *testing.T) {
	tr := NewMutationTracker(10)
	e := newPostEntry(domain.Post{ID: "p1", Liked: true})

	tr.toggleLike(e)
	assert.Equal(t, LikeAggregate{Liked: false, Count: 0}, e.likes)
}

func TestReconcileStats_OverwritesCountKeepsLiked(t *testing.T) {
	tr := NewMutationTracker(10)
	e := newPostEntry(domain.Post{ID: "p1"})
	tr.toggleLike(e)

	tr.reconcileStats(e, domain.Stats{LikesCount: 42, CommentsCount: 7})
	assert.Equal(t, LikeAggregate{Liked: true, Count: 42}, e.likes)
	assert.Equal(t, 7, e.commentsCount)
}

func TestFailKeepsLocalEffect(t *testing.T) {
	tr := NewMutationTracker(10)
	e := newPostEntry(domain.Post{ID: "p1"})
	e.likes.Count = 1

	m := tr.toggleLike(e)
	tr.fail(m.ID, errors.New("503"))

	got, ok := tr.Get(m.ID)
	require.True(t, ok)
	assert.Equal(t, MutationFailedNoRevert, got.State)
	assert.Equal(t, "503", got.Error)
	assert.Equal(t, LikeAggregate{Liked: true, Count: 2}, e.likes)
}

func TestLedgerEvictsSettledFirst(t *testing.T) {
	tr := NewMutationTracker(2)

	pending := tr.beginComment("p1", "")
	done := tr.beginComment("p1", "")
	tr.confirm(done.ID)
	latest := tr.beginComment("p1", "c1")

	recent := tr.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, pending.ID, recent[0].ID)
	assert.Equal(t, latest.ID, recent[1].ID)
	assert.Equal(t, "c1", recent[1].ParentCommentID)

	_, ok := tr.Get(done.ID)
	assert.False(t, ok)
}

func TestNewPostEntry_IgnoresEmbeddedStats(t *testing.T) {
	e := newPostEntry(domain.Post{ID: "p1", Liked: true, Stats: domain.Stats{LikesCount: 7, CommentsCount: 2}})

	assert.Equal(t, LikeAggregate{Liked: true}, e.likes)
	assert.Zero(t, e.commentsCount)
}
