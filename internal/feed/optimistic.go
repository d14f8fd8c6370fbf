package feed

import (
	"time"

	"github.com/google/uuid"

	"github.com/blackmichael/clipfeed/internal/domain"
)

const defaultMutationHistory = 50

// MutationKind is the kind of viewer action being tracked.
type MutationKind string

const (
	MutationLike    MutationKind = "like"
	MutationUnlike  MutationKind = "unlike"
	MutationComment MutationKind = "comment"
)

// MutationState is the lifecycle of an optimistic mutation. There is no
// rollback: a failed mutation keeps its local effect.
type MutationState string

const (
	MutationPending        MutationState = "pending"
	MutationConfirmed      MutationState = "confirmed"
	MutationFailedNoRevert MutationState = "failed-no-revert"
)

// Mutation is a tracked viewer action.
type Mutation struct {
	ID              string        `json:"id"`
	Kind            MutationKind  `json:"kind"`
	PostID          string        `json:"postId"`
	ParentCommentID string        `json:"parentCommentId,omitempty"`
	State           MutationState `json:"state"`
	Error           string        `json:"error,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// MutationRequest is a viewer action routed through the engine.
type MutationRequest struct {
	// Kind is MutationLike, MutationUnlike or MutationComment. A like or
	// unlike that matches the current state does nothing.
	Kind            MutationKind
	PostID          string
	Body            string
	ParentCommentID string
}

// MutationTracker applies viewer deltas to the view model before the
// server confirms them and reconciles with authoritative aggregates
// afterwards. It keeps a bounded ledger of recent mutations.
type MutationTracker struct {
	limit int
	items []*Mutation
	byID  map[string]*Mutation
	now   func() time.Time
}

// NewMutationTracker creates a tracker remembering up to limit mutations.
func NewMutationTracker(limit int) *MutationTracker {
	if limit <= 0 {
		limit = defaultMutationHistory
	}
	return &MutationTracker{
		limit: limit,
		byID:  make(map[string]*Mutation),
		now:   time.Now,
	}
}

func (t *MutationTracker) begin(kind MutationKind, postID string) *Mutation {
	m := &Mutation{
		ID:        uuid.NewString(),
		Kind:      kind,
		PostID:    postID,
		State:     MutationPending,
		CreatedAt: t.now().UTC(),
	}
	t.items = append(t.items, m)
	t.byID[m.ID] = m

	// Evict settled mutations first; a pending one stays until resolved.
	for len(t.items) > t.limit {
		evicted := false
		for i, old := range t.items {
			if old.State != MutationPending {
				delete(t.byID, old.ID)
				t.items = append(t.items[:i], t.items[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			break
		}
	}
	return m
}

// toggleLike flips the viewer's like and moves the counter by one
// immediately. The counter never drops below zero.
func (t *MutationTracker) toggleLike(e *postEntry) *Mutation {
	kind := MutationLike
	if e.likes.Liked {
		kind = MutationUnlike
	}

	e.likes.Liked = !e.likes.Liked
	if e.likes.Liked {
		e.likes.Count++
	} else if e.likes.Count > 0 {
		e.likes.Count--
	}

	return t.begin(kind, e.post.ID)
}

// beginComment records a comment submission. Nothing is inserted locally;
// the comment arrives through the push channel.
func (t *MutationTracker) beginComment(postID, parentCommentID string) *Mutation {
	m := t.begin(MutationComment, postID)
	m.ParentCommentID = parentCommentID
	return m
}

func (t *MutationTracker) confirm(id string) {
	if m, ok := t.byID[id]; ok {
		m.State = MutationConfirmed
	}
}

func (t *MutationTracker) fail(id string, err error) {
	if m, ok := t.byID[id]; ok {
		m.State = MutationFailedNoRevert
		m.Error = err.Error()
	}
}

// reconcileStats overwrites the aggregates with the server's values. The
// viewer's like boolean is left alone.
func (t *MutationTracker) reconcileStats(e *postEntry, stats domain.Stats) {
	e.likes.Count = stats.LikesCount
	e.commentsCount = stats.CommentsCount
}

// Get returns a copy of a tracked mutation.
func (t *MutationTracker) Get(id string) (Mutation, bool) {
	m, ok := t.byID[id]
	if !ok {
		return Mutation{}, false
	}
	return *m, true
}

// Recent returns copies of the tracked mutations, oldest first.
func (t *MutationTracker) Recent() []Mutation {
	out := make([]Mutation, len(t.items))
	for i, m := range t.items {
		out[i] = *m
	}
	return out
}
