package feed

import (
	"sort"

	"github.com/blackmichael/clipfeed/internal/domain"
)

// InlineCap is the number of comments, and of replies per comment, shown
// inline in the feed.
const InlineCap = 3

type expandState int

const (
	expandNone expandState = iota
	expandFetching
	expandDone
)

// entry is a stored comment plus its arrival sequence, used to break
// timestamp ties in favour of the later arrival.
type entry struct {
	comment domain.Comment
	seq     uint64
}

type thread struct {
	top    []entry
	expand expandState
}

// location records where a comment id is stored.
type location struct {
	postID   string
	parentID string
}

// ThreadManager owns the per-post comment collections and the
// replies-by-parent side map. Replies never enter a top-level collection,
// even when their parent has not been seen yet.
type ThreadManager struct {
	threads map[string]*thread
	replies map[string][]entry
	index   map[string]location
	seq     uint64
}

// NewThreadManager creates an empty ThreadManager.
func NewThreadManager() *ThreadManager {
	return &ThreadManager{
		threads: make(map[string]*thread),
		replies: make(map[string][]entry),
		index:   make(map[string]location),
	}
}

func (m *ThreadManager) thread(postID string) *thread {
	t, ok := m.threads[postID]
	if !ok {
		t = &thread{}
		m.threads[postID] = t
	}
	return t
}

// Ingest stores a comment under postID. Replies go to the replies list of
// their parent; top-level comments go to the post's collection. It returns
// false when the comment id is already known.
func (m *ThreadManager) Ingest(postID string, c domain.Comment) bool {
	if c.ID == "" {
		return false
	}
	if _, dup := m.index[c.ID]; dup {
		return false
	}
	c.PostID = postID
	m.seq++
	e := entry{comment: c, seq: m.seq}

	if c.IsReply() {
		m.replies[c.ParentCommentID] = insertNewestFirst(m.replies[c.ParentCommentID], e)
		m.index[c.ID] = location{postID: postID, parentID: c.ParentCommentID}
		return true
	}

	t := m.thread(postID)
	t.top = insertNewestFirst(t.top, e)
	m.index[c.ID] = location{postID: postID}
	return true
}

// insertNewestFirst places e before every entry that is not newer than it.
func insertNewestFirst(list []entry, e entry) []entry {
	i := sort.Search(len(list), func(i int) bool {
		return !list[i].comment.CreatedAt.After(e.comment.CreatedAt)
	})
	list = append(list, entry{})
	copy(list[i+1:], list[i:])
	list[i] = e
	return list
}

func comments(list []entry, limit int) []domain.Comment {
	if limit >= 0 && len(list) > limit {
		list = list[:limit]
	}
	out := make([]domain.Comment, len(list))
	for i, e := range list {
		out[i] = e.comment
	}
	return out
}

// VisibleTopLevel returns the newest InlineCap top-level comments.
func (m *ThreadManager) VisibleTopLevel(postID string) []domain.Comment {
	t, ok := m.threads[postID]
	if !ok {
		return []domain.Comment{}
	}
	return comments(t.top, InlineCap)
}

// VisibleReplies returns the newest InlineCap replies to a comment.
func (m *ThreadManager) VisibleReplies(parentID string) []domain.Comment {
	return comments(m.replies[parentID], InlineCap)
}

// TopLevel returns every known top-level comment, newest first.
func (m *ThreadManager) TopLevel(postID string) []domain.Comment {
	t, ok := m.threads[postID]
	if !ok {
		return []domain.Comment{}
	}
	return comments(t.top, -1)
}

// Replies returns every known reply to a comment, newest first.
func (m *ThreadManager) Replies(parentID string) []domain.Comment {
	return comments(m.replies[parentID], -1)
}

// Has reports whether the comment id is stored anywhere.
func (m *ThreadManager) Has(commentID string) bool {
	_, ok := m.index[commentID]
	return ok
}

// Remove deletes a comment from whichever collection holds it. It returns
// false if the comment was not found under postID.
func (m *ThreadManager) Remove(postID, commentID string) bool {
	loc, ok := m.index[commentID]
	if !ok || loc.postID != postID {
		return false
	}
	delete(m.index, commentID)

	if loc.parentID != "" {
		m.replies[loc.parentID] = without(m.replies[loc.parentID], commentID)
		if len(m.replies[loc.parentID]) == 0 {
			delete(m.replies, loc.parentID)
		}
		return true
	}

	if t, ok := m.threads[postID]; ok {
		t.top = without(t.top, commentID)
	}
	return true
}

func without(list []entry, commentID string) []entry {
	for i, e := range list {
		if e.comment.ID == commentID {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// DropPost removes every comment and reply stored for a post.
func (m *ThreadManager) DropPost(postID string) {
	for id, loc := range m.index {
		if loc.postID != postID {
			continue
		}
		delete(m.index, id)
		if loc.parentID != "" {
			delete(m.replies, loc.parentID)
		}
	}
	delete(m.threads, postID)
}

// Expanded reports whether the unbounded fetch for the post has completed.
func (m *ThreadManager) Expanded(postID string) bool {
	t, ok := m.threads[postID]
	return ok && t.expand == expandDone
}

// Expanding reports whether the unbounded fetch is in flight.
func (m *ThreadManager) Expanding(postID string) bool {
	t, ok := m.threads[postID]
	return ok && t.expand == expandFetching
}

// beginExpand marks the post as fetching. It returns false if a fetch is
// already running or has completed.
func (m *ThreadManager) beginExpand(postID string) bool {
	t := m.thread(postID)
	if t.expand != expandNone {
		return false
	}
	t.expand = expandFetching
	return true
}

// finishExpand records the outcome of the unbounded fetch. A failed or
// discarded fetch can be started again.
func (m *ThreadManager) finishExpand(postID string, ok bool) {
	t, exists := m.threads[postID]
	if !exists {
		return
	}
	if ok {
		t.expand = expandDone
	} else {
		t.expand = expandNone
	}
}
