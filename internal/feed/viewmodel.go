package feed

import (
	"github.com/blackmichael/clipfeed/internal/domain"
)

// LikeAggregate is the viewer-scoped like state of a post. Count is
// replaced by every authoritative stats fetch; Liked is only toggled
// locally and never derived from Count.
type LikeAggregate struct {
	Liked bool `json:"liked"`
	Count int  `json:"count"`
}

type postEntry struct {
	post          domain.Post
	likes         LikeAggregate
	commentsCount int
}

// ViewModel is the canonical in-memory feed. It is owned by the Engine and
// mutated only from loop tasks.
type ViewModel struct {
	order   []string
	posts   map[string]*postEntry
	threads *ThreadManager
}

func newViewModel() *ViewModel {
	return &ViewModel{
		posts:   make(map[string]*postEntry),
		threads: NewThreadManager(),
	}
}

// newPostEntry starts the aggregates at zero; only the stats endpoint
// sets them. The viewer's like flag comes from the post itself.
func newPostEntry(p domain.Post) *postEntry {
	return &postEntry{
		post:  p,
		likes: LikeAggregate{Liked: p.Liked},
	}
}

// Len returns the number of posts.
func (vm *ViewModel) Len() int {
	return len(vm.order)
}

func (vm *ViewModel) has(id string) bool {
	_, ok := vm.posts[id]
	return ok
}

func (vm *ViewModel) post(id string) *postEntry {
	return vm.posts[id]
}

// replace swaps the post collection for a first page. Posts present
// before and after keep their like state and comment threads; posts that
// dropped out are garbage collected. It returns every admitted id.
func (vm *ViewModel) replace(posts []domain.Post, admit func(string) bool) []string {
	next := make(map[string]*postEntry, len(posts))
	order := make([]string, 0, len(posts))

	for _, p := range posts {
		if p.ID == "" || !admit(p.ID) {
			continue
		}
		if _, dup := next[p.ID]; dup {
			continue
		}
		if existing, ok := vm.posts[p.ID]; ok {
			existing.post = p
			next[p.ID] = existing
		} else {
			next[p.ID] = newPostEntry(p)
		}
		order = append(order, p.ID)
	}

	for id := range vm.posts {
		if _, kept := next[id]; !kept {
			vm.threads.DropPost(id)
		}
	}

	vm.posts = next
	vm.order = order
	return append([]string(nil), order...)
}

// appendPosts adds a later page, skipping ids already present. It returns
// the ids that were added.
func (vm *ViewModel) appendPosts(posts []domain.Post, admit func(string) bool) []string {
	var added []string
	for _, p := range posts {
		if p.ID == "" || vm.has(p.ID) || !admit(p.ID) {
			continue
		}
		vm.posts[p.ID] = newPostEntry(p)
		vm.order = append(vm.order, p.ID)
		added = append(added, p.ID)
	}
	return added
}

// prepend inserts a post at the head. It returns false if the id is
// already present.
func (vm *ViewModel) prepend(p domain.Post) bool {
	if p.ID == "" || vm.has(p.ID) {
		return false
	}
	vm.posts[p.ID] = newPostEntry(p)
	vm.order = append([]string{p.ID}, vm.order...)
	return true
}

// remove deletes a post and cascades to its like state and comment
// threads. Removing an absent id is a no-op.
func (vm *ViewModel) remove(id string) bool {
	if !vm.has(id) {
		return false
	}
	delete(vm.posts, id)
	for i, other := range vm.order {
		if other == id {
			vm.order = append(vm.order[:i], vm.order[i+1:]...)
			break
		}
	}
	vm.threads.DropPost(id)
	return true
}

// FeedView is a read-only projection of the view model for rendering.
type FeedView struct {
	Scope     domain.Scope `json:"scope"`
	Cursor    Cursor       `json:"cursor"`
	Loading   bool         `json:"loading"`
	LoadError string       `json:"loadError,omitempty"`
	Posts     []PostView   `json:"posts"`
	Mutations []Mutation   `json:"mutations"`
}

// PostView is a post with its reconciled aggregates and inline comments.
type PostView struct {
	Post          domain.Post   `json:"post"`
	Likes         LikeAggregate `json:"likes"`
	CommentsCount int           `json:"commentsCount"`
	Comments      []CommentView `json:"comments"`
}

// CommentView is a top-level comment with the replies shown under it.
type CommentView struct {
	Comment domain.Comment   `json:"comment"`
	Replies []domain.Comment `json:"replies"`
}

// ThreadView is the comment thread of a single post.
type ThreadView struct {
	PostID   string        `json:"postId"`
	Expanded bool          `json:"expanded"`
	Loading  bool          `json:"loading"`
	Error    string        `json:"error,omitempty"`
	Comments []CommentView `json:"comments"`
}

func (vm *ViewModel) postView(id string) PostView {
	e := vm.posts[id]
	p := e.post
	p.Liked = e.likes.Liked
	p.Stats = domain.Stats{LikesCount: e.likes.Count, CommentsCount: e.commentsCount}
	return PostView{
		Post:          p,
		Likes:         e.likes,
		CommentsCount: e.commentsCount,
		Comments:      vm.commentViews(id, false),
	}
}

func (vm *ViewModel) commentViews(postID string, unbounded bool) []CommentView {
	var top []domain.Comment
	if unbounded {
		top = vm.threads.TopLevel(postID)
	} else {
		top = vm.threads.VisibleTopLevel(postID)
	}

	out := make([]CommentView, len(top))
	for i, c := range top {
		var replies []domain.Comment
		if unbounded {
			replies = vm.threads.Replies(c.ID)
		} else {
			replies = vm.threads.VisibleReplies(c.ID)
		}
		out[i] = CommentView{Comment: c, Replies: replies}
	}
	return out
}

func (vm *ViewModel) postViews() []PostView {
	out := make([]PostView, len(vm.order))
	for i, id := range vm.order {
		out[i] = vm.postView(id)
	}
	return out
}
