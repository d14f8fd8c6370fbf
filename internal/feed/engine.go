package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/blackmichael/clipfeed/internal/domain"
	"github.com/blackmichael/clipfeed/internal/push"
)

// Notifier receives notifications for ephemeral display.
type Notifier interface {
	Push(n domain.Notification) bool
}

// ChannelJoiner joins and leaves scoped push channels.
type ChannelJoiner interface {
	Join(channel string) error
	Leave(channel string) error
}

// NotificationError is the notification type used for transient failure
// messages raised by the engine itself.
const NotificationError = "error"

// Options tunes the engine.
type Options struct {
	PageSize int

	// TombstoneTTL is how long a removed post stays suppressed.
	TombstoneTTL time.Duration

	// EnrichCommentLimit is how many top-level comments are fetched with
	// the stats of a newly seen post.
	EnrichCommentLimit int

	// ExpandPageSize is the page size used by the unbounded thread fetch.
	ExpandPageSize int

	// ExpandConcurrency bounds the parallel reply fetches of an expansion.
	ExpandConcurrency int

	MutationHistory int
}

// DefaultOptions returns the options used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		PageSize:           defaultPageSize,
		TombstoneTTL:       defaultTombstoneTTL,
		EnrichCommentLimit: 10,
		ExpandPageSize:     50,
		ExpandConcurrency:  4,
		MutationHistory:    defaultMutationHistory,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PageSize <= 0 {
		o.PageSize = d.PageSize
	}
	if o.TombstoneTTL <= 0 {
		o.TombstoneTTL = d.TombstoneTTL
	}
	if o.EnrichCommentLimit <= 0 {
		o.EnrichCommentLimit = d.EnrichCommentLimit
	}
	if o.ExpandPageSize <= 0 {
		o.ExpandPageSize = d.ExpandPageSize
	}
	if o.ExpandConcurrency <= 0 {
		o.ExpandConcurrency = d.ExpandConcurrency
	}
	if o.MutationHistory <= 0 {
		o.MutationHistory = d.MutationHistory
	}
	return o
}

// maxExpandPages guards the unbounded fetch against a server that never
// reports the last page.
const maxExpandPages = 200

// Engine reconciles snapshot loads, push events and the viewer's
// optimistic mutations into a single ViewModel. Every state change runs on
// the engine's loop in arrival order; network calls run off-loop and their
// results are applied by continuations that first check liveness.
type Engine struct {
	api         domain.FeedAPI
	notifier    Notifier
	tombstoneDB domain.TombstoneRepository
	logger      *slog.Logger
	opts        Options
	loop        *Loop

	// Loop-owned state.
	vm         *ViewModel
	pager      *Pager
	tracker    *MutationTracker
	tombstones *Tombstones
	alive      bool
	loading    bool
	loadErr    string
	retry      *PageRequest
	ingestor   *push.Ingestor
	channels   ChannelJoiner
	subs       []*push.Subscription
	details    map[*DetailView]struct{}
}

// NewEngine creates an engine. notifier and tombstoneDB may be nil.
func NewEngine(api domain.FeedAPI, notifier Notifier, tombstoneDB domain.TombstoneRepository, opts Options, logger *slog.Logger) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		api:         api,
		notifier:    notifier,
		tombstoneDB: tombstoneDB,
		logger:      logger.With("component", "feed"),
		opts:        opts,
		loop:        NewLoop(defaultLoopBuffer),
		vm:          newViewModel(),
		pager:       NewPager(opts.PageSize),
		tracker:     NewMutationTracker(opts.MutationHistory),
		tombstones:  NewTombstones(opts.TombstoneTTL),
		alive:       true,
		details:     make(map[*DetailView]struct{}),
	}
}

// Run processes engine work until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	return e.loop.Run(ctx)
}

// Settle waits until no network continuation is outstanding.
func (e *Engine) Settle(ctx context.Context) error {
	return e.loop.Settle(ctx)
}

// Attach subscribes the engine to the ingestor's canonical events. channels
// may be nil; when set, detail surfaces join the post-scoped channel.
func (e *Engine) Attach(ingestor *push.Ingestor, channels ChannelJoiner) {
	e.loop.Post(func() {
		if !e.alive {
			return
		}
		e.ingestor = ingestor
		e.channels = channels
		for _, kind := range []domain.EventKind{
			domain.EventCommentCreated,
			domain.EventPostArchived,
			domain.EventPostDeleted,
			domain.EventNotificationCreated,
		} {
			e.subs = append(e.subs, ingestor.Subscribe(kind, e.ApplyEvent))
		}
	})
}

// Close tears the engine down: handlers are removed, open detail surfaces
// are closed, and results of outstanding requests are discarded.
func (e *Engine) Close() {
	e.loop.Post(func() {
		if !e.alive {
			return
		}
		e.alive = false
		for _, sub := range e.subs {
			sub.Unsubscribe()
		}
		e.subs = nil
		for dv := range e.details {
			e.closeDetail(dv)
		}
	})
}

// RestoreTombstones loads persisted tombstones into the engine.
func (e *Engine) RestoreTombstones(ctx context.Context) error {
	if e.tombstoneDB == nil {
		return nil
	}
	now := time.Now()
	if _, err := e.tombstoneDB.PurgeTombstones(ctx, now); err != nil {
		e.logger.Warn("failed to purge tombstones", "error", err)
	}
	entries, err := e.tombstoneDB.ActiveTombstones(ctx, now)
	if err != nil {
		return fmt.Errorf("load tombstones: %w", err)
	}
	e.loop.Post(func() { e.tombstones.Restore(entries) })
	e.logger.Info("restored tombstones", "count", len(entries))
	return nil
}

// SetScope switches the feed to scope, loading its first page if it differs
// from the current one.
func (e *Engine) SetScope(scope domain.Scope) {
	e.loop.Post(func() {
		if !e.alive {
			return
		}
		cur := e.pager.Cursor()
		if scope == cur.Scope && (cur.Page > 0 || e.pager.InFlight()) {
			return
		}
		e.loadSnapshot(scope, 1)
	})
}

// LoadSnapshot fetches a page of posts for scope. Page 1 replaces the
// collection; later pages append.
func (e *Engine) LoadSnapshot(scope domain.Scope, page int) {
	e.loop.Post(func() { e.loadSnapshot(scope, page) })
}

// MaybeAdvance loads the next page when the sentinel is visible, no load is
// in flight and more pages exist. Repeated signals while a load is in flight
// are ignored.
func (e *Engine) MaybeAdvance(sentinelVisible bool) {
	e.loop.Post(func() {
		if !e.alive {
			return
		}
		req, ok := e.pager.MaybeAdvance(sentinelVisible)
		if !ok {
			return
		}
		e.startLoad(req)
	})
}

// Retry re-issues the last failed snapshot load.
func (e *Engine) Retry() {
	e.loop.Post(func() {
		if !e.alive || e.retry == nil || e.pager.InFlight() {
			return
		}
		req := *e.retry
		e.loadSnapshot(req.Scope, req.Page)
	})
}

func (e *Engine) loadSnapshot(scope domain.Scope, page int) {
	if !e.alive {
		return
	}
	e.startLoad(e.pager.Begin(scope, page))
}

func (e *Engine) startLoad(req PageRequest) {
	e.loading = true
	e.loadErr = ""
	e.retry = nil
	limit := e.pager.PageSize()

	e.logger.Debug("loading snapshot", "scope", req.Scope, "page", req.Page)
	e.loop.Go(func(ctx context.Context) func() {
		page, err := e.api.ListPosts(ctx, req.Scope, req.Page, limit)
		return func() { e.finishLoad(req, page, err) }
	})
}

func (e *Engine) finishLoad(req PageRequest, page *domain.PostPage, err error) {
	if !e.alive {
		return
	}
	if err != nil {
		if !e.pager.Fail(req) {
			return
		}
		e.loading = false
		e.loadErr = err.Error()
		e.retry = &req
		e.logger.Warn("snapshot load failed", "page", req.Page, "error", err)
		return
	}
	if !e.pager.Complete(req, page.TotalPosts) {
		e.logger.Debug("discarding superseded snapshot", "page", req.Page)
		return
	}
	e.loading = false

	e.tombstones.Sweep()
	var fresh []string
	if req.Page == 1 {
		fresh = e.vm.replace(page.Posts, e.admit)
	} else {
		fresh = e.vm.appendPosts(page.Posts, e.admit)
	}
	e.logger.Debug("snapshot applied", "page", req.Page, "posts", len(page.Posts), "fresh", len(fresh))

	for _, id := range fresh {
		e.enrich(id)
	}
	e.expandOpenDetails(fresh)
}

func (e *Engine) admit(postID string) bool {
	return !e.tombstones.Has(postID)
}

// enrich fetches stats and the first comments of a post. Failures leave
// the post as loaded.
func (e *Engine) enrich(postID string) {
	limit := e.opts.EnrichCommentLimit
	e.loop.Go(func(ctx context.Context) func() {
		var (
			stats    *domain.Stats
			comments *domain.CommentPage
			g        errgroup.Group
		)
		g.Go(func() error {
			s, err := e.api.GetStats(ctx, postID)
			stats = s
			return err
		})
		g.Go(func() error {
			c, err := e.api.ListComments(ctx, postID, "", 1, limit)
			comments = c
			return err
		})
		err := g.Wait()

		return func() {
			if err != nil {
				e.logger.Debug("post enrichment incomplete", "post_id", postID, "error", err)
			}
			entry := e.vm.post(postID)
			if !e.alive || entry == nil {
				return
			}
			if stats != nil {
				e.tracker.reconcileStats(entry, *stats)
			}
			if comments != nil {
				for _, c := range comments.Comments {
					e.vm.threads.Ingest(postID, c)
				}
			}
		}
	})
}

// ApplyEvent applies a canonical push event in arrival order.
func (e *Engine) ApplyEvent(ev domain.Event) {
	e.loop.Post(func() { e.applyEvent(ev) })
}

func (e *Engine) applyEvent(ev domain.Event) {
	if !e.alive {
		return
	}
	switch ev.Kind {
	case domain.EventCommentCreated:
		if ev.Comment == nil {
			return
		}
		entry := e.vm.post(ev.PostID)
		if entry == nil {
			e.logger.Debug("comment for unknown post", "post_id", ev.PostID, "comment_id", ev.Comment.ID)
			return
		}
		if e.vm.threads.Ingest(ev.PostID, *ev.Comment) {
			entry.commentsCount++
		}

	case domain.EventPostArchived, domain.EventPostDeleted:
		e.removePost(ev.PostID)

	case domain.EventNotificationCreated:
		if ev.Notification == nil || e.notifier == nil {
			return
		}
		e.notifier.Push(*ev.Notification)
	}
}

// removePost tombstones and removes a post. Repeating it is a no-op apart
// from refreshing the tombstone.
func (e *Engine) removePost(postID string) {
	exp := e.tombstones.Add(postID)
	if e.vm.remove(postID) {
		e.logger.Debug("post removed", "post_id", postID)
	}
	if e.tombstoneDB == nil {
		return
	}
	e.loop.Go(func(ctx context.Context) func() {
		if err := e.tombstoneDB.SaveTombstone(ctx, postID, exp); err != nil {
			e.logger.Warn("failed to persist tombstone", "post_id", postID, "error", err)
		}
		return nil
	})
}

// ApplyOptimisticMutation routes a viewer action to the tracker.
func (e *Engine) ApplyOptimisticMutation(req MutationRequest) {
	switch req.Kind {
	case MutationLike, MutationUnlike:
		e.setLike(req.PostID, req.Kind)
	case MutationComment:
		e.SubmitComment(req.PostID, req.Body, req.ParentCommentID)
	default:
		e.logger.Warn("unknown mutation kind", "kind", req.Kind)
	}
}

// ToggleLike flips the viewer's like immediately, sends the request, and on
// success replaces the counter with a fresh authoritative value. A failed
// request is not reverted.
func (e *Engine) ToggleLike(postID string) {
	e.setLike(postID, "")
}

// setLike moves the like to the state kind asks for, or toggles it when
// kind is empty. Asking for the state the post is already in is a no-op.
func (e *Engine) setLike(postID string, kind MutationKind) {
	e.loop.Post(func() {
		if !e.alive {
			return
		}
		entry := e.vm.post(postID)
		if entry == nil {
			e.logger.Debug("like for unknown post", "post_id", postID)
			return
		}
		if (kind == MutationLike && entry.likes.Liked) || (kind == MutationUnlike && !entry.likes.Liked) {
			e.logger.Debug("like already in requested state", "post_id", postID, "kind", kind)
			return
		}
		m := e.tracker.toggleLike(entry)

		e.loop.Go(func(ctx context.Context) func() {
			var err error
			if m.Kind == MutationLike {
				err = e.api.LikePost(ctx, postID)
			} else {
				err = e.api.UnlikePost(ctx, postID)
			}
			return func() {
				if !e.alive {
					return
				}
				if err != nil {
					e.tracker.fail(m.ID, err)
					e.logger.Warn("like request failed", "post_id", postID, "kind", m.Kind, "error", err)
					e.notifyError("Couldn't update your like. Please try again.", postID)
					return
				}
				e.tracker.confirm(m.ID)
				e.refreshStats(postID)
			}
		})
	})
}

// refreshStats replaces a post's aggregates with the server's values.
func (e *Engine) refreshStats(postID string) {
	e.loop.Go(func(ctx context.Context) func() {
		stats, err := e.api.GetStats(ctx, postID)
		return func() {
			if err != nil {
				e.logger.Debug("stats refresh failed", "post_id", postID, "error", err)
				return
			}
			entry := e.vm.post(postID)
			if !e.alive || entry == nil {
				return
			}
			e.tracker.reconcileStats(entry, *stats)
		}
	})
}

// SubmitComment sends a comment or reply. The comment is not inserted
// locally; it is ingested when the push channel echoes it.
func (e *Engine) SubmitComment(postID, body, parentCommentID string) {
	e.loop.Post(func() {
		if !e.alive {
			return
		}
		body := strings.TrimSpace(body)
		if body == "" {
			e.notifyError("Comments can't be empty.", postID)
			return
		}
		m := e.tracker.beginComment(postID, parentCommentID)

		e.loop.Go(func(ctx context.Context) func() {
			err := e.api.CreateComment(ctx, postID, body, parentCommentID)
			return func() {
				if !e.alive {
					return
				}
				if err != nil {
					e.tracker.fail(m.ID, err)
					e.logger.Warn("comment submit failed", "post_id", postID, "error", err)
					e.notifyError("Couldn't post your comment. Please try again.", postID)
					return
				}
				e.tracker.confirm(m.ID)
			}
		})
	})
}

// DeleteComment deletes one of the viewer's comments and removes it once
// the server confirms.
func (e *Engine) DeleteComment(postID, commentID string) {
	e.loop.Post(func() {
		if !e.alive {
			return
		}
		e.loop.Go(func(ctx context.Context) func() {
			err := e.api.DeleteComment(ctx, postID, commentID)
			return func() {
				if !e.alive {
					return
				}
				if err != nil {
					e.logger.Warn("comment delete failed", "post_id", postID, "comment_id", commentID, "error", err)
					e.notifyError("Couldn't delete your comment. Please try again.", postID)
					return
				}
				e.removeComment(postID, commentID)
			}
		})
	})
}

// removeComment drops a comment from its thread and decrements the
// post's comment count by one.
func (e *Engine) removeComment(postID, commentID string) {
	if !e.vm.threads.Remove(postID, commentID) {
		return
	}
	if entry := e.vm.post(postID); entry != nil && entry.commentsCount > 0 {
		entry.commentsCount--
	}
}

// CreatePost publishes a post and inserts it at the head of the feed.
func (e *Engine) CreatePost(draft domain.PostDraft) {
	e.loop.Post(func() {
		if !e.alive {
			return
		}
		e.loop.Go(func(ctx context.Context) func() {
			post, err := e.api.CreatePost(ctx, draft)
			return func() {
				if !e.alive {
					return
				}
				if err != nil {
					e.logger.Warn("create post failed", "error", err)
					e.notifyError("Couldn't publish your post. Please try again.", "")
					return
				}
				if e.tombstones.Has(post.ID) {
					return
				}
				if e.vm.prepend(*post) {
					e.expandOpenDetails([]string{post.ID})
				}
			}
		})
	})
}

// ArchivePost archives one of the viewer's posts.
func (e *Engine) ArchivePost(postID string) {
	e.removeOwnPost(postID, e.api.ArchivePost, "archive")
}

// DeletePost permanently deletes one of the viewer's posts.
func (e *Engine) DeletePost(postID string) {
	e.removeOwnPost(postID, e.api.DeletePost, "delete")
}

func (e *Engine) removeOwnPost(postID string, call func(context.Context, string) error, verb string) {
	e.loop.Post(func() {
		if !e.alive {
			return
		}
		e.loop.Go(func(ctx context.Context) func() {
			err := call(ctx, postID)
			return func() {
				if !e.alive {
					return
				}
				if err != nil {
					e.logger.Warn(verb+" post failed", "post_id", postID, "error", err)
					e.notifyError(fmt.Sprintf("Couldn't %s your post. Please try again.", verb), postID)
					return
				}
				e.removePost(postID)
			}
		})
	})
}

func (e *Engine) notifyError(message, postID string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Push(domain.Notification{
		ID:        uuid.NewString(),
		Type:      NotificationError,
		PostID:    postID,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	})
}

// View returns a snapshot of the feed for rendering.
func (e *Engine) View(ctx context.Context) (*FeedView, error) {
	var view *FeedView
	err := e.loop.Do(ctx, func() {
		cursor := e.pager.Cursor()
		view = &FeedView{
			Scope:     cursor.Scope,
			Cursor:    cursor,
			Loading:   e.loading,
			LoadError: e.loadErr,
			Posts:     e.vm.postViews(),
			Mutations: e.tracker.Recent(),
		}
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Thread returns the comment thread of a post: the inline subset, or every
// known comment once the thread has been expanded.
func (e *Engine) Thread(ctx context.Context, postID string) (*ThreadView, error) {
	var view *ThreadView
	err := e.loop.Do(ctx, func() {
		view = e.threadView(postID)
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (e *Engine) threadView(postID string) *ThreadView {
	expanded := e.vm.threads.Expanded(postID)
	view := &ThreadView{
		PostID:   postID,
		Expanded: expanded,
		Loading:  e.vm.threads.Expanding(postID),
		Comments: e.vm.commentViews(postID, expanded),
	}
	for dv := range e.details {
		if dv.postID == postID && dv.err != "" {
			view.Error = dv.err
		}
	}
	return view
}
