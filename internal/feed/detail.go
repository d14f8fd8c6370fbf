package feed

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/blackmichael/clipfeed/internal/domain"
	"github.com/blackmichael/clipfeed/internal/push"
)

// DetailView is an open detail surface for one post. It owns a liveness
// flag and a scoped comment handler; both end when it is closed.
type DetailView struct {
	engine *Engine
	postID string

	// Loop-owned.
	alive   bool
	sub     *push.Subscription
	arrived []string
	err     string
}

// PostID returns the post the surface shows.
func (dv *DetailView) PostID() string {
	return dv.postID
}

// OpenDetail opens a detail surface for postID and starts the unbounded
// thread fetch if it has not run yet. For a post that is not loaded, the
// fetch starts once the post arrives.
func (e *Engine) OpenDetail(ctx context.Context, postID string) (*DetailView, error) {
	var (
		dv  *DetailView
		err error
	)
	doErr := e.loop.Do(ctx, func() {
		if !e.alive {
			err = fmt.Errorf("open detail %s: engine closed", postID)
			return
		}
		dv = &DetailView{engine: e, postID: postID, alive: true}
		e.details[dv] = struct{}{}

		if e.ingestor != nil {
			dv.sub = e.ingestor.Subscribe(domain.EventCommentCreated, func(ev domain.Event) {
				if ev.PostID != postID || ev.Comment == nil {
					return
				}
				id := ev.Comment.ID
				e.loop.Post(func() {
					if dv.alive {
						dv.arrived = append(dv.arrived, id)
					}
				})
			})
		}
		if e.channels != nil {
			if jerr := e.channels.Join(push.PostChannel(postID)); jerr != nil {
				e.logger.Warn("failed to join post channel", "post_id", postID, "error", jerr)
			}
		}

		e.expand(postID)
	})
	if doErr != nil {
		return nil, doErr
	}
	return dv, err
}

// Close tears the surface down. It is safe to call more than once.
func (dv *DetailView) Close() {
	e := dv.engine
	e.loop.Post(func() { e.closeDetail(dv) })
}

// Arrived returns the ids of comments pushed for the post while the
// surface was open, oldest first.
func (dv *DetailView) Arrived(ctx context.Context) ([]string, error) {
	var ids []string
	err := dv.engine.loop.Do(ctx, func() {
		ids = append([]string(nil), dv.arrived...)
	})
	return ids, err
}

// View returns the surface's thread.
func (dv *DetailView) View(ctx context.Context) (*ThreadView, error) {
	return dv.engine.Thread(ctx, dv.postID)
}

func (e *Engine) closeDetail(dv *DetailView) {
	if !dv.alive {
		return
	}
	dv.alive = false
	if dv.sub != nil {
		dv.sub.Unsubscribe()
		dv.sub = nil
	}
	delete(e.details, dv)

	if e.channels != nil && !e.detailOpenFor(dv.postID) {
		if err := e.channels.Leave(push.PostChannel(dv.postID)); err != nil {
			e.logger.Warn("failed to leave post channel", "post_id", dv.postID, "error", err)
		}
	}
}

func (e *Engine) detailOpenFor(postID string) bool {
	for other := range e.details {
		if other.postID == postID {
			return true
		}
	}
	return false
}

type expandResult struct {
	top     []domain.Comment
	replies []domain.Comment
}

// expand runs the unbounded fetch of every top-level comment and every
// reply for a post, once per post. The result is applied while any detail
// surface for the post is open, so a reopen or a second surface picks up a
// fetch that is already running.
func (e *Engine) expand(postID string) {
	if !e.vm.has(postID) || !e.vm.threads.beginExpand(postID) {
		return
	}
	e.setDetailError(postID, "")
	pageSize := e.opts.ExpandPageSize
	concurrency := e.opts.ExpandConcurrency

	e.loop.Go(func(ctx context.Context) func() {
		res, err := e.fetchThread(ctx, postID, pageSize, concurrency)
		return func() {
			if !e.alive || !e.detailOpenFor(postID) || !e.vm.has(postID) {
				e.vm.threads.finishExpand(postID, false)
				return
			}
			if err != nil {
				e.vm.threads.finishExpand(postID, false)
				e.setDetailError(postID, err.Error())
				e.logger.Warn("thread expansion failed", "post_id", postID, "error", err)
				return
			}
			for _, c := range res.top {
				e.vm.threads.Ingest(postID, c)
			}
			for _, c := range res.replies {
				e.vm.threads.Ingest(postID, c)
			}
			e.vm.threads.finishExpand(postID, true)
		}
	})
}

// expandOpenDetails starts the expansion of posts that arrived after a
// detail surface for them was opened.
func (e *Engine) expandOpenDetails(postIDs []string) {
	if len(e.details) == 0 {
		return
	}
	for _, id := range postIDs {
		if e.detailOpenFor(id) {
			e.expand(id)
		}
	}
}

func (e *Engine) setDetailError(postID, msg string) {
	for dv := range e.details {
		if dv.postID == postID {
			dv.err = msg
		}
	}
}

func (e *Engine) fetchThread(ctx context.Context, postID string, pageSize, concurrency int) (*expandResult, error) {
	top, err := e.fetchAllComments(ctx, postID, "", pageSize)
	if err != nil {
		return nil, err
	}

	replies := make([][]domain.Comment, len(top))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, c := range top {
		if c.IsReply() {
			continue
		}
		i, c := i, c
		g.Go(func() error {
			rs, err := e.fetchAllComments(gctx, postID, c.ID, pageSize)
			if err != nil {
				return err
			}
			for j := range rs {
				if rs[j].ParentCommentID == "" {
					rs[j].ParentCommentID = c.ID
				}
			}
			replies[i] = rs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &expandResult{top: top}
	for _, rs := range replies {
		res.replies = append(res.replies, rs...)
	}
	return res, nil
}

func (e *Engine) fetchAllComments(ctx context.Context, postID, parentID string, pageSize int) ([]domain.Comment, error) {
	var all []domain.Comment
	for page := 1; page <= maxExpandPages; page++ {
		resp, err := e.api.ListComments(ctx, postID, parentID, page, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, resp.Comments...)
		if !resp.HasNextPage || len(resp.Comments) == 0 {
			break
		}
	}
	return all, nil
}
