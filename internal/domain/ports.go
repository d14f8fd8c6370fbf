package domain

import (
	"context"
	"time"
)

// FeedAPI is the request/response API the engine reads snapshots from and
// sends the viewer's mutations to.
type FeedAPI interface {
	// ListPosts returns a 1-based page of posts for the scope.
	ListPosts(ctx context.Context, scope Scope, page, limit int) (*PostPage, error)

	// GetStats returns the authoritative aggregates for a post.
	GetStats(ctx context.Context, postID string) (*Stats, error)

	// ListComments returns a page of top-level comments, or of replies when
	// parentCommentID is set.
	ListComments(ctx context.Context, postID, parentCommentID string, page, limit int) (*CommentPage, error)

	LikePost(ctx context.Context, postID string) error
	UnlikePost(ctx context.Context, postID string) error

	// CreateComment submits a comment. The created comment is delivered back
	// over the push channel.
	CreateComment(ctx context.Context, postID, body, parentCommentID string) error
	DeleteComment(ctx context.Context, postID, commentID string) error

	CreatePost(ctx context.Context, draft PostDraft) (*Post, error)
	ArchivePost(ctx context.Context, postID string) error
	DeletePost(ctx context.Context, postID string) error
}

// CursorRepository defines persistence operations for push channel cursors.
type CursorRepository interface {
	// GetCursor retrieves the last-processed push sequence for the given
	// channel name. Returns 0 if no cursor has been saved.
	GetCursor(ctx context.Context, channel string) (int64, error)

	// UpdateCursor persists the push sequence so we can resume on restart.
	UpdateCursor(ctx context.Context, channel string, cursor int64) error
}

// TombstoneRepository persists removed post ids so a restarted session
// keeps suppressing them until they expire.
type TombstoneRepository interface {
	SaveTombstone(ctx context.Context, postID string, expiresAt time.Time) error

	// ActiveTombstones returns tombstones that expire after now, keyed by
	// post id.
	ActiveTombstones(ctx context.Context, now time.Time) (map[string]time.Time, error)

	// PurgeTombstones removes tombstones that expired before now.
	PurgeTombstones(ctx context.Context, now time.Time) (int64, error)
}
