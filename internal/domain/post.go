package domain

import "time"

// Author is the public profile reference embedded in posts, comments and
// notifications.
type Author struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
}

// AttachmentKind identifies which of the mutually exclusive attachment
// shapes a post carries.
type AttachmentKind string

const (
	AttachmentAudio   AttachmentKind = "audio"
	AttachmentProject AttachmentKind = "project"
	AttachmentLink    AttachmentKind = "link"
)

// Attachment is the optional single attachment of a post. Only the fields
// for Kind are populated.
type Attachment struct {
	Kind AttachmentKind `json:"kind"`

	// ClipID references an embedded audio clip (AttachmentAudio).
	ClipID string `json:"clipId,omitempty"`

	// ProjectID references an embedded project (AttachmentProject).
	ProjectID string `json:"projectId,omitempty"`

	// URL, Title and ImageURL describe a link preview (AttachmentLink).
	URL      string `json:"url,omitempty"`
	Title    string `json:"title,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// Valid reports whether exactly the fields for the attachment kind are set.
func (a *Attachment) Valid() bool {
	switch a.Kind {
	case AttachmentAudio:
		return a.ClipID != "" && a.ProjectID == "" && a.URL == ""
	case AttachmentProject:
		return a.ProjectID != "" && a.ClipID == "" && a.URL == ""
	case AttachmentLink:
		return a.URL != "" && a.ClipID == "" && a.ProjectID == ""
	default:
		return false
	}
}

// Stats are the server-authoritative aggregates for a post.
type Stats struct {
	LikesCount    int `json:"likesCount"`
	CommentsCount int `json:"commentsCount"`
}

// Post is a feed entry as returned by the posts API.
type Post struct {
	ID         string      `json:"id"`
	Author     Author      `json:"author"`
	Body       string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`

	// Stats is best effort in list responses; the stats endpoint is
	// authoritative.
	Stats Stats `json:"stats"`

	// Liked is the viewer-scoped like state.
	Liked bool `json:"isLiked"`
}

// PostDraft is the payload for the viewer's own create action.
type PostDraft struct {
	Body       string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Comment is a comment or a one-level reply on a post.
type Comment struct {
	ID     string `json:"id"`
	PostID string `json:"postId"`

	// ParentCommentID is set for replies. A reply's parent is always a
	// top-level comment.
	ParentCommentID string `json:"parentCommentId,omitempty"`

	Author    Author    `json:"author"`
	Body      string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsReply reports whether the comment belongs to a parent comment.
func (c *Comment) IsReply() bool {
	return c.ParentCommentID != ""
}

// Scope selects which posts a snapshot load returns. The zero value is the
// global feed.
type Scope struct {
	AuthorID string `json:"authorId,omitempty"`
	Query    string `json:"query,omitempty"`
}

// IsGlobal reports whether the scope is the unfiltered feed.
func (s Scope) IsGlobal() bool {
	return s.AuthorID == "" && s.Query == ""
}

// PostPage is a page of posts from the posts API.
type PostPage struct {
	Posts      []Post
	TotalPosts int
}

// CommentPage is a page of comments from the comments API.
type CommentPage struct {
	Comments    []Comment
	HasNextPage bool
}
