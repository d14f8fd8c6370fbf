package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/blackmichael/clipfeed/internal/domain"
)

const defaultBaseURL = "http://localhost:8080/api"

// Error is returned for non-2xx responses.
type Error struct {
	Status int
	Body   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.Status, e.Body)
}

// Client is a minimal JSON client for the clip feed request/response API.
// It implements domain.FeedAPI.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

var _ domain.FeedAPI = (*Client)(nil)

// NewClient creates a new API client. If baseURL is empty, it defaults to
// a local development server. token is sent as a bearer token when set.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type listPostsResponse struct {
	Posts      []domain.Post `json:"posts"`
	Pagination struct {
		TotalPosts int `json:"totalPosts"`
	} `json:"pagination"`
}

// ListPosts fetches a page of posts for the scope.
func (c *Client) ListPosts(ctx context.Context, scope domain.Scope, page, limit int) (*domain.PostPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	if scope.AuthorID != "" {
		q.Set("author", scope.AuthorID)
	}
	if scope.Query != "" {
		q.Set("q", scope.Query)
	}

	var resp listPostsResponse
	if err := c.do(ctx, http.MethodGet, "/posts?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return &domain.PostPage{
		Posts:      resp.Posts,
		TotalPosts: resp.Pagination.TotalPosts,
	}, nil
}

// GetStats fetches the authoritative like and comment counts for a post.
func (c *Client) GetStats(ctx context.Context, postID string) (*domain.Stats, error) {
	var stats domain.Stats
	if err := c.do(ctx, http.MethodGet, "/posts/"+url.PathEscape(postID)+"/stats", nil, &stats); err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return &stats, nil
}

type listCommentsResponse struct {
	Comments   []domain.Comment `json:"comments"`
	Pagination struct {
		HasNextPage bool `json:"hasNextPage"`
	} `json:"pagination"`
}

// ListComments fetches a page of top-level comments, or replies to
// parentCommentID when it is set.
func (c *Client) ListComments(ctx context.Context, postID, parentCommentID string, page, limit int) (*domain.CommentPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	if parentCommentID != "" {
		q.Set("parentCommentId", parentCommentID)
	}

	var resp listCommentsResponse
	if err := c.do(ctx, http.MethodGet, "/posts/"+url.PathEscape(postID)+"/comments?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}

	// Some deployments omit postId on nested comment payloads.
	for i := range resp.Comments {
		if resp.Comments[i].PostID == "" {
			resp.Comments[i].PostID = postID
		}
	}
	return &domain.CommentPage{
		Comments:    resp.Comments,
		HasNextPage: resp.Pagination.HasNextPage,
	}, nil
}

// LikePost likes a post as the viewer.
func (c *Client) LikePost(ctx context.Context, postID string) error {
	if err := c.do(ctx, http.MethodPost, "/posts/"+url.PathEscape(postID)+"/like", nil, nil); err != nil {
		return fmt.Errorf("like post: %w", err)
	}
	return nil
}

// UnlikePost removes the viewer's like.
func (c *Client) UnlikePost(ctx context.Context, postID string) error {
	if err := c.do(ctx, http.MethodDelete, "/posts/"+url.PathEscape(postID)+"/like", nil, nil); err != nil {
		return fmt.Errorf("unlike post: %w", err)
	}
	return nil
}

type createCommentRequest struct {
	Comment         string `json:"comment"`
	ParentCommentID string `json:"parentCommentId,omitempty"`
}

// CreateComment submits a comment or reply.
func (c *Client) CreateComment(ctx context.Context, postID, body, parentCommentID string) error {
	req := createCommentRequest{Comment: body, ParentCommentID: parentCommentID}
	if err := c.do(ctx, http.MethodPost, "/posts/"+url.PathEscape(postID)+"/comments", req, nil); err != nil {
		return fmt.Errorf("create comment: %w", err)
	}
	return nil
}

// DeleteComment deletes one of the viewer's comments.
func (c *Client) DeleteComment(ctx context.Context, postID, commentID string) error {
	path := "/posts/" + url.PathEscape(postID) + "/comments/" + url.PathEscape(commentID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

type createPostResponse struct {
	Post domain.Post `json:"post"`
}

// CreatePost publishes a post as the viewer and returns it.
func (c *Client) CreatePost(ctx context.Context, draft domain.PostDraft) (*domain.Post, error) {
	if draft.Attachment != nil && !draft.Attachment.Valid() {
		return nil, fmt.Errorf("create post: invalid %q attachment", draft.Attachment.Kind)
	}

	var resp createPostResponse
	if err := c.do(ctx, http.MethodPost, "/posts", draft, &resp); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	return &resp.Post, nil
}

// ArchivePost archives one of the viewer's posts.
func (c *Client) ArchivePost(ctx context.Context, postID string) error {
	if err := c.do(ctx, http.MethodPatch, "/posts/"+url.PathEscape(postID)+"/archive", nil, nil); err != nil {
		return fmt.Errorf("archive post: %w", err)
	}
	return nil
}

// DeletePost permanently deletes one of the viewer's posts.
func (c *Client) DeletePost(ctx context.Context, postID string) error {
	if err := c.do(ctx, http.MethodDelete, "/posts/"+url.PathEscape(postID), nil, nil); err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, result any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Status: resp.StatusCode, Body: string(respBody)}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
