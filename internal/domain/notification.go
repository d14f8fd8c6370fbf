package domain

import (
	"strconv"
	"time"
)

// Notification is a server notification delivered over the push channel.
type Notification struct {
	// ID may be empty for older notification producers; see Key.
	ID string `json:"id,omitempty"`

	// Type is the classification tag, e.g. "like", "comment", "follow".
	Type string `json:"type"`

	Actor    *Author `json:"actor,omitempty"`
	PostID   string  `json:"postId,omitempty"`
	TargetID string  `json:"targetId,omitempty"`
	Message  string  `json:"message,omitempty"`

	Read      bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// Key returns the dedup key: the identifier when present, otherwise a
// composite of type, actor and timestamp.
func (n *Notification) Key() string {
	if n.ID != "" {
		return n.ID
	}
	actor := ""
	if n.Actor != nil {
		actor = n.Actor.ID
	}
	return n.Type + "|" + actor + "|" + strconv.FormatInt(n.CreatedAt.UnixMilli(), 10)
}
