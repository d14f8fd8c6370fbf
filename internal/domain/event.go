package domain

// EventKind is the classification tag of a canonical event.
type EventKind string

const (
	EventCommentCreated      EventKind = "comment-created"
	EventPostArchived        EventKind = "post-archived"
	EventPostDeleted         EventKind = "post-deleted"
	EventNotificationCreated EventKind = "notification-created"
)

// Event is the normalized form of a push payload. Only the fields relevant
// to Kind are set.
type Event struct {
	Kind EventKind

	// Seq is the channel sequence number, zero when the channel sent none.
	Seq int64

	PostID       string
	Comment      *Comment
	Notification *Notification
}
