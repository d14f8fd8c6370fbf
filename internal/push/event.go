package push

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/blackmichael/clipfeed/internal/domain"
)

// Push channel event names.
const (
	eventCommentNew      = "comment:new"
	eventPostArchived    = "post:archived"
	eventPostDeleted     = "post:deleted"
	eventNotificationNew = "notification:new"
)

var (
	// ErrMalformed is returned when a payload is missing a required field.
	ErrMalformed = errors.New("malformed push event")

	// ErrUnknownEvent is returned for event names this client does not consume.
	ErrUnknownEvent = errors.New("unknown push event")
)

// envelope is the raw frame delivered over the push channel.
type envelope struct {
	Event string          `json:"event"`
	Seq   int64           `json:"seq,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// commentPayload is the data of a comment:new event.
type commentPayload struct {
	PostID  string          `json:"postId"`
	Comment *domain.Comment `json:"comment"`
}

// postPayload is the data of post:archived and post:deleted events.
type postPayload struct {
	PostID string `json:"postId"`
}

// notificationPayload is the data of a notification:new event.
type notificationPayload struct {
	Notification *domain.Notification `json:"notification"`
}

func decodeEnvelope(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrMalformed)
	}
	return &env, nil
}

// Normalize converts a raw push frame into a canonical event.
func Normalize(data []byte) (domain.Event, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return domain.Event{}, err
	}
	return normalizeEnvelope(env)
}

func normalizeEnvelope(env *envelope) (domain.Event, error) {
	ev := domain.Event{Seq: env.Seq}

	switch env.Event {
	case eventCommentNew:
		var p commentPayload
		if err := unmarshalData(env, &p); err != nil {
			return ev, err
		}
		if p.PostID == "" {
			return ev, fmt.Errorf("%w: %s without postId", ErrMalformed, env.Event)
		}
		if p.Comment == nil || p.Comment.ID == "" {
			return ev, fmt.Errorf("%w: %s without comment id", ErrMalformed, env.Event)
		}
		c := *p.Comment
		c.PostID = p.PostID
		ev.Kind = domain.EventCommentCreated
		ev.PostID = p.PostID
		ev.Comment = &c

	case eventPostArchived, eventPostDeleted:
		var p postPayload
		if err := unmarshalData(env, &p); err != nil {
			return ev, err
		}
		if p.PostID == "" {
			return ev, fmt.Errorf("%w: %s without postId", ErrMalformed, env.Event)
		}
		ev.Kind = domain.EventPostArchived
		if env.Event == eventPostDeleted {
			ev.Kind = domain.EventPostDeleted
		}
		ev.PostID = p.PostID

	case eventNotificationNew:
		var p notificationPayload
		if err := unmarshalData(env, &p); err != nil {
			return ev, err
		}
		if p.Notification == nil || p.Notification.Type == "" {
			return ev, fmt.Errorf("%w: %s without notification type", ErrMalformed, env.Event)
		}
		n := *p.Notification
		ev.Kind = domain.EventNotificationCreated
		ev.PostID = n.PostID
		ev.Notification = &n

	default:
		return ev, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	return ev, nil
}

func unmarshalData(env *envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s without data", ErrMalformed, env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformed, env.Event, err)
	}
	return nil
}
