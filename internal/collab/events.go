package collab

import "context"

type EventType string

const (
	EventChange          EventType = "change"
	EventPresence        EventType = "presence"
	EventCursor          EventType = "cursor"
	EventComment         EventType = "comment"
	EventCommentResolved EventType = "comment_resolved"
	EventMetadata        EventType = "metadata"
	EventDeleted         EventType = "deleted"
)

// Event is published after a request has been applied. Origin identifies the
// connection the request came from, if any, so transports can skip echoing
// it back.
type Event struct {
	Type       EventType
	DocumentID string
	ActorID    string
	Origin     string
	Payload    any
}

// Notifier receives events. Publish is called without any coordinator lock
// held.
type Notifier interface {
	Publish(Event)
}

type originKey struct{}

// WithOrigin tags ctx with the id of the connection issuing a request.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

func originFrom(ctx context.Context) string {
	s, _ := ctx.Value(originKey{}).(string)
	return s
}
