package notification

import "context"

// Source pulls the current snapshot of candidate entities for one instance.
// Implementations live in infra/source/ and apply their own filtering.
// A failed fetch returns a *common.SourceUnavailableError; sources never retry.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Entity, error)
}

// ChannelSink posts, edits and removes messages in one chat channel.
// Implementations live in infra/chat/.
type ChannelSink interface {
	// Create posts a message for the payload and returns its handle.
	Create(ctx context.Context, p Payload) (string, error)

	// Update edits the message behind handle. It returns common.ErrSinkNotFound
	// when the message was deleted outside the bot.
	Update(ctx context.Context, handle string, p Payload) error

	// Retire deletes the message behind handle.
	Retire(ctx context.Context, handle string) error
}

// DirectSink sends a direct message to a single user.
type DirectSink interface {
	// Deliver returns a *common.SinkDeliveryFailedError when the user cannot
	// be reached; any other error is treated as transient.
	Deliver(ctx context.Context, userID string, p Payload) error
}

// Message is a rendered notification ready for a chat platform.
type Message struct {
	Title       string
	Description string
	Fields      []MessageField
	Color       int
	Footer      string
	Text        string
}

// MessageField is one name/value pair shown in a rendered message.
type MessageField struct {
	Name   string
	Value  string
	Inline bool
}

// Renderer turns a payload into a Message.
// Implementations live in infra/template/.
type Renderer interface {
	Render(p Payload) (*Message, error)
}
