package domain

import "context"

// ThreadMessage is one message inside a reply chain.
type ThreadMessage struct {
	User        string
	FromBot     bool
	Text        string
	Timestamp   string
	Attachments []Attachment
}

// Upload is one file publish request.
type Upload struct {
	Channel  string
	ThreadTS string
	Filename string
	Title    string
	Mime     string
	Data     []byte
}

// Messenger is the capability surface of the chat platform. The webhook
// pipeline depends on this interface so tests can substitute a fake.
type Messenger interface {
	// BotID returns the authenticated bot user id, empty when unknown.
	BotID() string
	// ThreadRoot fetches the first message of a thread.
	ThreadRoot(ctx context.Context, channel, threadTS string) (*ThreadMessage, error)
	// ThreadReplies fetches a thread's messages in chronological order.
	ThreadReplies(ctx context.Context, channel, threadTS string) ([]ThreadMessage, error)
	// Download fetches the bytes behind an attachment URL.
	Download(ctx context.Context, url string) ([]byte, error)
	// Upload publishes a file into a channel (and thread, when set).
	Upload(ctx context.Context, up Upload) error
	// PostMessage posts text into a channel, threaded when threadTS is set.
	PostMessage(ctx context.Context, channel, threadTS, text string) error
	// AddReaction and RemoveReaction toggle the processing marker.
	AddReaction(ctx context.Context, name, channel, ts string) error
	RemoveReaction(ctx context.Context, name, channel, ts string) error
}
