package domain

// EventKind classifies an inbound platform event.
type EventKind string

const (
	KindMessage    EventKind = "message"
	KindAppMention EventKind = "app_mention"
	KindOther      EventKind = "other"
)

// Attachment describes one file attached to a message.
type Attachment struct {
	URL  string
	Name string
	Mime string
}

// Event is the platform-neutral view of one webhook delivery.
type Event struct {
	Kind        EventKind
	ID          string // provider event id, used for redelivery dedup
	Channel     string
	ChannelType string // "im" for direct messages
	Timestamp   string
	ThreadTS    string // thread root timestamp, empty outside threads
	Text        string
	User        string
	FromBot     bool // carries a bot-origin marker (bot_id or bot_message subtype)
	Attachments []Attachment
}

// IsDM reports whether the event happened in a direct-message channel.
func (e Event) IsDM() bool { return e.ChannelType == "im" }

// InThread reports whether the event belongs to a reply chain.
func (e Event) InThread() bool { return e.ThreadTS != "" }

// ReplyTS returns the timestamp replies should thread under: the thread
// root when the event is already in a thread, otherwise the event itself.
func (e Event) ReplyTS() string {
	if e.ThreadTS != "" {
		return e.ThreadTS
	}
	return e.Timestamp
}

// ImageInput is a downloaded image ready for a generative call.
type ImageInput struct {
	Data []byte
	Mime string
}

// GeneratedImage is the output of one generative call. It lives only for
// the duration of a single processing pass.
type GeneratedImage struct {
	Data []byte
	Mime string
}
