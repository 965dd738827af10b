package channel

import (
	"encoding/json"
	"fmt"

	"pixbot/internal/domain"
)

// Envelope is the outer JSON shape delivered by the Slack Events API.
type Envelope struct {
	Type      string          `json:"type"` // "url_verification" | "event_callback"
	Challenge string          `json:"challenge,omitempty"`
	EventID   string          `json:"event_id,omitempty"`
	TeamID    string          `json:"team_id,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

type innerEvent struct {
	Type        string      `json:"type"` // "message", "app_mention", ...
	SubType     string      `json:"subtype,omitempty"`
	User        string      `json:"user,omitempty"`
	BotID       string      `json:"bot_id,omitempty"`
	Channel     string      `json:"channel"`
	ChannelType string      `json:"channel_type,omitempty"`
	Text        string      `json:"text"`
	TS          string      `json:"ts"`
	ThreadTS    string      `json:"thread_ts,omitempty"`
	Files       []innerFile `json:"files,omitempty"`
}

type innerFile struct {
	Name       string `json:"name"`
	Mimetype   string `json:"mimetype"`
	URLPrivate string `json:"url_private"`
}

// ParseEnvelope decodes the outer webhook body.
func ParseEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	return &env, nil
}

// DecodeEvent maps the envelope's inner event onto the platform-neutral
// domain type. Message subtypes that edit or delete (rather than post)
// come through as KindOther so the classifier drops them.
func (e *Envelope) DecodeEvent() (domain.Event, error) {
	var in innerEvent
	if err := json.Unmarshal(e.Event, &in); err != nil {
		return domain.Event{}, fmt.Errorf("parse event: %w", err)
	}

	ev := domain.Event{
		ID:          e.EventID,
		Channel:     in.Channel,
		ChannelType: in.ChannelType,
		Timestamp:   in.TS,
		ThreadTS:    in.ThreadTS,
		Text:        in.Text,
		User:        in.User,
		FromBot:     in.BotID != "" || in.SubType == "bot_message",
	}

	switch in.Type {
	case "app_mention":
		ev.Kind = domain.KindAppMention
	case "message":
		switch in.SubType {
		case "", "file_share", "thread_broadcast", "bot_message":
			ev.Kind = domain.KindMessage
		default:
			// message_changed, message_deleted, channel_join, ...
			ev.Kind = domain.KindOther
		}
	default:
		ev.Kind = domain.KindOther
	}

	for _, f := range in.Files {
		ev.Attachments = append(ev.Attachments, domain.Attachment{
			URL:  f.URLPrivate,
			Name: f.Name,
			Mime: f.Mimetype,
		})
	}

	return ev, nil
}
