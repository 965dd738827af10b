package channel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"pixbot/internal/domain"

	"github.com/slack-go/slack"
)

// Slack implements domain.Messenger over the Slack Web API.
type Slack struct {
	client *slack.Client
	http   *http.Client
	token  string
	botID  string
	logger *slog.Logger
}

// SlackConfig configures the Slack adapter.
type SlackConfig struct {
	BotToken string
	APIURL   string // override for tests, must end with /
	Client   *http.Client
	Logger   *slog.Logger
}

// NewSlack creates the adapter. Call Connect before use to resolve the
// bot's own user id.
func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	opts := []slack.Option{slack.OptionHTTPClient(cfg.Client)}
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	return &Slack{
		client: slack.New(cfg.BotToken, opts...),
		http:   cfg.Client,
		token:  cfg.BotToken,
		logger: cfg.Logger,
	}
}

// Connect resolves the authenticated bot identity.
func (s *Slack) Connect(ctx context.Context) error {
	resp, err := s.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botID = resp.UserID
	s.logger.Info("slack bot connected", "user", resp.User, "user_id", resp.UserID)
	return nil
}

func (s *Slack) BotID() string { return s.botID }

// ThreadRoot fetches the first message of a thread.
func (s *Slack) ThreadRoot(ctx context.Context, channel, threadTS string) (*domain.ThreadMessage, error) {
	msgs, _, _, err := s.client.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID: channel,
		Timestamp: threadTS,
		Limit:     1,
		Inclusive: true,
	})
	if err != nil {
		return nil, fmt.Errorf("thread root %s/%s: %w", channel, threadTS, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("thread root %s/%s: not found", channel, threadTS)
	}
	tm := s.toThreadMessage(msgs[0])
	return &tm, nil
}

// ThreadReplies fetches a thread's messages in chronological order,
// following pagination cursors.
func (s *Slack) ThreadReplies(ctx context.Context, channel, threadTS string) ([]domain.ThreadMessage, error) {
	var out []domain.ThreadMessage
	cursor := ""
	for {
		msgs, hasMore, next, err := s.client.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
			ChannelID: channel,
			Timestamp: threadTS,
			Limit:     200,
			Cursor:    cursor,
			Inclusive: true,
		})
		if err != nil {
			return nil, fmt.Errorf("thread replies %s/%s: %w", channel, threadTS, err)
		}
		for _, m := range msgs {
			out = append(out, s.toThreadMessage(m))
		}
		if !hasMore || next == "" {
			break
		}
		cursor = next
	}
	return out, nil
}

func (s *Slack) toThreadMessage(m slack.Message) domain.ThreadMessage {
	tm := domain.ThreadMessage{
		User:      m.User,
		FromBot:   m.BotID != "" || m.SubType == "bot_message" || (s.botID != "" && m.User == s.botID),
		Text:      m.Text,
		Timestamp: m.Timestamp,
	}
	for _, f := range m.Files {
		tm.Attachments = append(tm.Attachments, domain.Attachment{
			URL:  f.URLPrivate,
			Name: f.Name,
			Mime: f.Mimetype,
		})
	}
	return tm
}

// Download fetches attachment bytes. Slack's url_private links require the
// bot token as a bearer credential.
func (s *Slack) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: http %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	return data, nil
}

// Upload publishes a file with the three-step external upload protocol:
// obtain an upload target, transfer the bytes, then finalize into the
// channel/thread. Any failing step aborts; unfinalized uploads are left
// for the file store to garbage-collect.
func (s *Slack) Upload(ctx context.Context, up domain.Upload) error {
	target, err := s.client.GetUploadURLExternalContext(ctx, slack.GetUploadURLExternalParameters{
		FileName: up.Filename,
		FileSize: len(up.Data),
	})
	if err != nil {
		return fmt.Errorf("get upload url for %s: %w", up.Filename, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", target.UploadURL, bytes.NewReader(up.Data))
	if err != nil {
		return fmt.Errorf("upload request: %w", err)
	}
	if up.Mime != "" {
		req.Header.Set("Content-Type", up.Mime)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload bytes for %s: %w", up.Filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upload bytes for %s: http %d: %s", up.Filename, resp.StatusCode, body)
	}

	_, err = s.client.CompleteUploadExternalContext(ctx, slack.CompleteUploadExternalParameters{
		Files:           []slack.FileSummary{{ID: target.FileID, Title: up.Title}},
		Channel:         up.Channel,
		ThreadTimestamp: up.ThreadTS,
	})
	if err != nil {
		return fmt.Errorf("complete upload for %s: %w", up.Filename, err)
	}

	s.logger.Debug("file uploaded", "file", up.Filename, "channel", up.Channel, "thread", up.ThreadTS)
	return nil
}

// PostMessage posts text, threaded when threadTS is set.
func (s *Slack) PostMessage(ctx context.Context, channel, threadTS, text string) error {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	if _, _, err := s.client.PostMessageContext(ctx, channel, opts...); err != nil {
		return fmt.Errorf("post message to %s: %w", channel, err)
	}
	return nil
}

func (s *Slack) AddReaction(ctx context.Context, name, channel, ts string) error {
	return s.client.AddReactionContext(ctx, name, slack.NewRefToMessage(channel, ts))
}

func (s *Slack) RemoveReaction(ctx context.Context, name, channel, ts string) error {
	return s.client.RemoveReactionContext(ctx, name, slack.NewRefToMessage(channel, ts))
}
