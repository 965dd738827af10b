package pipeline

import (
	"context"
	"strings"

	"pixbot/internal/domain"
)

// collectImages gathers the candidate set for one pass: the event's own
// image attachments, and — when the sanitized prompt is non-empty — the
// most recent bot-authored image in the thread, prepended so it becomes
// the primary input. Candidates are deduplicated by URL preserving
// first-seen order.
func (p *Pipeline) collectImages(ctx context.Context, ev domain.Event, prompt string) []domain.Attachment {
	var candidates []domain.Attachment

	if prompt != "" {
		if prior := p.lastBotImage(ctx, ev); prior != nil {
			candidates = append(candidates, *prior)
		}
	}
	for _, a := range ev.Attachments {
		if strings.HasPrefix(a.Mime, "image/") {
			candidates = append(candidates, a)
		}
	}

	return dedupByURL(candidates)
}

// lastBotImage scans the thread's replies newest-first for a bot-authored
// message carrying an image; within a message, attachments are scanned
// newest-first as well. Best-effort: a fetch failure just means no prior
// image.
func (p *Pipeline) lastBotImage(ctx context.Context, ev domain.Event) *domain.Attachment {
	replies, err := p.messenger.ThreadReplies(ctx, ev.Channel, ev.ReplyTS())
	if err != nil {
		p.logger.Debug("thread replies unavailable, skipping prior image", "channel", ev.Channel, "err", err)
		return nil
	}

	for i := len(replies) - 1; i >= 0; i-- {
		msg := replies[i]
		if !msg.FromBot {
			continue
		}
		for j := len(msg.Attachments) - 1; j >= 0; j-- {
			if strings.HasPrefix(msg.Attachments[j].Mime, "image/") {
				return &msg.Attachments[j]
			}
		}
	}
	return nil
}

func dedupByURL(in []domain.Attachment) []domain.Attachment {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, a := range in {
		if seen[a.URL] {
			continue
		}
		seen[a.URL] = true
		out = append(out, a)
	}
	return out
}
