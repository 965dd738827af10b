// Package pipeline runs one admitted webhook event end to end: classify,
// collect images, prepare the prompt, generate, publish. Every step is a
// sequential call inside a single background task; failures are logged
// and converted into a best-effort in-thread notification, never
// propagated past the task.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pixbot/internal/domain"
	"pixbot/internal/metrics"
	"pixbot/internal/provider"

	"github.com/google/uuid"
)

const noImageGuidance = "I need an image to work with. Attach one to your message, or reply in a thread where I already posted one, and tell me what to change."

// Pipeline processes admitted events.
type Pipeline struct {
	messenger   domain.Messenger
	generator   domain.Generator
	dedup       domain.DedupStore
	dedupTTL    time.Duration
	reaction    string // processing marker emoji, empty disables
	debugUpload bool
	logger      *slog.Logger
}

type Config struct {
	Messenger   domain.Messenger
	Generator   domain.Generator
	Dedup       domain.DedupStore
	DedupTTL    time.Duration
	Reaction    string
	DebugUpload bool
	Logger      *slog.Logger
}

func New(cfg Config) *Pipeline {
	if cfg.DedupTTL == 0 {
		cfg.DedupTTL = domain.DedupTTL
	}
	return &Pipeline{
		messenger:   cfg.Messenger,
		generator:   cfg.Generator,
		dedup:       cfg.Dedup,
		dedupTTL:    cfg.DedupTTL,
		reaction:    cfg.Reaction,
		debugUpload: cfg.DebugUpload,
		logger:      cfg.Logger,
	}
}

// Handle runs one event through the pipeline. It never returns an error;
// the webhook response was already sent before this task started.
func (p *Pipeline) Handle(ctx context.Context, ev domain.Event) {
	corr := uuid.NewString()
	log := p.logger.With("corr", corr, "channel", ev.Channel, "ts", ev.Timestamp)

	ok, err := p.shouldProcess(ctx, ev)
	if err != nil {
		log.Warn("classification failed, skipping event", "err", err)
		return
	}
	if !ok {
		log.Debug("event not applicable")
		return
	}

	// Phase two: the same physical post can arrive as both a message and
	// an app_mention event; only one of them may publish. Store errors
	// fail open.
	seen, err := p.dedup.Seen(ctx, domain.PostKey(ev.Channel, ev.Timestamp), p.dedupTTL)
	if err != nil {
		log.Warn("dedup store unavailable, processing anyway", "err", err)
	} else if seen {
		metrics.DuplicatesTotal.Inc()
		log.Debug("post already claimed by a sibling event")
		return
	}

	metrics.ProcessedTotal.Inc()
	log.Info("processing event", "kind", ev.Kind, "attachments", len(ev.Attachments))

	if p.reaction != "" {
		if err := p.messenger.AddReaction(ctx, p.reaction, ev.Channel, ev.Timestamp); err != nil {
			log.Debug("add reaction failed", "err", err)
		}
		defer func() {
			if err := p.messenger.RemoveReaction(ctx, p.reaction, ev.Channel, ev.Timestamp); err != nil {
				log.Debug("remove reaction failed", "err", err)
			}
		}()
	}

	sanitized := sanitizePrompt(ev.Text, p.messenger.BotID())
	candidates := p.collectImages(ctx, ev, sanitized)
	if len(candidates) == 0 {
		log.Info("no usable image, posting guidance")
		p.notify(ctx, ev, noImageGuidance)
		return
	}

	images := make([]domain.ImageInput, 0, len(candidates))
	for _, c := range candidates {
		data, err := p.messenger.Download(ctx, c.URL)
		if err != nil {
			log.Error("attachment download failed", "url", c.URL, "err", err)
			p.notify(ctx, ev, fmt.Sprintf("Sorry, I couldn't fetch an attached image. (ref %s)", shortCorr(corr)))
			return
		}
		images = append(images, domain.ImageInput{Data: data, Mime: c.Mime})
	}

	prompt := enforceImageOnly(sanitized)

	start := time.Now()
	out, err := p.generator.Generate(ctx, images, prompt)
	metrics.GenerateLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GenerateFailures.Inc()
		log.Error("generation failed", "err", err)
		p.notify(ctx, ev, fmt.Sprintf("Sorry, I couldn't generate an image this time. (ref %s)", shortCorr(corr)))
		p.uploadDebugArtifact(ctx, ev, corr, err)
		return
	}

	up := domain.Upload{
		Channel:  ev.Channel,
		ThreadTS: ev.ReplyTS(),
		Filename: fmt.Sprintf("pixbot-%s%s", shortCorr(corr), mimeExt(out.Mime)),
		Title:    "Edited image",
		Mime:     out.Mime,
		Data:     out.Data,
	}
	if err := p.messenger.Upload(ctx, up); err != nil {
		metrics.PublishFailures.Inc()
		log.Error("publish failed", "file", up.Filename, "err", err)
		p.notify(ctx, ev, fmt.Sprintf("Sorry, I couldn't upload the result. (ref %s)", shortCorr(corr)))
		return
	}

	metrics.PublishesTotal.Inc()
	log.Info("image published", "file", up.Filename, "bytes", len(out.Data))
}

// notify posts a user-visible message into the originating thread.
// Best-effort; a failure here is only logged.
func (p *Pipeline) notify(ctx context.Context, ev domain.Event, text string) {
	if err := p.messenger.PostMessage(ctx, ev.Channel, ev.ReplyTS(), text); err != nil {
		p.logger.Error("notify failed", "channel", ev.Channel, "err", err)
	}
}

// uploadDebugArtifact publishes the provider's raw response into the
// thread when the debug toggle is on, so failures can be diagnosed
// without server access.
func (p *Pipeline) uploadDebugArtifact(ctx context.Context, ev domain.Event, corr string, genErr error) {
	if !p.debugUpload {
		return
	}
	var diag *provider.GenerateError
	if !errors.As(genErr, &diag) || len(diag.RawBody) == 0 {
		return
	}
	up := domain.Upload{
		Channel:  ev.Channel,
		ThreadTS: ev.ReplyTS(),
		Filename: fmt.Sprintf("pixbot-debug-%s.json", shortCorr(corr)),
		Title:    "Provider response",
		Mime:     "application/json",
		Data:     diag.RawBody,
	}
	if err := p.messenger.Upload(ctx, up); err != nil {
		p.logger.Warn("debug artifact upload failed", "err", err)
	}
}

func shortCorr(corr string) string {
	if len(corr) > 8 {
		return corr[:8]
	}
	return corr
}

func mimeExt(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".bin"
	}
}
