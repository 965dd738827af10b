package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pixbot/internal/domain"
	"pixbot/internal/metrics"
)

// EventHandler consumes one admitted event in the background.
type EventHandler interface {
	Handle(ctx context.Context, ev domain.Event)
}

// WebhookConfig configures the events webhook server.
type WebhookConfig struct {
	Host          string
	Port          int
	EventsPath    string // default: /slack/events
	SigningSecret string
	Dedup         domain.DedupStore
	DedupTTL      time.Duration
	Handler       EventHandler
	Logger        *slog.Logger
	ServeMetrics  bool
	Now           func() time.Time // test clock, defaults to time.Now
}

// Webhook accepts Slack Events API deliveries, admits them through
// signature verification and first-phase deduplication, and hands each
// admitted event to a background task. The HTTP response never waits on
// processing.
type Webhook struct {
	host          string
	port          int
	eventsPath    string
	signingSecret string
	dedup         domain.DedupStore
	dedupTTL      time.Duration
	handler       EventHandler
	logger        *slog.Logger
	serveMetrics  bool
	now           func() time.Time
	server        *http.Server
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.EventsPath == "" {
		cfg.EventsPath = "/slack/events"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.DedupTTL == 0 {
		cfg.DedupTTL = domain.DedupTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Webhook{
		host:          cfg.Host,
		port:          cfg.Port,
		eventsPath:    cfg.EventsPath,
		signingSecret: cfg.SigningSecret,
		dedup:         cfg.Dedup,
		dedupTTL:      cfg.DedupTTL,
		handler:       cfg.Handler,
		logger:        cfg.Logger,
		serveMetrics:  cfg.ServeMetrics,
		now:           cfg.Now,
	}
}

// Start runs the HTTP server until ctx is done.
func (w *Webhook) Start(ctx context.Context) error {
	w.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", w.host, w.port),
		Handler:           w.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook server starting", "addr", w.server.Addr, "path", w.eventsPath)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (w *Webhook) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", w.handleHealthz)
	mux.HandleFunc(w.eventsPath, w.recoverable(w.handleEvents))
	if w.serveMetrics {
		mux.HandleFunc("/metrics", metrics.Collector.Handler())
	}
	// Anything unroutable is a bad request, not a 404.
	mux.HandleFunc("/", func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
	})
	return mux
}

// recoverable converts handler panics into a 500 instead of killing the
// connection; nothing below the handler is allowed to escape.
func (w *Webhook) recoverable(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				w.logger.Error("handler panic", "path", r.URL.Path, "panic", rec)
				http.Error(rw, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next(rw, r)
	}
}

func (w *Webhook) handleHealthz(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	rw.Write([]byte(`{"status":"ok"}`))
}

func (w *Webhook) handleEvents(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB max
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	// The signature covers the raw body exactly as delivered.
	if !VerifySignature(
		w.signingSecret,
		r.Header.Get("X-Slack-Request-Timestamp"),
		r.Header.Get("X-Slack-Signature"),
		body,
		w.now(),
	) {
		w.logger.Warn("signature verification failed", "remote", r.RemoteAddr)
		http.Error(rw, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// Form-encoded deliveries wrap the JSON in a payload field.
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		values, err := url.ParseQuery(string(body))
		if err != nil || values.Get("payload") == "" {
			http.Error(rw, "Bad Request", http.StatusBadRequest)
			return
		}
		body = []byte(values.Get("payload"))
	}

	env, err := ParseEnvelope(body)
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}

	switch env.Type {
	case "url_verification":
		rw.Header().Set("Content-Type", "application/json")
		resp, _ := json.Marshal(map[string]string{"challenge": env.Challenge})
		rw.Write(resp)
		return

	case "event_callback":
		metrics.EventsTotal.Inc()
		w.admit(env)
		rw.WriteHeader(http.StatusOK)
		return

	default:
		// Unknown envelope types are acknowledged and ignored.
		rw.WriteHeader(http.StatusOK)
		return
	}
}

// admit runs first-phase dedup and the mention-suppression rule, then
// hands the event to a background task. Never blocks the response.
func (w *Webhook) admit(env *Envelope) {
	ev, err := env.DecodeEvent()
	if err != nil {
		w.logger.Warn("undecodable event, ignoring", "event_id", env.EventID, "err", err)
		return
	}

	// Phase one: the provider redelivers events it believes we missed.
	// A store error fails open; a possible duplicate beats a lost event.
	if ev.ID != "" {
		seen, err := w.dedup.Seen(context.Background(), domain.EventKey(ev.ID), w.dedupTTL)
		if err != nil {
			w.logger.Warn("dedup store unavailable, processing anyway", "event_id", ev.ID, "err", err)
		} else if seen {
			metrics.DuplicatesTotal.Inc()
			w.logger.Debug("duplicate delivery suppressed", "event_id", ev.ID)
			return
		}
	}

	// A mention that carries attachments also arrives as a message event
	// for the same post; keep the message event so one post publishes once.
	if ev.Kind == domain.KindAppMention && len(ev.Attachments) > 0 {
		w.logger.Debug("mention with attachments suppressed in favor of sibling message event",
			"channel", ev.Channel, "ts", ev.Timestamp)
		return
	}

	metrics.TasksInFlight.Inc()
	go func() {
		defer metrics.TasksInFlight.Dec()
		defer func() {
			if rec := recover(); rec != nil {
				w.logger.Error("event task panic", "event_id", ev.ID, "panic", rec)
			}
		}()
		w.handler.Handle(context.Background(), ev)
	}()
}
