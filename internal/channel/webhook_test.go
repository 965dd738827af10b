package channel

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"pixbot/internal/dedup"
	"pixbot/internal/domain"
)

func testWebhookLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type recordingHandler struct {
	mu     sync.Mutex
	events []domain.Event
	done   chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{done: make(chan struct{}, 16)}
}

func (h *recordingHandler) Handle(ctx context.Context, ev domain.Event) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	h.done <- struct{}{}
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func (h *recordingHandler) wait(t *testing.T) {
	t.Helper()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for background task")
	}
}

const testSecret = "signing-secret"

func newTestWebhook(h EventHandler) *Webhook {
	now := time.Unix(1700000000, 0)
	return NewWebhook(WebhookConfig{
		SigningSecret: testSecret,
		Dedup:         dedup.NewMemoryStore(),
		Handler:       h,
		Logger:        testWebhookLogger(),
		Now:           func() time.Time { return now },
	})
}

func postEvents(w *Webhook, body string, signed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/slack/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signed {
		ts := "1700000000"
		req.Header.Set("X-Slack-Request-Timestamp", ts)
		req.Header.Set("X-Slack-Signature", sign(testSecret, ts, []byte(body)))
	}
	rr := httptest.NewRecorder()
	w.routes().ServeHTTP(rr, req)
	return rr
}

func TestWebhook_ChallengeEcho(t *testing.T) {
	w := newTestWebhook(newRecordingHandler())
	rr := postEvents(w, `{"type":"url_verification","challenge":"xyz"}`, true)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != `{"challenge":"xyz"}` {
		t.Errorf("expected exact challenge echo, got %s", got)
	}
}

func TestWebhook_MissingSignature(t *testing.T) {
	w := newTestWebhook(newRecordingHandler())
	rr := postEvents(w, `{"type":"url_verification","challenge":"xyz"}`, false)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestWebhook_TamperedBody(t *testing.T) {
	w := newTestWebhook(newRecordingHandler())
	body := `{"type":"url_verification","challenge":"xyz"}`
	req := httptest.NewRequest("POST", "/slack/events", strings.NewReader(body))
	ts := "1700000000"
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", sign(testSecret, ts, []byte(body+" ")))
	rr := httptest.NewRecorder()
	w.routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestWebhook_NonPostIsBadRequest(t *testing.T) {
	w := newTestWebhook(newRecordingHandler())
	req := httptest.NewRequest("GET", "/slack/events", nil)
	rr := httptest.NewRecorder()
	w.routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebhook_UnroutablePathIsBadRequest(t *testing.T) {
	w := newTestWebhook(newRecordingHandler())
	req := httptest.NewRequest("POST", "/nope", nil)
	rr := httptest.NewRecorder()
	w.routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebhook_Healthz(t *testing.T) {
	w := newTestWebhook(newRecordingHandler())
	req := httptest.NewRequest("GET", "/healthz", nil)
	rr := httptest.NewRecorder()
	w.routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "ok") {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
}

const messageEventBody = `{
	"type":"event_callback","event_id":"Ev111",
	"event":{"type":"message","user":"U1","channel":"D1","channel_type":"im","text":"hi","ts":"100.1"}
}`

func TestWebhook_DispatchesEvent(t *testing.T) {
	h := newRecordingHandler()
	w := newTestWebhook(h)

	rr := postEvents(w, messageEventBody, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	h.wait(t)
	if h.count() != 1 {
		t.Fatalf("expected 1 dispatched event, got %d", h.count())
	}
}

func TestWebhook_DuplicateEventID(t *testing.T) {
	h := newRecordingHandler()
	w := newTestWebhook(h)

	postEvents(w, messageEventBody, true)
	h.wait(t)

	rr := postEvents(w, messageEventBody, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("duplicate should still be acknowledged, got %d", rr.Code)
	}

	// Give a would-be second task a moment to (incorrectly) run.
	time.Sleep(50 * time.Millisecond)
	if h.count() != 1 {
		t.Errorf("duplicate event id must not dispatch again, got %d", h.count())
	}
}

func TestWebhook_MentionWithAttachmentsSuppressed(t *testing.T) {
	h := newRecordingHandler()
	w := newTestWebhook(h)

	body := `{
		"type":"event_callback","event_id":"Ev222",
		"event":{"type":"app_mention","user":"U1","channel":"C1","text":"<@UBOT> go","ts":"100.2",
			"files":[{"name":"a.png","mimetype":"image/png","url_private":"https://files/a"}]}
	}`
	rr := postEvents(w, body, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	time.Sleep(50 * time.Millisecond)
	if h.count() != 0 {
		t.Errorf("mention carrying attachments should defer to its sibling message event, got %d dispatches", h.count())
	}
}

func TestWebhook_FailsOpenWhenStoreErrors(t *testing.T) {
	h := newRecordingHandler()
	now := time.Unix(1700000000, 0)
	w := NewWebhook(WebhookConfig{
		SigningSecret: testSecret,
		Dedup:         erroringStore{},
		Handler:       h,
		Logger:        testWebhookLogger(),
		Now:           func() time.Time { return now },
	})

	rr := postEvents(w, messageEventBody, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	h.wait(t)
	if h.count() != 1 {
		t.Errorf("store failure must not drop the event, got %d dispatches", h.count())
	}
}

type erroringStore struct{}

func (erroringStore) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, context.DeadlineExceeded
}
func (erroringStore) Close() error { return nil }
