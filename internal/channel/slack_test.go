package channel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pixbot/internal/domain"
)

func TestSlack_Connect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth.test", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true,"user":"pixbot","user_id":"UBOT","team":"t","url":"u"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewSlack(SlackConfig{BotToken: "xoxb-test", APIURL: srv.URL + "/", Logger: testWebhookLogger()})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if s.BotID() != "UBOT" {
		t.Errorf("expected UBOT, got %s", s.BotID())
	}
}

func TestSlack_UploadThreeStep(t *testing.T) {
	var steps []string
	var uploaded []byte
	var completeBody string

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/files.getUploadURLExternal", func(w http.ResponseWriter, r *http.Request) {
		steps = append(steps, "url")
		fmt.Fprintf(w, `{"ok":true,"upload_url":"%s/upload-target","file_id":"F123"}`, srv.URL)
	})
	mux.HandleFunc("/upload-target", func(w http.ResponseWriter, r *http.Request) {
		steps = append(steps, "bytes")
		uploaded, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/files.completeUploadExternal", func(w http.ResponseWriter, r *http.Request) {
		steps = append(steps, "complete")
		b, _ := io.ReadAll(r.Body)
		completeBody = string(b)
		fmt.Fprint(w, `{"ok":true,"files":[{"id":"F123","title":"Edited image"}]}`)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	s := NewSlack(SlackConfig{BotToken: "xoxb-test", APIURL: srv.URL + "/", Logger: testWebhookLogger()})
	err := s.Upload(context.Background(), domain.Upload{
		Channel:  "C1",
		ThreadTS: "100.1",
		Filename: "pixbot-abc.png",
		Title:    "Edited image",
		Mime:     "image/png",
		Data:     []byte("png-bytes"),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if len(steps) != 3 || steps[0] != "url" || steps[1] != "bytes" || steps[2] != "complete" {
		t.Errorf("three-step order violated: %v", steps)
	}
	if string(uploaded) != "png-bytes" {
		t.Errorf("unexpected uploaded bytes: %q", uploaded)
	}
	if !strings.Contains(completeBody, "F123") || !strings.Contains(completeBody, "C1") {
		t.Errorf("finalize should reference file and channel: %s", completeBody)
	}
}

func TestSlack_UploadAbortsOnTransferFailure(t *testing.T) {
	var completed bool

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/files.getUploadURLExternal", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"ok":true,"upload_url":"%s/upload-target","file_id":"F123"}`, srv.URL)
	})
	mux.HandleFunc("/upload-target", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
	})
	mux.HandleFunc("/files.completeUploadExternal", func(w http.ResponseWriter, r *http.Request) {
		completed = true
		fmt.Fprint(w, `{"ok":true}`)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	s := NewSlack(SlackConfig{BotToken: "xoxb-test", APIURL: srv.URL + "/", Logger: testWebhookLogger()})
	err := s.Upload(context.Background(), domain.Upload{Channel: "C1", Filename: "x.png", Data: []byte("y")})
	if err == nil {
		t.Fatal("expected error")
	}
	if completed {
		t.Error("failed transfer must not be finalized")
	}
}

func TestSlack_DownloadSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer xoxb-test" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		fmt.Fprint(w, "image-bytes")
	}))
	defer srv.Close()

	s := NewSlack(SlackConfig{BotToken: "xoxb-test", Logger: testWebhookLogger()})
	data, err := s.Download(context.Background(), srv.URL+"/files/a.png")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if string(data) != "image-bytes" {
		t.Errorf("unexpected bytes: %q", data)
	}
}
