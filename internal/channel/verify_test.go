package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"
)

func sign(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", ts, body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature_Valid(t *testing.T) {
	now := time.Unix(1700000000, 0)
	secret := "signing-secret"
	body := []byte(`{"type":"event_callback"}`)
	ts := "1700000000"

	if !VerifySignature(secret, ts, sign(secret, ts, body), body, now) {
		t.Error("valid signature should verify")
	}
}

func TestVerifySignature_WithinWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	secret := "s"
	body := []byte("b")

	for _, offset := range []int64{-300, -1, 0, 1, 300} {
		ts := fmt.Sprintf("%d", now.Unix()+offset)
		if !VerifySignature(secret, ts, sign(secret, ts, body), body, now) {
			t.Errorf("offset %d within window should verify", offset)
		}
	}
	for _, offset := range []int64{-301, 301, -86400, 86400} {
		ts := fmt.Sprintf("%d", now.Unix()+offset)
		if VerifySignature(secret, ts, sign(secret, ts, body), body, now) {
			t.Errorf("offset %d outside window should not verify", offset)
		}
	}
}

func TestVerifySignature_TamperedBody(t *testing.T) {
	now := time.Unix(1700000000, 0)
	secret := "s"
	ts := "1700000000"
	sig := sign(secret, ts, []byte("original"))

	if VerifySignature(secret, ts, sig, []byte("Original"), now) {
		t.Error("tampered body should not verify")
	}
}

func TestVerifySignature_FailsClosed(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte("b")
	valid := sign("s", "1700000000", body)

	tests := []struct {
		name    string
		ts, sig string
	}{
		{"missing timestamp", "", valid},
		{"missing signature", "1700000000", ""},
		{"non-integer timestamp", "yesterday", valid},
		{"wrong-length signature", "1700000000", "v0=dead"},
		{"wrong prefix", "1700000000", "v1" + valid[2:]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if VerifySignature("s", tt.ts, tt.sig, body, now) {
				t.Error("should not verify")
			}
		})
	}
}
