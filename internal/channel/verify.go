package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// signatureWindow is the replay-rejection window for request timestamps.
const signatureWindow = 300 * time.Second

// VerifySignature checks a webhook request's authenticity: the signature
// header must equal "v0=" + hex(HMAC-SHA256(secret, "v0:"+ts+":"+body))
// and the timestamp must be within the replay window. Fails closed: any
// missing header, malformed timestamp, or mismatch yields false.
func VerifySignature(secret, tsHeader, sigHeader string, body []byte, now time.Time) bool {
	if tsHeader == "" || sigHeader == "" {
		return false
	}

	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return false
	}
	drift := now.Unix() - ts
	if drift < 0 {
		drift = -drift
	}
	if drift > int64(signatureWindow.Seconds()) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + tsHeader + ":"))
	mac.Write(body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

	// Length mismatch is an immediate false; equal lengths compare in
	// constant time.
	if len(expected) != len(sigHeader) {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(sigHeader))
}
