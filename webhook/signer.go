package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Signature headers attached to signed deliveries.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
)

// Sign computes the hex HMAC-SHA256 of "{unixTS}.{body}" under secret.
// The timestamp binds the signature to the send time so receivers can
// reject replays.
func Sign(secret string, unixTS int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(unixTS, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature in constant time.
func VerifySignature(secret, signature string, unixTS int64, body []byte) bool {
	expected := Sign(secret, unixTS, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
