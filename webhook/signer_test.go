package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSign(t *testing.T) {
	body := []byte(`{"type":"rule.threshold_crossed","value":61.5}`)
	const secret = "whsec_test"
	const ts = int64(1756464000)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("1756464000."))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, Sign(secret, ts, body))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := Sign("secret", 100, body)

	assert.True(t, VerifySignature("secret", sig, 100, body))
	assert.False(t, VerifySignature("secret", sig, 101, body), "different timestamp")
	assert.False(t, VerifySignature("other", sig, 100, body), "different secret")
	assert.False(t, VerifySignature("secret", sig, 100, []byte(`{"a":2}`)), "different body")
}
