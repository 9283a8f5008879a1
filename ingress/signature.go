package ingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifySignature checks an HMAC-SHA256 webhook signature header against the
// raw request body. The header may carry a bare hex digest or the
// "sha256=<hex>" prefixed form; comparison is constant time.
func VerifySignature(secret string, body []byte, headerValue string) bool {
	digest := strings.TrimSpace(headerValue)
	digest = strings.TrimPrefix(digest, "sha256=")
	digest = strings.ToLower(digest)
	if len(digest) != sha256.Size*2 || !isHex(digest) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(digest))
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}
