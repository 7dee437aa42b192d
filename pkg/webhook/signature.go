package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Sign computes the HMAC-SHA256 signature of a delivery's signed content —
// "{timestamp}.{canonicalPayload}" — under the webhook's secret (§4.5).
// The timestamp is a Unix-seconds string, matching what X-Webhook-Timestamp
// carries so a recipient can reconstruct the same signed content.
func Sign(secret string, timestamp int64, payload []byte) string {
	signedContent := signedContent(timestamp, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(signedContent)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches payload at timestamp under
// secret — the recipient half of the signing contract. The comparison is
// constant-time (hmac.Equal), so verification does not leak how many
// leading signature bytes matched.
func Verify(secret string, timestamp int64, payload []byte, signature string) bool {
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(signedContent(timestamp, payload))
	return hmac.Equal(provided, mac.Sum(nil))
}

func signedContent(timestamp int64, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+21)
	out = append(out, strconv.FormatInt(timestamp, 10)...)
	out = append(out, '.')
	out = append(out, payload...)
	return out
}
