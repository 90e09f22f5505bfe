package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"hash"
	"strings"
)

// SquareSignatureHeader carries base64(HMAC-SHA256(key, notificationURL+body)).
const SquareSignatureHeader = "x-square-hmacsha256-signature"

// VerifySquareWebhookSignature reports whether signatureHeader matches the raw
// body. An empty key or URL never verifies.
func VerifySquareWebhookSignature(rawBody []byte, signatureHeader, signatureKey, notificationURL string) bool {
	sig := strings.TrimSpace(signatureHeader)
	key := strings.TrimSpace(signatureKey)
	if sig == "" || key == "" || notificationURL == "" {
		return false
	}

	decodedSig, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}

	payload := make([]byte, 0, len(notificationURL)+len(rawBody))
	payload = append(payload, notificationURL...)
	payload = append(payload, rawBody...)
	return verifyHMAC(payload, decodedSig, []byte(key), sha256.New)
}

// SignSquareWebhook produces the header value Square would send.
func SignSquareWebhook(rawBody []byte, signatureKey, notificationURL string) string {
	mac := hmac.New(sha256.New, []byte(signatureKey))
	mac.Write([]byte(notificationURL))
	mac.Write(rawBody)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func verifyHMAC(payload, expectedSig, secret []byte, hashFunc func() hash.Hash) bool {
	mac := hmac.New(hashFunc, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expectedSig)
}
