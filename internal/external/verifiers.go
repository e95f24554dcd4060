package external

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/easyash/trustedby/internal/types"
)

// WebhookVerifier authenticates an inbound webhook body against its
// header-supplied signature.
type WebhookVerifier interface {
	Verify(payload []byte, signature string) error
}

// HMACVerifier verifies hex-encoded HMAC-SHA256 signatures. Both Razorpay
// and Dodo sign the raw request body with a shared secret in this scheme;
// only the header name differs.
type HMACVerifier struct {
	secret types.SecretString
}

func NewHMACVerifier(secret types.SecretString) *HMACVerifier {
	return &HMACVerifier{secret: secret}
}

// Verify recomputes the body signature and compares in constant time.
// Any mismatch, including a malformed or empty signature, is a hard
// rejection: the payload must never reach a handler.
func (v *HMACVerifier) Verify(payload []byte, signature string) error {
	if v.secret.IsEmpty() {
		return types.NewAppError(types.ErrCodeInternalError, "webhook secret is not configured", nil)
	}
	if signature == "" {
		return types.NewAppError(types.ErrCodeAuthSignatureInvalid, "missing webhook signature", nil)
	}

	expected := computeHMAC(payload, v.secret.Unmask())
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return types.NewAppError(types.ErrCodeAuthSignatureInvalid, "webhook signature mismatch", nil)
	}
	return nil
}

// VerifyCheckoutSignature authenticates a Razorpay client-side checkout
// callback: the signature is HMAC-SHA256 over "orderID|paymentID" keyed with
// the API key secret.
func VerifyCheckoutSignature(orderID, paymentID, signature string, keySecret types.SecretString) error {
	if keySecret.IsEmpty() {
		return types.NewAppError(types.ErrCodeInternalError, "provider key secret is not configured", nil)
	}
	if orderID == "" || paymentID == "" || signature == "" {
		return types.NewAppError(types.ErrCodeAuthSignatureInvalid, "incomplete checkout verification payload", nil)
	}

	expected := computeHMAC([]byte(orderID+"|"+paymentID), keySecret.Unmask())
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return types.NewAppError(types.ErrCodeAuthSignatureInvalid, "checkout signature mismatch", nil)
	}
	return nil
}

func computeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

var _ WebhookVerifier = (*HMACVerifier)(nil)
