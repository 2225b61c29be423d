package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// PaddleSignatureHeader is the request header carrying the webhook signature.
const PaddleSignatureHeader = "Paddle-Signature"

// VerifyPaddleWebhookSignature reports whether signatureHeader is a valid
// HMAC-SHA256 of payload under webhookSecret. payload must be the raw request
// body exactly as received.
//
// Two header formats are accepted: the plain base64 digest of the body, and
// Paddle Billing's "ts=<unix>;h1=<hex>" form signed over "<ts>:<body>".
func VerifyPaddleWebhookSignature(payload []byte, signatureHeader, webhookSecret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" || strings.TrimSpace(webhookSecret) == "" {
		return false
	}
	secret := []byte(webhookSecret)

	if ts, h1 := parsePaddleSignatureHeader(sig); ts != "" && len(h1) > 0 {
		signed := make([]byte, 0, len(ts)+1+len(payload))
		signed = append(signed, ts...)
		signed = append(signed, ':')
		signed = append(signed, payload...)
		expected := computeHMAC(signed, secret)
		for _, candidate := range h1 {
			decoded, err := hex.DecodeString(candidate)
			if err != nil {
				continue
			}
			if hmac.Equal(expected, decoded) {
				return true
			}
		}
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(computeHMAC(payload, secret), decoded)
}

// CheckPaddleWebhookSignature is VerifyPaddleWebhookSignature reporting a
// rejection as ErrSignatureInvalid.
func CheckPaddleWebhookSignature(payload []byte, signatureHeader, webhookSecret string) error {
	if strings.TrimSpace(signatureHeader) == "" {
		return fmt.Errorf("%w: missing %s header", ErrSignatureInvalid, PaddleSignatureHeader)
	}
	if !VerifyPaddleWebhookSignature(payload, signatureHeader, webhookSecret) {
		return ErrSignatureInvalid
	}
	return nil
}

// SignPaddlePayload returns the base64 signature Paddle would send for payload.
func SignPaddlePayload(payload []byte, webhookSecret string) string {
	return base64.StdEncoding.EncodeToString(computeHMAC(payload, []byte(webhookSecret)))
}

func computeHMAC(payload, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

func parsePaddleSignatureHeader(header string) (string, []string) {
	var ts string
	var h1 []string
	for _, part := range strings.Split(header, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case "ts":
			ts = strings.TrimSpace(v)
		case "h1":
			if v = strings.TrimSpace(v); v != "" {
				h1 = append(h1, strings.ToLower(v))
			}
		}
	}
	return ts, h1
}
