package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the upstream's HMAC signature.
const SignatureHeader = "X-Signature"

// SignatureResult is the outcome of verifying one delivery. A non-verified
// result does not block ingestion; it is persisted for later audit.
type SignatureResult struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason"`
}

// VerifySignature checks a structured signature header
// (`signature=...,algorithm=...`) against the HMAC-SHA256 of the raw body.
// Upstreams disagree on digest encoding, so hex, base64, and base64url are
// all accepted, each compared in constant time.
func VerifySignature(secret string, rawBody []byte, header string) SignatureResult {
	if strings.TrimSpace(secret) == "" {
		return SignatureResult{Verified: false, Reason: "secret_not_configured"}
	}

	received, algorithm := parseSignatureHeader(header)
	if received == "" {
		return SignatureResult{Verified: false, Reason: "missing_signature_header"}
	}
	switch strings.ToLower(algorithm) {
	case "", "hmac-sha256", "sha256":
	default:
		return SignatureResult{Verified: false, Reason: "unsupported_algorithm:" + strings.ToLower(algorithm)}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	digest := mac.Sum(nil)

	candidates := []string{
		hex.EncodeToString(digest),
		base64.StdEncoding.EncodeToString(digest),
		base64.RawStdEncoding.EncodeToString(digest),
		base64.URLEncoding.EncodeToString(digest),
		base64.RawURLEncoding.EncodeToString(digest),
	}
	for _, candidate := range candidates {
		if subtle.ConstantTimeCompare([]byte(received), []byte(candidate)) == 1 {
			return SignatureResult{Verified: true, Reason: "verified"}
		}
	}
	return SignatureResult{Verified: false, Reason: "signature_mismatch"}
}

// parseSignatureHeader reads `signature=...,algorithm=...` pairs. A bare
// value with no key is taken as the signature itself.
func parseSignatureHeader(header string) (signature, algorithm string) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ""
	}
	// A bare digest (hex or base64, possibly with "=" padding) has no
	// key=value structure.
	lower := strings.ToLower(header)
	if !strings.Contains(lower, "signature=") && !strings.Contains(lower, "sig=") && !strings.Contains(lower, "algorithm=") {
		return header, ""
	}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		idx := strings.Index(part, "=")
		if idx < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(part[:idx]))
		value := strings.TrimSpace(part[idx+1:])
		switch key {
		case "signature", "sig":
			signature = value
		case "algorithm", "alg":
			algorithm = value
		}
	}
	return signature, algorithm
}
