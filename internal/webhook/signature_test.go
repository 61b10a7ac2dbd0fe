package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"
)

func digestOf(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

func TestVerifySignatureAcceptsAllEncodings(t *testing.T) {
	secret := "shh"
	body := []byte(`{"transactionId":"tx-1"}`)
	digest := digestOf(secret, body)

	encodings := map[string]string{
		"hex":       hex.EncodeToString(digest),
		"base64":    base64.StdEncoding.EncodeToString(digest),
		"base64url": base64.URLEncoding.EncodeToString(digest),
	}
	for name, encoded := range encodings {
		header := "signature=" + encoded + ",algorithm=hmac-sha256"
		result := VerifySignature(secret, body, header)
		if !result.Verified {
			t.Fatalf("%s signature rejected: %+v", name, result)
		}
	}
}

func TestVerifySignatureBareDigestHeader(t *testing.T) {
	secret := "shh"
	body := []byte(`payload`)
	header := base64.StdEncoding.EncodeToString(digestOf(secret, body))

	if result := VerifySignature(secret, body, header); !result.Verified {
		t.Fatalf("bare digest header rejected: %+v", result)
	}
}

func TestVerifySignatureMismatch(t *testing.T) {
	result := VerifySignature("shh", []byte(`payload`), "signature=deadbeef,algorithm=hmac-sha256")
	if result.Verified || result.Reason != "signature_mismatch" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestVerifySignatureTamperedBody(t *testing.T) {
	secret := "shh"
	header := "signature=" + hex.EncodeToString(digestOf(secret, []byte(`original`)))
	if result := VerifySignature(secret, []byte(`tampered`), header); result.Verified {
		t.Fatalf("tampered body verified")
	}
}

func TestVerifySignatureUnsupportedAlgorithm(t *testing.T) {
	secret := "shh"
	body := []byte(`payload`)
	header := "signature=" + hex.EncodeToString(digestOf(secret, body)) + ",algorithm=md5"

	result := VerifySignature(secret, body, header)
	if result.Verified {
		t.Fatalf("md5 must not verify")
	}
	if result.Reason != "unsupported_algorithm:md5" {
		t.Fatalf("unexpected reason %q", result.Reason)
	}
}

func TestVerifySignatureMissingHeader(t *testing.T) {
	result := VerifySignature("shh", []byte(`payload`), "")
	if result.Verified || result.Reason != "missing_signature_header" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestVerifySignatureNoSecret(t *testing.T) {
	result := VerifySignature("", []byte(`payload`), "signature=abc")
	if result.Verified || result.Reason != "secret_not_configured" {
		t.Fatalf("unexpected result %+v", result)
	}
}
