package security

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestAppKeyCipher_EncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewAppKeyCipherFromString("super-secret-test-key", WithKeyID("esim-v1"), WithVersion(3))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	plaintext := []byte("client-secret-123")
	sealed, err := c.Encrypt(context.Background(), plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Fatalf("expected sealed payload to hide plaintext")
	}
	if !IsSealed(sealed) {
		t.Fatalf("expected envelope prefix, got %q", sealed)
	}

	meta, err := ParseEnvelopeMetadata(sealed)
	if err != nil {
		t.Fatalf("parse metadata: %v", err)
	}
	if meta.KeyID != "esim-v1" || meta.Version != 3 || meta.Algorithm != "aes-256-gcm" {
		t.Fatalf("unexpected envelope metadata %+v", meta)
	}

	opened, err := c.Decrypt(context.Background(), sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("expected roundtrip plaintext, got %q", opened)
	}
}

func TestAppKeyCipher_RejectsRotatedKey(t *testing.T) {
	issuer, err := NewAppKeyCipherFromString("super-secret-test-key", WithKeyID("esim-v1"), WithVersion(1))
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	receiver, err := NewAppKeyCipherFromString("super-secret-test-key", WithKeyID("esim-v2"), WithVersion(2))
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}

	sealed, err := issuer.Encrypt(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := receiver.Decrypt(context.Background(), sealed); err == nil {
		t.Fatalf("expected key mismatch error")
	}
}

func TestAppKeyCipher_RejectsTamperingAndPlainValues(t *testing.T) {
	c, err := NewAppKeyCipher(bytes.Repeat([]byte("k"), 32))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	if _, err := c.Decrypt(context.Background(), []byte("plain-secret")); err == nil {
		t.Fatalf("expected prefix error for plaintext value")
	}

	other, err := NewAppKeyCipher(bytes.Repeat([]byte("x"), 32))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	sealed, err := other.Encrypt(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := c.Decrypt(context.Background(), sealed); err == nil {
		t.Fatalf("expected authentication failure under a different key")
	}

	if _, err := NewAppKeyCipher(nil); err == nil {
		t.Fatalf("expected error for empty key material")
	}
}

func TestAppKeyCipher_HeaderIsAuthenticated(t *testing.T) {
	c, err := NewAppKeyCipherFromString("super-secret-test-key", WithKeyID("esim-v1"), WithVersion(1))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	sealed, err := c.Encrypt(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(sealed[len(EnvelopePrefix):], &body); err != nil {
		t.Fatalf("decode envelope body: %v", err)
	}
	body["kid"] = "esim-v2"
	forged, _ := json.Marshal(body)
	rotated, err := NewAppKeyCipherFromString("super-secret-test-key", WithKeyID("esim-v2"), WithVersion(1))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	if _, err := rotated.Decrypt(context.Background(), append([]byte(EnvelopePrefix), forged...)); err == nil {
		t.Fatalf("expected relabelled envelope to fail authentication")
	}
}

func TestAppKeyCipher_RejectsMalformedEnvelopes(t *testing.T) {
	c, err := NewAppKeyCipherFromString("super-secret-test-key")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	cases := map[string]string{
		"bad json":      EnvelopePrefix + "{",
		"no nonce":      EnvelopePrefix + `{"kid":"app-key","ver":1,"ciphertext":"AAAA"}`,
		"no ciphertext": EnvelopePrefix + `{"kid":"app-key","ver":1,"nonce":"AAAA"}`,
		"short nonce":   EnvelopePrefix + `{"kid":"app-key","ver":1,"nonce":"AAAA","ciphertext":"AAAA"}`,
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := c.Decrypt(context.Background(), []byte(value)); err == nil {
				t.Fatalf("expected error")
			} else if !strings.HasPrefix(err.Error(), "security:") {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}
