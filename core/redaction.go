package core

import (
	"slices"
	"strings"
)

const RedactedValue = "[REDACTED]"

// sensitiveKeyParts mark a key as secret when they appear anywhere in it.
// Activation material (QR payloads, LPA strings, matching ids) counts: it is
// enough to install the eSIM.
var sensitiveKeyParts = []string{
	"password",
	"secret",
	"token",
	"authorization",
	"client_id",
	"api_key",
	"credential",
	"signature",
	"qr_code",
	"qrcode",
	"activation_code",
	"lpa",
	"matching_id",
}

// traceableKeys stay visible even if they contain a sensitive part.
var traceableKeys = map[string]bool{
	"order_id":          true,
	"provider_order_id": true,
	"event_id":          true,
	"event_type":        true,
	"payment_method":    true,
	"provider":          true,
	"trace_id":          true,
	"request_id":        true,
}

// RedactSensitiveMap returns a copy of metadata with secrets masked at any
// depth. Header maps (map[string]string) are masked too.
func RedactSensitiveMap(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		if IsSensitiveKey(key) {
			out[key] = RedactedValue
			continue
		}
		out[key] = redactValue(value)
	}
	return out
}

// IsSensitiveKey reports whether values under key must not be logged.
func IsSensitiveKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || traceableKeys[key] {
		return false
	}
	return slices.ContainsFunc(sensitiveKeyParts, func(part string) bool {
		return strings.Contains(key, part)
	})
}

func redactValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return RedactSensitiveMap(typed)
	case map[string]string:
		out := make(map[string]string, len(typed))
		for key, text := range typed {
			if IsSensitiveKey(key) {
				text = RedactedValue
			}
			out[key] = text
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = redactValue(item)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(typed))
		for i, item := range typed {
			out[i] = RedactSensitiveMap(item)
		}
		return out
	}
	return value
}
