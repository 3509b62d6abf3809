package ratelimit

import (
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-esim/core"
)

// windowHeaders is the partner's view of the current window.
type windowHeaders struct {
	limit        int
	hasLimit     bool
	remaining    int
	hasRemaining bool
	resetAt      time.Time
	hasResetAt   bool
	retryAfter   time.Duration
	hasRetry     bool
}

func readWindowHeaders(res core.ProviderResponseMeta, now time.Time) windowHeaders {
	var w windowHeaders
	w.limit, w.hasLimit = headerInt(res.Headers, "x-ratelimit-limit")
	w.remaining, w.hasRemaining = headerInt(res.Headers, "x-ratelimit-remaining")
	if unix, ok := headerInt(res.Headers, "x-ratelimit-reset"); ok && unix > 0 {
		w.resetAt, w.hasResetAt = time.Unix(int64(unix), 0).UTC(), true
	}
	if res.RetryAfter != nil && *res.RetryAfter > 0 {
		w.retryAfter, w.hasRetry = *res.RetryAfter, true
	} else {
		w.retryAfter, w.hasRetry = ParseRetryAfterHeader(res.Headers, now)
	}
	return w
}

func (w windowHeaders) any() bool {
	return w.hasLimit || w.hasRemaining || w.hasResetAt || w.hasRetry
}

// ParseRetryAfterHeader reads Retry-After as delta seconds or an HTTP date.
func ParseRetryAfterHeader(headers map[string]string, now time.Time) (time.Duration, bool) {
	raw := header(headers, "retry-after")
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second, seconds > 0
	}
	for _, layout := range []string{time.RFC1123, time.RFC1123Z} {
		if at, err := time.Parse(layout, raw); err == nil && at.After(now) {
			return at.Sub(now), true
		}
	}
	return 0, false
}

func headerInt(headers map[string]string, name string) (int, bool) {
	raw := header(headers, name)
	if raw == "" {
		return 0, false
	}
	value, err := strconv.Atoi(raw)
	return value, err == nil
}

func header(headers map[string]string, name string) string {
	for key, value := range headers {
		if strings.EqualFold(strings.TrimSpace(key), name) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
