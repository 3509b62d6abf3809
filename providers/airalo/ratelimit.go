package airalo

import (
	"strconv"
	"time"

	"github.com/goliatone/go-esim/core"
	"github.com/goliatone/go-esim/ratelimit"
)

// defaultRetryAfter429 covers one full window of the per-minute usage limit.
const defaultRetryAfter429 = time.Minute

// NormalizeResponse converts a transport response into rate-limit metadata.
// The provider does not always send Retry-After with a 429, so a one minute
// hint is assumed.
func NormalizeResponse(res core.TransportResponse, now time.Time) core.ProviderResponseMeta {
	meta := core.ProviderResponseMeta{
		StatusCode: res.StatusCode,
		Headers:    map[string]string{},
		Metadata:   map[string]any{},
	}
	for key, value := range res.Headers {
		meta.Headers[key] = value
	}
	for key, value := range res.Metadata {
		meta.Metadata[key] = value
	}

	if retryAfter, ok := ratelimit.ParseRetryAfterHeader(meta.Headers, now); ok {
		meta.RetryAfter = &retryAfter
		meta.Metadata["retry_after_source"] = "header"
	}
	if res.StatusCode == 429 && meta.RetryAfter == nil {
		retryAfter := defaultRetryAfter429
		meta.RetryAfter = &retryAfter
		meta.Metadata["retry_after_source"] = "default"
	}
	if res.StatusCode == 429 {
		if _, ok := meta.Headers["X-RateLimit-Limit"]; !ok {
			meta.Headers["X-RateLimit-Limit"] = strconv.Itoa(ratelimit.UsageCallsPerMin)
		}
	}
	return meta
}
