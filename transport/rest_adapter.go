package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-esim/core"
)

const (
	KindREST = "rest"

	DefaultRequestTimeout = 30 * time.Second

	// DefaultResponseBodyLimit caps partner payloads at 10 MiB.
	DefaultResponseBodyLimit int64 = 10 << 20
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTAdapter runs partner calls over HTTP. A call is bounded by the
// request's own Timeout, falling back to the adapter's.
type RESTAdapter struct {
	Client               HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
	Timeout              time.Duration
}

func NewRESTAdapter(client HTTPDoer) *RESTAdapter {
	if client == nil {
		client = &http.Client{}
	}
	return &RESTAdapter{
		Client: client,
		DefaultHeaders: map[string]string{
			"Accept":     "application/json",
			"User-Agent": "go-esim",
		},
		MaxResponseBodyBytes: DefaultResponseBodyLimit,
		Timeout:              DefaultRequestTimeout,
	}
}

func (*RESTAdapter) Kind() string {
	return KindREST
}

func (a *RESTAdapter) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if a == nil || a.Client == nil {
		return core.TransportResponse{}, transportError(core.ErrorInternal,
			"transport: rest adapter requires an http client", adapterMeta(nil))
	}
	if ctx == nil {
		ctx = context.Background()
	}

	target, err := requestURL(req)
	if err != nil {
		return core.TransportResponse{}, err
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	ctx, cancel := a.bound(ctx, req.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return core.TransportResponse{}, transportWrapError(err, core.ErrorInternal,
			"transport: create http request", adapterMeta(map[string]any{"method": method}))
	}
	setHeaders(httpReq.Header, a.DefaultHeaders)
	setHeaders(httpReq.Header, req.Headers)

	started := time.Now()
	httpRes, err := a.Client.Do(httpReq)
	if err != nil {
		return core.TransportResponse{}, classifyRequestError(err,
			adapterMeta(map[string]any{"method": method, "path": target.Path}))
	}
	defer httpRes.Body.Close()

	body, err := a.readBody(httpRes)
	if err != nil {
		return core.TransportResponse{}, err
	}
	return core.TransportResponse{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       body,
		Metadata: map[string]any{
			"duration_ms": time.Since(started).Milliseconds(),
			"kind":        KindREST,
		},
	}, nil
}

func (a *RESTAdapter) bound(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = a.Timeout
	}
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// readBody reads at most the configured limit and fails when the partner
// sent more.
func (a *RESTAdapter) readBody(res *http.Response) ([]byte, error) {
	limit := a.MaxResponseBodyBytes
	if limit <= 0 {
		limit = DefaultResponseBodyLimit
	}
	meta := adapterMeta(map[string]any{core.MetadataKeyStatusCode: res.StatusCode})
	body, err := io.ReadAll(io.LimitReader(res.Body, limit+1))
	if err != nil {
		return nil, classifyRequestError(err, meta)
	}
	if int64(len(body)) > limit {
		meta["response_limit_b"] = limit
		return nil, transportError(core.ErrorProviderError,
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", limit), meta)
	}
	return body, nil
}

// requestURL requires an absolute URL and merges the request's query
// parameters into it.
func requestURL(req core.TransportRequest) (*url.URL, error) {
	raw := strings.TrimSpace(req.URL)
	target, err := url.Parse(raw)
	if err != nil {
		return nil, transportWrapError(err, core.ErrorInternal, "transport: invalid request url", adapterMeta(nil))
	}
	if raw == "" || target.Host == "" {
		return nil, transportError(core.ErrorInternal, "transport: absolute request url is required", adapterMeta(nil))
	}
	if len(req.Query) == 0 {
		return target, nil
	}
	values := target.Query()
	for key, value := range req.Query {
		if key = strings.TrimSpace(key); key != "" {
			values.Set(key, strings.TrimSpace(value))
		}
	}
	target.RawQuery = values.Encode()
	return target, nil
}

func setHeaders(dst http.Header, src map[string]string) {
	for key, value := range src {
		if key = strings.TrimSpace(key); key != "" {
			dst.Set(key, strings.TrimSpace(value))
		}
	}
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[key] = strings.Join(values, ",")
	}
	return flat
}

func adapterMeta(extra map[string]any) map[string]any {
	meta := map[string]any{"adapter": KindREST}
	for key, value := range extra {
		meta[key] = value
	}
	return meta
}

var _ core.Transport = (*RESTAdapter)(nil)
