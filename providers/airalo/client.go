package airalo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-esim/core"
	"github.com/goliatone/go-esim/ratelimit"
)

const (
	ProviderID = "airalo"

	ordersPath = "/v2/orders"
	simsPath   = "/v2/sims"

	maxErrorBodyBytes = 512
)

// Client talks to the partner API with a bearer token from a ProviderSession.
type Client struct {
	transport core.Transport
	policy    core.RateLimitPolicy
	now       func() time.Time
}

type Option func(*Client)

func WithRateLimitPolicy(policy core.RateLimitPolicy) Option {
	return func(c *Client) {
		c.policy = policy
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func NewClient(transport core.Transport, opts ...Option) (*Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("airalo: transport is required")
	}
	client := &Client{
		transport: transport,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

func (c *Client) CreateOrder(ctx context.Context, session core.ProviderSession, req core.CreateOrderRequest) (core.RemoteOrder, error) {
	packageID := strings.TrimSpace(req.PackageID)
	if packageID == "" {
		return core.RemoteOrder{}, core.NewError(core.ErrorValidationFailed, "package id is required", nil)
	}
	form := url.Values{}
	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	form.Set("quantity", strconv.Itoa(quantity))
	form.Set("package_id", packageID)
	form.Set("type", firstNonEmpty(req.Type, "sim"))
	if description := strings.TrimSpace(req.Description); description != "" {
		form.Set("description", description)
	}
	if email := strings.TrimSpace(req.ToEmail); email != "" {
		form.Set("to_email", email)
		for _, option := range req.SharingOptions {
			if option = strings.TrimSpace(option); option != "" {
				form.Add("sharing_option[]", option)
			}
		}
		for _, address := range req.CopyAddresses {
			if address = strings.TrimSpace(address); address != "" {
				form.Add("copy_address[]", address)
			}
		}
	}

	res, err := c.call(ctx, session, http.MethodPost, ordersPath, form, nil, nil)
	if err != nil {
		return core.RemoteOrder{}, err
	}
	var payload envelope[orderPayload]
	if err := decode(res, &payload); err != nil {
		return core.RemoteOrder{}, err
	}
	order := payload.Data.remote()
	if order.ID == "" {
		return core.RemoteOrder{}, core.NewError(core.ErrorProviderError, "order response did not include an order id", map[string]any{
			core.MetadataKeyProvider: ProviderID,
		})
	}
	if order.PackageID == "" {
		order.PackageID = packageID
	}
	return order, nil
}

func (c *Client) GetOrder(ctx context.Context, session core.ProviderSession, providerOrderID string) (core.RemoteOrder, error) {
	providerOrderID = strings.TrimSpace(providerOrderID)
	if providerOrderID == "" {
		return core.RemoteOrder{}, core.NewError(core.ErrorValidationFailed, "provider order id is required", nil)
	}
	res, err := c.call(ctx, session, http.MethodGet, ordersPath+"/"+url.PathEscape(providerOrderID), nil, map[string]string{"include": "sims"}, nil)
	if err != nil {
		return core.RemoteOrder{}, err
	}
	var payload envelope[orderPayload]
	if err := decode(res, &payload); err != nil {
		return core.RemoteOrder{}, err
	}
	order := payload.Data.remote()
	if order.ID == "" {
		order.ID = providerOrderID
	}
	return order, nil
}

// GetSIM returns the SIM detail and the SIM creation time when the provider
// reports one.
func (c *Client) GetSIM(ctx context.Context, session core.ProviderSession, iccid string) (core.RemoteSIM, time.Time, error) {
	iccid = strings.TrimSpace(iccid)
	if iccid == "" {
		return core.RemoteSIM{}, time.Time{}, core.NewError(core.ErrorMissingICCID, "iccid is required", nil)
	}
	res, err := c.call(ctx, session, http.MethodGet, simsPath+"/"+url.PathEscape(iccid), nil, nil, nil)
	if err != nil {
		return core.RemoteSIM{}, time.Time{}, err
	}
	var payload envelope[simPayload]
	if err := decode(res, &payload); err != nil {
		return core.RemoteSIM{}, time.Time{}, err
	}
	sim := payload.Data.remote()
	if sim.ICCID == "" {
		sim.ICCID = iccid
	}
	return sim, parseTimestamp(payload.Data.CreatedAt), nil
}

// GetSIMUsage is limited per ICCID. A closed window short-circuits without a
// network call.
func (c *Client) GetSIMUsage(ctx context.Context, session core.ProviderSession, iccid string) (core.SIMUsage, error) {
	iccid = strings.TrimSpace(iccid)
	if iccid == "" {
		return core.SIMUsage{}, core.NewError(core.ErrorValidationFailed, "iccid is required", nil)
	}
	key := ratelimit.UsageKey(session.Credential.Provider, iccid)
	res, err := c.call(ctx, session, http.MethodGet, simsPath+"/"+url.PathEscape(iccid)+"/usage", nil, nil, &key)
	if err != nil {
		return core.SIMUsage{}, err
	}
	var payload envelope[usagePayload]
	if err := decode(res, &payload); err != nil {
		return core.SIMUsage{}, err
	}
	return payload.Data.usage(iccid), nil
}

func (c *Client) call(
	ctx context.Context,
	session core.ProviderSession,
	method string,
	path string,
	form url.Values,
	query map[string]string,
	limitKey *core.RateLimitKey,
) (core.TransportResponse, error) {
	token := strings.TrimSpace(session.Token.Value)
	if token == "" {
		return core.TransportResponse{}, core.NewError(core.ErrorMissingAccessToken, "provider session has no access token", map[string]any{
			core.MetadataKeyProvider: ProviderID,
		})
	}
	baseURL := strings.TrimRight(strings.TrimSpace(session.Credential.BaseURL), "/")
	if baseURL == "" {
		return core.TransportResponse{}, core.NewError(core.ErrorCredentialsNotConfigured, "provider base url is not configured", map[string]any{
			core.MetadataKeyProvider: ProviderID,
		})
	}

	if limitKey != nil && c.policy != nil {
		if err := c.policy.BeforeCall(ctx, *limitKey); err != nil {
			var throttled ratelimit.ThrottledError
			if errors.As(err, &throttled) {
				return core.TransportResponse{}, throttled.ToServiceError()
			}
			return core.TransportResponse{}, err
		}
	}

	headers := map[string]string{
		"Accept":        "application/json",
		"Authorization": "Bearer " + token,
	}
	var body []byte
	if form != nil {
		headers["Content-Type"] = "application/x-www-form-urlencoded"
		body = []byte(form.Encode())
	}
	res, err := c.transport.Do(ctx, core.TransportRequest{
		Method:  method,
		URL:     baseURL + path,
		Headers: headers,
		Query:   query,
		Body:    body,
		Metadata: map[string]any{
			core.MetadataKeyProvider: ProviderID,
			"endpoint":               path,
		},
	})
	if err != nil {
		return core.TransportResponse{}, err
	}

	meta := NormalizeResponse(res, c.now())
	if limitKey != nil && c.policy != nil {
		if err := c.policy.AfterCall(ctx, *limitKey, meta); err != nil {
			return core.TransportResponse{}, err
		}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return core.TransportResponse{}, responseError(method, path, res, meta)
	}
	return res, nil
}

func responseError(method string, path string, res core.TransportResponse, meta core.ProviderResponseMeta) error {
	metadata := map[string]any{
		core.MetadataKeyProvider:   ProviderID,
		core.MetadataKeyStatusCode: res.StatusCode,
		"method":                   method,
		"endpoint":                 path,
	}
	if message := providerMessage(res.Body); message != "" {
		metadata["provider_message"] = message
	}
	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		var retryAfter time.Duration
		if meta.RetryAfter != nil {
			retryAfter = *meta.RetryAfter
		}
		return core.NewRateLimitedError("provider rate limit exceeded", retryAfter, metadata)
	case res.StatusCode == http.StatusNotFound:
		return core.NewError(core.ErrorOrderNotFound, "provider resource not found", metadata)
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return core.NewError(core.ErrorAuthenticationFailed, "provider rejected the access token", metadata)
	case res.StatusCode == http.StatusRequestTimeout || res.StatusCode == http.StatusGatewayTimeout:
		return core.NewError(core.ErrorProviderTimeout, "provider timed out", metadata)
	case res.StatusCode == http.StatusUnprocessableEntity:
		return core.NewError(core.ErrorValidationFailed, "provider rejected the request", metadata)
	default:
		return core.NewError(core.ErrorProviderError, fmt.Sprintf("provider returned status %d", res.StatusCode), metadata)
	}
}

func decode(res core.TransportResponse, target any) error {
	if err := json.Unmarshal(res.Body, target); err != nil {
		return core.WrapError(err, core.ErrorProviderError, "decode provider response", map[string]any{
			core.MetadataKeyProvider:   ProviderID,
			core.MetadataKeyStatusCode: res.StatusCode,
		})
	}
	return nil
}

// providerMessage extracts meta.message from an error body, truncated.
func providerMessage(body []byte) string {
	var payload struct {
		Meta struct {
			Message string `json:"message"`
		} `json:"meta"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	message := firstNonEmpty(payload.Meta.Message, payload.Message)
	if len(message) > maxErrorBodyBytes {
		message = message[:maxErrorBodyBytes]
	}
	return message
}

var _ core.ProviderClient = (*Client)(nil)
