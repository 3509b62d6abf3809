package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-esim/core"
)

const tokenPath = "/v2/token"

const maxErrorBodyInMetadata = 512

var accountTerminatedMarkers = []string{
	"account terminated",
	"account_terminated",
	"account has been terminated",
	"account is terminated",
}

// ClientCredentialsAuthenticator performs POST {baseUrl}/v2/token. With a
// nil cache every call authenticates again.
type ClientCredentialsAuthenticator struct {
	transport core.Transport
	cache     *TokenCache
	now       func() time.Time
}

type AuthenticatorOption func(*ClientCredentialsAuthenticator)

func WithTokenCache(cache *TokenCache) AuthenticatorOption {
	return func(a *ClientCredentialsAuthenticator) {
		a.cache = cache
	}
}

func WithAuthenticatorClock(now func() time.Time) AuthenticatorOption {
	return func(a *ClientCredentialsAuthenticator) {
		if now != nil {
			a.now = now
		}
	}
}

func NewClientCredentialsAuthenticator(transport core.Transport, opts ...AuthenticatorOption) (*ClientCredentialsAuthenticator, error) {
	if transport == nil {
		return nil, fmt.Errorf("auth: transport is required")
	}
	authenticator := &ClientCredentialsAuthenticator{
		transport: transport,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(authenticator)
		}
	}
	return authenticator, nil
}

type tokenEnvelope struct {
	Data        *tokenPayload `json:"data"`
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	ExpiresIn   int64         `json:"expires_in"`
}

type tokenPayload struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (a *ClientCredentialsAuthenticator) Authenticate(ctx context.Context, credential core.ProviderCredential) (core.ProviderSession, error) {
	if !credential.Complete() {
		return core.ProviderSession{}, core.NewError(core.ErrorCredentialsNotConfigured, "client credentials are incomplete", map[string]any{
			core.MetadataKeyProvider: credential.Provider,
		})
	}
	if token, ok := a.cache.Get(credential); ok {
		return core.ProviderSession{Credential: credential, Token: token}, nil
	}

	form := url.Values{}
	form.Set("client_id", strings.TrimSpace(credential.ClientID))
	form.Set("client_secret", strings.TrimSpace(credential.ClientSecret))
	form.Set("grant_type", "client_credentials")

	res, err := a.transport.Do(ctx, core.TransportRequest{
		Method: http.MethodPost,
		URL:    strings.TrimRight(credential.BaseURL, "/") + tokenPath,
		Headers: map[string]string{
			"Accept":       "application/json",
			"Content-Type": "application/x-www-form-urlencoded",
		},
		Body: []byte(form.Encode()),
		Metadata: map[string]any{
			core.MetadataKeyProvider: credential.Provider,
			"operation":              "authenticate",
		},
	})
	if err != nil {
		if core.TextCode(err) == core.ErrorProviderTimeout {
			return core.ProviderSession{}, err
		}
		return core.ProviderSession{}, core.WrapError(err, core.ErrorAuthenticationFailed, "provider authentication request failed", map[string]any{
			core.MetadataKeyProvider: credential.Provider,
		})
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return core.ProviderSession{}, authenticationError(credential, res)
	}

	token, err := a.parseToken(res.Body)
	if err != nil {
		return core.ProviderSession{}, err
	}
	a.cache.Put(credential, token)
	return core.ProviderSession{Credential: credential, Token: token}, nil
}

// InvalidateSession forgets the session token when it came from the cache.
func (a *ClientCredentialsAuthenticator) InvalidateSession(_ context.Context, session core.ProviderSession) {
	a.cache.Invalidate(session.Credential, session.Token)
}

func (a *ClientCredentialsAuthenticator) parseToken(body []byte) (core.AccessToken, error) {
	var envelope tokenEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return core.AccessToken{}, core.WrapError(err, core.ErrorMissingAccessToken, "token response is not valid JSON", nil)
	}
	payload := tokenPayload{
		AccessToken: envelope.AccessToken,
		TokenType:   envelope.TokenType,
		ExpiresIn:   envelope.ExpiresIn,
	}
	if envelope.Data != nil && strings.TrimSpace(envelope.Data.AccessToken) != "" {
		payload = *envelope.Data
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return core.AccessToken{}, core.NewError(core.ErrorMissingAccessToken, "token response has no access_token", nil)
	}
	token := core.AccessToken{
		Value:     strings.TrimSpace(payload.AccessToken),
		TokenType: strings.TrimSpace(payload.TokenType),
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}
	if payload.ExpiresIn > 0 {
		token.ExpiresAt = a.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return token, nil
}

func authenticationError(credential core.ProviderCredential, res core.TransportResponse) error {
	body := string(res.Body)
	metadata := map[string]any{
		core.MetadataKeyProvider:   credential.Provider,
		core.MetadataKeyStatusCode: res.StatusCode,
		"body":                     truncate(body, maxErrorBodyInMetadata),
	}
	if IsAccountTerminated(body) {
		return core.NewError(core.ErrorAccountTerminated, "provider account terminated; rotate the provider credentials", metadata)
	}
	return core.NewError(core.ErrorAuthenticationFailed, fmt.Sprintf("provider authentication failed with status %d", res.StatusCode), metadata)
}

// IsAccountTerminated reports whether a token endpoint body carries the
// provider's account terminated marker.
func IsAccountTerminated(body string) bool {
	lowered := strings.ToLower(body)
	for _, marker := range accountTerminatedMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}

var (
	_ core.Authenticator      = (*ClientCredentialsAuthenticator)(nil)
	_ core.SessionInvalidator = (*ClientCredentialsAuthenticator)(nil)
)
