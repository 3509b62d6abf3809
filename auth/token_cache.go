package auth

import (
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-esim/core"
)

type cachedToken struct {
	clientID string
	token    core.AccessToken
	validTo  time.Time
}

// TokenCache shares bearer tokens per (provider, environment) until the
// token lifetime minus the safety margin has elapsed.
type TokenCache struct {
	mu           sync.Mutex
	entries      map[string]cachedToken
	safetyMargin time.Duration
	now          func() time.Time
}

func NewTokenCache(safetyMargin time.Duration) *TokenCache {
	if safetyMargin < 0 {
		safetyMargin = 0
	}
	return &TokenCache{
		entries:      map[string]cachedToken{},
		safetyMargin: safetyMargin,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (c *TokenCache) Get(credential core.ProviderCredential) (core.AccessToken, bool) {
	if c == nil {
		return core.AccessToken{}, false
	}
	key := tokenCacheKey(credential)
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return core.AccessToken{}, false
	}
	// an edited client id invalidates the shared token
	if entry.clientID != strings.TrimSpace(credential.ClientID) || !c.now().Before(entry.validTo) {
		delete(c.entries, key)
		return core.AccessToken{}, false
	}
	return entry.token, true
}

func (c *TokenCache) Put(credential core.ProviderCredential, token core.AccessToken) {
	if c == nil || token.ExpiresAt.IsZero() {
		return
	}
	validTo := token.ExpiresAt.Add(-c.safetyMargin)
	if !c.now().Before(validTo) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tokenCacheKey(credential)] = cachedToken{
		clientID: strings.TrimSpace(credential.ClientID),
		token:    token,
		validTo:  validTo,
	}
}

// Invalidate drops the cached token for credential when it is still token.
// A token refreshed by another caller in the meantime is kept. An empty
// token value drops whatever is cached.
func (c *TokenCache) Invalidate(credential core.ProviderCredential, token core.AccessToken) {
	if c == nil {
		return
	}
	key := tokenCacheKey(credential)
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	if token.Value == "" || entry.token.Value == token.Value {
		delete(c.entries, key)
	}
}

func tokenCacheKey(credential core.ProviderCredential) string {
	return strings.ToLower(strings.TrimSpace(credential.Provider)) + ":" + string(core.NormalizeEnvironment(string(credential.Environment)))
}
