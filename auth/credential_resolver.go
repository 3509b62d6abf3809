package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goliatone/go-esim/core"
)

const (
	DefaultProductionBaseURL = "https://partners-api.airalo.com"
	DefaultSandboxBaseURL    = "https://sandbox-partners-api.airalo.com"
)

type EnvLookup func(key string) (string, bool)

// ConfigCredentialResolver reads the typed config/{provider} document and
// falls back to <PROVIDER>_CLIENT_ID[_<ENV>] and <PROVIDER>_CLIENT_SECRET[_<ENV>]
// environment variables. Nothing is cached between calls.
type ConfigCredentialResolver struct {
	store     core.ProviderConfigStore
	lookupEnv EnvLookup
	baseURLs  map[core.Environment]string
}

type ResolverOption func(*ConfigCredentialResolver)

func WithEnvLookup(lookup EnvLookup) ResolverOption {
	return func(r *ConfigCredentialResolver) {
		if lookup != nil {
			r.lookupEnv = lookup
		}
	}
}

func WithBaseURL(environment core.Environment, baseURL string) ResolverOption {
	return func(r *ConfigCredentialResolver) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			r.baseURLs[environment] = trimmed
		}
	}
}

func NewConfigCredentialResolver(store core.ProviderConfigStore, opts ...ResolverOption) *ConfigCredentialResolver {
	resolver := &ConfigCredentialResolver{
		store:     store,
		lookupEnv: os.LookupEnv,
		baseURLs: map[core.Environment]string{
			core.EnvironmentProduction: DefaultProductionBaseURL,
			core.EnvironmentSandbox:    DefaultSandboxBaseURL,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(resolver)
		}
	}
	return resolver
}

func (r *ConfigCredentialResolver) Resolve(ctx context.Context, provider string) (core.ProviderCredential, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return core.ProviderCredential{}, core.NewError(core.ErrorCredentialsNotConfigured, "provider name is required", nil)
	}

	doc, err := r.loadDocument(ctx, provider)
	if err != nil {
		return core.ProviderCredential{}, err
	}

	environment := doc.Environment
	if environment == "" {
		environment = core.NormalizeEnvironment(r.env(envKey(provider, "ENVIRONMENT")))
	}
	environment = core.NormalizeEnvironment(string(environment))

	credential := core.ProviderCredential{
		Provider:     provider,
		ClientID:     strings.TrimSpace(doc.ClientID),
		ClientSecret: strings.TrimSpace(doc.ClientSecret),
		Environment:  environment,
		BaseURL:      strings.TrimRight(strings.TrimSpace(doc.BaseURL), "/"),
	}
	if credential.BaseURL == "" {
		credential.BaseURL = r.baseURLs[environment]
	}
	if credential.Complete() {
		return credential, nil
	}

	suffix := strings.ToUpper(string(environment))
	if credential.ClientID == "" {
		credential.ClientID = r.firstEnv(envKey(provider, "CLIENT_ID_"+suffix), envKey(provider, "CLIENT_ID"))
	}
	if credential.ClientSecret == "" {
		credential.ClientSecret = r.firstEnv(envKey(provider, "CLIENT_SECRET_"+suffix), envKey(provider, "CLIENT_SECRET"))
	}
	if credential.Complete() {
		return credential, nil
	}

	return core.ProviderCredential{}, core.NewError(
		core.ErrorCredentialsNotConfigured,
		fmt.Sprintf("credentials for provider %q are not configured", provider),
		map[string]any{
			core.MetadataKeyProvider: provider,
			"environment":            string(environment),
			"has_client_id":          credential.ClientID != "",
			"has_secret":             credential.ClientSecret != "",
		},
	)
}

func (r *ConfigCredentialResolver) loadDocument(ctx context.Context, provider string) (core.ProviderConfigDocument, error) {
	if r.store == nil {
		return core.ProviderConfigDocument{Provider: provider}, nil
	}
	doc, err := r.store.GetProviderConfig(ctx, provider)
	if err != nil {
		if errors.Is(err, core.ErrProviderConfigNotFound) {
			return core.ProviderConfigDocument{Provider: provider}, nil
		}
		return core.ProviderConfigDocument{}, err
	}
	return doc, nil
}

func (r *ConfigCredentialResolver) firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := r.env(key); value != "" {
			return value
		}
	}
	return ""
}

func (r *ConfigCredentialResolver) env(key string) string {
	if r.lookupEnv == nil {
		return ""
	}
	value, ok := r.lookupEnv(key)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

func envKey(provider string, suffix string) string {
	name := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(provider))
	return name + "_" + suffix
}

var _ core.CredentialResolver = (*ConfigCredentialResolver)(nil)
