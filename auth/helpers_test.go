package auth

import (
	"context"
	"net/url"

	"github.com/goliatone/go-esim/core"
)

type stubTransport struct {
	responses []core.TransportResponse
	err       error
	requests  []core.TransportRequest
}

func (s *stubTransport) Do(_ context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return core.TransportResponse{}, s.err
	}
	if len(s.responses) == 0 {
		return core.TransportResponse{StatusCode: 500}, nil
	}
	res := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return res, nil
}

func (s *stubTransport) lastForm() url.Values {
	if len(s.requests) == 0 {
		return url.Values{}
	}
	values, _ := url.ParseQuery(string(s.requests[len(s.requests)-1].Body))
	return values
}

type stubConfigStore struct {
	docs map[string]core.ProviderConfigDocument
	err  error
}

func (s stubConfigStore) GetProviderConfig(_ context.Context, provider string) (core.ProviderConfigDocument, error) {
	if s.err != nil {
		return core.ProviderConfigDocument{}, s.err
	}
	doc, ok := s.docs[provider]
	if !ok {
		return core.ProviderConfigDocument{}, core.ErrProviderConfigNotFound
	}
	return doc, nil
}

func mapEnv(values map[string]string) EnvLookup {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func testCredential() core.ProviderCredential {
	return core.ProviderCredential{
		Provider:     "airalo",
		ClientID:     "client_1",
		ClientSecret: "secret_1",
		Environment:  core.EnvironmentSandbox,
		BaseURL:      DefaultSandboxBaseURL,
	}
}
