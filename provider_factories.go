package esim

import (
	"github.com/goliatone/go-esim/core"
	"github.com/goliatone/go-esim/providers/airalo"
)

// ProviderClientFactory builds a partner API client over transport. policy
// may be nil.
type ProviderClientFactory func(transport core.Transport, policy core.RateLimitPolicy) (core.ProviderClient, error)

func AiraloProvider(transport core.Transport, policy core.RateLimitPolicy) (core.ProviderClient, error) {
	var opts []airalo.Option
	if policy != nil {
		opts = append(opts, airalo.WithRateLimitPolicy(policy))
	}
	return airalo.NewClient(transport, opts...)
}

func builtinProviderFactories() map[string]ProviderClientFactory {
	return map[string]ProviderClientFactory{
		airalo.ProviderID: AiraloProvider,
	}
}
