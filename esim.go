package esim

import "github.com/goliatone/go-esim/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type Order = core.Order
type VerifiedEvent = core.VerifiedEvent
type ActivationResult = core.ActivationResult
type ActivationArtifact = core.ActivationArtifact
type SIMUsage = core.SIMUsage
type LifecycleEvent = core.LifecycleEvent
type ProviderConfigDocument = core.ProviderConfigDocument

var (
	WithLogger             = core.WithLogger
	WithLoggerProvider     = core.WithLoggerProvider
	WithMetricsRecorder    = core.WithMetricsRecorder
	WithOrderStore         = core.WithOrderStore
	WithOutboxStore        = core.WithOutboxStore
	WithCredentialResolver = core.WithCredentialResolver
	WithAuthenticator      = core.WithAuthenticator
	WithProviderClient     = core.WithProviderClient
	WithOrderLocker        = core.WithOrderLocker
	WithOrderOptions       = core.WithOrderOptions
	WithClock              = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
