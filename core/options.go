package core

import (
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type serviceBuilder struct {
	config             Config
	logger             Logger
	loggerProvider     LoggerProvider
	metricsRecorder    MetricsRecorder
	orderStore         OrderStore
	credentialResolver CredentialResolver
	authenticator      Authenticator
	providerClient     ProviderClient
	outboxStore        OutboxStore
	orderLocker        OrderLocker
	orderOptions       OrderOptions
	claimTTL           time.Duration
	now                func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithOrderStore(store OrderStore) Option {
	return func(b *serviceBuilder) {
		b.orderStore = store
	}
}

func WithCredentialResolver(resolver CredentialResolver) Option {
	return func(b *serviceBuilder) {
		b.credentialResolver = resolver
	}
}

func WithAuthenticator(authenticator Authenticator) Option {
	return func(b *serviceBuilder) {
		b.authenticator = authenticator
	}
}

func WithProviderClient(client ProviderClient) Option {
	return func(b *serviceBuilder) {
		b.providerClient = client
	}
}

// WithOutboxStore enables lifecycle events. Without it state changes are not published.
func WithOutboxStore(store OutboxStore) Option {
	return func(b *serviceBuilder) {
		b.outboxStore = store
	}
}

func WithOrderLocker(locker OrderLocker) Option {
	return func(b *serviceBuilder) {
		b.orderLocker = locker
	}
}

func WithOrderOptions(options OrderOptions) Option {
	return func(b *serviceBuilder) {
		b.orderOptions = options
	}
}

// WithFulfillmentClaimTTL sets how long a processing claim without a remote
// order blocks other workers. It should exceed the provider request timeout.
func WithFulfillmentClaimTTL(ttl time.Duration) Option {
	return func(b *serviceBuilder) {
		b.claimTTL = ttl
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(cfg Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("esim", nil, nil)
	return serviceBuilder{
		config:          cfg,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		orderLocker:     NewMemoryOrderLocker(),
		orderOptions:    DefaultOrderOptions(),
		claimTTL:        DefaultFulfillmentClaimTTL,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}
