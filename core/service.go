package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// DefaultFulfillmentClaimTTL bounds how long an interrupted fulfillment keeps
// an order in processing before another delivery may claim it.
const DefaultFulfillmentClaimTTL = 5 * time.Minute

// OrderOptions shape the remote order-creation request.
type OrderOptions struct {
	Quantity          int
	Type              string
	SharingOptions    []string
	CopyAddresses     []string
	DeliverToCustomer bool
}

func DefaultOrderOptions() OrderOptions {
	return OrderOptions{
		Quantity:          1,
		Type:              "sim",
		SharingOptions:    []string{"link"},
		DeliverToCustomer: true,
	}
}

// Service hosts the order orchestrator, the activation retriever and the
// SIM usage lookup over one set of collaborators.
type Service struct {
	config            Config
	logger            Logger
	observer          *Observer
	orders            OrderStore
	credentials       CredentialResolver
	authenticator     Authenticator
	client            ProviderClient
	outbox            OutboxStore
	locker            OrderLocker
	orderOptions      OrderOptions
	claimTTL          time.Duration
	notReadyThreshold time.Duration
	providerName      string
	now               func() time.Time
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("esim", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("esim"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if err := builder.config.Validate(); err != nil {
		return nil, err
	}
	switch {
	case builder.orderStore == nil:
		return nil, fmt.Errorf("core: order store is required")
	case builder.credentialResolver == nil:
		return nil, fmt.Errorf("core: credential resolver is required")
	case builder.authenticator == nil:
		return nil, fmt.Errorf("core: authenticator is required")
	case builder.providerClient == nil:
		return nil, fmt.Errorf("core: provider client is required")
	}
	if builder.orderLocker == nil {
		builder.orderLocker = NewMemoryOrderLocker()
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}
	if builder.claimTTL <= 0 {
		builder.claimTTL = DefaultFulfillmentClaimTTL
	}
	if builder.orderOptions.Quantity <= 0 {
		builder.orderOptions.Quantity = 1
	}
	if strings.TrimSpace(builder.orderOptions.Type) == "" {
		builder.orderOptions.Type = "sim"
	}

	threshold := builder.config.Activation.NotReadyThreshold
	if threshold <= 0 {
		threshold = DefaultNotReadyThreshold
	}

	return &Service{
		config:            builder.config,
		logger:            logger,
		observer:          NewObserver(logger, builder.metricsRecorder),
		orders:            builder.orderStore,
		credentials:       builder.credentialResolver,
		authenticator:     builder.authenticator,
		client:            builder.providerClient,
		outbox:            builder.outboxStore,
		locker:            builder.orderLocker,
		orderOptions:      builder.orderOptions,
		claimTTL:          builder.claimTTL,
		notReadyThreshold: threshold,
		providerName:      strings.TrimSpace(builder.config.Provider.Name),
		now:               builder.now,
	}, nil
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Logger() Logger {
	if s == nil {
		return glog.Nop()
	}
	return s.logger
}

func (s *Service) Observer() *Observer {
	if s == nil {
		return nil
	}
	return s.observer
}

// openSession resolves credentials and authenticates. A fresh session is
// produced per call unless the authenticator caches tokens.
func (s *Service) openSession(ctx context.Context) (ProviderSession, error) {
	credential, err := s.credentials.Resolve(ctx, s.providerName)
	if err != nil {
		return ProviderSession{}, err
	}
	return s.authenticator.Authenticate(ctx, credential)
}

// dropRejectedSession lets a reusing authenticator forget a token the
// provider refused, so the next call authenticates again.
func (s *Service) dropRejectedSession(ctx context.Context, session ProviderSession, err error) {
	if !HasTextCode(err, ErrorAuthenticationFailed) {
		return
	}
	if invalidator, ok := s.authenticator.(SessionInvalidator); ok {
		invalidator.InvalidateSession(ctx, session)
	}
}

func (s *Service) emit(ctx context.Context, name string, order Order) {
	if s.outbox == nil {
		return
	}
	event := NewOrderEvent(name, order, s.now())
	if err := s.outbox.Enqueue(ctx, event); err != nil {
		s.observer.Log(ctx, "warn", "lifecycle event enqueue failed", map[string]any{
			"event_name": name,
			"order_id":   order.ID,
			"error":      err.Error(),
		})
	}
}

func (s *Service) lockOrder(ctx context.Context, orderID string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if unlock == nil {
		unlock = func() {}
	}
	return unlock, nil
}
