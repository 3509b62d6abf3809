package core

import (
	"context"
	"sync"
	"time"
)

type stubCredentialResolver struct {
	credential ProviderCredential
	err        error
	calls      int
}

func (s *stubCredentialResolver) Resolve(context.Context, string) (ProviderCredential, error) {
	s.calls++
	if s.err != nil {
		return ProviderCredential{}, s.err
	}
	return s.credential, nil
}

type stubAuthenticator struct {
	err         error
	calls       int
	invalidated []ProviderSession
}

func (s *stubAuthenticator) InvalidateSession(_ context.Context, session ProviderSession) {
	s.invalidated = append(s.invalidated, session)
}

func (s *stubAuthenticator) Authenticate(_ context.Context, credential ProviderCredential) (ProviderSession, error) {
	s.calls++
	if s.err != nil {
		return ProviderSession{}, s.err
	}
	return ProviderSession{
		Credential: credential,
		Token: AccessToken{
			Value:     "token_1",
			TokenType: "Bearer",
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}, nil
}

type stubProviderClient struct {
	mu sync.Mutex

	createOrder   RemoteOrder
	createErr     error
	createCalls   int
	createRequest CreateOrderRequest

	order       RemoteOrder
	orderErr    error
	orderCalls  int
	sim         RemoteSIM
	simCreated  time.Time
	simErr      error
	simCalls    int
	usage       SIMUsage
	usageErr    error
	usageCalls  int
	createdHook func()
}

func (s *stubProviderClient) CreateOrder(_ context.Context, _ ProviderSession, req CreateOrderRequest) (RemoteOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	s.createRequest = req
	if s.createdHook != nil {
		s.createdHook()
	}
	if s.createErr != nil {
		return RemoteOrder{}, s.createErr
	}
	return s.createOrder, nil
}

func (s *stubProviderClient) GetOrder(context.Context, ProviderSession, string) (RemoteOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orderCalls++
	if s.orderErr != nil {
		return RemoteOrder{}, s.orderErr
	}
	return s.order, nil
}

func (s *stubProviderClient) GetSIM(context.Context, ProviderSession, string) (RemoteSIM, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.simCalls++
	if s.simErr != nil {
		return RemoteSIM{}, time.Time{}, s.simErr
	}
	return s.sim, s.simCreated, nil
}

func (s *stubProviderClient) GetSIMUsage(context.Context, ProviderSession, string) (SIMUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usageCalls++
	if s.usageErr != nil {
		return SIMUsage{}, s.usageErr
	}
	return s.usage, nil
}

func (s *stubProviderClient) counts() (create, order, sim int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCalls, s.orderCalls, s.simCalls
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type serviceFixture struct {
	service       *Service
	orders        *MemoryOrderStore
	outbox        *MemoryOutboxStore
	credentials   *stubCredentialResolver
	authenticator *stubAuthenticator
	client        *stubProviderClient
	metrics       *captureMetricsRecorder
	logger        *captureLogger
	now           time.Time
}

func newServiceFixture(opts ...Option) (*serviceFixture, error) {
	fixture := &serviceFixture{
		orders: NewMemoryOrderStore(),
		outbox: NewMemoryOutboxStore(),
		credentials: &stubCredentialResolver{credential: ProviderCredential{
			Provider:     "airalo",
			ClientID:     "client",
			ClientSecret: "secret",
			Environment:  EnvironmentSandbox,
			BaseURL:      "https://sandbox-partners-api.airalo.com",
		}},
		authenticator: &stubAuthenticator{},
		client:        &stubProviderClient{},
		metrics:       &captureMetricsRecorder{},
		logger:        newCaptureLogger(),
		now:           time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	fixture.orders.Now = fixture.clock
	fixture.outbox.Now = fixture.clock

	base := []Option{
		WithOrderStore(fixture.orders),
		WithOutboxStore(fixture.outbox),
		WithCredentialResolver(fixture.credentials),
		WithAuthenticator(fixture.authenticator),
		WithProviderClient(fixture.client),
		WithMetricsRecorder(fixture.metrics),
		WithLoggerProvider(stubLoggerProvider{logger: fixture.logger}),
		WithLogger(fixture.logger),
		WithClock(fixture.clock),
	}
	svc, err := NewService(DefaultConfig(), append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	fixture.service = svc
	return fixture, nil
}

func (f *serviceFixture) clock() time.Time {
	return f.now
}

func (f *serviceFixture) eventNames() []string {
	names := []string{}
	for _, event := range f.outbox.Events() {
		names = append(names, event.Name)
	}
	return names
}

func stripeEvent(orderID string, planID string) VerifiedEvent {
	return VerifiedEvent{
		Processor:        PaymentMethodStripe,
		EventID:          "evt_" + orderID,
		EventType:        "checkout.session.completed",
		Outcome:          PaymentOutcomeConfirmed,
		ExternalChargeID: "cs_" + orderID,
		OrderID:          orderID,
		PlanID:           planID,
		CustomerEmail:    "buyer@example.com",
		AmountMinorUnits: 1299,
		Currency:         "usd",
	}
}

func containsString(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
