package core

import (
	"context"
	"errors"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// OrderStore persists orders keyed by the storefront order id.
//
// Save must never move a completed order back to another fulfillment status.
// SaveActivation only writes when no artifact has been stored yet and reports
// whether this call performed the write.
//
// ClaimForFulfillment atomically moves an order with no provider order id from
// unprocessed or failed to processing and stores the given fields. A
// processing order last updated at or before staleBefore may be claimed again.
// Only the caller that gets true may create the remote order; everyone else
// receives the stored order.
type OrderStore interface {
	GetOrCreate(ctx context.Context, seed Order) (Order, bool, error)
	Get(ctx context.Context, orderID string) (Order, error)
	FindByICCID(ctx context.Context, iccid string) (Order, error)
	Save(ctx context.Context, order Order) (Order, error)
	ClaimForFulfillment(ctx context.Context, order Order, staleBefore time.Time) (Order, bool, error)
	SaveActivation(ctx context.Context, orderID string, artifact ActivationArtifact) (Order, bool, error)
}

// ErrProviderConfigNotFound is returned by ProviderConfigStore when no
// document exists for the provider.
var ErrProviderConfigNotFound = errors.New("core: provider config not found")

type ProviderConfigStore interface {
	GetProviderConfig(ctx context.Context, provider string) (ProviderConfigDocument, error)
}

// SecretCipher seals values persisted at rest.
type SecretCipher interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type CredentialResolver interface {
	Resolve(ctx context.Context, provider string) (ProviderCredential, error)
}

type Authenticator interface {
	Authenticate(ctx context.Context, credential ProviderCredential) (ProviderSession, error)
}

// SessionInvalidator is implemented by authenticators that reuse tokens across
// calls. InvalidateSession is called when the provider rejects the session.
type SessionInvalidator interface {
	InvalidateSession(ctx context.Context, session ProviderSession)
}

type ProviderClient interface {
	CreateOrder(ctx context.Context, session ProviderSession, req CreateOrderRequest) (RemoteOrder, error)
	GetOrder(ctx context.Context, session ProviderSession, providerOrderID string) (RemoteOrder, error)
	GetSIM(ctx context.Context, session ProviderSession, iccid string) (RemoteSIM, time.Time, error)
	GetSIMUsage(ctx context.Context, session ProviderSession, iccid string) (SIMUsage, error)
}

type Transport interface {
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

type RateLimitPolicy interface {
	BeforeCall(ctx context.Context, key RateLimitKey) error
	AfterCall(ctx context.Context, key RateLimitKey, res ProviderResponseMeta) error
}

// OrderLocker serializes work on a single order id within this process.
type OrderLocker interface {
	Lock(ctx context.Context, orderID string) (unlock func(), err error)
}

type LifecycleEventHandler interface {
	Handle(ctx context.Context, event LifecycleEvent) error
}

type LifecycleEventHandlerFunc func(ctx context.Context, event LifecycleEvent) error

func (fn LifecycleEventHandlerFunc) Handle(ctx context.Context, event LifecycleEvent) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, event)
}

type ProjectorRegistry interface {
	Register(name string, handler LifecycleEventHandler)
	Handlers() []LifecycleEventHandler
}

type OutboxStore interface {
	Enqueue(ctx context.Context, event LifecycleEvent) error
	ClaimBatch(ctx context.Context, limit int) ([]LifecycleEvent, error)
	Ack(ctx context.Context, eventID string) error
	Retry(ctx context.Context, eventID string, cause error, nextAttemptAt time.Time) error
}

type DispatchStats struct {
	Claimed   int
	Delivered int
	Retried   int
	Failed    int
}

type LifecycleDispatcher interface {
	DispatchPending(ctx context.Context, batchSize int) (DispatchStats, error)
}

// OrderFulfiller is the entry point used by the payment webhook processors.
type OrderFulfiller interface {
	Fulfill(ctx context.Context, event VerifiedEvent) (Order, error)
}

type ActivationService interface {
	GetActivation(ctx context.Context, orderID string) (ActivationResult, error)
	GetActivationByICCID(ctx context.Context, iccid string) (ActivationResult, error)
	GetSIMUsage(ctx context.Context, iccid string) (SIMUsage, error)
}
