package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type PaymentMethod string

const (
	PaymentMethodStripe   PaymentMethod = "stripe"
	PaymentMethodCoinbase PaymentMethod = "coinbase"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusConfirmed PaymentStatus = "confirmed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

type FulfillmentStatus string

const (
	FulfillmentStatusUnprocessed FulfillmentStatus = "unprocessed"
	FulfillmentStatusProcessing  FulfillmentStatus = "processing"
	FulfillmentStatusCompleted   FulfillmentStatus = "completed"
	FulfillmentStatusFailed      FulfillmentStatus = "failed"
)

type Environment string

const (
	EnvironmentSandbox    Environment = "sandbox"
	EnvironmentProduction Environment = "production"
)

// NormalizeEnvironment maps unknown or empty values to sandbox.
func NormalizeEnvironment(value string) Environment {
	switch Environment(strings.ToLower(strings.TrimSpace(value))) {
	case EnvironmentProduction:
		return EnvironmentProduction
	default:
		return EnvironmentSandbox
	}
}

// ParseEnvironment accepts an empty value as sandbox and rejects anything
// other than sandbox or production.
func ParseEnvironment(value string) (Environment, error) {
	switch Environment(strings.ToLower(strings.TrimSpace(value))) {
	case "", EnvironmentSandbox:
		return EnvironmentSandbox, nil
	case EnvironmentProduction:
		return EnvironmentProduction, nil
	}
	return "", fmt.Errorf("core: unknown environment %q", value)
}

// PaymentOutcome is what a verified payment event asks the orchestrator to do.
type PaymentOutcome string

const (
	PaymentOutcomeConfirmed PaymentOutcome = "confirmed"
	PaymentOutcomeFailed    PaymentOutcome = "failed"
	PaymentOutcomeIgnored   PaymentOutcome = "ignored"
)

type ActivationArtifact struct {
	ICCID                      string    `json:"iccid"`
	QRCode                     string    `json:"qrCode,omitempty"`
	QRCodeURL                  string    `json:"qrCodeUrl,omitempty"`
	ActivationCode             string    `json:"activationCode,omitempty"`
	LPA                        string    `json:"lpa,omitempty"`
	SMDPAddress                string    `json:"smdpAddress,omitempty"`
	MatchingID                 string    `json:"matchingId,omitempty"`
	DirectAppleInstallationURL string    `json:"directAppleInstallationUrl,omitempty"`
	RetrievedAt                time.Time `json:"retrievedAt"`
}

// HasActivationData reports whether the artifact carries anything a device can install from.
func (a ActivationArtifact) HasActivationData() bool {
	return strings.TrimSpace(a.QRCode) != "" ||
		strings.TrimSpace(a.ActivationCode) != "" ||
		strings.TrimSpace(a.DirectAppleInstallationURL) != ""
}

type Order struct {
	ID                 string
	PlanID             string
	CustomerEmail      string
	CustomerName       string
	CustomerUserID     string
	PaymentMethod      PaymentMethod
	PaymentStatus      PaymentStatus
	ExternalChargeID   string
	AmountMinorUnits   int64
	Currency           string
	ProviderOrderID    string
	ICCID              string
	FulfillmentStatus  FulfillmentStatus
	LastError          string
	LastErrorCode      string
	Activation         *ActivationArtifact
	CreatedAt          time.Time
	UpdatedAt          time.Time
	PaymentConfirmedAt *time.Time
}

func (o Order) IsCompleted() bool {
	return o.FulfillmentStatus == FulfillmentStatusCompleted
}

// ClaimableForFulfillment reports whether a remote order may still be created
// for o. Processing orders are only claimable once stale.
func (o Order) ClaimableForFulfillment(staleBefore time.Time) bool {
	if strings.TrimSpace(o.ProviderOrderID) != "" {
		return false
	}
	switch o.FulfillmentStatus {
	case FulfillmentStatusUnprocessed, FulfillmentStatusFailed:
		return true
	case FulfillmentStatusProcessing:
		return !o.UpdatedAt.After(staleBefore)
	}
	return false
}

func (o Order) HasActivation() bool {
	return o.Activation != nil && o.Activation.HasActivationData()
}

// ProviderCredential is resolved per request and never cached by the resolver.
type ProviderCredential struct {
	Provider     string
	ClientID     string
	ClientSecret string
	Environment  Environment
	BaseURL      string
}

func (c ProviderCredential) Complete() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != ""
}

// ProviderConfigDocument is the typed shape of the config/{provider} document.
type ProviderConfigDocument struct {
	Provider      string
	ClientID      string
	ClientSecret  string
	Environment   Environment
	BaseURL       string
	WebhookSecret string
	UpdatedAt     time.Time
}

func (d ProviderConfigDocument) Validate() error {
	if strings.TrimSpace(d.Provider) == "" {
		return fmt.Errorf("core: provider config requires a provider name")
	}
	if _, err := ParseEnvironment(string(d.Environment)); err != nil {
		return err
	}
	if base := strings.TrimSpace(d.BaseURL); base != "" {
		parsed, err := url.Parse(base)
		if err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") || parsed.Host == "" {
			return fmt.Errorf("core: provider config base_url %q is not an http(s) url", base)
		}
	}
	return nil
}

type AccessToken struct {
	Value     string
	TokenType string
	ExpiresAt time.Time
}

// ProviderSession scopes a bearer token to the credential it was issued for.
type ProviderSession struct {
	Credential ProviderCredential
	Token      AccessToken
}

type VerifiedEvent struct {
	Processor        PaymentMethod
	EventID          string
	EventType        string
	Outcome          PaymentOutcome
	ExternalChargeID string
	OrderID          string
	PlanID           string
	UserID           string
	CustomerEmail    string
	CustomerName     string
	AmountMinorUnits int64
	Currency         string
	Unverified       bool
}

type RemoteSIM struct {
	ICCID                      string
	QRCode                     string
	QRCodeURL                  string
	ActivationCode             string
	LPA                        string
	SMDPAddress                string
	MatchingID                 string
	DirectAppleInstallationURL string
	Status                     string
}

// Artifact converts SIM detail fields into an activation artifact.
func (s RemoteSIM) Artifact(retrievedAt time.Time) ActivationArtifact {
	qrCode := strings.TrimSpace(s.QRCode)
	if qrCode == "" {
		qrCode = strings.TrimSpace(s.DirectAppleInstallationURL)
	}
	return ActivationArtifact{
		ICCID:                      strings.TrimSpace(s.ICCID),
		QRCode:                     qrCode,
		QRCodeURL:                  strings.TrimSpace(s.QRCodeURL),
		ActivationCode:             strings.TrimSpace(s.ActivationCode),
		LPA:                        strings.TrimSpace(s.LPA),
		SMDPAddress:                strings.TrimSpace(s.SMDPAddress),
		MatchingID:                 strings.TrimSpace(s.MatchingID),
		DirectAppleInstallationURL: strings.TrimSpace(s.DirectAppleInstallationURL),
		RetrievedAt:                retrievedAt.UTC(),
	}
}

type RemoteOrder struct {
	ID        string
	Code      string
	PackageID string
	CreatedAt time.Time
	SIMs      []RemoteSIM
}

type CreateOrderRequest struct {
	PackageID      string
	Quantity       int
	Type           string
	Description    string
	ToEmail        string
	SharingOptions []string
	CopyAddresses  []string
}

type SIMUsage struct {
	ICCID          string     `json:"iccid"`
	RemainingMB    int64      `json:"remaining"`
	TotalMB        int64      `json:"total"`
	RemainingVoice int64      `json:"remainingVoice"`
	RemainingText  int64      `json:"remainingText"`
	IsUnlimited    bool       `json:"isUnlimited"`
	Status         string     `json:"status"`
	ExpiredAt      *time.Time `json:"expiredAt,omitempty"`
}

type RateLimitKey struct {
	ProviderID string
	ScopeType  string
	ScopeID    string
	BucketKey  string
}

type ProviderResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
	Metadata   map[string]any
}

type TransportRequest struct {
	Method   string
	URL      string
	Headers  map[string]string
	Query    map[string]string
	Body     []byte
	Metadata map[string]any
	Timeout  time.Duration
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

const (
	EventOrderPaymentConfirmed = "order.payment_confirmed"
	EventOrderPaymentFailed    = "order.payment_failed"
	EventOrderProcessing       = "order.processing"
	EventOrderCompleted        = "order.completed"
	EventOrderFailed           = "order.failed"
	EventOrderActivationReady  = "order.activation_ready"
)

type LifecycleEvent struct {
	ID         string
	Name       string
	OrderID    string
	Source     string
	OccurredAt time.Time
	Payload    map[string]any
	Metadata   map[string]any
}
