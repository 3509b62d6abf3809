package sqlstore

import (
	"time"

	"github.com/goliatone/go-esim/core"
	"github.com/uptrace/bun"
)

type orderRecord struct {
	bun.BaseModel `bun:"table:esim_orders,alias:eo"`

	ID                    string                   `bun:"id,pk"`
	OrderID               string                   `bun:"order_id,notnull"`
	PlanID                string                   `bun:"plan_id,notnull"`
	CustomerEmail         string                   `bun:"customer_email,notnull"`
	CustomerName          string                   `bun:"customer_name,notnull"`
	CustomerUserID        string                   `bun:"customer_user_id,notnull"`
	PaymentMethod         string                   `bun:"payment_method,notnull"`
	PaymentStatus         string                   `bun:"payment_status,notnull"`
	ExternalChargeID      string                   `bun:"external_charge_id,notnull"`
	AmountMinorUnits      int64                    `bun:"amount_minor_units,notnull"`
	Currency              string                   `bun:"currency,notnull"`
	ProviderOrderID       string                   `bun:"provider_order_id,notnull"`
	ICCID                 string                   `bun:"iccid,notnull"`
	FulfillmentStatus     string                   `bun:"fulfillment_status,notnull"`
	LastError             string                   `bun:"last_error,notnull"`
	LastErrorCode         string                   `bun:"last_error_code,notnull"`
	Activation            *core.ActivationArtifact `bun:"activation,type:jsonb,nullzero"`
	ActivationRetrievedAt *time.Time               `bun:"activation_retrieved_at,nullzero"`
	PaymentConfirmedAt    *time.Time               `bun:"payment_confirmed_at,nullzero"`
	CreatedAt             time.Time                `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt             time.Time                `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type providerConfigRecord struct {
	bun.BaseModel `bun:"table:esim_provider_configs,alias:epc"`

	ID            string    `bun:"id,pk"`
	Provider      string    `bun:"provider,notnull"`
	ClientID      string    `bun:"client_id,notnull"`
	ClientSecret  string    `bun:"client_secret,notnull"`
	Environment   string    `bun:"environment,notnull"`
	BaseURL       string    `bun:"base_url,notnull"`
	WebhookSecret string    `bun:"webhook_secret,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type webhookDeliveryRecord struct {
	bun.BaseModel `bun:"table:esim_webhook_deliveries,alias:ewd"`

	ID             string     `bun:"id,pk"`
	ClaimID        string     `bun:"claim_id,notnull"`
	Processor      string     `bun:"processor,notnull"`
	DeliveryID     string     `bun:"delivery_id,notnull"`
	Status         string     `bun:"status,notnull"`
	Attempts       int        `bun:"attempts,notnull"`
	LastError      string     `bun:"last_error,notnull"`
	NextAttemptAt  *time.Time `bun:"next_attempt_at,nullzero"`
	LeaseExpiresAt *time.Time `bun:"lease_expires_at,nullzero"`
	Payload        []byte     `bun:"payload"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type lifecycleOutboxRecord struct {
	bun.BaseModel `bun:"table:esim_lifecycle_outbox,alias:elo"`

	ID          string         `bun:"id,pk"`
	EventID     string         `bun:"event_id,notnull"`
	EventName   string         `bun:"event_name,notnull"`
	OrderID     string         `bun:"order_id,notnull"`
	Source      string         `bun:"source,notnull"`
	Payload     map[string]any `bun:"payload,type:jsonb,notnull"`
	Metadata    map[string]any `bun:"metadata,type:jsonb,notnull"`
	Status      string         `bun:"status,notnull"`
	Attempts    int            `bun:"attempts,notnull"`
	NextAttempt *time.Time     `bun:"next_attempt_at,nullzero"`
	LastError   string         `bun:"last_error,notnull"`
	OccurredAt  time.Time      `bun:"occurred_at,notnull"`
	CreatedAt   time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:esim_rate_limit_state,alias:erl"`

	ID             string         `bun:"id,pk"`
	ProviderID     string         `bun:"provider_id,notnull"`
	ScopeType      string         `bun:"scope_type,notnull"`
	ScopeID        string         `bun:"scope_id,notnull"`
	BucketKey      string         `bun:"bucket_key,notnull"`
	Limit          int            `bun:"request_limit,notnull"`
	Remaining      int            `bun:"remaining,notnull"`
	ResetAt        *time.Time     `bun:"reset_at,nullzero"`
	RetryAfterMS   *int64         `bun:"retry_after_ms"`
	ThrottledUntil *time.Time     `bun:"throttled_until,nullzero"`
	LastStatus     int            `bun:"last_status,notnull"`
	Attempts       int            `bun:"attempts,notnull"`
	Metadata       map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`

	WindowStartedAt *time.Time `bun:"window_started_at,nullzero"`
	WindowCalls     int        `bun:"window_calls,notnull"`
}
