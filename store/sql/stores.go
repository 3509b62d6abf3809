package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-esim/core"
	"github.com/uptrace/bun"
)

// Stores is every SQL store sharing one bun connection.
type Stores struct {
	DB              *bun.DB
	Orders          *OrderStore
	ProviderConfigs *ProviderConfigStore
	Deliveries      *WebhookDeliveryStore
	Outbox          *OutboxStore
	RateLimits      *RateLimitStateStore
}

type StoresOption func(*storesConfig)

type storesConfig struct {
	cipher core.SecretCipher
}

// WithSecretCipher seals provider secrets written through ProviderConfigs.
func WithSecretCipher(cipher core.SecretCipher) StoresOption {
	return func(cfg *storesConfig) {
		cfg.cipher = cipher
	}
}

// OpenStores accepts a *bun.DB or anything exposing DB() *bun.DB, such as a
// go-persistence-bun client.
func OpenStores(client any, opts ...StoresOption) (*Stores, error) {
	db, err := bunDBOf(client)
	if err != nil {
		return nil, err
	}
	cfg := storesConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	s := &Stores{DB: db}
	if s.Orders, err = NewOrderStore(db); err != nil {
		return nil, err
	}
	if s.ProviderConfigs, err = NewProviderConfigStore(db); err != nil {
		return nil, err
	}
	s.ProviderConfigs.UseCipher(cfg.cipher)
	if s.Deliveries, err = NewWebhookDeliveryStore(db); err != nil {
		return nil, err
	}
	if s.Outbox, err = NewOutboxStore(db); err != nil {
		return nil, err
	}
	if s.RateLimits, err = NewRateLimitStateStore(db); err != nil {
		return nil, err
	}
	return s, nil
}

func bunDBOf(client any) (*bun.DB, error) {
	var db *bun.DB
	switch typed := client.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		db = typed
	case interface{ DB() *bun.DB }:
		db = typed.DB()
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", client)
	}
	if db == nil {
		return nil, fmt.Errorf("sqlstore: persistence client has no bun db")
	}
	return db, nil
}
