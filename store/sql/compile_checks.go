package sqlstore

import (
	"github.com/goliatone/go-esim/core"
	"github.com/goliatone/go-esim/ratelimit"
	"github.com/goliatone/go-esim/webhooks"
)

var (
	_ core.OrderStore          = (*OrderStore)(nil)
	_ core.ProviderConfigStore = (*ProviderConfigStore)(nil)
	_ core.OutboxStore         = (*OutboxStore)(nil)
	_ webhooks.DeliveryLedger  = (*WebhookDeliveryStore)(nil)
	_ ratelimit.StateStore     = (*RateLimitStateStore)(nil)
	_ ratelimit.StateStore     = (*CachedRateLimitStateStore)(nil)
)
