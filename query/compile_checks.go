package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-esim/core"
)

var (
	_ gocmd.Querier[GetActivationMessage, core.ActivationResult] = (*GetActivationQuery)(nil)
	_ gocmd.Querier[GetSIMUsageMessage, core.SIMUsage]           = (*GetSIMUsageQuery)(nil)
	_ gocmd.Querier[GetOrderMessage, core.Order]                 = (*GetOrderQuery)(nil)
)
