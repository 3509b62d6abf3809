package query

import (
	"strings"

	"github.com/goliatone/go-esim/core"
)

const (
	TypeGetActivation = "esim.query.activation.get"
	TypeGetSIMUsage   = "esim.query.sim_usage.get"
	TypeGetOrder      = "esim.query.order.get"
)

// GetActivationMessage looks an activation up by order id, or by ICCID when
// no order id is given.
type GetActivationMessage struct {
	OrderID string
	ICCID   string
}

func (GetActivationMessage) Type() string { return TypeGetActivation }

func (m GetActivationMessage) Validate() error {
	if strings.TrimSpace(m.OrderID) == "" && strings.TrimSpace(m.ICCID) == "" {
		return core.NewFieldError("query", "order_id", "order id or iccid is required")
	}
	return nil
}

type GetSIMUsageMessage struct {
	ICCID string
}

func (GetSIMUsageMessage) Type() string { return TypeGetSIMUsage }

func (m GetSIMUsageMessage) Validate() error {
	if strings.TrimSpace(m.ICCID) == "" {
		return core.NewFieldError("query", "iccid", "iccid is required")
	}
	return nil
}

type GetOrderMessage struct {
	OrderID string
}

func (GetOrderMessage) Type() string { return TypeGetOrder }

func (m GetOrderMessage) Validate() error {
	if strings.TrimSpace(m.OrderID) == "" {
		return core.NewFieldError("query", "order_id", "order id is required")
	}
	return nil
}
