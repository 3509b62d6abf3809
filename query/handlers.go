package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-esim/core"
)

type ActivationReader interface {
	GetActivation(ctx context.Context, orderID string) (core.ActivationResult, error)
	GetActivationByICCID(ctx context.Context, iccid string) (core.ActivationResult, error)
}

type SIMUsageReader interface {
	GetSIMUsage(ctx context.Context, iccid string) (core.SIMUsage, error)
}

type OrderReader interface {
	Get(ctx context.Context, orderID string) (core.Order, error)
}

type GetActivationQuery struct {
	reader ActivationReader
}

func NewGetActivationQuery(reader ActivationReader) *GetActivationQuery {
	return &GetActivationQuery{reader: reader}
}

func (q *GetActivationQuery) Query(ctx context.Context, msg GetActivationMessage) (core.ActivationResult, error) {
	if q == nil || q.reader == nil {
		return core.ActivationResult{}, core.NewMissingDependencyError("query: activation reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.ActivationResult{}, err
	}
	if orderID := strings.TrimSpace(msg.OrderID); orderID != "" {
		return q.reader.GetActivation(ctx, orderID)
	}
	return q.reader.GetActivationByICCID(ctx, strings.TrimSpace(msg.ICCID))
}

type GetSIMUsageQuery struct {
	reader SIMUsageReader
}

func NewGetSIMUsageQuery(reader SIMUsageReader) *GetSIMUsageQuery {
	return &GetSIMUsageQuery{reader: reader}
}

func (q *GetSIMUsageQuery) Query(ctx context.Context, msg GetSIMUsageMessage) (core.SIMUsage, error) {
	if q == nil || q.reader == nil {
		return core.SIMUsage{}, core.NewMissingDependencyError("query: sim usage reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.SIMUsage{}, err
	}
	return q.reader.GetSIMUsage(ctx, strings.TrimSpace(msg.ICCID))
}

// GetOrderQuery reads the stored order without touching the provider.
type GetOrderQuery struct {
	reader OrderReader
}

func NewGetOrderQuery(reader OrderReader) *GetOrderQuery {
	return &GetOrderQuery{reader: reader}
}

func (q *GetOrderQuery) Query(ctx context.Context, msg GetOrderMessage) (core.Order, error) {
	if q == nil || q.reader == nil {
		return core.Order{}, core.NewMissingDependencyError("query: order reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.Order{}, err
	}
	return q.reader.Get(ctx, strings.TrimSpace(msg.OrderID))
}
