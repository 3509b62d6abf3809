package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-esim/core"
)

type ProviderConfigWriter interface {
	PutProviderConfig(ctx context.Context, doc core.ProviderConfigDocument) (core.ProviderConfigDocument, error)
}

// FulfillOrderCommand stores the resulting core.Order on the context result
// collector. The order is stored on failure too, since it carries the
// failed status and last error.
type FulfillOrderCommand struct {
	fulfiller core.OrderFulfiller
}

func NewFulfillOrderCommand(fulfiller core.OrderFulfiller) *FulfillOrderCommand {
	return &FulfillOrderCommand{fulfiller: fulfiller}
}

func (c *FulfillOrderCommand) Execute(ctx context.Context, msg FulfillOrderMessage) error {
	if c == nil || c.fulfiller == nil {
		return core.NewMissingDependencyError("command: order fulfiller is required")
	}
	order, err := c.fulfiller.Fulfill(ctx, msg.Event)
	if order.ID != "" {
		storeResult(ctx, order)
	}
	return err
}

type DispatchLifecycleCommand struct {
	dispatcher core.LifecycleDispatcher
}

func NewDispatchLifecycleCommand(dispatcher core.LifecycleDispatcher) *DispatchLifecycleCommand {
	return &DispatchLifecycleCommand{dispatcher: dispatcher}
}

func (c *DispatchLifecycleCommand) Execute(ctx context.Context, msg DispatchLifecycleMessage) error {
	if c == nil || c.dispatcher == nil {
		return core.NewMissingDependencyError("command: lifecycle dispatcher is required")
	}
	stats, err := c.dispatcher.DispatchPending(ctx, msg.BatchSize)
	storeResult(ctx, stats)
	return err
}

type PutProviderConfigCommand struct {
	writer ProviderConfigWriter
}

func NewPutProviderConfigCommand(writer ProviderConfigWriter) *PutProviderConfigCommand {
	return &PutProviderConfigCommand{writer: writer}
}

func (c *PutProviderConfigCommand) Execute(ctx context.Context, msg PutProviderConfigMessage) error {
	if c == nil || c.writer == nil {
		return core.NewMissingDependencyError("command: provider config writer is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	doc, err := c.writer.PutProviderConfig(ctx, msg.Document)
	if err != nil {
		return err
	}
	storeResult(ctx, doc)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
