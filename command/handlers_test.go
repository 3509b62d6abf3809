package command

import (
	"context"
	"errors"
	"testing"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-esim/core"
)

type stubFulfiller struct {
	fulfillFn func(ctx context.Context, event core.VerifiedEvent) (core.Order, error)
}

func (s stubFulfiller) Fulfill(ctx context.Context, event core.VerifiedEvent) (core.Order, error) {
	return s.fulfillFn(ctx, event)
}

type stubDispatcher struct {
	dispatchFn func(ctx context.Context, batchSize int) (core.DispatchStats, error)
}

func (s stubDispatcher) DispatchPending(ctx context.Context, batchSize int) (core.DispatchStats, error) {
	return s.dispatchFn(ctx, batchSize)
}

type stubConfigWriter struct {
	calls int
	err   error
}

func (s *stubConfigWriter) PutProviderConfig(_ context.Context, doc core.ProviderConfigDocument) (core.ProviderConfigDocument, error) {
	s.calls++
	if s.err != nil {
		return core.ProviderConfigDocument{}, s.err
	}
	return doc, nil
}

func paidEvent(orderID string) core.VerifiedEvent {
	return core.VerifiedEvent{
		Processor: core.PaymentMethodStripe,
		EventID:   "evt_" + orderID,
		EventType: "checkout.session.completed",
		Outcome:   core.PaymentOutcomeConfirmed,
		OrderID:   orderID,
		PlanID:    "pkg_7gb",
	}
}

func TestFulfillOrderCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	called := false
	cmd := NewFulfillOrderCommand(stubFulfiller{
		fulfillFn: func(_ context.Context, event core.VerifiedEvent) (core.Order, error) {
			called = true
			if event.OrderID != "ord_1" || event.PlanID != "pkg_7gb" {
				t.Fatalf("unexpected event %+v", event)
			}
			return core.Order{
				ID:                "ord_1",
				ProviderOrderID:   "9001",
				FulfillmentStatus: core.FulfillmentStatusProcessing,
			}, nil
		},
	})
	collector := gocmd.NewResult[core.Order]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := cmd.Execute(ctx, FulfillOrderMessage{Event: paidEvent("ord_1")}); err != nil {
		t.Fatalf("execute fulfill: %v", err)
	}
	if !called {
		t.Fatalf("expected fulfiller invocation")
	}
	order, ok := collector.Load()
	if !ok {
		t.Fatalf("expected order to be stored")
	}
	if order.ProviderOrderID != "9001" || order.FulfillmentStatus != core.FulfillmentStatusProcessing {
		t.Fatalf("unexpected order %#v", order)
	}
}

func TestFulfillOrderCommand_StoresFailedOrderWithError(t *testing.T) {
	failure := core.NewError(core.ErrorRemoteOrderCreationFailed, "remote order creation failed", nil)
	cmd := NewFulfillOrderCommand(stubFulfiller{
		fulfillFn: func(context.Context, core.VerifiedEvent) (core.Order, error) {
			return core.Order{
				ID:                "ord_2",
				FulfillmentStatus: core.FulfillmentStatusFailed,
				LastError:         "remote order creation failed",
			}, failure
		},
	})
	collector := gocmd.NewResult[core.Order]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, FulfillOrderMessage{Event: paidEvent("ord_2")})
	if !core.HasTextCode(err, core.ErrorRemoteOrderCreationFailed) {
		t.Fatalf("expected remote failure to pass through, got %v", err)
	}
	order, ok := collector.Load()
	if !ok || order.FulfillmentStatus != core.FulfillmentStatusFailed {
		t.Fatalf("expected failed order on collector, got %#v ok=%t", order, ok)
	}
}

func TestFulfillOrderCommand_WorksWithoutCollector(t *testing.T) {
	cmd := NewFulfillOrderCommand(stubFulfiller{
		fulfillFn: func(context.Context, core.VerifiedEvent) (core.Order, error) {
			return core.Order{ID: "ord_3"}, nil
		},
	})
	if err := cmd.Execute(context.Background(), FulfillOrderMessage{Event: paidEvent("ord_3")}); err != nil {
		t.Fatalf("execute without collector: %v", err)
	}
}

func TestDispatchLifecycleCommand_StoresStats(t *testing.T) {
	cmd := NewDispatchLifecycleCommand(stubDispatcher{
		dispatchFn: func(_ context.Context, batchSize int) (core.DispatchStats, error) {
			if batchSize != 25 {
				t.Fatalf("expected batch size 25, got %d", batchSize)
			}
			return core.DispatchStats{Claimed: 3, Delivered: 2, Retried: 1}, errors.New("broker down")
		},
	})
	collector := gocmd.NewResult[core.DispatchStats]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, DispatchLifecycleMessage{BatchSize: 25})
	if err == nil {
		t.Fatalf("expected dispatch error to pass through")
	}
	stats, ok := collector.Load()
	if !ok || stats.Delivered != 2 || stats.Retried != 1 {
		t.Fatalf("expected partial stats to be stored, got %#v ok=%t", stats, ok)
	}
}

func TestPutProviderConfigCommand_ValidatesBeforeWriting(t *testing.T) {
	writer := &stubConfigWriter{}
	cmd := NewPutProviderConfigCommand(writer)

	err := cmd.Execute(context.Background(), PutProviderConfigMessage{Document: core.ProviderConfigDocument{
		Provider:    "airalo",
		Environment: "staging",
	}})
	if !core.HasTextCode(err, core.ErrorValidationFailed) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if writer.calls != 0 {
		t.Fatalf("expected invalid document to skip the writer")
	}

	collector := gocmd.NewResult[core.ProviderConfigDocument]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := cmd.Execute(ctx, PutProviderConfigMessage{Document: core.ProviderConfigDocument{
		Provider:     "airalo",
		ClientID:     "client",
		ClientSecret: "secret",
		Environment:  core.EnvironmentProduction,
	}}); err != nil {
		t.Fatalf("put provider config: %v", err)
	}
	doc, ok := collector.Load()
	if !ok || doc.ClientID != "client" {
		t.Fatalf("expected stored document, got %#v ok=%t", doc, ok)
	}
}
