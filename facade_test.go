package esim

import (
	"context"
	"testing"

	gocmd "github.com/goliatone/go-command"
	esimcommand "github.com/goliatone/go-esim/command"
	"github.com/goliatone/go-esim/core"
	esimquery "github.com/goliatone/go-esim/query"
)

func TestNewFacade_WiresCommandsAndQueries(t *testing.T) {
	facade, err := NewFacade(&stubFacadeService{})
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	commands := facade.Commands()
	if commands.FulfillOrder == nil || commands.DispatchLifecycle == nil || commands.PutProviderConfig == nil {
		t.Fatalf("expected command handlers to be wired")
	}
	queries := facade.Queries()
	if queries.GetActivation == nil || queries.GetSIMUsage == nil || queries.GetOrder == nil {
		t.Fatalf("expected query handlers to be wired")
	}
}

func TestFacade_CommandAndQueryDelegation(t *testing.T) {
	svc := &stubFacadeService{}
	writer := &stubConfigWriter{}
	facade, err := NewFacade(svc, WithProviderConfigWriter(writer))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	collector := gocmd.NewResult[core.Order]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := facade.Commands().FulfillOrder.Execute(ctx, esimcommand.FulfillOrderMessage{Event: core.VerifiedEvent{
		Processor: core.PaymentMethodStripe,
		OrderID:   "ord_1",
		PlanID:    "pkg_7gb",
		Outcome:   core.PaymentOutcomeConfirmed,
	}}); err != nil {
		t.Fatalf("execute fulfill command: %v", err)
	}
	if svc.lastFulfilled != "ord_1" {
		t.Fatalf("expected fulfill delegation, got %q", svc.lastFulfilled)
	}
	if order, _ := collector.Load(); order.ID != "ord_1" {
		t.Fatalf("expected stored order result, got %+v", order)
	}

	result, err := facade.Queries().GetActivation.Query(context.Background(), esimquery.GetActivationMessage{ICCID: "8901"})
	if err != nil {
		t.Fatalf("query activation: %v", err)
	}
	if !result.Ready() || svc.lastICCID != "8901" {
		t.Fatalf("expected activation lookup by iccid, got %+v", result)
	}

	order, err := facade.Queries().GetOrder.Query(context.Background(), esimquery.GetOrderMessage{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("query order: %v", err)
	}
	if order.ID != "ord_1" {
		t.Fatalf("expected order reader resolved from service, got %+v", order)
	}

	if err := facade.Commands().PutProviderConfig.Execute(context.Background(), esimcommand.PutProviderConfigMessage{
		Document: core.ProviderConfigDocument{Provider: "airalo", ClientID: "client", ClientSecret: "secret"},
	}); err != nil {
		t.Fatalf("put provider config: %v", err)
	}
	if writer.last.Provider != "airalo" {
		t.Fatalf("expected provider config delegation, got %+v", writer.last)
	}
}

func TestFacade_MissingOptionalDependencyFailsOnUse(t *testing.T) {
	facade, err := NewFacade(&stubFacadeService{})
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	err = facade.Commands().DispatchLifecycle.Execute(context.Background(), esimcommand.DispatchLifecycleMessage{BatchSize: 10})
	if !core.HasTextCode(err, core.ErrorInternal) {
		t.Fatalf("expected dependency error without a dispatcher, got %v", err)
	}
}

func TestNewFacade_RequiresService(t *testing.T) {
	facade, err := NewFacade(nil)
	if err == nil {
		t.Fatalf("expected nil service error")
	}
	if facade != nil {
		t.Fatalf("expected nil facade on error")
	}
}

type stubFacadeService struct {
	lastFulfilled string
	lastICCID     string
}

func (s *stubFacadeService) Fulfill(_ context.Context, event core.VerifiedEvent) (core.Order, error) {
	s.lastFulfilled = event.OrderID
	return core.Order{ID: event.OrderID, FulfillmentStatus: core.FulfillmentStatusProcessing}, nil
}

func (s *stubFacadeService) GetActivation(_ context.Context, orderID string) (core.ActivationResult, error) {
	return core.ActivationResult{Status: core.ActivationStatusProcessing, Order: core.Order{ID: orderID}}, nil
}

func (s *stubFacadeService) GetActivationByICCID(_ context.Context, iccid string) (core.ActivationResult, error) {
	s.lastICCID = iccid
	return core.ActivationResult{
		Status:   core.ActivationStatusReady,
		Artifact: &core.ActivationArtifact{ICCID: iccid, QRCode: "LPA:1$smdp.example$CODE"},
	}, nil
}

func (s *stubFacadeService) GetSIMUsage(_ context.Context, iccid string) (core.SIMUsage, error) {
	return core.SIMUsage{ICCID: iccid}, nil
}

func (s *stubFacadeService) Get(_ context.Context, orderID string) (core.Order, error) {
	return core.Order{ID: orderID}, nil
}

type stubConfigWriter struct {
	last core.ProviderConfigDocument
}

func (w *stubConfigWriter) PutProviderConfig(_ context.Context, doc core.ProviderConfigDocument) (core.ProviderConfigDocument, error) {
	w.last = doc
	return doc, nil
}

var _ CommandQueryService = (*stubFacadeService)(nil)
