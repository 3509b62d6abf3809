package devkit_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-esim/core"
	"github.com/goliatone/go-esim/providers/airalo"
	"github.com/goliatone/go-esim/providers/devkit"
	"github.com/goliatone/go-esim/webhooks"
)

func TestFakeTransport_DrivesAiraloClient(t *testing.T) {
	ctx := context.Background()
	fake := devkit.NewFakeTransport(
		devkit.OrderReply(9101, "pkg_3gb", devkit.SIMFixture{ICCID: "8944500000000009101", QRCode: "LPA:1$smdp.example$M9101"}),
		devkit.UsageReply(2048, 3072, "ACTIVE"),
	)
	client, err := airalo.NewClient(fake)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	session := devkit.SandboxSession("https://partner.example")

	order, err := client.CreateOrder(ctx, session, core.CreateOrderRequest{PackageID: "pkg_3gb", Quantity: 1, Type: "sim"})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.ID != "9101" || len(order.SIMs) != 1 || order.SIMs[0].QRCode == "" {
		t.Fatalf("unexpected remote order %+v", order)
	}

	usage, err := client.GetSIMUsage(ctx, session, "8944500000000009101")
	if err != nil {
		t.Fatalf("get usage: %v", err)
	}
	if usage.RemainingMB != 2048 || usage.TotalMB != 3072 {
		t.Fatalf("unexpected usage %+v", usage)
	}

	requests := fake.Requests()
	if len(requests) != 2 {
		t.Fatalf("expected two recorded requests, got %d", len(requests))
	}
	if requests[0].URL != "https://partner.example/v2/orders" || requests[0].Headers["Authorization"] != "Bearer tok_fixture" {
		t.Fatalf("unexpected order request %+v", requests[0])
	}
	if !strings.HasSuffix(requests[1].URL, "/v2/sims/8944500000000009101/usage") {
		t.Fatalf("unexpected usage request url %q", requests[1].URL)
	}
}

func TestFakeTransport_RepeatsLastScriptAndSurfacesErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection reset")
	fake := devkit.NewFakeTransport(devkit.TransportScript{Err: boom})
	for range 2 {
		if _, err := fake.Do(ctx, core.TransportRequest{Method: "GET", URL: "https://partner.example/v2/sims"}); !errors.Is(err, boom) {
			t.Fatalf("expected scripted error, got %v", err)
		}
	}

	empty := devkit.NewFakeTransport()
	res, err := empty.Do(ctx, core.TransportRequest{Method: "GET"})
	if err != nil || res.StatusCode != 200 {
		t.Fatalf("expected default 200, got %d %v", res.StatusCode, err)
	}
}

func TestErrorReply_MapsUnprocessableToValidationFailure(t *testing.T) {
	ctx := context.Background()
	client, err := airalo.NewClient(devkit.NewFakeTransport(devkit.ErrorReply(422, "The selected package is invalid.")))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.CreateOrder(ctx, devkit.SandboxSession("https://partner.example"), core.CreateOrderRequest{PackageID: "pkg_bad", Quantity: 1})
	if !core.HasTextCode(err, core.ErrorValidationFailed) {
		t.Fatalf("expected validation failure for 422, got %v", err)
	}
}

func TestRateLimitedReply_CarriesRetryAfter(t *testing.T) {
	ctx := context.Background()
	client, err := airalo.NewClient(devkit.NewFakeTransport(devkit.RateLimitedReply("30")))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.GetSIMUsage(ctx, devkit.SandboxSession("https://partner.example"), "8944500000000009102")
	if !core.HasTextCode(err, core.ErrorRateLimited) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if retryAfter := core.RetryAfter(err); retryAfter != 30*time.Second {
		t.Fatalf("expected 30s retry hint, got %v", retryAfter)
	}
}

func TestMemoryStoresConform(t *testing.T) {
	ctx := context.Background()
	if err := devkit.ValidateOrderStoreConformance(ctx, core.NewMemoryOrderStore(), "ord_conformance"); err != nil {
		t.Fatalf("memory order store: %v", err)
	}
	if err := devkit.ValidateDeliveryLedgerConformance(ctx, webhooks.NewMemoryDeliveryLedger(), "stripe", "evt_conformance"); err != nil {
		t.Fatalf("memory delivery ledger: %v", err)
	}
}
