package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func seedProcessingOrder(t *testing.T, fixture *serviceFixture, orderID string) {
	t.Helper()
	fixture.client.createOrder = RemoteOrder{ID: "prov_" + orderID}
	if _, err := fixture.service.Fulfill(context.Background(), stripeEvent(orderID, "pkg_7gb")); err != nil {
		t.Fatalf("seed fulfill: %v", err)
	}
}

func TestGetActivation_NotReadyWhenProviderHasNoSIMs(t *testing.T) {
	fixture, err := newServiceFixture()
	if err != nil {
		t.Fatalf("new fixture: %v", err)
	}
	seedProcessingOrder(t, fixture, "ord_1")
	fixture.client.order = RemoteOrder{ID: "prov_ord_1", CreatedAt: fixture.now.Add(-time.Minute)}

	result, err := fixture.service.GetActivation(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("get activation: %v", err)
	}
	if result.Code != ErrorNotReadyYet || !result.CanRetry || result.Status != ActivationStatusProcessing {
		t.Fatalf("expected retryable not-ready result, got %+v", result)
	}
	order, _ := fixture.orders.Get(context.Background(), "ord_1")
	if order.FulfillmentStatus != FulfillmentStatusProcessing {
		t.Fatalf("expected order to remain processing, got %q", order.FulfillmentStatus)
	}
}

func TestGetActivation_MissingICCIDIsRetryable(t *testing.T) {
	fixture, err := newServiceFixture()
	if err != nil {
		t.Fatalf("new fixture: %v", err)
	}
	seedProcessingOrder(t, fixture, "ord_2")
	fixture.client.order = RemoteOrder{ID: "prov_ord_2", SIMs: []RemoteSIM{{}}}

	result, err := fixture.service.GetActivation(context.Background(), "ord_2")
	if err != nil {
		t.Fatalf("get activation: %v", err)
	}
	if result.Code != ErrorMissingICCID || !result.CanRetry {
		t.Fatalf("expected missing iccid result, got %+v", result)
	}
	if _, _, sims := fixture.client.counts(); sims != 0 {
		t.Fatalf("expected no SIM detail call without iccid")
	}
}

func TestGetActivation_AgeBasedMessaging(t *testing.T) {
	cases := []struct {
		name   string
		age    time.Duration
		code   string
		status ActivationStatus
	}{
		{name: "young order", age: 2 * time.Minute, code: ErrorNotReadyYet, status: ActivationStatusProcessing},
		{name: "old order", age: 12 * time.Minute, code: ErrorStillNotReady, status: ActivationStatusContactSupport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fixture, err := newServiceFixture()
			if err != nil {
				t.Fatalf("new fixture: %v", err)
			}
			seedProcessingOrder(t, fixture, "ord_age")
			fixture.client.order = RemoteOrder{
				ID:        "prov_ord_age",
				CreatedAt: fixture.now.Add(-tc.age),
				SIMs:      []RemoteSIM{{ICCID: "8901"}},
			}
			fixture.client.sim = RemoteSIM{ICCID: "8901", Status: "NOT_ACTIVE"}

			result, err := fixture.service.GetActivation(context.Background(), "ord_age")
			if err != nil {
				t.Fatalf("get activation: %v", err)
			}
			if result.Code != tc.code || result.Status != tc.status {
				t.Fatalf("expected %s/%s, got %+v", tc.code, tc.status, result)
			}
			if !result.CanRetry {
				t.Fatalf("expected canRetry for %s", tc.code)
			}
			order, _ := fixture.orders.Get(context.Background(), "ord_age")
			if order.ICCID != "8901" {
				t.Fatalf("expected iccid recorded on order, got %q", order.ICCID)
			}
		})
	}
}

func TestGetActivation_PersistsOnceAndServesFromCache(t *testing.T) {
	fixture, err := newServiceFixture()
	if err != nil {
		t.Fatalf("new fixture: %v", err)
	}
	seedProcessingOrder(t, fixture, "ord_3")
	fixture.client.order = RemoteOrder{ID: "prov_ord_3", SIMs: []RemoteSIM{{ICCID: "8903"}}}
	fixture.client.sim = RemoteSIM{
		ICCID:          "8903",
		QRCode:         "LPA:1$smdp.example$ABC",
		ActivationCode: "ABC",
		SMDPAddress:    "smdp.example",
		MatchingID:     "ABC",
	}

	first, err := fixture.service.GetActivation(context.Background(), "ord_3")
	if err != nil {
		t.Fatalf("first get activation: %v", err)
	}
	if !first.Ready() || first.FromCache {
		t.Fatalf("expected fresh ready result, got %+v", first)
	}
	if first.Order.FulfillmentStatus != FulfillmentStatusCompleted {
		t.Fatalf("expected order completed after activation, got %q", first.Order.FulfillmentStatus)
	}

	fixture.now = fixture.now.Add(time.Hour)
	second, err := fixture.service.GetActivation(context.Background(), "ord_3")
	if err != nil {
		t.Fatalf("second get activation: %v", err)
	}
	if !second.FromCache || second.CanRetry {
		t.Fatalf("expected cached result without retry, got %+v", second)
	}
	if *second.Artifact != *first.Artifact {
		t.Fatalf("expected identical artifacts, got %+v and %+v", first.Artifact, second.Artifact)
	}
	if _, orders, sims := fixture.client.counts(); orders != 1 || sims != 1 {
		t.Fatalf("expected one remote sequence, got order=%d sim=%d", orders, sims)
	}
	if !containsString(fixture.eventNames(), EventOrderActivationReady) {
		t.Fatalf("expected activation_ready event")
	}
}

func TestGetActivation_FallsBackToDirectAppleURL(t *testing.T) {
	fixture, err := newServiceFixture()
	if err != nil {
		t.Fatalf("new fixture: %v", err)
	}
	seedProcessingOrder(t, fixture, "ord_4")
	fixture.client.order = RemoteOrder{ID: "prov_ord_4", SIMs: []RemoteSIM{{ICCID: "8904"}}}
	fixture.client.sim = RemoteSIM{DirectAppleInstallationURL: "https://esimsetup.apple.com/x"}

	result, err := fixture.service.GetActivation(context.Background(), "ord_4")
	if err != nil {
		t.Fatalf("get activation: %v", err)
	}
	if !result.Ready() || result.Artifact.QRCode != "https://esimsetup.apple.com/x" {
		t.Fatalf("expected apple url as qr code, got %+v", result.Artifact)
	}
	if result.Artifact.ICCID != "8904" {
		t.Fatalf("expected iccid from order listing, got %q", result.Artifact.ICCID)
	}
}

func TestGetActivation_ConcurrentFirstCallsFetchOnce(t *testing.T) {
	fixture, err := newServiceFixture()
	if err != nil {
		t.Fatalf("new fixture: %v", err)
	}
	seedProcessingOrder(t, fixture, "ord_5")
	fixture.client.order = RemoteOrder{ID: "prov_ord_5", SIMs: []RemoteSIM{{ICCID: "8905"}}}
	fixture.client.sim = RemoteSIM{ICCID: "8905", QRCode: "LPA:1$smdp$5"}

	var wg sync.WaitGroup
	results := make(chan ActivationResult, 6)
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := fixture.service.GetActivation(context.Background(), "ord_5")
			if err == nil {
				results <- result
			}
		}()
	}
	wg.Wait()
	close(results)

	count := 0
	for result := range results {
		count++
		if !result.Ready() || result.Artifact.QRCode != "LPA:1$smdp$5" {
			t.Fatalf("unexpected result %+v", result)
		}
	}
	if count != 6 {
		t.Fatalf("expected all calls to succeed, got %d", count)
	}
	if _, _, sims := fixture.client.counts(); sims != 1 {
		t.Fatalf("expected one SIM detail fetch, got %d", sims)
	}
}

func TestGetActivation_OrderWithoutProviderOrder(t *testing.T) {
	fixture, err := newServiceFixture()
	if err != nil {
		t.Fatalf("new fixture: %v", err)
	}
	if _, err := fixture.service.Fulfill(context.Background(), stripeEvent("ord_6", "")); err == nil {
		t.Fatalf("expected validation failure")
	}

	result, err := fixture.service.GetActivation(context.Background(), "ord_6")
	if err != nil {
		t.Fatalf("get activation: %v", err)
	}
	if result.Status != ActivationStatusFailed || result.CanRetry {
		t.Fatalf("expected failed non-retryable result, got %+v", result)
	}
	if fixture.authenticator.calls != 0 {
		t.Fatalf("expected no provider access")
	}
}

func TestGetActivation_FailedOrderReportsItsCause(t *testing.T) {
	cases := []struct {
		name     string
		arrange  func(*serviceFixture)
		status   ActivationStatus
		canRetry bool
		code     string
	}{
		{
			name: "remote outage keeps retrying",
			arrange: func(f *serviceFixture) {
				f.client.createErr = errors.New("upstream 503")
			},
			status:   ActivationStatusProcessing,
			canRetry: true,
			code:     ErrorRemoteOrderCreationFailed,
		},
		{
			name: "timeout keeps retrying",
			arrange: func(f *serviceFixture) {
				f.client.createErr = NewError(ErrorProviderTimeout, "provider timed out", nil)
			},
			status:   ActivationStatusProcessing,
			canRetry: true,
			code:     ErrorProviderTimeout,
		},
		{
			name: "terminated account is final",
			arrange: func(f *serviceFixture) {
				f.authenticator.err = NewError(ErrorAccountTerminated, "provider account terminated", nil)
			},
			status:   ActivationStatusFailed,
			canRetry: false,
			code:     ErrorAccountTerminated,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fixture, err := newServiceFixture()
			if err != nil {
				t.Fatalf("new fixture: %v", err)
			}
			tc.arrange(fixture)
			if _, err := fixture.service.Fulfill(context.Background(), stripeEvent("ord_30", "pkg_7gb")); err == nil {
				t.Fatalf("expected fulfill to fail")
			}

			result, err := fixture.service.GetActivation(context.Background(), "ord_30")
			if err != nil {
				t.Fatalf("get activation: %v", err)
			}
			if result.Status != tc.status || result.CanRetry != tc.canRetry || result.Code != tc.code {
				t.Fatalf("expected %s/%v/%s, got %+v", tc.status, tc.canRetry, tc.code, result)
			}
			if result.Order.LastErrorCode != tc.code {
				t.Fatalf("expected stored failure code %s, got %q", tc.code, result.Order.LastErrorCode)
			}
		})
	}
}

func TestGetActivation_UnknownOrder(t *testing.T) {
	fixture, err := newServiceFixture()
	if err != nil {
		t.Fatalf("new fixture: %v", err)
	}
	_, err = fixture.service.GetActivation(context.Background(), "nope")
	if !HasTextCode(err, ErrorOrderNotFound) {
		t.Fatalf("expected order not found, got %v", err)
	}
}

func TestGetActivationByICCID(t *testing.T) {
	fixture, err := newServiceFixture()
	if err != nil {
		t.Fatalf("new fixture: %v", err)
	}
	fixture.client.createOrder = RemoteOrder{ID: "prov_7", SIMs: []RemoteSIM{{ICCID: "8907", QRCode: "LPA:1$a$b"}}}
	if _, err := fixture.service.Fulfill(context.Background(), stripeEvent("ord_7", "pkg_7gb")); err != nil {
		t.Fatalf("fulfill: %v", err)
	}

	known, err := fixture.service.GetActivationByICCID(context.Background(), "8907")
	if err != nil {
		t.Fatalf("by iccid: %v", err)
	}
	if !known.FromCache || known.Order.ID != "ord_7" {
		t.Fatalf("expected cached order artifact, got %+v", known)
	}

	fixture.client.sim = RemoteSIM{ICCID: "8999", ActivationCode: "XYZ"}
	unknown, err := fixture.service.GetActivationByICCID(context.Background(), "8999")
	if err != nil {
		t.Fatalf("by unknown iccid: %v", err)
	}
	if !unknown.Ready() || unknown.Artifact.ActivationCode != "XYZ" || unknown.FromCache {
		t.Fatalf("expected direct SIM lookup result, got %+v", unknown)
	}
}
