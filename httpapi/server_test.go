package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-esim/core"
	"github.com/goliatone/go-esim/query"
	"github.com/goliatone/go-esim/webhooks"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubFulfiller struct {
	calls int
	err   error
}

func (f *stubFulfiller) Fulfill(_ context.Context, event core.VerifiedEvent) (core.Order, error) {
	f.calls++
	return core.Order{ID: event.OrderID, FulfillmentStatus: core.FulfillmentStatusProcessing}, f.err
}

type stubActivations struct {
	byOrder map[string]core.ActivationResult
	byICCID map[string]core.ActivationResult
	err     error
}

func (s stubActivations) GetActivation(_ context.Context, orderID string) (core.ActivationResult, error) {
	if s.err != nil {
		return core.ActivationResult{}, s.err
	}
	result, ok := s.byOrder[orderID]
	if !ok {
		return core.ActivationResult{}, core.NewError(core.ErrorOrderNotFound, "order not found", nil)
	}
	return result, nil
}

func (s stubActivations) GetActivationByICCID(_ context.Context, iccid string) (core.ActivationResult, error) {
	result, ok := s.byICCID[iccid]
	if !ok {
		return core.ActivationResult{}, core.NewError(core.ErrorOrderNotFound, "order not found", nil)
	}
	return result, nil
}

type stubUsage struct {
	usage core.SIMUsage
	err   error
}

func (s stubUsage) GetSIMUsage(context.Context, string) (core.SIMUsage, error) {
	return s.usage, s.err
}

func stripeBody(eventID string) []byte {
	return []byte(`{"id":"` + eventID + `","type":"checkout.session.completed","data":{"object":{"id":"cs_1","payment_status":"paid","amount_total":1299,"currency":"usd","metadata":{"order_id":"ord_1","plan_id":"pkg_7gb"}}}}`)
}

func newTestServer(t *testing.T, fulfiller *stubFulfiller, activations stubActivations, usage stubUsage) *Server {
	t.Helper()
	stripeVerifier := webhooks.NewStripeVerifier(5 * time.Minute)
	stripeVerifier.Now = func() time.Time { return testNow }
	stripe := webhooks.NewProcessor(stripeVerifier, webhooks.StaticSecret("whsec_test"), webhooks.NewMemoryDeliveryLedger(), fulfiller)
	coinbase := webhooks.NewProcessor(webhooks.NewCoinbaseVerifier(), webhooks.StaticSecret("cb_secret"), webhooks.NewMemoryDeliveryLedger(), fulfiller)

	server, err := NewServer(Config{
		Stripe:     stripe,
		Coinbase:   coinbase,
		Activation: query.NewGetActivationQuery(activations),
		Usage:      query.NewGetSIMUsageQuery(usage),
		Stream: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
			_, _ = w.Write([]byte(r.PathValue("orderId")))
		}),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return server
}

func do(t *testing.T, handler http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	payload := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, payload
}

func jsonRequest(method string, target string, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestNewServer_RequiresHandlers(t *testing.T) {
	if _, err := NewServer(Config{}); err == nil {
		t.Fatalf("expected missing processor to be rejected")
	}
}

func TestServer_StripeWebhookAcceptsSignedDeliveryOnce(t *testing.T) {
	fulfiller := &stubFulfiller{}
	server := newTestServer(t, fulfiller, stubActivations{}, stubUsage{})

	body := stripeBody("evt_http_1")
	signature := webhooks.SignTimestamped(body, "whsec_test", testNow)

	for i := range 2 {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(string(body)))
		req.Header.Set(webhooks.StripeSignatureHeader, signature)
		rec, payload := do(t, server, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d (%s)", i, rec.Code, rec.Body.String())
		}
		if payload["received"] != true {
			t.Fatalf("delivery %d: expected received, got %+v", i, payload)
		}
		if i == 1 && payload["deduped"] != true {
			t.Fatalf("expected redelivery to be deduped, got %+v", payload)
		}
	}
	if fulfiller.calls != 1 {
		t.Fatalf("expected one fulfillment, got %d", fulfiller.calls)
	}
}

func TestServer_StripeWebhookRejectsTamperedBody(t *testing.T) {
	fulfiller := &stubFulfiller{}
	server := newTestServer(t, fulfiller, stubActivations{}, stubUsage{})

	body := stripeBody("evt_http_2")
	signature := webhooks.SignTimestamped(body, "whsec_test", testNow)
	tampered := strings.Replace(string(body), "1299", "1", 1)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(tampered))
	req.Header.Set(webhooks.StripeSignatureHeader, signature)
	rec, payload := do(t, server, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if payload["code"] != core.ErrorSignatureInvalid {
		t.Fatalf("expected signature error code, got %+v", payload)
	}
	if fulfiller.calls != 0 {
		t.Fatalf("expected no fulfillment, got %d", fulfiller.calls)
	}
}

func TestServer_CoinbaseWebhookRetryableFailureAsksForRedelivery(t *testing.T) {
	fulfiller := &stubFulfiller{err: core.NewError(core.ErrorProviderTimeout, "provider timed out", nil)}
	server := newTestServer(t, fulfiller, stubActivations{}, stubUsage{})

	body := []byte(`{"event":{"id":"cb_evt_1","type":"charge:confirmed","data":{"id":"ch_1","code":"CODE1","metadata":{"order_id":"ord_9","plan_id":"pkg_1"}}}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/coinbase", strings.NewReader(string(body)))
	req.Header.Set(webhooks.CoinbaseSignatureHeader, webhooks.SignHMAC(body, "cb_secret"))
	rec, payload := do(t, server, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for retryable failure, got %d (%+v)", rec.Code, payload)
	}
	if payload["received"] != false {
		t.Fatalf("expected delivery to be unacknowledged, got %+v", payload)
	}
	if payload["message"] != "provider temporarily unavailable" {
		t.Fatalf("expected user-safe message, got %+v", payload)
	}
}

func TestServer_ActivationReady(t *testing.T) {
	activations := stubActivations{byOrder: map[string]core.ActivationResult{
		"ord_1": {
			Status:    core.ActivationStatusReady,
			FromCache: true,
			Artifact: &core.ActivationArtifact{
				ICCID:          "8901",
				QRCode:         "LPA:1$smdp.example.com$MATCH",
				ActivationCode: "LPA:1$smdp.example.com$MATCH",
				SMDPAddress:    "smdp.example.com",
				MatchingID:     "MATCH",
			},
		},
	}}
	server := newTestServer(t, &stubFulfiller{}, activations, stubUsage{})

	rec, payload := do(t, server, jsonRequest(http.MethodPost, "/api/activation", `{"orderId":"ord_1"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if payload["success"] != true || payload["iccid"] != "8901" || payload["smdpAddress"] != "smdp.example.com" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload["canRetry"] != false || payload["fromCache"] != true {
		t.Fatalf("expected cached, non-retryable result, got %+v", payload)
	}
}

func TestServer_ActivationNotReadyIsRetryable(t *testing.T) {
	activations := stubActivations{byICCID: map[string]core.ActivationResult{
		"8902": {
			Status:   core.ActivationStatusProcessing,
			CanRetry: true,
			Code:     core.ErrorStillNotReady,
			Message:  "still preparing",
		},
	}}
	server := newTestServer(t, &stubFulfiller{}, activations, stubUsage{})

	rec, payload := do(t, server, jsonRequest(http.MethodPost, "/api/activation", `{"iccid":"8902"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if payload["success"] != false || payload["status"] != "processing" || payload["canRetry"] != true {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload["code"] != core.ErrorStillNotReady {
		t.Fatalf("expected not ready code, got %+v", payload)
	}
}

func TestServer_ActivationErrors(t *testing.T) {
	server := newTestServer(t, &stubFulfiller{}, stubActivations{}, stubUsage{})

	rec, payload := do(t, server, jsonRequest(http.MethodPost, "/api/activation", `{"orderId":"missing"}`))
	if rec.Code != http.StatusNotFound || payload["code"] != core.ErrorOrderNotFound {
		t.Fatalf("expected 404 order not found, got %d %+v", rec.Code, payload)
	}

	rec, payload = do(t, server, jsonRequest(http.MethodPost, "/api/activation", `{}`))
	if rec.Code != http.StatusBadRequest || payload["code"] != core.ErrorValidationFailed {
		t.Fatalf("expected 400 validation failure, got %d %+v", rec.Code, payload)
	}

	rec, payload = do(t, server, jsonRequest(http.MethodPost, "/api/activation", `{"orderId":`))
	if rec.Code != http.StatusBadRequest || payload["code"] != core.ErrorMalformedPayload {
		t.Fatalf("expected 400 malformed payload, got %d %+v", rec.Code, payload)
	}
}

func TestServer_SIMUsage(t *testing.T) {
	usage := stubUsage{usage: core.SIMUsage{ICCID: "8901", RemainingMB: 512, TotalMB: 1024, Status: "ACTIVE"}}
	server := newTestServer(t, &stubFulfiller{}, stubActivations{}, usage)

	rec, payload := do(t, server, jsonRequest(http.MethodPost, "/api/sim-usage", `{"iccid":"8901"}`))
	if rec.Code != http.StatusOK || payload["success"] != true {
		t.Fatalf("expected 200 success, got %d %+v", rec.Code, payload)
	}
	data, ok := payload["data"].(map[string]any)
	if !ok || data["iccid"] != "8901" {
		t.Fatalf("expected usage data, got %+v", payload)
	}
}

func TestServer_SIMUsageRateLimited(t *testing.T) {
	usage := stubUsage{err: core.NewRateLimitedError("usage throttled", 45*time.Second, nil)}
	server := newTestServer(t, &stubFulfiller{}, stubActivations{}, usage)

	rec, payload := do(t, server, jsonRequest(http.MethodPost, "/api/sim-usage", `{"iccid":"8901"}`))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if payload["canRetry"] != true || payload["retryAfterMs"] != float64(45000) {
		t.Fatalf("expected retry hint, got %+v", payload)
	}
	if got := rec.Header().Get("Retry-After"); got != "45" {
		t.Fatalf("expected Retry-After 45, got %q", got)
	}
}

func TestServer_StreamAndHealth(t *testing.T) {
	server := newTestServer(t, &stubFulfiller{}, stubActivations{}, stubUsage{})

	rec, _ := do(t, server, httptest.NewRequest(http.MethodGet, "/ws/orders/ord_5", nil))
	if rec.Code != http.StatusTeapot || rec.Body.String() != "ord_5" {
		t.Fatalf("expected stream handler to receive order id, got %d %q", rec.Code, rec.Body.String())
	}

	rec, payload := do(t, server, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || payload["status"] != "ok" {
		t.Fatalf("expected healthy, got %d %+v", rec.Code, payload)
	}
}
