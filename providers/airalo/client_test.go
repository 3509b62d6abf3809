package airalo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-esim/core"
	"github.com/goliatone/go-esim/ratelimit"
	"github.com/goliatone/go-esim/transport"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) (*Client, core.ProviderSession) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(transport.NewRESTAdapter(server.Client()), opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	session := core.ProviderSession{
		Credential: core.ProviderCredential{
			Provider:     ProviderID,
			ClientID:     "client",
			ClientSecret: "secret",
			Environment:  core.EnvironmentSandbox,
			BaseURL:      server.URL,
		},
		Token: core.AccessToken{Value: "tok_1", TokenType: "Bearer"},
	}
	return client, session
}

func TestClient_CreateOrderSendsFormAndParsesSIMs(t *testing.T) {
	var form url.Values
	client, session := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/orders" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok_1" {
			t.Errorf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		_ = r.ParseForm()
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":9001,"code":"20260301-000001","package_id":"pkg_7gb","created_at":"2026-03-01 12:00:00","sims":[{"iccid":"8944500000000000001","qrcode":"LPA:1$smdp.example$CODE","qrcode_url":"https://cdn.example/qr.png","lpa":"smdp.example","matching_id":"CODE","direct_apple_installation_url":"https://esimsetup.apple.com/x"}]},"meta":{"message":"success"}}`))
	})

	order, err := client.CreateOrder(context.Background(), session, core.CreateOrderRequest{
		PackageID:      "pkg_7gb",
		Quantity:       1,
		Type:           "sim",
		Description:    "Order ord_1",
		ToEmail:        "buyer@example.com",
		SharingOptions: []string{"link", "pdf"},
		CopyAddresses:  []string{"ops@example.com"},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if form.Get("package_id") != "pkg_7gb" || form.Get("quantity") != "1" || form.Get("type") != "sim" {
		t.Fatalf("unexpected form %v", form)
	}
	if form.Get("to_email") != "buyer@example.com" || len(form["sharing_option[]"]) != 2 || form.Get("copy_address[]") != "ops@example.com" {
		t.Fatalf("expected delivery fields, got %v", form)
	}
	if order.ID != "9001" || order.Code != "20260301-000001" {
		t.Fatalf("unexpected order %+v", order)
	}
	if !order.CreatedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected created at %s", order.CreatedAt)
	}
	if len(order.SIMs) != 1 || order.SIMs[0].ICCID != "8944500000000000001" || order.SIMs[0].QRCode != "LPA:1$smdp.example$CODE" {
		t.Fatalf("unexpected sims %+v", order.SIMs)
	}
}

func TestClient_CreateOrderOmitsSharingWithoutEmail(t *testing.T) {
	var form url.Values
	client, session := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form = r.PostForm
		_, _ = w.Write([]byte(`{"data":{"id":"9002"}}`))
	})

	if _, err := client.CreateOrder(context.Background(), session, core.CreateOrderRequest{
		PackageID:      "pkg_1gb",
		SharingOptions: []string{"link"},
	}); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if form.Has("to_email") || form.Has("sharing_option[]") {
		t.Fatalf("expected no delivery fields without email, got %v", form)
	}
}

func TestClient_CreateOrderProviderFailure(t *testing.T) {
	client, session := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"meta":{"message":"maintenance"}}`))
	})

	_, err := client.CreateOrder(context.Background(), session, core.CreateOrderRequest{PackageID: "pkg_1gb"})
	if !core.HasTextCode(err, core.ErrorProviderError) || !core.IsRetryable(err) {
		t.Fatalf("expected retryable provider error, got %v", err)
	}
	rich := core.ToServiceError(err)
	if rich.Metadata["provider_message"] != "maintenance" {
		t.Fatalf("expected provider message metadata, got %#v", rich.Metadata)
	}
}

func TestClient_GetOrderRequestsSIMs(t *testing.T) {
	client, session := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/orders/9001" || r.URL.Query().Get("include") != "sims" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"data":{"id":9001,"created_at":"2026-03-01T11:50:00Z","sims":[{"iccid":8944500000000000001}]}}`))
	})

	order, err := client.GetOrder(context.Background(), session, "9001")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if len(order.SIMs) != 1 || order.SIMs[0].ICCID != "8944500000000000001" {
		t.Fatalf("expected numeric iccid to decode, got %+v", order.SIMs)
	}
	if order.CreatedAt.IsZero() {
		t.Fatalf("expected created at")
	}
}

func TestClient_GetSIMAcceptsAlternateFieldNames(t *testing.T) {
	client, session := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/sims/8944500000000000001" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":{"iccid":"8944500000000000001","qr_code":"LPA:1$alt$CODE","qr_code_url":"https://cdn.example/alt.png","activation_code":"CODE","created_at":"2026-03-01 11:58:00"}}`))
	})

	sim, createdAt, err := client.GetSIM(context.Background(), session, "8944500000000000001")
	if err != nil {
		t.Fatalf("get sim: %v", err)
	}
	if sim.QRCode != "LPA:1$alt$CODE" || sim.QRCodeURL != "https://cdn.example/alt.png" || sim.ActivationCode != "CODE" {
		t.Fatalf("unexpected sim %+v", sim)
	}
	if !createdAt.Equal(time.Date(2026, 3, 1, 11, 58, 0, 0, time.UTC)) {
		t.Fatalf("unexpected sim created at %s", createdAt)
	}
}

func TestClient_GetSIMUsageParsesCounters(t *testing.T) {
	client, session := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/sims/8944500000000000001/usage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":{"remaining":3072,"total":5120,"expired_at":"2026-04-01 00:00:00","is_unlimited":false,"status":"ACTIVE","remaining_voice":0,"remaining_text":"0"}}`))
	})

	usage, err := client.GetSIMUsage(context.Background(), session, "8944500000000000001")
	if err != nil {
		t.Fatalf("get usage: %v", err)
	}
	if usage.RemainingMB != 3072 || usage.TotalMB != 5120 || usage.Status != "ACTIVE" {
		t.Fatalf("unexpected usage %+v", usage)
	}
	if usage.ExpiredAt == nil || usage.ExpiredAt.Month() != time.April {
		t.Fatalf("expected expiry, got %+v", usage.ExpiredAt)
	}
}

func TestClient_GetSIMUsageNotFound(t *testing.T) {
	client, session := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"meta":{"message":"invalid iccid"}}`))
	})

	_, err := client.GetSIMUsage(context.Background(), session, "0000")
	if !core.HasTextCode(err, core.ErrorOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestClient_GetSIMUsageRateLimitShortCircuits(t *testing.T) {
	var calls atomic.Int32
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	policy := ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore())
	policy.Now = func() time.Time { return now }

	client, session := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}, WithRateLimitPolicy(policy), WithClock(func() time.Time { return now }))

	_, err := client.GetSIMUsage(context.Background(), session, "8944500000000000001")
	if !core.HasTextCode(err, core.ErrorRateLimited) || !core.IsRetryable(err) {
		t.Fatalf("expected retryable rate limit, got %v", err)
	}
	if got := core.RetryAfter(err); got != 30*time.Second {
		t.Fatalf("expected 30s retry hint, got %s", got)
	}

	_, err = client.GetSIMUsage(context.Background(), session, "8944500000000000001")
	if !core.HasTextCode(err, core.ErrorRateLimited) {
		t.Fatalf("expected throttled call, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected second call to short-circuit, got %d provider calls", calls.Load())
	}

	now = now.Add(31 * time.Second)
	_, _ = client.GetSIMUsage(context.Background(), session, "8944500000000000001")
	if calls.Load() != 2 {
		t.Fatalf("expected call after window, got %d provider calls", calls.Load())
	}
}

func TestClient_RequiresToken(t *testing.T) {
	client, session := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Errorf("unexpected provider call")
	})
	session.Token.Value = ""
	if _, err := client.GetOrder(context.Background(), session, "9001"); !core.HasTextCode(err, core.ErrorMissingAccessToken) {
		t.Fatalf("expected missing access token, got %v", err)
	}
}

func TestNormalizeResponse_Defaults429RetryHint(t *testing.T) {
	meta := NormalizeResponse(core.TransportResponse{StatusCode: 429}, time.Now())
	if meta.RetryAfter == nil || *meta.RetryAfter != time.Minute {
		t.Fatalf("expected default one minute hint, got %+v", meta.RetryAfter)
	}
	if meta.Metadata["retry_after_source"] != "default" {
		t.Fatalf("expected default source, got %#v", meta.Metadata)
	}
}
