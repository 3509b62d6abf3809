package devkit

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/goliatone/go-esim/core"
)

// SIMFixture describes one SIM in a partner order or SIM lookup reply.
type SIMFixture struct {
	ICCID          string
	QRCode         string
	ActivationCode string
	AppleURL       string
}

// SandboxSession is a ready-to-use partner session pointed at baseURL.
func SandboxSession(baseURL string) core.ProviderSession {
	return core.ProviderSession{
		Credential: core.ProviderCredential{
			Provider:     "airalo",
			ClientID:     "client_fixture",
			ClientSecret: "secret_fixture",
			Environment:  core.EnvironmentSandbox,
			BaseURL:      baseURL,
		},
		Token: core.AccessToken{
			Value:     "tok_fixture",
			TokenType: "Bearer",
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
}

// TokenReply scripts a client-credentials token response.
func TokenReply(token string, expiresIn int) TransportScript {
	return jsonReply(http.StatusOK, map[string]any{
		"data": map[string]any{
			"access_token": token,
			"token_type":   "Bearer",
			"expires_in":   expiresIn,
		},
	})
}

// OrderReply scripts a partner order carrying sims.
func OrderReply(orderID int64, packageID string, sims ...SIMFixture) TransportScript {
	items := make([]map[string]any, 0, len(sims))
	for _, sim := range sims {
		items = append(items, simBody(sim))
	}
	return jsonReply(http.StatusOK, map[string]any{
		"data": map[string]any{
			"id":         orderID,
			"package_id": packageID,
			"sims":       items,
		},
	})
}

// SIMReply scripts a single SIM lookup.
func SIMReply(sim SIMFixture) TransportScript {
	return jsonReply(http.StatusOK, map[string]any{"data": simBody(sim)})
}

// UsageReply scripts a SIM usage lookup.
func UsageReply(remainingMB, totalMB int64, status string) TransportScript {
	return jsonReply(http.StatusOK, map[string]any{
		"data": map[string]any{
			"remaining": remainingMB,
			"total":     totalMB,
			"status":    status,
		},
	})
}

// ErrorReply scripts a partner failure with a meta message.
func ErrorReply(status int, message string) TransportScript {
	return jsonReply(status, map[string]any{
		"data": map[string]any{},
		"meta": map[string]any{"message": message},
	})
}

// RateLimitedReply scripts a 429 with a Retry-After hint in seconds.
func RateLimitedReply(retryAfter string) TransportScript {
	script := ErrorReply(http.StatusTooManyRequests, "Too Many Attempts.")
	if retryAfter != "" {
		script.Response.Headers["Retry-After"] = retryAfter
	}
	return script
}

func simBody(sim SIMFixture) map[string]any {
	body := map[string]any{"iccid": sim.ICCID}
	if sim.QRCode != "" {
		body["qrcode"] = sim.QRCode
	}
	if sim.ActivationCode != "" {
		body["activation_code"] = sim.ActivationCode
	}
	if sim.AppleURL != "" {
		body["direct_apple_installation_url"] = sim.AppleURL
	}
	return body
}

func jsonReply(status int, body map[string]any) TransportScript {
	raw, err := json.Marshal(body)
	if err != nil {
		return TransportScript{Err: err}
	}
	return TransportScript{Response: core.TransportResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       raw,
	}}
}
