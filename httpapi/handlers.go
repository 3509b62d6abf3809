package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-esim/core"
	"github.com/goliatone/go-esim/query"
	"github.com/goliatone/go-esim/webhooks"
)

type webhookResponse struct {
	Received bool   `json:"received"`
	EventID  string `json:"eventId,omitempty"`
	OrderID  string `json:"orderId,omitempty"`
	Deduped  bool   `json:"deduped,omitempty"`
	Ignored  bool   `json:"ignored,omitempty"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}

type activationRequest struct {
	OrderID string `json:"orderId"`
	ICCID   string `json:"iccid"`
}

type activationResponse struct {
	Success                    bool   `json:"success"`
	Status                     string `json:"status,omitempty"`
	QRCode                     string `json:"qrCode,omitempty"`
	QRCodeURL                  string `json:"qrCodeUrl,omitempty"`
	ActivationCode             string `json:"activationCode,omitempty"`
	ICCID                      string `json:"iccid,omitempty"`
	LPA                        string `json:"lpa,omitempty"`
	MatchingID                 string `json:"matchingId,omitempty"`
	SMDPAddress                string `json:"smdpAddress,omitempty"`
	DirectAppleInstallationURL string `json:"directAppleInstallationUrl,omitempty"`
	FromCache                  bool   `json:"fromCache,omitempty"`
	CanRetry                   bool   `json:"canRetry"`
	Code                       string `json:"code,omitempty"`
	Message                    string `json:"message,omitempty"`
}

type usageRequest struct {
	ICCID string `json:"iccid"`
}

type usageResponse struct {
	Success bool           `json:"success"`
	Data    *core.SIMUsage `json:"data,omitempty"`
}

type errorResponse struct {
	Success      bool   `json:"success"`
	Code         string `json:"code"`
	Error        string `json:"error"`
	CanRetry     bool   `json:"canRetry"`
	RetryAfterMS int64  `json:"retryAfterMs,omitempty"`
}

func (s *Server) webhook(processor WebhookProcessor, signatureHeader string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, webhookResponse{
				Code:    core.ErrorMalformedPayload,
				Message: "malformed payload",
			})
			return
		}

		result, err := processor.Process(r.Context(), webhooks.Delivery{
			Body:      body,
			Signature: r.Header.Get(signatureHeader),
		})
		if err != nil {
			s.logger.Warn("webhook delivery not processed",
				"processor", string(result.Processor),
				"event_id", result.EventID,
				"order_id", result.OrderID,
				"status", result.StatusCode,
				"error", err,
			)
		}

		status := result.StatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, webhookResponse{
			Received: result.Acknowledged,
			EventID:  result.EventID,
			OrderID:  result.OrderID,
			Deduped:  result.Deduped,
			Ignored:  result.Ignored,
			Code:     result.ErrorCode,
			Message:  result.Message,
		})
	}
}

func (s *Server) activation(w http.ResponseWriter, r *http.Request) {
	var req activationRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.cfg.Activation.Query(r.Context(), query.GetActivationMessage{
		OrderID: strings.TrimSpace(req.OrderID),
		ICCID:   strings.TrimSpace(req.ICCID),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	if !result.Ready() {
		writeJSON(w, http.StatusOK, activationResponse{
			Success:  false,
			Status:   string(result.Status),
			CanRetry: result.CanRetry,
			Code:     result.Code,
			Message:  result.Message,
		})
		return
	}

	artifact := result.Artifact
	writeJSON(w, http.StatusOK, activationResponse{
		Success:                    true,
		Status:                     string(result.Status),
		QRCode:                     artifact.QRCode,
		QRCodeURL:                  artifact.QRCodeURL,
		ActivationCode:             artifact.ActivationCode,
		ICCID:                      artifact.ICCID,
		LPA:                        artifact.LPA,
		MatchingID:                 artifact.MatchingID,
		SMDPAddress:                artifact.SMDPAddress,
		DirectAppleInstallationURL: artifact.DirectAppleInstallationURL,
		FromCache:                  result.FromCache,
	})
}

func (s *Server) simUsage(w http.ResponseWriter, r *http.Request) {
	var req usageRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	usage, err := s.cfg.Usage.Query(r.Context(), query.GetSIMUsageMessage{
		ICCID: strings.TrimSpace(req.ICCID),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usageResponse{Success: true, Data: &usage})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return core.NewError(core.ErrorMalformedPayload, "httpapi: request body is not valid JSON", nil)
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	rich := core.ToServiceError(err)
	status := core.HTTPStatus(rich)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "code", core.TextCode(rich), "error", err)
	}

	resp := errorResponse{
		Code:     core.TextCode(rich),
		Error:    webhooks.UserMessage(rich),
		CanRetry: core.IsRetryable(rich),
	}
	if retryAfter := core.RetryAfter(rich); retryAfter > 0 {
		resp.RetryAfterMS = retryAfter.Milliseconds()
		w.Header().Set("Retry-After", strconv.FormatInt(int64((retryAfter+time.Second-1)/time.Second), 10))
	}
	writeJSON(w, status, resp)
}
