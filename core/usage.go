package core

import (
	"context"
	"strings"
	"time"
)

// GetSIMUsage reads data usage for an ICCID. A provider 429 surfaces as a
// retryable ESIM_RATE_LIMITED error carrying retry_after_ms when known.
func (s *Service) GetSIMUsage(ctx context.Context, iccid string) (usage SIMUsage, err error) {
	startedAt := time.Now()
	iccid = strings.TrimSpace(iccid)
	defer func() {
		fields := map[string]any{"provider": s.providerName}
		if after := RetryAfter(err); after > 0 {
			fields["retry_after_ms"] = after.Milliseconds()
		}
		s.observer.ObserveOperation(ctx, startedAt, "get_sim_usage", err, fields)
	}()

	if iccid == "" {
		return SIMUsage{}, NewError(ErrorValidationFailed, "iccid is required", nil)
	}
	session, err := s.openSession(ctx)
	if err != nil {
		return SIMUsage{}, err
	}
	usage, err = s.client.GetSIMUsage(ctx, session, iccid)
	if err != nil {
		s.dropRejectedSession(ctx, session, err)
		return SIMUsage{}, err
	}
	if usage.ICCID == "" {
		usage.ICCID = iccid
	}
	return usage, nil
}
