package core

import (
	"context"
	"strings"
	"time"
)

type ActivationStatus string

const (
	ActivationStatusReady          ActivationStatus = "ready"
	ActivationStatusProcessing     ActivationStatus = "processing"
	ActivationStatusContactSupport ActivationStatus = "contact_support"
	ActivationStatusFailed         ActivationStatus = "failed"
)

const (
	messageNotReadyYet   = "Your eSIM is still being prepared. Please try again in a few minutes."
	messageStillNotReady = "Your eSIM is taking longer than expected. Please contact support."
	messageMissingICCID  = "Your eSIM has not been assigned yet. Please try again in a few minutes."
	messageOrderFailed   = "We could not complete this order. Please contact support."
)

// ActivationResult is returned for every expected outcome, including the
// not-ready states. Code carries the ESIM_* text code of a not-ready result.
type ActivationResult struct {
	Status    ActivationStatus
	Artifact  *ActivationArtifact
	CanRetry  bool
	FromCache bool
	Code      string
	Message   string
	Order     Order
}

func (r ActivationResult) Ready() bool {
	return r.Status == ActivationStatusReady && r.Artifact != nil
}

// GetActivation returns the stored artifact for an order or fetches it once
// from the provider. Not-ready states are reported on the result with a nil
// error.
func (s *Service) GetActivation(ctx context.Context, orderID string) (result ActivationResult, err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"order_id": strings.TrimSpace(orderID),
		"provider": s.providerName,
	}
	defer func() {
		fields["activation_status"] = string(result.Status)
		fields["from_cache"] = result.FromCache
		if result.Code != "" {
			fields["result_code"] = result.Code
		}
		s.observer.ObserveOperation(ctx, startedAt, "get_activation", err, fields)
	}()

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return ActivationResult{}, NewError(ErrorValidationFailed, "order id is required", nil)
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return ActivationResult{}, err
	}
	if result, done := cachedOrPending(order); done {
		return result, nil
	}

	unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return ActivationResult{}, err
	}
	defer unlock()

	// a concurrent caller may have stored the artifact while we waited
	order, err = s.orders.Get(ctx, orderID)
	if err != nil {
		return ActivationResult{}, err
	}
	if result, done := cachedOrPending(order); done {
		return result, nil
	}

	return s.retrieveActivation(ctx, order)
}

// GetActivationByICCID serves orders known by ICCID through GetActivation and
// falls back to a direct SIM lookup that is not persisted.
func (s *Service) GetActivationByICCID(ctx context.Context, iccid string) (ActivationResult, error) {
	iccid = strings.TrimSpace(iccid)
	if iccid == "" {
		return ActivationResult{}, NewError(ErrorValidationFailed, "iccid is required", nil)
	}
	order, err := s.orders.FindByICCID(ctx, iccid)
	if err == nil {
		return s.GetActivation(ctx, order.ID)
	}
	if !HasTextCode(err, ErrorOrderNotFound) {
		return ActivationResult{}, err
	}

	startedAt := time.Now()
	result, err := s.lookupSIM(ctx, iccid)
	s.observer.ObserveOperation(ctx, startedAt, "get_activation_by_iccid", err, map[string]any{
		"provider":          s.providerName,
		"activation_status": string(result.Status),
	})
	return result, err
}

func (s *Service) lookupSIM(ctx context.Context, iccid string) (ActivationResult, error) {
	session, err := s.openSession(ctx)
	if err != nil {
		return ActivationResult{}, err
	}
	sim, createdAt, err := s.client.GetSIM(ctx, session, iccid)
	if err != nil {
		s.dropRejectedSession(ctx, session, err)
		return ActivationResult{}, err
	}
	if strings.TrimSpace(sim.ICCID) == "" {
		sim.ICCID = iccid
	}
	artifact := sim.Artifact(s.now())
	if !artifact.HasActivationData() {
		return s.notReady(Order{}, createdAt), nil
	}
	return ActivationResult{
		Status:   ActivationStatusReady,
		Artifact: &artifact,
	}, nil
}

func (s *Service) retrieveActivation(ctx context.Context, order Order) (ActivationResult, error) {
	session, err := s.openSession(ctx)
	if err != nil {
		return ActivationResult{}, err
	}

	remote, err := s.client.GetOrder(ctx, session, order.ProviderOrderID)
	if err != nil {
		s.dropRejectedSession(ctx, session, err)
		return ActivationResult{}, err
	}
	if len(remote.SIMs) == 0 {
		return notReadyResult(order, ErrorNotReadyYet, ActivationStatusProcessing, messageNotReadyYet), nil
	}
	listed := remote.SIMs[0]
	iccid := strings.TrimSpace(listed.ICCID)
	if iccid == "" {
		return notReadyResult(order, ErrorMissingICCID, ActivationStatusProcessing, messageMissingICCID), nil
	}

	detail, simCreatedAt, err := s.client.GetSIM(ctx, session, iccid)
	if err != nil {
		s.dropRejectedSession(ctx, session, err)
		return ActivationResult{}, err
	}
	sim := mergeSIM(detail, listed)
	sim.ICCID = iccid
	artifact := sim.Artifact(s.now())

	if !artifact.HasActivationData() {
		if order.ICCID == "" {
			order.ICCID = iccid
			if saved, saveErr := s.orders.Save(ctx, order); saveErr == nil {
				order = saved
			}
		}
		createdAt := remote.CreatedAt
		if createdAt.IsZero() {
			createdAt = simCreatedAt
		}
		return s.notReady(order, createdAt), nil
	}

	saved, wrote, err := s.orders.SaveActivation(ctx, order.ID, artifact)
	if err != nil {
		return ActivationResult{}, err
	}
	if !wrote {
		if !saved.HasActivation() {
			return ActivationResult{}, NewError(ErrorInternal, "activation was not stored", map[string]any{
				MetadataKeyOrderID: order.ID,
			})
		}
		return cachedResult(saved), nil
	}
	if order.FulfillmentStatus != FulfillmentStatusCompleted && saved.IsCompleted() {
		s.emit(ctx, EventOrderCompleted, saved)
	}
	s.emit(ctx, EventOrderActivationReady, saved)
	stored := *saved.Activation
	return ActivationResult{
		Status:   ActivationStatusReady,
		Artifact: &stored,
		Order:    saved,
	}, nil
}

// notReady applies the age policy: young orders are still processing, older
// ones point the customer at support. Both stay retryable.
func (s *Service) notReady(order Order, createdAt time.Time) ActivationResult {
	if createdAt.IsZero() || s.now().Sub(createdAt) < s.notReadyThreshold {
		return notReadyResult(order, ErrorNotReadyYet, ActivationStatusProcessing, messageNotReadyYet)
	}
	return notReadyResult(order, ErrorStillNotReady, ActivationStatusContactSupport, messageStillNotReady)
}

func cachedOrPending(order Order) (ActivationResult, bool) {
	if order.HasActivation() {
		return cachedResult(order), true
	}
	if strings.TrimSpace(order.ProviderOrderID) != "" {
		return ActivationResult{}, false
	}
	if order.PaymentStatus == PaymentStatusFailed {
		return failedResult(order, ErrorValidationFailed), true
	}
	if order.FulfillmentStatus == FulfillmentStatusFailed {
		// retryable failures are redelivered by the payment processor
		if RetryableCode(order.LastErrorCode) {
			return notReadyResult(order, order.LastErrorCode, ActivationStatusProcessing, messageNotReadyYet), true
		}
		code := order.LastErrorCode
		if code == "" {
			code = ErrorValidationFailed
		}
		return failedResult(order, code), true
	}
	return notReadyResult(order, ErrorNotReadyYet, ActivationStatusProcessing, messageNotReadyYet), true
}

func cachedResult(order Order) ActivationResult {
	stored := *order.Activation
	return ActivationResult{
		Status:    ActivationStatusReady,
		Artifact:  &stored,
		FromCache: true,
		Order:     order,
	}
}

func failedResult(order Order, code string) ActivationResult {
	return ActivationResult{
		Status:  ActivationStatusFailed,
		Code:    code,
		Message: messageOrderFailed,
		Order:   order,
	}
}

func notReadyResult(order Order, code string, status ActivationStatus, message string) ActivationResult {
	return ActivationResult{
		Status:   status,
		CanRetry: true,
		Code:     code,
		Message:  message,
		Order:    order,
	}
}

// mergeSIM prefers SIM detail fields and fills gaps from the order listing.
func mergeSIM(detail RemoteSIM, listed RemoteSIM) RemoteSIM {
	pick := func(primary, fallback string) string {
		if strings.TrimSpace(primary) != "" {
			return primary
		}
		return fallback
	}
	return RemoteSIM{
		ICCID:                      pick(detail.ICCID, listed.ICCID),
		QRCode:                     pick(detail.QRCode, listed.QRCode),
		QRCodeURL:                  pick(detail.QRCodeURL, listed.QRCodeURL),
		ActivationCode:             pick(detail.ActivationCode, listed.ActivationCode),
		LPA:                        pick(detail.LPA, listed.LPA),
		SMDPAddress:                pick(detail.SMDPAddress, listed.SMDPAddress),
		MatchingID:                 pick(detail.MatchingID, listed.MatchingID),
		DirectAppleInstallationURL: pick(detail.DirectAppleInstallationURL, listed.DirectAppleInstallationURL),
		Status:                     pick(detail.Status, listed.Status),
	}
}
