package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Fulfill drives the order named by a verified payment event through remote
// order creation. Replays of an already fulfilled or already submitted order
// return the stored order without calling the provider again.
func (s *Service) Fulfill(ctx context.Context, event VerifiedEvent) (order Order, err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"order_id":       strings.TrimSpace(event.OrderID),
		"payment_method": string(event.Processor),
		"payment_event":  event.EventType,
		"provider":       s.providerName,
		"unverified":     event.Unverified,
	}
	defer func() {
		if order.FulfillmentStatus != "" {
			fields["fulfillment_status"] = string(order.FulfillmentStatus)
		}
		if order.ProviderOrderID != "" {
			fields["provider_order_id"] = order.ProviderOrderID
		}
		s.observer.ObserveOperation(ctx, startedAt, "fulfill", err, fields)
	}()

	orderID := strings.TrimSpace(event.OrderID)
	if orderID == "" {
		return Order{}, NewError(ErrorValidationFailed, "payment event has no order id", nil)
	}
	if event.Outcome == PaymentOutcomeIgnored {
		return Order{}, NewError(ErrorValidationFailed, fmt.Sprintf("event type %q does not affect orders", event.EventType), map[string]any{
			MetadataKeyOrderID: orderID,
		})
	}

	unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	defer unlock()

	now := s.now()
	order, _, err = s.orders.GetOrCreate(ctx, seedOrder(event, now))
	if err != nil {
		return Order{}, err
	}
	if order.IsCompleted() {
		return order, nil
	}
	applyEventFields(&order, event)

	if event.Outcome == PaymentOutcomeFailed {
		return s.recordPaymentFailure(ctx, order)
	}
	if strings.TrimSpace(order.ProviderOrderID) != "" {
		return order, nil
	}

	confirmedNow := order.PaymentStatus != PaymentStatusConfirmed
	if confirmedNow {
		order.PaymentStatus = PaymentStatusConfirmed
		confirmedAt := now
		order.PaymentConfirmedAt = &confirmedAt
	}

	if err := validateForFulfillment(order, event); err != nil {
		failed, saveErr := s.failOrder(ctx, order, err)
		if confirmedNow && saveErr == nil {
			s.emit(ctx, EventOrderPaymentConfirmed, failed)
		}
		return failed, errors.Join(err, saveErr)
	}

	order.LastError = ""
	order.LastErrorCode = ""
	claimed, won, err := s.orders.ClaimForFulfillment(ctx, order, now.Add(-s.claimTTL))
	if err != nil {
		return order, err
	}
	if !won {
		// another worker holds the claim or already created the remote order
		fields["claim_held"] = true
		return claimed, nil
	}
	order = claimed
	if confirmedNow {
		s.emit(ctx, EventOrderPaymentConfirmed, order)
	}
	s.emit(ctx, EventOrderProcessing, order)

	session, err := s.openSession(ctx)
	if err != nil {
		failed, saveErr := s.failOrder(ctx, order, err)
		return failed, errors.Join(err, saveErr)
	}

	remote, err := s.client.CreateOrder(ctx, session, s.buildOrderRequest(order))
	if err != nil {
		s.dropRejectedSession(ctx, session, err)
		err = remoteCreationError(err, order.ID)
		failed, saveErr := s.failOrder(ctx, order, err)
		return failed, errors.Join(err, saveErr)
	}

	order.ProviderOrderID = strings.TrimSpace(remote.ID)
	order.FulfillmentStatus = FulfillmentStatusProcessing
	if len(remote.SIMs) > 0 {
		sim := remote.SIMs[0]
		order.ICCID = strings.TrimSpace(sim.ICCID)
		artifact := sim.Artifact(s.now())
		if artifact.ICCID != "" && artifact.HasActivationData() {
			order.Activation = &artifact
			order.FulfillmentStatus = FulfillmentStatusCompleted
		}
	}
	order, err = s.orders.Save(ctx, order)
	if err != nil {
		return order, err
	}
	if order.IsCompleted() {
		s.emit(ctx, EventOrderCompleted, order)
		s.emit(ctx, EventOrderActivationReady, order)
	}
	return order, nil
}

func (s *Service) recordPaymentFailure(ctx context.Context, order Order) (Order, error) {
	if order.PaymentStatus == PaymentStatusConfirmed || strings.TrimSpace(order.ProviderOrderID) != "" {
		return order, nil
	}
	if order.PaymentStatus == PaymentStatusFailed {
		return order, nil
	}
	order.PaymentStatus = PaymentStatusFailed
	order.LastError = "payment was not completed"
	order, err := s.orders.Save(ctx, order)
	if err != nil {
		return order, err
	}
	s.emit(ctx, EventOrderPaymentFailed, order)
	return order, nil
}

// failOrder records cause on the order and marks it failed. The returned
// error only reports persistence problems.
func (s *Service) failOrder(ctx context.Context, order Order, cause error) (Order, error) {
	order.FulfillmentStatus = FulfillmentStatusFailed
	order.LastError = userSafeMessage(cause)
	order.LastErrorCode = TextCode(cause)
	if order.LastErrorCode == "" {
		order.LastErrorCode = ErrorInternal
	}
	saved, err := s.orders.Save(ctx, order)
	if err != nil {
		return order, err
	}
	s.emit(ctx, EventOrderFailed, saved)
	return saved, nil
}

func (s *Service) buildOrderRequest(order Order) CreateOrderRequest {
	req := CreateOrderRequest{
		PackageID:      strings.TrimSpace(order.PlanID),
		Quantity:       s.orderOptions.Quantity,
		Type:           s.orderOptions.Type,
		Description:    fmt.Sprintf("Order %s", order.ID),
		SharingOptions: append([]string(nil), s.orderOptions.SharingOptions...),
		CopyAddresses:  append([]string(nil), s.orderOptions.CopyAddresses...),
	}
	if s.orderOptions.DeliverToCustomer {
		req.ToEmail = strings.TrimSpace(order.CustomerEmail)
	}
	return req
}

func validateForFulfillment(order Order, event VerifiedEvent) error {
	if strings.TrimSpace(order.PlanID) == "" {
		return NewError(ErrorValidationFailed, "order has no plan id", map[string]any{
			MetadataKeyOrderID: order.ID,
		})
	}
	if event.Unverified && strings.TrimSpace(order.CustomerEmail) == "" {
		return NewError(ErrorValidationFailed, "unverified payment event requires a customer email", map[string]any{
			MetadataKeyOrderID: order.ID,
		})
	}
	return nil
}

// remoteCreationError keeps timeout and rate limit codes and folds everything
// else into a retryable creation failure.
func remoteCreationError(err error, orderID string) error {
	switch TextCode(err) {
	case ErrorProviderTimeout, ErrorRateLimited:
		return err
	}
	return WrapError(err, ErrorRemoteOrderCreationFailed, "remote order creation failed", map[string]any{
		MetadataKeyOrderID: orderID,
	})
}

func userSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	code := TextCode(err)
	switch code {
	case ErrorCredentialsNotConfigured:
		return "provider credentials are not configured"
	case ErrorAccountTerminated:
		return "provider account terminated"
	case ErrorAuthenticationFailed, ErrorMissingAccessToken:
		return "provider authentication failed"
	case ErrorProviderTimeout:
		return "provider request timed out"
	case ErrorRateLimited:
		return "provider rate limit reached"
	case ErrorRemoteOrderCreationFailed:
		return "remote order creation failed"
	case ErrorValidationFailed:
		if rich := ToServiceError(err); rich != nil && rich.Message != "" {
			return rich.Message
		}
		return "order validation failed"
	case "":
		return "order fulfillment failed"
	}
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(code, "ESIM_"), "_", " "))
}

func seedOrder(event VerifiedEvent, now time.Time) Order {
	return Order{
		ID:                strings.TrimSpace(event.OrderID),
		PlanID:            strings.TrimSpace(event.PlanID),
		CustomerEmail:     strings.TrimSpace(event.CustomerEmail),
		CustomerName:      strings.TrimSpace(event.CustomerName),
		CustomerUserID:    strings.TrimSpace(event.UserID),
		PaymentMethod:     event.Processor,
		PaymentStatus:     PaymentStatusPending,
		ExternalChargeID:  strings.TrimSpace(event.ExternalChargeID),
		AmountMinorUnits:  event.AmountMinorUnits,
		Currency:          strings.ToUpper(strings.TrimSpace(event.Currency)),
		FulfillmentStatus: FulfillmentStatusUnprocessed,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// applyEventFields copies informational fields from the latest delivery.
func applyEventFields(order *Order, event VerifiedEvent) {
	set := func(dst *string, value string) {
		if value = strings.TrimSpace(value); value != "" {
			*dst = value
		}
	}
	set(&order.PlanID, event.PlanID)
	set(&order.CustomerEmail, event.CustomerEmail)
	set(&order.CustomerName, event.CustomerName)
	set(&order.CustomerUserID, event.UserID)
	set(&order.ExternalChargeID, event.ExternalChargeID)
	if event.Processor != "" {
		order.PaymentMethod = event.Processor
	}
	if event.AmountMinorUnits > 0 {
		order.AmountMinorUnits = event.AmountMinorUnits
	}
	if currency := strings.ToUpper(strings.TrimSpace(event.Currency)); currency != "" {
		order.Currency = currency
	}
}
