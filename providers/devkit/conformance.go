package devkit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-esim/core"
	"github.com/goliatone/go-esim/webhooks"
)

// ValidateDeliveryLedgerConformance checks that a ledger grants one claim
// per delivery while the lease is held and stops granting once processed.
func ValidateDeliveryLedgerConformance(
	ctx context.Context,
	ledger webhooks.DeliveryLedger,
	processor string,
	deliveryID string,
) error {
	if ledger == nil {
		return fmt.Errorf("devkit: delivery ledger is required")
	}
	record, claimed, err := ledger.Claim(ctx, processor, deliveryID, nil, time.Minute)
	if err != nil {
		return err
	}
	if !claimed || strings.TrimSpace(record.ClaimID) == "" {
		return fmt.Errorf("devkit: first claim should be accepted")
	}
	if _, claimed, err := ledger.Claim(ctx, processor, deliveryID, nil, time.Minute); err != nil {
		return err
	} else if claimed {
		return fmt.Errorf("devkit: second claim should not be accepted while lease is active")
	}

	if err := ledger.Complete(ctx, record.ClaimID); err != nil {
		return err
	}
	loaded, err := ledger.Get(ctx, processor, deliveryID)
	if err != nil {
		return err
	}
	if loaded.Status != webhooks.DeliveryStatusProcessed {
		return fmt.Errorf("devkit: expected processed status, got %q", loaded.Status)
	}
	if _, claimed, err := ledger.Claim(ctx, processor, deliveryID, nil, time.Minute); err != nil {
		return err
	} else if claimed {
		return fmt.Errorf("devkit: processed delivery should not be claimable")
	}
	return nil
}

// ValidateOrderStoreConformance checks create-once orders, the fulfillment
// claim, the completed status latch and the write-once activation artifact.
func ValidateOrderStoreConformance(ctx context.Context, store core.OrderStore, orderID string) error {
	if store == nil {
		return fmt.Errorf("devkit: order store is required")
	}
	order, created, err := store.GetOrCreate(ctx, core.Order{
		ID:            orderID,
		PlanID:        "pkg_conformance",
		CustomerEmail: "conformance@example.com",
		PaymentMethod: core.PaymentMethodStripe,
	})
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("devkit: first GetOrCreate should create")
	}
	if _, created, err := store.GetOrCreate(ctx, core.Order{ID: orderID, PlanID: "pkg_other"}); err != nil {
		return err
	} else if created {
		return fmt.Errorf("devkit: second GetOrCreate should reuse the stored order")
	}

	if order, err = validateFulfillmentClaim(ctx, store, order); err != nil {
		return err
	}

	order.FulfillmentStatus = core.FulfillmentStatusCompleted
	order.ProviderOrderID = "conformance-1"
	order.ICCID = "8900000000000000001"
	if _, err := store.Save(ctx, order); err != nil {
		return err
	}
	order.FulfillmentStatus = core.FulfillmentStatusFailed
	stored, err := store.Save(ctx, order)
	if err != nil {
		return err
	}
	if !stored.IsCompleted() {
		return fmt.Errorf("devkit: completed order must stay completed, got %q", stored.FulfillmentStatus)
	}

	first := core.ActivationArtifact{ICCID: order.ICCID, QRCode: "LPA:1$first", RetrievedAt: time.Now().UTC()}
	if _, wrote, err := store.SaveActivation(ctx, orderID, first); err != nil {
		return err
	} else if !wrote {
		return fmt.Errorf("devkit: first SaveActivation should write")
	}
	second := core.ActivationArtifact{ICCID: order.ICCID, QRCode: "LPA:1$second", RetrievedAt: time.Now().UTC()}
	kept, wrote, err := store.SaveActivation(ctx, orderID, second)
	if err != nil {
		return err
	}
	if wrote || kept.Activation == nil || kept.Activation.QRCode != first.QRCode {
		return fmt.Errorf("devkit: activation artifact must be written once")
	}

	byICCID, err := store.FindByICCID(ctx, order.ICCID)
	if err != nil {
		return err
	}
	if byICCID.ID != orderID {
		return fmt.Errorf("devkit: FindByICCID returned %q, want %q", byICCID.ID, orderID)
	}
	if _, err := store.Get(ctx, orderID+"_missing"); err == nil {
		return fmt.Errorf("devkit: unknown order should fail")
	} else if !core.HasTextCode(err, core.ErrorOrderNotFound) {
		return fmt.Errorf("devkit: unknown order should report not found, got %w", err)
	}
	return nil
}

func validateFulfillmentClaim(ctx context.Context, store core.OrderStore, order core.Order) (core.Order, error) {
	past, future := time.Now().Add(-time.Hour), time.Now().Add(time.Hour)
	claimed, won, err := store.ClaimForFulfillment(ctx, order, past)
	if err != nil {
		return core.Order{}, err
	}
	if !won || claimed.FulfillmentStatus != core.FulfillmentStatusProcessing {
		return core.Order{}, fmt.Errorf("devkit: first fulfillment claim should win, got %q", claimed.FulfillmentStatus)
	}
	if _, won, err := store.ClaimForFulfillment(ctx, order, past); err != nil {
		return core.Order{}, err
	} else if won {
		return core.Order{}, fmt.Errorf("devkit: live fulfillment claim must not be taken twice")
	}
	if _, won, err := store.ClaimForFulfillment(ctx, order, future); err != nil {
		return core.Order{}, err
	} else if !won {
		return core.Order{}, fmt.Errorf("devkit: stale fulfillment claim should be reclaimable")
	}

	claimed.ProviderOrderID = "conformance-claim"
	if claimed, err = store.Save(ctx, claimed); err != nil {
		return core.Order{}, err
	}
	if _, won, err := store.ClaimForFulfillment(ctx, claimed, future); err != nil {
		return core.Order{}, err
	} else if won {
		return core.Order{}, fmt.Errorf("devkit: order with a provider order id must not be claimed")
	}
	return claimed, nil
}
