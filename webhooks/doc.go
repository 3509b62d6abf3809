// Package webhooks verifies payment processor webhooks and hands the
// normalized events to the order orchestrator.
//
// Deliveries are deduplicated through a claim lifecycle:
// processing -> processed|retry_ready -> dead.
// A retryable orchestration failure leaves the delivery retry_ready so the
// processor's redelivery is claimed again instead of being deduped.
package webhooks
