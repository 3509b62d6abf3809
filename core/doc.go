// Package core contains the order fulfillment domain: orders, payment events,
// provider credentials and sessions, activation artifacts, and the service
// that drives orders from a verified payment to an installable eSIM.
// Provider, storage, and transport adapters depend on this package; core does
// not depend on them.
package core
