package transport

import (
	"context"
	"errors"
	"net"

	"github.com/goliatone/go-esim/core"
)

func transportError(textCode string, message string, metadata map[string]any) error {
	return core.NewError(textCode, message, metadata)
}

func transportWrapError(source error, textCode string, message string, metadata map[string]any) error {
	if source == nil {
		return transportError(textCode, message, metadata)
	}
	return core.WrapError(source, textCode, message, metadata)
}

// classifyRequestError maps a failed round trip onto the provider error
// codes: deadline expiry becomes ESIM_PROVIDER_TIMEOUT, everything else is a
// retryable ESIM_PROVIDER_ERROR.
func classifyRequestError(err error, metadata map[string]any) error {
	if isTimeout(err) {
		return transportWrapError(err, core.ErrorProviderTimeout, "transport: provider request timed out", metadata)
	}
	return transportWrapError(err, core.ErrorProviderError, "transport: execute http request", metadata)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
