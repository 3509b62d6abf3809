package core

import (
	"errors"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorSignatureInvalid          = "ESIM_SIGNATURE_INVALID"
	ErrorMalformedPayload          = "ESIM_MALFORMED_PAYLOAD"
	ErrorUnverifiedEventRejected   = "ESIM_UNVERIFIED_EVENT_REJECTED"
	ErrorCredentialsNotConfigured  = "ESIM_CREDENTIALS_NOT_CONFIGURED"
	ErrorAuthenticationFailed      = "ESIM_AUTHENTICATION_FAILED"
	ErrorAccountTerminated         = "ESIM_ACCOUNT_TERMINATED"
	ErrorMissingAccessToken        = "ESIM_MISSING_ACCESS_TOKEN"
	ErrorRemoteOrderCreationFailed = "ESIM_REMOTE_ORDER_CREATION_FAILED"
	ErrorValidationFailed          = "ESIM_VALIDATION_FAILED"
	ErrorNotReadyYet               = "ESIM_NOT_READY_YET"
	ErrorStillNotReady             = "ESIM_STILL_NOT_READY"
	ErrorMissingICCID              = "ESIM_MISSING_ICCID"
	ErrorProviderTimeout           = "ESIM_PROVIDER_TIMEOUT"
	ErrorRateLimited               = "ESIM_RATE_LIMITED"
	ErrorOrderNotFound             = "ESIM_ORDER_NOT_FOUND"
	ErrorProviderError             = "ESIM_PROVIDER_ERROR"
	ErrorInternal                  = "ESIM_INTERNAL_ERROR"
)

const (
	MetadataKeyRetryable    = "retryable"
	MetadataKeyRetryAfterMS = "retry_after_ms"
	MetadataKeyStatusCode   = "status_code"
	MetadataKeyProvider     = "provider"
	MetadataKeyOrderID      = "order_id"
)

type errorSpec struct {
	category  goerrors.Category
	status    int
	retryable bool
}

var errorSpecs = map[string]errorSpec{
	ErrorSignatureInvalid:          {goerrors.CategoryAuth, http.StatusBadRequest, false},
	ErrorMalformedPayload:          {goerrors.CategoryBadInput, http.StatusBadRequest, false},
	ErrorUnverifiedEventRejected:   {goerrors.CategoryAuth, http.StatusBadRequest, false},
	ErrorCredentialsNotConfigured:  {goerrors.CategoryInternal, http.StatusInternalServerError, false},
	ErrorAuthenticationFailed:      {goerrors.CategoryExternal, http.StatusBadGateway, true},
	ErrorAccountTerminated:         {goerrors.CategoryAuth, http.StatusBadGateway, false},
	ErrorMissingAccessToken:        {goerrors.CategoryExternal, http.StatusBadGateway, true},
	ErrorRemoteOrderCreationFailed: {goerrors.CategoryExternal, http.StatusBadGateway, true},
	ErrorValidationFailed:          {goerrors.CategoryValidation, http.StatusBadRequest, false},
	ErrorNotReadyYet:               {goerrors.CategoryOperation, http.StatusOK, true},
	ErrorStillNotReady:             {goerrors.CategoryOperation, http.StatusOK, true},
	ErrorMissingICCID:              {goerrors.CategoryOperation, http.StatusOK, true},
	ErrorProviderTimeout:           {goerrors.CategoryExternal, http.StatusGatewayTimeout, true},
	ErrorRateLimited:               {goerrors.CategoryRateLimit, http.StatusTooManyRequests, true},
	ErrorOrderNotFound:             {goerrors.CategoryNotFound, http.StatusNotFound, false},
	ErrorProviderError:             {goerrors.CategoryExternal, http.StatusBadGateway, true},
	ErrorInternal:                  {goerrors.CategoryInternal, http.StatusInternalServerError, false},
}

// NewError builds an error envelope for one of the ESIM_* text codes.
func NewError(textCode string, message string, metadata map[string]any) *goerrors.Error {
	spec, ok := errorSpecs[textCode]
	if !ok {
		spec = errorSpecs[ErrorInternal]
		textCode = ErrorInternal
	}
	fields := cloneFields(metadata)
	fields[MetadataKeyRetryable] = spec.retryable
	return goerrors.New(strings.TrimSpace(message), spec.category).
		WithCode(spec.status).
		WithTextCode(textCode).
		WithMetadata(fields)
}

// WrapError attaches a text code to a lower level cause, keeping the cause reachable.
func WrapError(cause error, textCode string, message string, metadata map[string]any) *goerrors.Error {
	if cause == nil {
		return NewError(textCode, message, metadata)
	}
	spec, ok := errorSpecs[textCode]
	if !ok {
		spec = errorSpecs[ErrorInternal]
		textCode = ErrorInternal
	}
	fields := cloneFields(metadata)
	fields[MetadataKeyRetryable] = spec.retryable
	return goerrors.Wrap(cause, spec.category, strings.TrimSpace(message)).
		WithCode(spec.status).
		WithTextCode(textCode).
		WithMetadata(fields)
}

// NewRateLimitedError carries the provider hint in retry_after_ms when known.
func NewRateLimitedError(message string, retryAfter time.Duration, metadata map[string]any) *goerrors.Error {
	fields := cloneFields(metadata)
	if retryAfter > 0 {
		fields[MetadataKeyRetryAfterMS] = retryAfter.Milliseconds()
	}
	return NewError(ErrorRateLimited, message, fields)
}

// NewFieldError reports one invalid field of a command or query message.
// scope prefixes the message, e.g. "query" or "command".
func NewFieldError(scope string, field string, message string) *goerrors.Error {
	return goerrors.NewValidation(scope+": validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorValidationFailed).
		WithSeverity(goerrors.SeverityError)
}

// WrapValidationError marks err as a validation failure. nil stays nil.
func WrapValidationError(err error, message string) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryValidation, message).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorValidationFailed)
}

// NewMissingDependencyError reports a handler built without its collaborator.
func NewMissingDependencyError(message string) *goerrors.Error {
	return NewError(ErrorInternal, message, nil)
}

// TextCode returns the ESIM_* code attached to err, or empty when none.
func TextCode(err error) string {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich == nil {
		return ""
	}
	return strings.TrimSpace(rich.TextCode)
}

func HasTextCode(err error, textCode string) bool {
	return err != nil && TextCode(err) == textCode
}

// RetryableCode reports whether failures carrying textCode are retryable.
func RetryableCode(textCode string) bool {
	return errorSpecs[strings.TrimSpace(textCode)].retryable
}

// IsRetryable reports whether the upstream caller should redeliver.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOrderLocked) {
		return true
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich != nil {
		if value, ok := rich.Metadata[MetadataKeyRetryable].(bool); ok {
			return value
		}
		if spec, ok := errorSpecs[strings.TrimSpace(rich.TextCode)]; ok {
			return spec.retryable
		}
		return rich.Category == goerrors.CategoryExternal || rich.Category == goerrors.CategoryRateLimit
	}
	return false
}

// RetryAfter extracts the retry hint from a rate limited error.
func RetryAfter(err error) time.Duration {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich == nil {
		return 0
	}
	switch value := rich.Metadata[MetadataKeyRetryAfterMS].(type) {
	case int64:
		return time.Duration(value) * time.Millisecond
	case int:
		return time.Duration(value) * time.Millisecond
	case float64:
		return time.Duration(value) * time.Millisecond
	}
	return 0
}

// HTTPStatus maps err to a response status for the HTTP surface.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	rich := ToServiceError(err)
	if rich.Code > 0 {
		return rich.Code
	}
	return serviceHTTPStatus(rich.Category)
}

// ToServiceError normalizes any error into the service envelope.
func ToServiceError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich != nil {
		return ensureServiceErrorEnvelope(rich)
	}
	if errors.Is(err, ErrOrderLocked) {
		return NewError(ErrorProviderError, err.Error(), nil)
	}
	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput:
		return ErrorMalformedPayload
	case goerrors.CategoryValidation:
		return ErrorValidationFailed
	case goerrors.CategoryNotFound:
		return ErrorOrderNotFound
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryExternal:
		return ErrorProviderError
	default:
		return ErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
