package errors

import "net/http"

// Dispatch-engine error kinds (spec §7). These are attached to APIError.Kind
// so the executor can classify without string-matching messages.
const (
	KindConfigMissingEnv    = "CONFIG_MISSING_ENV"
	KindSecretNotFound      = "SECRET_NOT_FOUND"
	KindOAuthRefreshFailed  = "OAUTH_REFRESH_FAILED"
	KindOAuthExpiredNoRefr  = "OAUTH_EXPIRED_NO_REFRESH"
	KindNoProviderTarget    = "ERR_NO_PROVIDER_TARGET"
	KindRuntimeNotFound     = "ERR_RUNTIME_NOT_FOUND"
	KindProviderNotFound    = "ERR_PROVIDER_NOT_FOUND"
	KindHTTP429             = "HTTP_429"
	KindHTTP5xx             = "HTTP_5xx"
	KindHTTP4xx             = "HTTP_4xx"
	KindTimeout             = "TIMEOUT"
	KindNetworkError        = "NETWORK_ERROR"
	KindSSEDecodeError      = "SSE_DECODE_ERROR"
	KindServerToolFollowup  = "SERVERTOOL_FOLLOWUP_ERROR"
	KindProviderProtocolErr = "PROVIDER_PROTOCOL_ERROR"
	KindAuthenticationError = "AUTHENTICATION_ERROR"
	KindPermissionError     = "PERMISSION_ERROR"
	KindValidationError     = "VALIDATION_ERROR"
	KindNotFound            = "NOT_FOUND"
)

// NewKind builds an APIError tagged with a dispatch-engine kind.
func NewKind(kind string, httpStatus int, message string) *APIError {
	return &APIError{Kind: kind, HTTPStatus: httpStatus, Code: kind, Type: kindErrorType(kind), Message: message}
}

func kindErrorType(kind string) string {
	switch kind {
	case KindAuthenticationError, KindOAuthExpiredNoRefr, KindOAuthRefreshFailed:
		return "authentication_error"
	case KindPermissionError:
		return "permission_error"
	case KindValidationError:
		return "invalid_request_error"
	case KindNotFound:
		return "invalid_request_error"
	case KindHTTP429:
		return "rate_limit_error"
	default:
		return "server_error"
	}
}

// ShouldRetryKind implements the retry classification of spec §4.5.2 /
// §7: upstream 429/5xx/timeout/network errors and a routing target miss
// are retryable; everything else (including SSE and server-tool failures)
// is fatal.
func ShouldRetryKind(kind string) bool {
	switch kind {
	case KindHTTP429, KindHTTP5xx, KindTimeout, KindNetworkError,
		KindRuntimeNotFound, KindProviderNotFound:
		return true
	default:
		return false
	}
}

// AsKind extracts the dispatch-engine Kind tag from err, if any. Returns
// "" for untagged errors so callers can fall back to non-retryable
// treatment.
func AsKind(err error) string {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.Kind
	}
	return ""
}

// HTTPStatusOf returns the HTTP status carried by err, defaulting to 500
// for untagged errors.
func HTTPStatusOf(err error) int {
	if apiErr, ok := err.(*APIError); ok && apiErr.HTTPStatus != 0 {
		return apiErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
