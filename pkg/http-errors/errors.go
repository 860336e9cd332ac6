package httperrors

import (
	"errors"
	"net/http"
	"time"

	dErrors "arbor/pkg/domain-errors"
)

// ToHTTPStatus maps a domain error code onto an HTTP status so handlers never
// hand-roll the translation.
func ToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeInvalidInput, dErrors.CodeBadRequest:
		return http.StatusBadRequest
	case dErrors.CodeValidation, dErrors.CodeConstraintViolation:
		return http.StatusUnprocessableEntity
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden, dErrors.CodePermissionDenied:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeStateConflict:
		return http.StatusConflict
	case dErrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Status resolves any error to an HTTP status, defaulting to 500 for errors
// that carry no domain code.
func Status(err error) int {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return ToHTTPStatus(de.Code)
	}
	return http.StatusInternalServerError
}

// CodeOf extracts the domain code for response envelopes.
func CodeOf(err error) dErrors.Code {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return de.Code
	}
	return dErrors.CodeInternal
}

// RetryAfterOf extracts the back-off hint from a rate-limit style error.
func RetryAfterOf(err error) (time.Duration, bool) {
	var de *dErrors.Error
	if errors.As(err, &de) && de.RetryAfter > 0 {
		return de.RetryAfter, true
	}
	return 0, false
}
