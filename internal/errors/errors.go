// Package errors defines the error values the HTTP layer turns into JSON
// responses. Each code maps to exactly one status.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"
	ErrCodePayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"

	ErrCodeUnauthorized  ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden     ErrorCode = "FORBIDDEN"
	ErrCodeAdminDisabled ErrorCode = "ADMIN_DISABLED"

	ErrCodeSiteNotFound         ErrorCode = "SITE_NOT_FOUND"
	ErrCodeConversationNotFound ErrorCode = "CONVERSATION_NOT_FOUND"
	ErrCodeConflict             ErrorCode = "CONFLICT"

	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// WhatsApp session. NotConnected wraps PairingRequired or LoggedOut when
	// the reason is known.
	ErrCodeNotConnected    ErrorCode = "NOT_CONNECTED"
	ErrCodePairingRequired ErrorCode = "PAIRING_REQUIRED"
	ErrCodeLoggedOut       ErrorCode = "LOGGED_OUT"
	ErrCodeTimeout         ErrorCode = "TIMEOUT"
	ErrCodeExternal        ErrorCode = "EXTERNAL_SERVICE_ERROR"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

var statusByCode = map[ErrorCode]int{
	ErrCodeValidation:           http.StatusBadRequest,
	ErrCodeInvalidInput:         http.StatusBadRequest,
	ErrCodeMissingRequired:      http.StatusBadRequest,
	ErrCodePayloadTooLarge:      http.StatusRequestEntityTooLarge,
	ErrCodeUnauthorized:         http.StatusUnauthorized,
	ErrCodeForbidden:            http.StatusForbidden,
	ErrCodeAdminDisabled:        http.StatusServiceUnavailable,
	ErrCodeSiteNotFound:         http.StatusNotFound,
	ErrCodeConversationNotFound: http.StatusNotFound,
	ErrCodeConflict:             http.StatusConflict,
	ErrCodeRateLimitExceeded:    http.StatusTooManyRequests,
	ErrCodeNotConnected:         http.StatusServiceUnavailable,
	ErrCodePairingRequired:      http.StatusServiceUnavailable,
	ErrCodeLoggedOut:            http.StatusServiceUnavailable,
	ErrCodeTimeout:              http.StatusGatewayTimeout,
	ErrCodeExternal:             http.StatusBadGateway,
	ErrCodeInternal:             http.StatusInternalServerError,
	ErrCodeDatabase:             http.StatusInternalServerError,
}

// AppError is safe to show to clients. The cause is logged, never sent.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// Is matches on code, so errors.Is(err, apperrors.NotConnected()) works.
func (e *AppError) Is(target error) bool {
	var other *AppError
	return errors.As(target, &other) && other.Code == e.Code
}

// Status is the HTTP status for the error's code, 500 when unmapped.
func (e *AppError) Status() int {
	if status, ok := statusByCode[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, cause: cause}
}

func Unauthorized(message string) *AppError { return New(ErrCodeUnauthorized, message) }
func Forbidden(message string) *AppError    { return New(ErrCodeForbidden, message) }
func Conflict(message string) *AppError     { return New(ErrCodeConflict, message) }
func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}
func Timeout(message string) *AppError  { return New(ErrCodeTimeout, message) }
func Internal(message string) *AppError { return New(ErrCodeInternal, message) }

func SiteNotFound() *AppError {
	return New(ErrCodeSiteNotFound, "Site not found")
}

func ConversationNotFound() *AppError {
	return New(ErrCodeConversationNotFound, "Conversation not found")
}

func InvalidInput(field, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func PayloadTooLarge() *AppError {
	return New(ErrCodePayloadTooLarge, "Request body too large")
}

// AdminDisabled is returned by every console route while no admin password
// is configured.
func AdminDisabled() *AppError {
	return New(ErrCodeAdminDisabled, "Admin console is not configured")
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

// NotConnected is returned when a send is attempted while the WhatsApp
// session is down. Sends are never queued.
func NotConnected() *AppError {
	return New(ErrCodeNotConnected, "WhatsApp not connected")
}

func PairingRequired() *AppError {
	return New(ErrCodePairingRequired, "WhatsApp pairing required, scan the QR code in admin")
}

func LoggedOut() *AppError {
	return New(ErrCodeLoggedOut, "WhatsApp device was logged out, re-pair required")
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

func External(service string, cause error) *AppError {
	return Wrap(ErrCodeExternal, fmt.Sprintf("External service error: %s", service), cause)
}

// AsAppError finds the outermost AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err's outermost AppError carries code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}
