package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind is the stable, client-visible classification of a failure.
type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindNotFound            Kind = "not_found"
	KindForbidden           Kind = "forbidden"
	KindUnauthorized        Kind = "unauthorized"
	KindInvalidTransition   Kind = "invalid_transition"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindAlreadyPaid         Kind = "already_paid"
	KindAlreadySettled      Kind = "already_settled"
	KindInvalidBookingState Kind = "invalid_booking_state"
	KindOutOfServiceArea    Kind = "out_of_service_area"
	KindUnsupportedService  Kind = "unsupported_service"
	KindGateway             Kind = "gateway_error"
	KindConflict            Kind = "conflict"
	KindInternal            Kind = "internal"
)

var statusByKind = map[Kind]int{
	KindValidation:          http.StatusBadRequest,
	KindNotFound:            http.StatusNotFound,
	KindForbidden:           http.StatusForbidden,
	KindUnauthorized:        http.StatusUnauthorized,
	KindInvalidTransition:   http.StatusConflict,
	KindInsufficientBalance: http.StatusUnprocessableEntity,
	KindAlreadyPaid:         http.StatusConflict,
	KindAlreadySettled:      http.StatusConflict,
	KindInvalidBookingState: http.StatusConflict,
	KindOutOfServiceArea:    http.StatusUnprocessableEntity,
	KindUnsupportedService:  http.StatusUnprocessableEntity,
	KindGateway:             http.StatusBadGateway,
	KindConflict:            http.StatusConflict,
	KindInternal:            http.StatusInternalServerError,
}

// Error represents an application error
type Error struct {
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, ErrNotFound) works for any not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// StatusCode returns the HTTP status for the error kind.
func (e *Error) StatusCode() int {
	if code, ok := statusByKind[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// JSON returns the error as a JSON string
func (e *Error) JSON() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// New creates a new Error
func New(kind Kind, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// WithDetail returns a copy of e carrying an extra detail field.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	out := *e
	out.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		out.Details[k] = v
	}
	out.Details[key] = value
	return &out
}

// Sentinels for errors.Is comparisons. Never mutate or return them directly
// when a message or wrapped cause is needed; use the constructors below.
var (
	ErrValidation          = New(KindValidation, "Validation error", nil)
	ErrNotFound            = New(KindNotFound, "Not found", nil)
	ErrForbidden           = New(KindForbidden, "Forbidden", nil)
	ErrUnauthorized        = New(KindUnauthorized, "Unauthorized", nil)
	ErrInvalidTransition   = New(KindInvalidTransition, "Invalid transition", nil)
	ErrInsufficientBalance = New(KindInsufficientBalance, "Insufficient balance", nil)
	ErrAlreadyPaid         = New(KindAlreadyPaid, "Already paid", nil)
	ErrAlreadySettled      = New(KindAlreadySettled, "Already settled", nil)
	ErrInvalidBookingState = New(KindInvalidBookingState, "Invalid booking state", nil)
	ErrOutOfServiceArea    = New(KindOutOfServiceArea, "Out of service area", nil)
	ErrUnsupportedService  = New(KindUnsupportedService, "Unsupported service", nil)
	ErrGateway             = New(KindGateway, "Payment gateway error", nil)
	ErrConflict            = New(KindConflict, "Conflict", nil)
	ErrInternalServer      = New(KindInternal, "Internal server error", nil)
)

func Validation(message string) *Error        { return New(KindValidation, message, nil) }
func NotFound(message string) *Error          { return New(KindNotFound, message, nil) }
func Forbidden(message string) *Error         { return New(KindForbidden, message, nil) }
func Unauthorized(message string) *Error      { return New(KindUnauthorized, message, nil) }
func InvalidTransition(message string) *Error { return New(KindInvalidTransition, message, nil) }
func AlreadyPaid(message string) *Error       { return New(KindAlreadyPaid, message, nil) }
func InvalidBookingState(message string) *Error {
	return New(KindInvalidBookingState, message, nil)
}
func Gateway(message string, err error) *Error  { return New(KindGateway, message, err) }
func Internal(message string, err error) *Error { return New(KindInternal, message, err) }

// InsufficientBalance reports a debit larger than the wallet balance. Amounts
// are passed preformatted so this package stays free of money types.
func InsufficientBalance(required, available string) *Error {
	return New(KindInsufficientBalance, "Insufficient balance", nil).
		WithDetail("required", required).
		WithDetail("available", available)
}

// As extracts an *Error from err. Anything that is not an *Error becomes an
// internal error wrapping it.
func As(err error) *Error {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Internal("Internal server error", err)
}

// KindOf returns the kind of err, or KindInternal.
func KindOf(err error) Kind {
	return As(err).Kind
}

// Respond writes err as the standard failure envelope. Internal errors never
// expose their cause.
func Respond(c *gin.Context, err error) {
	appErr := As(err)
	body := gin.H{
		"kind":    appErr.Kind,
		"message": appErr.Message,
	}
	if len(appErr.Details) > 0 {
		body["details"] = appErr.Details
	}
	c.JSON(appErr.StatusCode(), gin.H{"success": false, "error": body})
}

// HandleError writes err to a plain http.ResponseWriter.
func HandleError(w http.ResponseWriter, err error) {
	appErr := As(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode())
	w.Write([]byte(appErr.JSON()))
}

// Error middleware for Gin
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			Respond(c, c.Errors.Last().Err)
			c.Abort()
		}
	}
}
