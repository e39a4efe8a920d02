package model

// ErrorResponse represents a standardised error response.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// Standard error codes for API responses
const (
	ErrCodeInvalidJSON       = "INVALID_JSON"
	ErrCodeMissingField      = "MISSING_FIELD"
	ErrCodeCouponUnavailable = "COUPON_UNAVAILABLE"
	ErrCodeNonExistingCoupon = "NON_EXISTING_COUPON"
	ErrCodeBadCouponStatus   = "BAD_COUPON_STATUS"
	ErrCodeInvalidAmount     = "INVALID_AMOUNT"
	ErrCodeUnauthorised      = "UNAUTHORIZED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// Domain errors for business logic
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors. Callers match these with errors.Is; repository
// implementations wrap them with context rather than returning new values.
var (
	ErrCouponUnavailable = NewDomainError(ErrCodeCouponUnavailable, "Not enough available coupons for the requested denomination")
	ErrNonExistingCoupon = NewDomainError(ErrCodeNonExistingCoupon, "Coupon does not exist")
	ErrBadCouponStatus   = NewDomainError(ErrCodeBadCouponStatus, "Coupon status or processing id does not allow this operation")
	ErrInvalidAmount     = NewDomainError(ErrCodeInvalidAmount, "Amount must be greater than zero")
)
