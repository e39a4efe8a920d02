package model

import "time"

// CouponStatus is the lifecycle state of a coupon.
type CouponStatus string

const (
	StatusAvailable CouponStatus = "AVAILABLE"
	StatusReserved  CouponStatus = "RESERVED"
	StatusUsed      CouponStatus = "USED"
)

// CouponIDLength is the fixed length of a coupon identifier.
// Identifiers are numeric strings of exactly this length.
const CouponIDLength = 20

// Coupon represents a single fixed-denomination voucher.
type Coupon struct {
	ID             string       `json:"id" db:"id"`
	Denomination   float64      `json:"denomination" db:"denomination"`
	Status         CouponStatus `json:"status" db:"status"`
	BunchID        *string      `json:"bunchId,omitempty" db:"bunch_id"`
	ProcessingID   *string      `json:"processingId,omitempty" db:"processing_id"`
	ProcessingDate *time.Time   `json:"processingDate,omitempty" db:"processing_date"`
	CreatedAt      *time.Time   `json:"createdAt,omitempty" db:"created_at"`
	ExpirationDate *time.Time   `json:"expirationDate,omitempty" db:"expiration_date"`
}

// NewCoupon is the payload for bulk coupon ingestion. Coupons are always
// created AVAILABLE; expiration is optional.
type NewCoupon struct {
	ID             string     `json:"id"`
	Denomination   float64    `json:"denomination"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
}

// DenominationCount is one (denomination, count) pair of an availability
// summary or a reservation requirement. Summaries are ordered ascending by
// denomination.
type DenominationCount struct {
	Denomination float64 `json:"denomination"`
	Count        int     `json:"count"`
}

// ReservedCoupon identifies one coupon reserved by a bunch reservation.
type ReservedCoupon struct {
	ID           string  `json:"id"`
	Denomination float64 `json:"denomination"`
}

// ExpiringCoupon is one entry of an upcoming-expiration report.
type ExpiringCoupon struct {
	ID             string    `json:"id"`
	ExpirationDate time.Time `json:"expirationDate"`
}

// AllocatedCoupon is a reserved coupon together with the artifact produced
// for it, if an artifact generator is configured.
type AllocatedCoupon struct {
	ID           string  `json:"id"`
	Denomination float64 `json:"denomination"`
	Artifact     []byte  `json:"artifact,omitempty"`
}

// AllocationResult is the outcome of a successful allocation request: the
// cash the payer must add on top of the reserved coupons.
type AllocationResult struct {
	BunchID   string            `json:"bunchId"`
	CashToAdd float64           `json:"cashToAdd"`
	Coupons   []AllocatedCoupon `json:"coupons"`
}

// ConsistencyReport aggregates the read-only inventory probes used by
// external monitoring.
type ConsistencyReport struct {
	StaleReservations   bool             `json:"staleReservations"`
	OrphanedProcessing  bool             `json:"orphanedProcessing"`
	InconsistentStatus  bool             `json:"inconsistentStatus"`
	UpcomingExpirations []ExpiringCoupon `json:"upcomingExpirations"`
}

// AllocationRequest represents the request payload for reserving coupons
// against a payment amount.
type AllocationRequest struct {
	Amount  float64 `json:"amount"`
	BunchID string  `json:"bunchId,omitempty"`
}

// ProcessingIDRequest represents the request payload for attaching an
// external correlation token to a reserved coupon.
type ProcessingIDRequest struct {
	ProcessingID string `json:"processingId"`
}

// BunchActionRequest represents the request payload for bunch-level
// use/reject operations.
type BunchActionRequest struct {
	IgnoreProcessingIDCheck bool `json:"ignoreProcessingIdCheck,omitempty"`
}
