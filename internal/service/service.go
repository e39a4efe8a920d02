package service

import (
	"context"

	"github.com/bronweg/couponvault/internal/model"
)

// AllocationService turns a payment request into a confirmed, artifact-ready
// coupon reservation and exposes the follow-up coupon operations consumed by
// the collaborator front end.
type AllocationService interface {
	// GetBalance returns the available (denomination, count) pairs.
	GetBalance(ctx context.Context) ([]model.DenominationCount, error)

	// RequestAllocation reserves the optimal coupon combination for amount
	// under bunchID, retrying on reservation races, and generates a per-coupon
	// artifact when a generator is configured.
	RequestAllocation(ctx context.Context, amount float64, bunchID string) (*model.AllocationResult, error)

	// SetProcessingID attaches an external correlation token to a reserved
	// coupon.
	SetProcessingID(ctx context.Context, couponID, processingID string) error

	// Use marks a reserved coupon as spent; returns its processing id.
	Use(ctx context.Context, couponID string) (*string, error)

	// Reject releases a reserved coupon back to the available pool.
	Reject(ctx context.Context, couponID string, ignoreProcessingIDCheck bool) (*string, error)

	// UseBunch marks every coupon of a bunch as spent.
	UseBunch(ctx context.Context, bunchID string) ([]*string, error)

	// RejectBunch releases every coupon of a bunch back to the pool.
	RejectBunch(ctx context.Context, bunchID string, ignoreProcessingIDCheck bool) ([]*string, error)

	// ProcessingIDs returns the processing ids currently attached to a bunch.
	ProcessingIDs(ctx context.Context, bunchID string) ([]*string, error)

	// ConsistencyReport runs the inventory self-checks for monitoring.
	ConsistencyReport(ctx context.Context, expirationWindowDays int) (*model.ConsistencyReport, error)
}

// ArtifactGenerator produces the per-coupon artifact handed back to the
// payer, e.g. a rendered barcode. Implementations live outside this module;
// a nil generator skips the artifact step.
type ArtifactGenerator interface {
	Generate(ctx context.Context, couponID string, denomination float64) ([]byte, error)
}
