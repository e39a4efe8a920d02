package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/bronweg/couponvault/internal/config"
	"github.com/bronweg/couponvault/internal/model"

	"github.com/rs/zerolog"
)

// CouponRepository is the reservation engine: the sole mutator of coupon
// state. Every operation runs as a single transaction; a failing call never
// leaves partial mutations behind.
type CouponRepository interface {
	// GetAvailableSummary returns (denomination, count) pairs for AVAILABLE,
	// non-expired coupons, ascending by denomination.
	GetAvailableSummary(ctx context.Context) ([]model.DenominationCount, error)

	// InsertCoupons bulk-creates coupons in AVAILABLE status and returns the
	// number inserted. Duplicate ids fail the whole batch.
	InsertCoupons(ctx context.Context, coupons []model.NewCoupon) (int, error)

	// ReserveBunch atomically reserves the requested count of coupons for
	// each denomination and tags them with bunchID. Candidates are consumed
	// soonest-to-expire first, then oldest first. If any requirement cannot
	// be met in full the call fails with ErrCouponUnavailable and nothing is
	// mutated.
	ReserveBunch(ctx context.Context, requirements []model.DenominationCount, bunchID string) ([]model.ReservedCoupon, error)

	// SetProcessingID attaches an external correlation token to a RESERVED
	// coupon that does not have one yet.
	SetProcessingID(ctx context.Context, couponID, processingID string) error

	// ApplyOrReject moves a RESERVED coupon to newStatus (USED or AVAILABLE).
	// The bunch id is cleared unconditionally; processing id and date are
	// cleared unless keepInfo is set. Returns the processing id the coupon
	// held before the update.
	ApplyOrReject(ctx context.Context, couponID string, newStatus model.CouponStatus, keepInfo, ignoreProcessingIDCheck bool) (*string, error)

	// ApplyOrRejectBunch applies ApplyOrReject semantics to every coupon of a
	// bunch in one transaction. Without ignoreProcessingIDCheck every coupon
	// must be RESERVED with a processing id; with it, USED coupons are
	// tolerated untouched and missing processing ids are only logged.
	ApplyOrRejectBunch(ctx context.Context, bunchID string, newStatus model.CouponStatus, keepInfo, ignoreProcessingIDCheck bool) ([]*string, error)

	// GetProcessingIDsForBunch returns the processing ids of all coupons
	// currently tagged with bunchID.
	GetProcessingIDsForBunch(ctx context.Context, bunchID string) ([]*string, error)

	// HasStaleReservations reports whether any RESERVED coupon has been
	// processing for more than a day.
	HasStaleReservations(ctx context.Context) (bool, error)

	// HasOrphanedProcessing reports whether any coupon has been RESERVED for
	// more than five minutes without acquiring a processing id.
	HasOrphanedProcessing(ctx context.Context) (bool, error)

	// HasInconsistentStatus reports whether any coupon carries bunch or
	// processing fields its status does not permit.
	HasInconsistentStatus(ctx context.Context) (bool, error)

	// UpcomingExpirations lists AVAILABLE coupons expiring within the given
	// number of days, soonest first.
	UpcomingExpirations(ctx context.Context, withinDays int) ([]model.ExpiringCoupon, error)

	// Close releases resources held by the repository.
	Close()
}

// Factory constructs a repository backend from configuration.
type Factory func(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (CouponRepository, error)

// backends maps a configuration name to its constructor. Adding a backend
// means adding an entry here; nothing registers itself at import time.
var backends = map[string]Factory{
	config.BackendPostgres: newPostgresBackend,
	config.BackendMemory:   newMemoryBackend,
}

// New builds the repository backend named by cfg.Repository.Backend.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (CouponRepository, error) {
	factory, ok := backends[cfg.Repository.Backend]
	if !ok {
		names := make([]string, 0, len(backends))
		for name := range backends {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown repository backend %q (available: %v)", cfg.Repository.Backend, names)
	}
	return factory(ctx, cfg, logger)
}
