package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bronweg/couponvault/internal/config"
	"github.com/bronweg/couponvault/internal/model"

	"github.com/rs/zerolog"
)

// memoryRepository implements CouponRepository with an in-process map. A
// single mutex stands in for the storage layer's write serialisation, giving
// the same exclusivity guarantees as the postgres backend. Used for local
// development and tests.
type memoryRepository struct {
	mu      sync.Mutex
	coupons map[string]*model.Coupon
	logger  zerolog.Logger
}

// NewMemoryRepository creates an empty in-memory coupon repository.
func NewMemoryRepository(logger zerolog.Logger) CouponRepository {
	return &memoryRepository{
		coupons: make(map[string]*model.Coupon),
		logger:  logger.With().Str("repository", "coupon-memory").Logger(),
	}
}

func newMemoryBackend(_ context.Context, _ *config.Config, logger zerolog.Logger) (CouponRepository, error) {
	return NewMemoryRepository(logger), nil
}

func (r *memoryRepository) Close() {}

// startOfDay truncates a timestamp to its calendar date. Expiration is a
// date-level check: a coupon expiring today is still usable.
func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

func (r *memoryRepository) isAvailable(c *model.Coupon, today time.Time) bool {
	if c.Status != model.StatusAvailable {
		return false
	}
	return c.ExpirationDate == nil || !c.ExpirationDate.Before(today)
}

// GetAvailableSummary returns (denomination, count) pairs for AVAILABLE,
// non-expired coupons, ascending by denomination.
func (r *memoryRepository) GetAvailableSummary(_ context.Context) ([]model.DenominationCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	today := startOfDay(time.Now())
	counts := make(map[float64]int)
	for _, c := range r.coupons {
		if r.isAvailable(c, today) {
			counts[c.Denomination]++
		}
	}

	summary := make([]model.DenominationCount, 0, len(counts))
	for denomination, count := range counts {
		summary = append(summary, model.DenominationCount{Denomination: denomination, Count: count})
	}
	sort.Slice(summary, func(i, j int) bool {
		return summary[i].Denomination < summary[j].Denomination
	})

	if len(summary) == 0 {
		return nil, nil
	}
	return summary, nil
}

// InsertCoupons bulk-creates coupons in AVAILABLE status. Duplicate ids fail
// the whole batch.
func (r *memoryRepository) InsertCoupons(_ context.Context, coupons []model.NewCoupon) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range coupons {
		if _, exists := r.coupons[c.ID]; exists {
			return 0, fmt.Errorf("coupon %s already exists", c.ID)
		}
	}

	now := time.Now()
	for _, c := range coupons {
		createdAt := now
		r.coupons[c.ID] = &model.Coupon{
			ID:             c.ID,
			Denomination:   c.Denomination,
			Status:         model.StatusAvailable,
			CreatedAt:      &createdAt,
			ExpirationDate: c.ExpirationDate,
		}
	}

	r.logger.Info().Int("count", len(coupons)).Msg("coupons inserted")
	return len(coupons), nil
}

// ReserveBunch reserves the requested coupons under the repository mutex, so
// concurrent reservations can never pick the same coupon. All-or-nothing: a
// shortfall on any requirement mutates nothing.
func (r *memoryRepository) ReserveBunch(_ context.Context, requirements []model.DenominationCount, bunchID string) ([]model.ReservedCoupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	today := startOfDay(now)

	// Select every requirement before mutating anything.
	var selected []*model.Coupon
	for _, req := range requirements {
		var candidates []*model.Coupon
		for _, c := range r.coupons {
			if c.Denomination == req.Denomination && r.isAvailable(c, today) {
				candidates = append(candidates, c)
			}
		}
		// Soonest-to-expire first (no expiration last), then oldest first
		// (unknown age first), id as the final deterministic tie-break.
		sort.Slice(candidates, func(i, j int) bool {
			ei, ej := candidates[i].ExpirationDate, candidates[j].ExpirationDate
			switch {
			case ei == nil && ej != nil:
				return false
			case ei != nil && ej == nil:
				return true
			case ei != nil && ej != nil && !ei.Equal(*ej):
				return ei.Before(*ej)
			}
			ci, cj := candidates[i].CreatedAt, candidates[j].CreatedAt
			switch {
			case ci == nil && cj != nil:
				return true
			case ci != nil && cj == nil:
				return false
			case ci != nil && cj != nil && !ci.Equal(*cj):
				return ci.Before(*cj)
			}
			return candidates[i].ID < candidates[j].ID
		})

		if len(candidates) < req.Count {
			r.logger.Warn().
				Float64("denomination", req.Denomination).
				Int("requested", req.Count).
				Int("available", len(candidates)).
				Str("bunch_id", bunchID).
				Msg("not enough available coupons")
			return nil, fmt.Errorf("denomination %v: %w", req.Denomination, model.ErrCouponUnavailable)
		}

		selected = append(selected, candidates[:req.Count]...)
	}

	reserved := make([]model.ReservedCoupon, len(selected))
	for i, c := range selected {
		bunch := bunchID
		processingDate := now
		c.Status = model.StatusReserved
		c.BunchID = &bunch
		c.ProcessingDate = &processingDate
		reserved[i] = model.ReservedCoupon{ID: c.ID, Denomination: c.Denomination}
	}

	r.logger.Debug().
		Str("bunch_id", bunchID).
		Int("count", len(reserved)).
		Msg("coupons reserved")

	return reserved, nil
}

// SetProcessingID attaches a processing id to a RESERVED coupon.
func (r *memoryRepository) SetProcessingID(_ context.Context, couponID, processingID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.coupons[couponID]
	if !ok {
		return fmt.Errorf("coupon %s: %w", couponID, model.ErrNonExistingCoupon)
	}
	if c.Status != model.StatusReserved || c.ProcessingID != nil {
		r.logger.Warn().
			Str("coupon_id", couponID).
			Str("status", string(c.Status)).
			Msg("processing id cannot be set")
		return fmt.Errorf("coupon %s in status %s: %w", couponID, c.Status, model.ErrBadCouponStatus)
	}

	pid := processingID
	c.ProcessingID = &pid
	return nil
}

// ApplyOrReject moves a single RESERVED coupon to USED or back to AVAILABLE.
func (r *memoryRepository) ApplyOrReject(_ context.Context, couponID string, newStatus model.CouponStatus, keepInfo, ignoreProcessingIDCheck bool) (*string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.coupons[couponID]
	if !ok {
		return nil, fmt.Errorf("coupon %s: %w", couponID, model.ErrNonExistingCoupon)
	}
	if c.Status != model.StatusReserved {
		r.logger.Warn().
			Str("coupon_id", couponID).
			Str("status", string(c.Status)).
			Str("new_status", string(newStatus)).
			Msg("status change not allowed")
		return nil, fmt.Errorf("coupon %s in status %s: %w", couponID, c.Status, model.ErrBadCouponStatus)
	}
	if c.ProcessingID == nil {
		if !ignoreProcessingIDCheck {
			return nil, fmt.Errorf("coupon %s has no processing id: %w", couponID, model.ErrBadCouponStatus)
		}
		r.logger.Warn().
			Str("coupon_id", couponID).
			Msg("coupon has no processing id, still changing status")
	}

	prior := c.ProcessingID
	r.transition(c, newStatus, keepInfo)
	return prior, nil
}

// ApplyOrRejectBunch applies a status change to every coupon of a bunch
// atomically.
func (r *memoryRepository) ApplyOrRejectBunch(_ context.Context, bunchID string, newStatus model.CouponStatus, keepInfo, ignoreProcessingIDCheck bool) ([]*string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	coupons := r.bunchMembers(bunchID)

	for _, c := range coupons {
		if !ignoreProcessingIDCheck {
			if c.Status != model.StatusReserved || c.ProcessingID == nil {
				r.logger.Warn().
					Str("coupon_id", c.ID).
					Str("status", string(c.Status)).
					Str("bunch_id", bunchID).
					Msg("bunch coupon has bad status")
				return nil, fmt.Errorf("coupon %s in status %s: %w", c.ID, c.Status, model.ErrBadCouponStatus)
			}
			continue
		}
		if c.Status != model.StatusReserved && c.Status != model.StatusUsed {
			return nil, fmt.Errorf("coupon %s in status %s: %w", c.ID, c.Status, model.ErrBadCouponStatus)
		}
		if c.ProcessingID == nil {
			r.logger.Warn().
				Str("coupon_id", c.ID).
				Str("bunch_id", bunchID).
				Msg("bunch coupon has no processing id, still changing status")
		}
	}

	processingIDs := make([]*string, len(coupons))
	for i, c := range coupons {
		processingIDs[i] = c.ProcessingID
		if c.Status == model.StatusReserved {
			r.transition(c, newStatus, keepInfo)
		}
	}
	return processingIDs, nil
}

// GetProcessingIDsForBunch returns the processing ids of all coupons of a
// bunch.
func (r *memoryRepository) GetProcessingIDsForBunch(_ context.Context, bunchID string) ([]*string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	coupons := r.bunchMembers(bunchID)
	processingIDs := make([]*string, len(coupons))
	for i, c := range coupons {
		processingIDs[i] = c.ProcessingID
	}
	return processingIDs, nil
}

// HasStaleReservations reports whether any reserved coupon has been
// processing for more than a day.
func (r *memoryRepository) HasStaleReservations(_ context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-24 * time.Hour)
	for _, c := range r.coupons {
		if c.Status == model.StatusReserved && c.ProcessingID != nil &&
			c.ProcessingDate != nil && c.ProcessingDate.Before(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

// HasOrphanedProcessing reports whether any coupon is stuck mid-reservation:
// reserved for more than five minutes with no processing id.
func (r *memoryRepository) HasOrphanedProcessing(_ context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-5 * time.Minute)
	for _, c := range r.coupons {
		if c.Status == model.StatusReserved && c.ProcessingID == nil &&
			c.ProcessingDate != nil && c.ProcessingDate.Before(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

// HasInconsistentStatus reports whether any coupon carries bunch or
// processing fields its status does not permit.
func (r *memoryRepository) HasInconsistentStatus(_ context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.coupons {
		if c.Status != model.StatusReserved && c.BunchID != nil {
			return true, nil
		}
		if c.Status != model.StatusReserved && c.Status != model.StatusUsed &&
			(c.ProcessingID != nil || c.ProcessingDate != nil) {
			return true, nil
		}
	}
	return false, nil
}

// UpcomingExpirations lists AVAILABLE coupons expiring within the window.
func (r *memoryRepository) UpcomingExpirations(_ context.Context, withinDays int) ([]model.ExpiringCoupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	horizon := startOfDay(time.Now()).AddDate(0, 0, withinDays)
	var expiring []model.ExpiringCoupon
	for _, c := range r.coupons {
		if c.Status == model.StatusAvailable && c.ExpirationDate != nil && !c.ExpirationDate.After(horizon) {
			expiring = append(expiring, model.ExpiringCoupon{ID: c.ID, ExpirationDate: *c.ExpirationDate})
		}
	}
	sort.Slice(expiring, func(i, j int) bool {
		if !expiring[i].ExpirationDate.Equal(expiring[j].ExpirationDate) {
			return expiring[i].ExpirationDate.Before(expiring[j].ExpirationDate)
		}
		return expiring[i].ID < expiring[j].ID
	})
	return expiring, nil
}

// bunchMembers returns the coupons tagged with bunchID, ordered by id.
// Callers must hold the mutex.
func (r *memoryRepository) bunchMembers(bunchID string) []*model.Coupon {
	var coupons []*model.Coupon
	for _, c := range r.coupons {
		if c.BunchID != nil && *c.BunchID == bunchID {
			coupons = append(coupons, c)
		}
	}
	sort.Slice(coupons, func(i, j int) bool { return coupons[i].ID < coupons[j].ID })
	return coupons
}

// transition applies the shared field-clearing rule: bunch id always goes,
// processing fields only when the caller does not keep them.
func (r *memoryRepository) transition(c *model.Coupon, newStatus model.CouponStatus, keepInfo bool) {
	c.Status = newStatus
	c.BunchID = nil
	if !keepInfo {
		c.ProcessingID = nil
		c.ProcessingDate = nil
	}
}
