package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bronweg/couponvault/internal/model"
	"github.com/bronweg/couponvault/internal/repository"
	"github.com/bronweg/couponvault/internal/solver"

	"github.com/rs/zerolog"
)

// DefaultExpirationWindowDays is the consistency report's default horizon
// for upcoming coupon expirations.
const DefaultExpirationWindowDays = 7

// allocationService implements AllocationService on top of the coupon
// repository and the combination solver.
type allocationService struct {
	repo       repository.CouponRepository
	artifacts  ArtifactGenerator
	maxRetries int
	logger     zerolog.Logger
}

// NewAllocationService creates the allocation orchestrator. artifacts may be
// nil, in which case allocations are returned without artifacts. maxRetries
// bounds how often a lost reservation race is retried with fresh inventory.
func NewAllocationService(
	repo repository.CouponRepository,
	artifacts ArtifactGenerator,
	maxRetries int,
	logger zerolog.Logger,
) AllocationService {
	return &allocationService{
		repo:       repo,
		artifacts:  artifacts,
		maxRetries: maxRetries,
		logger:     logger.With().Str("service", "allocation").Logger(),
	}
}

// GetBalance returns the available (denomination, count) pairs.
func (s *allocationService) GetBalance(ctx context.Context) ([]model.DenominationCount, error) {
	return s.repo.GetAvailableSummary(ctx)
}

// RequestAllocation computes the optimal coupon combination for amount and
// reserves it under bunchID.
//
// The summary read and the reservation write are separate transactions, so
// concurrent allocations can race: another caller may reserve coupons between
// the two steps. A reservation that fails with ErrCouponUnavailable is
// therefore retried against fresh inventory up to maxRetries times; any other
// failure is terminal immediately.
func (s *allocationService) RequestAllocation(ctx context.Context, amount float64, bunchID string) (*model.AllocationResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount %v: %w", amount, model.ErrInvalidAmount)
	}

	var reserved []model.ReservedCoupon
	var cashToAdd float64

	for attempt := 0; ; attempt++ {
		summary, err := s.repo.GetAvailableSummary(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to read available summary")
			return nil, fmt.Errorf("failed to read available summary: %w", err)
		}

		allocation := solver.Solve(amount, summary)
		cashToAdd = allocation.CashToAdd

		if len(allocation.Usage) == 0 {
			// Nothing to reserve; the whole amount is cash.
			s.logger.Info().
				Float64("amount", amount).
				Str("bunch_id", bunchID).
				Msg("no coupons applicable, full amount in cash")
			return &model.AllocationResult{BunchID: bunchID, CashToAdd: cashToAdd}, nil
		}

		reserved, err = s.repo.ReserveBunch(ctx, allocation.Usage, bunchID)
		if err == nil {
			break
		}
		if !errors.Is(err, model.ErrCouponUnavailable) {
			s.logger.Error().Err(err).Str("bunch_id", bunchID).Msg("reservation failed")
			return nil, fmt.Errorf("reservation failed: %w", err)
		}
		if attempt >= s.maxRetries {
			s.logger.Error().
				Err(err).
				Int("attempts", attempt+1).
				Str("bunch_id", bunchID).
				Msg("not enough coupons available after retries, giving up")
			return nil, err
		}
		s.logger.Warn().
			Int("attempt", attempt+1).
			Str("bunch_id", bunchID).
			Msg("inventory changed under us, retrying with fresh summary")
	}

	coupons, err := s.generateArtifacts(ctx, bunchID, reserved)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("bunch_id", bunchID).
		Float64("cash_to_add", cashToAdd).
		Int("coupons", len(coupons)).
		Msg("allocation reserved")

	return &model.AllocationResult{
		BunchID:   bunchID,
		CashToAdd: cashToAdd,
		Coupons:   coupons,
	}, nil
}

// generateArtifacts runs the artifact generator over a freshly reserved
// bunch. Any failure releases the whole bunch as best-effort compensation; a
// failed release is reported alongside the original error and left to the
// staleness probes.
func (s *allocationService) generateArtifacts(ctx context.Context, bunchID string, reserved []model.ReservedCoupon) ([]model.AllocatedCoupon, error) {
	coupons := make([]model.AllocatedCoupon, len(reserved))
	for i, rc := range reserved {
		coupons[i] = model.AllocatedCoupon{ID: rc.ID, Denomination: rc.Denomination}
		if s.artifacts == nil {
			continue
		}

		artifact, err := s.artifacts.Generate(ctx, rc.ID, rc.Denomination)
		if err == nil {
			coupons[i].Artifact = artifact
			continue
		}

		s.logger.Error().
			Err(err).
			Str("coupon_id", rc.ID).
			Str("bunch_id", bunchID).
			Msg("artifact generation failed, releasing bunch")

		if _, rejErr := s.repo.ApplyOrRejectBunch(ctx, bunchID, model.StatusAvailable, false, true); rejErr != nil {
			s.logger.Error().
				Err(rejErr).
				Str("bunch_id", bunchID).
				Msg("failed to release bunch after artifact failure, reservation left to staleness probes")
			return nil, fmt.Errorf("artifact generation failed and bunch release failed (%v): %w", rejErr, err)
		}
		return nil, fmt.Errorf("artifact generation failed for coupon %s: %w", rc.ID, err)
	}
	return coupons, nil
}

// SetProcessingID attaches a processing id to a reserved coupon.
func (s *allocationService) SetProcessingID(ctx context.Context, couponID, processingID string) error {
	return s.repo.SetProcessingID(ctx, couponID, processingID)
}

// Use marks a reserved coupon as spent, keeping its processing information.
func (s *allocationService) Use(ctx context.Context, couponID string) (*string, error) {
	return s.repo.ApplyOrReject(ctx, couponID, model.StatusUsed, true, false)
}

// Reject releases a reserved coupon back to the pool, clearing its
// processing information.
func (s *allocationService) Reject(ctx context.Context, couponID string, ignoreProcessingIDCheck bool) (*string, error) {
	return s.repo.ApplyOrReject(ctx, couponID, model.StatusAvailable, false, ignoreProcessingIDCheck)
}

// UseBunch marks every coupon of a bunch as spent.
func (s *allocationService) UseBunch(ctx context.Context, bunchID string) ([]*string, error) {
	return s.repo.ApplyOrRejectBunch(ctx, bunchID, model.StatusUsed, true, false)
}

// RejectBunch releases every coupon of a bunch back to the pool.
func (s *allocationService) RejectBunch(ctx context.Context, bunchID string, ignoreProcessingIDCheck bool) ([]*string, error) {
	return s.repo.ApplyOrRejectBunch(ctx, bunchID, model.StatusAvailable, false, ignoreProcessingIDCheck)
}

// ProcessingIDs returns the processing ids currently attached to a bunch.
func (s *allocationService) ProcessingIDs(ctx context.Context, bunchID string) ([]*string, error) {
	return s.repo.GetProcessingIDsForBunch(ctx, bunchID)
}

// ConsistencyReport runs the inventory self-checks for monitoring.
func (s *allocationService) ConsistencyReport(ctx context.Context, expirationWindowDays int) (*model.ConsistencyReport, error) {
	if expirationWindowDays <= 0 {
		expirationWindowDays = DefaultExpirationWindowDays
	}

	stale, err := s.repo.HasStaleReservations(ctx)
	if err != nil {
		return nil, fmt.Errorf("stale reservation probe failed: %w", err)
	}
	orphaned, err := s.repo.HasOrphanedProcessing(ctx)
	if err != nil {
		return nil, fmt.Errorf("orphaned processing probe failed: %w", err)
	}
	inconsistent, err := s.repo.HasInconsistentStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("status consistency probe failed: %w", err)
	}
	expiring, err := s.repo.UpcomingExpirations(ctx, expirationWindowDays)
	if err != nil {
		return nil, fmt.Errorf("expiration probe failed: %w", err)
	}

	if stale || orphaned || inconsistent {
		s.logger.Warn().
			Bool("stale_reservations", stale).
			Bool("orphaned_processing", orphaned).
			Bool("inconsistent_status", inconsistent).
			Msg("inventory consistency probes flagged issues")
	}

	return &model.ConsistencyReport{
		StaleReservations:   stale,
		OrphanedProcessing:  orphaned,
		InconsistentStatus:  inconsistent,
		UpcomingExpirations: expiring,
	}, nil
}
