package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bronweg/couponvault/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCouponID formats n as a 20-digit coupon id.
func testCouponID(n int) string {
	return fmt.Sprintf("%020d", n)
}

func ptr[T any](v T) *T { return &v }

// seedMemory places coupons directly into the repository map, bypassing
// InsertCoupons so tests can control every field.
func seedMemory(repo CouponRepository, coupons ...*model.Coupon) {
	r := repo.(*memoryRepository)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range coupons {
		r.coupons[c.ID] = c
	}
}

func newTestMemoryRepo() CouponRepository {
	return NewMemoryRepository(zerolog.Nop())
}

func TestMemoryRepository_GetAvailableSummary(t *testing.T) {
	ctx := context.Background()
	repo := newTestMemoryRepo()

	seedMemory(repo,
		&model.Coupon{ID: testCouponID(1), Denomination: 5, Status: model.StatusAvailable},
		&model.Coupon{ID: testCouponID(2), Denomination: 5, Status: model.StatusAvailable},
		&model.Coupon{ID: testCouponID(3), Denomination: 10, Status: model.StatusAvailable},
		&model.Coupon{ID: testCouponID(4), Denomination: 10, Status: model.StatusReserved},
		&model.Coupon{ID: testCouponID(5), Denomination: 15, Status: model.StatusAvailable,
			ExpirationDate: ptr(time.Now().AddDate(0, 0, -1))},
		&model.Coupon{ID: testCouponID(6), Denomination: 20, Status: model.StatusAvailable,
			ExpirationDate: ptr(time.Now())},
	)

	summary, err := repo.GetAvailableSummary(ctx)
	require.NoError(t, err)

	// Expired stock is invisible, stock expiring today still counts.
	assert.Equal(t, []model.DenominationCount{
		{Denomination: 5, Count: 2},
		{Denomination: 10, Count: 1},
		{Denomination: 20, Count: 1},
	}, summary)
}

func TestMemoryRepository_InsertCoupons(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts available coupons", func(t *testing.T) {
		repo := newTestMemoryRepo()

		inserted, err := repo.InsertCoupons(ctx, []model.NewCoupon{
			{ID: testCouponID(1), Denomination: 5},
			{ID: testCouponID(2), Denomination: 10},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, inserted)

		summary, err := repo.GetAvailableSummary(ctx)
		require.NoError(t, err)
		assert.Len(t, summary, 2)
	})

	t.Run("duplicate id fails the whole batch", func(t *testing.T) {
		repo := newTestMemoryRepo()
		seedMemory(repo, &model.Coupon{ID: testCouponID(2), Denomination: 10, Status: model.StatusAvailable})

		_, err := repo.InsertCoupons(ctx, []model.NewCoupon{
			{ID: testCouponID(1), Denomination: 5},
			{ID: testCouponID(2), Denomination: 10},
		})
		require.Error(t, err)

		summary, err := repo.GetAvailableSummary(ctx)
		require.NoError(t, err)
		assert.Equal(t, []model.DenominationCount{{Denomination: 10, Count: 1}}, summary)
	})
}

func TestMemoryRepository_ReserveBunch(t *testing.T) {
	ctx := context.Background()

	t.Run("prefers soonest expiring then oldest", func(t *testing.T) {
		repo := newTestMemoryRepo()
		old := time.Now().Add(-48 * time.Hour)
		seedMemory(repo,
			&model.Coupon{ID: testCouponID(1), Denomination: 5, Status: model.StatusAvailable,
				CreatedAt: ptr(time.Now())},
			&model.Coupon{ID: testCouponID(2), Denomination: 5, Status: model.StatusAvailable,
				CreatedAt: ptr(old)},
			&model.Coupon{ID: testCouponID(3), Denomination: 5, Status: model.StatusAvailable,
				CreatedAt: ptr(time.Now()), ExpirationDate: ptr(time.Now().AddDate(0, 0, 2))},
		)

		reserved, err := repo.ReserveBunch(ctx, []model.DenominationCount{
			{Denomination: 5, Count: 2},
		}, "bunch-1")
		require.NoError(t, err)
		require.Len(t, reserved, 2)
		assert.Equal(t, testCouponID(3), reserved[0].ID)
		assert.Equal(t, testCouponID(2), reserved[1].ID)
	})

	t.Run("shortfall mutates nothing", func(t *testing.T) {
		repo := newTestMemoryRepo()
		seedMemory(repo,
			&model.Coupon{ID: testCouponID(1), Denomination: 5, Status: model.StatusAvailable},
			&model.Coupon{ID: testCouponID(2), Denomination: 10, Status: model.StatusAvailable},
		)

		_, err := repo.ReserveBunch(ctx, []model.DenominationCount{
			{Denomination: 5, Count: 1},
			{Denomination: 10, Count: 2},
		}, "bunch-1")
		require.ErrorIs(t, err, model.ErrCouponUnavailable)

		summary, err := repo.GetAvailableSummary(ctx)
		require.NoError(t, err)
		assert.Equal(t, []model.DenominationCount{
			{Denomination: 5, Count: 1},
			{Denomination: 10, Count: 1},
		}, summary)
	})

	t.Run("concurrent reservations never share a coupon", func(t *testing.T) {
		repo := newTestMemoryRepo()
		for i := 1; i <= 5; i++ {
			seedMemory(repo, &model.Coupon{ID: testCouponID(i), Denomination: 5, Status: model.StatusAvailable})
		}

		const workers = 4
		results := make([][]model.ReservedCoupon, workers)
		errs := make([]error, workers)

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				results[w], errs[w] = repo.ReserveBunch(ctx, []model.DenominationCount{
					{Denomination: 5, Count: 2},
				}, fmt.Sprintf("bunch-%d", w))
			}(w)
		}
		wg.Wait()

		seen := make(map[string]int)
		succeeded := 0
		for w := 0; w < workers; w++ {
			if errs[w] != nil {
				require.ErrorIs(t, errs[w], model.ErrCouponUnavailable)
				continue
			}
			succeeded++
			for _, c := range results[w] {
				seen[c.ID]++
			}
		}
		assert.Equal(t, 2, succeeded)
		for id, n := range seen {
			assert.Equal(t, 1, n, "coupon %s reserved more than once", id)
		}
	})
}

func TestMemoryRepository_CouponLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("reserve, tag, use keeps processing info", func(t *testing.T) {
		repo := newTestMemoryRepo()
		seedMemory(repo, &model.Coupon{ID: testCouponID(1), Denomination: 5, Status: model.StatusAvailable})

		_, err := repo.ReserveBunch(ctx, []model.DenominationCount{{Denomination: 5, Count: 1}}, "bunch-1")
		require.NoError(t, err)

		require.NoError(t, repo.SetProcessingID(ctx, testCouponID(1), "proc-1"))

		prior, err := repo.ApplyOrReject(ctx, testCouponID(1), model.StatusUsed, true, false)
		require.NoError(t, err)
		assert.Equal(t, "proc-1", *prior)

		c := repo.(*memoryRepository).coupons[testCouponID(1)]
		assert.Equal(t, model.StatusUsed, c.Status)
		assert.Nil(t, c.BunchID)
		require.NotNil(t, c.ProcessingID)
		assert.Equal(t, "proc-1", *c.ProcessingID)
	})

	t.Run("reject clears processing info", func(t *testing.T) {
		repo := newTestMemoryRepo()
		seedMemory(repo, &model.Coupon{ID: testCouponID(1), Denomination: 5, Status: model.StatusReserved,
			BunchID: ptr("bunch-1"), ProcessingID: ptr("proc-1"), ProcessingDate: ptr(time.Now())})

		prior, err := repo.ApplyOrReject(ctx, testCouponID(1), model.StatusAvailable, false, false)
		require.NoError(t, err)
		assert.Equal(t, "proc-1", *prior)

		c := repo.(*memoryRepository).coupons[testCouponID(1)]
		assert.Equal(t, model.StatusAvailable, c.Status)
		assert.Nil(t, c.BunchID)
		assert.Nil(t, c.ProcessingID)
		assert.Nil(t, c.ProcessingDate)
	})

	t.Run("second processing id is refused", func(t *testing.T) {
		repo := newTestMemoryRepo()
		seedMemory(repo, &model.Coupon{ID: testCouponID(1), Denomination: 5, Status: model.StatusReserved,
			BunchID: ptr("bunch-1"), ProcessingID: ptr("proc-1")})

		err := repo.SetProcessingID(ctx, testCouponID(1), "proc-2")
		assert.ErrorIs(t, err, model.ErrBadCouponStatus)
	})

	t.Run("unknown coupon", func(t *testing.T) {
		repo := newTestMemoryRepo()

		err := repo.SetProcessingID(ctx, testCouponID(9), "proc-1")
		assert.ErrorIs(t, err, model.ErrNonExistingCoupon)

		_, err = repo.ApplyOrReject(ctx, testCouponID(9), model.StatusUsed, true, false)
		assert.ErrorIs(t, err, model.ErrNonExistingCoupon)
	})

	t.Run("available coupon cannot change status", func(t *testing.T) {
		repo := newTestMemoryRepo()
		seedMemory(repo, &model.Coupon{ID: testCouponID(1), Denomination: 5, Status: model.StatusAvailable})

		_, err := repo.ApplyOrReject(ctx, testCouponID(1), model.StatusUsed, true, false)
		assert.ErrorIs(t, err, model.ErrBadCouponStatus)
	})

	t.Run("missing processing id needs the relaxed check", func(t *testing.T) {
		repo := newTestMemoryRepo()
		seedMemory(repo, &model.Coupon{ID: testCouponID(1), Denomination: 5, Status: model.StatusReserved,
			BunchID: ptr("bunch-1")})

		_, err := repo.ApplyOrReject(ctx, testCouponID(1), model.StatusUsed, true, false)
		require.ErrorIs(t, err, model.ErrBadCouponStatus)

		prior, err := repo.ApplyOrReject(ctx, testCouponID(1), model.StatusAvailable, false, true)
		require.NoError(t, err)
		assert.Nil(t, prior)
	})
}

func TestMemoryRepository_ApplyOrRejectBunch(t *testing.T) {
	ctx := context.Background()

	t.Run("strict check refuses a mixed bunch", func(t *testing.T) {
		repo := newTestMemoryRepo()
		seedMemory(repo,
			&model.Coupon{ID: testCouponID(1), Denomination: 5, Status: model.StatusUsed,
				BunchID: ptr("bunch-1"), ProcessingID: ptr("proc-1")},
			&model.Coupon{ID: testCouponID(2), Denomination: 5, Status: model.StatusReserved,
				BunchID: ptr("bunch-1"), ProcessingID: ptr("proc-2")},
		)

		_, err := repo.ApplyOrRejectBunch(ctx, "bunch-1", model.StatusAvailable, false, false)
		assert.ErrorIs(t, err, model.ErrBadCouponStatus)
	})

	t.Run("relaxed reject releases reserved and skips used", func(t *testing.T) {
		repo := newTestMemoryRepo()
		seedMemory(repo,
			&model.Coupon{ID: testCouponID(1), Denomination: 5, Status: model.StatusUsed,
				BunchID: ptr("bunch-1"), ProcessingID: ptr("proc-1")},
			&model.Coupon{ID: testCouponID(2), Denomination: 5, Status: model.StatusReserved,
				BunchID: ptr("bunch-1"), ProcessingID: ptr("proc-2")},
			&model.Coupon{ID: testCouponID(3), Denomination: 10, Status: model.StatusReserved,
				BunchID: ptr("bunch-1")},
		)

		prior, err := repo.ApplyOrRejectBunch(ctx, "bunch-1", model.StatusAvailable, false, true)
		require.NoError(t, err)
		require.Len(t, prior, 3)
		assert.Equal(t, "proc-1", *prior[0])
		assert.Equal(t, "proc-2", *prior[1])
		assert.Nil(t, prior[2])

		coupons := repo.(*memoryRepository).coupons
		assert.Equal(t, model.StatusUsed, coupons[testCouponID(1)].Status)
		assert.Equal(t, model.StatusAvailable, coupons[testCouponID(2)].Status)
		assert.Equal(t, model.StatusAvailable, coupons[testCouponID(3)].Status)
		assert.Nil(t, coupons[testCouponID(2)].ProcessingID)
	})

	t.Run("empty bunch is an empty list", func(t *testing.T) {
		repo := newTestMemoryRepo()

		prior, err := repo.ApplyOrRejectBunch(ctx, "missing", model.StatusAvailable, false, false)
		require.NoError(t, err)
		assert.Empty(t, prior)

		ids, err := repo.GetProcessingIDsForBunch(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestMemoryRepository_ConsistencyProbes(t *testing.T) {
	ctx := context.Background()

	t.Run("clean inventory passes all probes", func(t *testing.T) {
		repo := newTestMemoryRepo()
		seedMemory(repo, &model.Coupon{ID: testCouponID(1), Denomination: 5, Status: model.StatusAvailable})

		stale, err := repo.HasStaleReservations(ctx)
		require.NoError(t, err)
		assert.False(t, stale)

		orphaned, err := repo.HasOrphanedProcessing(ctx)
		require.NoError(t, err)
		assert.False(t, orphaned)

		inconsistent, err := repo.HasInconsistentStatus(ctx)
		require.NoError(t, err)
		assert.False(t, inconsistent)
	})

	t.Run("stale reservation is flagged", func(t *testing.T) {
		repo := newTestMemoryRepo()
		seedMemory(repo, &model.Coupon{ID: testCouponID(1), Denomination: 5, Status: model.StatusReserved,
			BunchID: ptr("bunch-1"), ProcessingID: ptr("proc-1"),
			ProcessingDate: ptr(time.Now().Add(-25 * time.Hour))})

		stale, err := repo.HasStaleReservations(ctx)
		require.NoError(t, err)
		assert.True(t, stale)
	})

	t.Run("orphaned processing is flagged", func(t *testing.T) {
		repo := newTestMemoryRepo()
		seedMemory(repo, &model.Coupon{ID: testCouponID(1), Denomination: 5, Status: model.StatusReserved,
			BunchID:        ptr("bunch-1"),
			ProcessingDate: ptr(time.Now().Add(-10 * time.Minute))})

		orphaned, err := repo.HasOrphanedProcessing(ctx)
		require.NoError(t, err)
		assert.True(t, orphaned)
	})

	t.Run("available coupon with bunch id is flagged", func(t *testing.T) {
		repo := newTestMemoryRepo()
		seedMemory(repo, &model.Coupon{ID: testCouponID(1), Denomination: 5, Status: model.StatusAvailable,
			BunchID: ptr("bunch-1")})

		inconsistent, err := repo.HasInconsistentStatus(ctx)
		require.NoError(t, err)
		assert.True(t, inconsistent)
	})
}

func TestMemoryRepository_UpcomingExpirations(t *testing.T) {
	ctx := context.Background()
	repo := newTestMemoryRepo()

	seedMemory(repo,
		&model.Coupon{ID: testCouponID(1), Denomination: 5, Status: model.StatusAvailable,
			ExpirationDate: ptr(time.Now().AddDate(0, 0, 5))},
		&model.Coupon{ID: testCouponID(2), Denomination: 5, Status: model.StatusAvailable,
			ExpirationDate: ptr(time.Now().AddDate(0, 0, 2))},
		&model.Coupon{ID: testCouponID(3), Denomination: 5, Status: model.StatusAvailable,
			ExpirationDate: ptr(time.Now().AddDate(0, 0, 30))},
		&model.Coupon{ID: testCouponID(4), Denomination: 5, Status: model.StatusAvailable},
	)

	expiring, err := repo.UpcomingExpirations(ctx, 7)
	require.NoError(t, err)
	require.Len(t, expiring, 2)
	assert.Equal(t, testCouponID(2), expiring[0].ID)
	assert.Equal(t, testCouponID(1), expiring[1].ID)
}
