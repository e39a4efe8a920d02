package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bronweg/couponvault/internal/config"
	"github.com/bronweg/couponvault/internal/database"
	"github.com/bronweg/couponvault/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// postgresRepository implements CouponRepository using PostgreSQL. Mutating
// operations lock their candidate rows with SELECT ... FOR UPDATE inside a
// transaction, so two concurrent reservations can never pick the same coupon.
type postgresRepository struct {
	pool     *pgxpool.Pool
	ownsPool bool
	logger   zerolog.Logger
}

// NewPostgresRepository creates a PostgreSQL-backed coupon repository on an
// existing connection pool. The caller keeps ownership of the pool.
func NewPostgresRepository(pool *pgxpool.Pool, logger zerolog.Logger) CouponRepository {
	return &postgresRepository{
		pool:   pool,
		logger: logger.With().Str("repository", "coupon").Logger(),
	}
}

// newPostgresBackend is the registry constructor: it builds its own pool
// from configuration and closes it on Close.
func newPostgresBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (CouponRepository, error) {
	pool, err := database.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise postgres backend: %w", err)
	}
	repo := NewPostgresRepository(pool, logger).(*postgresRepository)
	repo.ownsPool = true
	return repo, nil
}

// Close releases the connection pool if this repository created it.
func (r *postgresRepository) Close() {
	if r.ownsPool {
		r.pool.Close()
	}
}

// GetAvailableSummary returns (denomination, count) pairs for AVAILABLE,
// non-expired coupons, ascending by denomination.
func (r *postgresRepository) GetAvailableSummary(ctx context.Context) ([]model.DenominationCount, error) {
	query := `
		SELECT denomination, COUNT(*)
		FROM coupons
		WHERE status = $1
		  AND (expiration_date IS NULL OR expiration_date >= CURRENT_DATE)
		GROUP BY denomination
		ORDER BY denomination ASC
	`

	rows, err := r.pool.Query(ctx, query, model.StatusAvailable)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to query available summary")
		return nil, fmt.Errorf("failed to query available summary: %w", err)
	}
	defer rows.Close()

	var summary []model.DenominationCount
	for rows.Next() {
		var dc model.DenominationCount
		if err := rows.Scan(&dc.Denomination, &dc.Count); err != nil {
			r.logger.Error().Err(err).Msg("failed to scan summary row")
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		summary = append(summary, dc)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error().Err(err).Msg("error iterating summary rows")
		return nil, fmt.Errorf("error iterating summary rows: %w", err)
	}

	return summary, nil
}

// InsertCoupons bulk-creates coupons in AVAILABLE status.
func (r *postgresRepository) InsertCoupons(ctx context.Context, coupons []model.NewCoupon) (int, error) {
	if len(coupons) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to begin transaction")
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO coupons (id, denomination, status, created_at, expiration_date)
		VALUES ($1, $2, $3, $4, $5)
	`

	now := time.Now()
	batch := &pgx.Batch{}
	for _, c := range coupons {
		batch.Queue(query, c.ID, c.Denomination, model.StatusAvailable, now, c.ExpirationDate)
	}

	results := tx.SendBatch(ctx, batch)
	for i := range coupons {
		if _, err := results.Exec(); err != nil {
			results.Close()
			r.logger.Error().
				Err(err).
				Str("coupon_id", coupons[i].ID).
				Msg("failed to insert coupon")
			return 0, fmt.Errorf("failed to insert coupon %s: %w", coupons[i].ID, err)
		}
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("failed to close insert batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error().Err(err).Msg("failed to commit coupon insert")
		return 0, fmt.Errorf("failed to commit coupon insert: %w", err)
	}

	r.logger.Info().Int("count", len(coupons)).Msg("coupons inserted")
	return len(coupons), nil
}

// ReserveBunch reserves the requested coupons atomically. The FOR UPDATE
// lock on the candidate rows serialises concurrent reservations against each
// other for the duration of the transaction.
func (r *postgresRepository) ReserveBunch(ctx context.Context, requirements []model.DenominationCount, bunchID string) ([]model.ReservedCoupon, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to begin transaction")
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	selectQuery := `
		SELECT id, denomination
		FROM coupons
		WHERE status = $1
		  AND denomination = $2
		  AND (expiration_date IS NULL OR expiration_date >= CURRENT_DATE)
		ORDER BY expiration_date ASC NULLS LAST, created_at ASC NULLS FIRST
		LIMIT $3
		FOR UPDATE
	`
	updateQuery := `
		UPDATE coupons
		SET status = $1, bunch_id = $2, processing_date = $3
		WHERE id = ANY($4)
	`

	now := time.Now()
	var reserved []model.ReservedCoupon

	for _, req := range requirements {
		rows, err := tx.Query(ctx, selectQuery, model.StatusAvailable, req.Denomination, req.Count)
		if err != nil {
			r.logger.Error().
				Err(err).
				Float64("denomination", req.Denomination).
				Msg("failed to query reservation candidates")
			return nil, fmt.Errorf("failed to query reservation candidates: %w", err)
		}

		var candidates []model.ReservedCoupon
		for rows.Next() {
			var c model.ReservedCoupon
			if err := rows.Scan(&c.ID, &c.Denomination); err != nil {
				rows.Close()
				r.logger.Error().Err(err).Msg("failed to scan reservation candidate")
				return nil, fmt.Errorf("failed to scan reservation candidate: %w", err)
			}
			candidates = append(candidates, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			r.logger.Error().Err(err).Msg("error iterating reservation candidates")
			return nil, fmt.Errorf("error iterating reservation candidates: %w", err)
		}

		if len(candidates) < req.Count {
			r.logger.Warn().
				Float64("denomination", req.Denomination).
				Int("requested", req.Count).
				Int("available", len(candidates)).
				Str("bunch_id", bunchID).
				Msg("not enough available coupons")
			return nil, fmt.Errorf("denomination %v: %w", req.Denomination, model.ErrCouponUnavailable)
		}

		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ID
		}
		if _, err := tx.Exec(ctx, updateQuery, model.StatusReserved, bunchID, now, ids); err != nil {
			r.logger.Error().
				Err(err).
				Str("bunch_id", bunchID).
				Msg("failed to mark coupons reserved")
			return nil, fmt.Errorf("failed to mark coupons reserved: %w", err)
		}

		reserved = append(reserved, candidates...)
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error().Err(err).Str("bunch_id", bunchID).Msg("failed to commit reservation")
		return nil, fmt.Errorf("failed to commit reservation: %w", err)
	}

	r.logger.Debug().
		Str("bunch_id", bunchID).
		Int("count", len(reserved)).
		Msg("coupons reserved")

	return reserved, nil
}

// SetProcessingID attaches a processing id to a RESERVED coupon.
func (r *postgresRepository) SetProcessingID(ctx context.Context, couponID, processingID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to begin transaction")
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status model.CouponStatus
	var existing *string
	err = tx.QueryRow(ctx,
		`SELECT status, processing_id FROM coupons WHERE id = $1 FOR UPDATE`,
		couponID,
	).Scan(&status, &existing)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("coupon %s: %w", couponID, model.ErrNonExistingCoupon)
		}
		r.logger.Error().Err(err).Str("coupon_id", couponID).Msg("failed to query coupon")
		return fmt.Errorf("failed to query coupon: %w", err)
	}

	if status != model.StatusReserved || existing != nil {
		r.logger.Warn().
			Str("coupon_id", couponID).
			Str("status", string(status)).
			Msg("processing id cannot be set")
		return fmt.Errorf("coupon %s in status %s: %w", couponID, status, model.ErrBadCouponStatus)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE coupons SET processing_id = $1 WHERE id = $2`,
		processingID, couponID,
	); err != nil {
		r.logger.Error().Err(err).Str("coupon_id", couponID).Msg("failed to set processing id")
		return fmt.Errorf("failed to set processing id: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error().Err(err).Str("coupon_id", couponID).Msg("failed to commit processing id")
		return fmt.Errorf("failed to commit processing id: %w", err)
	}

	return nil
}

// ApplyOrReject moves a single RESERVED coupon to USED or back to AVAILABLE.
func (r *postgresRepository) ApplyOrReject(ctx context.Context, couponID string, newStatus model.CouponStatus, keepInfo, ignoreProcessingIDCheck bool) (*string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to begin transaction")
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status model.CouponStatus
	var processingID *string
	err = tx.QueryRow(ctx,
		`SELECT status, processing_id FROM coupons WHERE id = $1 FOR UPDATE`,
		couponID,
	).Scan(&status, &processingID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("coupon %s: %w", couponID, model.ErrNonExistingCoupon)
		}
		r.logger.Error().Err(err).Str("coupon_id", couponID).Msg("failed to query coupon")
		return nil, fmt.Errorf("failed to query coupon: %w", err)
	}

	if status != model.StatusReserved {
		r.logger.Warn().
			Str("coupon_id", couponID).
			Str("status", string(status)).
			Str("new_status", string(newStatus)).
			Msg("status change not allowed")
		return nil, fmt.Errorf("coupon %s in status %s: %w", couponID, status, model.ErrBadCouponStatus)
	}

	if processingID == nil {
		if !ignoreProcessingIDCheck {
			return nil, fmt.Errorf("coupon %s has no processing id: %w", couponID, model.ErrBadCouponStatus)
		}
		r.logger.Warn().
			Str("coupon_id", couponID).
			Msg("coupon has no processing id, still changing status")
	}

	if err := r.applyStatusByID(ctx, tx, couponID, newStatus, keepInfo); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error().Err(err).Str("coupon_id", couponID).Msg("failed to commit status change")
		return nil, fmt.Errorf("failed to commit status change: %w", err)
	}

	return processingID, nil
}

// ApplyOrRejectBunch applies a status change to every coupon of a bunch in
// one transaction.
func (r *postgresRepository) ApplyOrRejectBunch(ctx context.Context, bunchID string, newStatus model.CouponStatus, keepInfo, ignoreProcessingIDCheck bool) ([]*string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to begin transaction")
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT id, status, processing_id FROM coupons WHERE bunch_id = $1 ORDER BY id FOR UPDATE`,
		bunchID,
	)
	if err != nil {
		r.logger.Error().Err(err).Str("bunch_id", bunchID).Msg("failed to query bunch")
		return nil, fmt.Errorf("failed to query bunch: %w", err)
	}

	type bunchCoupon struct {
		id           string
		status       model.CouponStatus
		processingID *string
	}
	var coupons []bunchCoupon
	for rows.Next() {
		var c bunchCoupon
		if err := rows.Scan(&c.id, &c.status, &c.processingID); err != nil {
			rows.Close()
			r.logger.Error().Err(err).Msg("failed to scan bunch coupon")
			return nil, fmt.Errorf("failed to scan bunch coupon: %w", err)
		}
		coupons = append(coupons, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		r.logger.Error().Err(err).Msg("error iterating bunch coupons")
		return nil, fmt.Errorf("error iterating bunch coupons: %w", err)
	}

	for _, c := range coupons {
		if !ignoreProcessingIDCheck {
			if c.status != model.StatusReserved || c.processingID == nil {
				r.logger.Warn().
					Str("coupon_id", c.id).
					Str("status", string(c.status)).
					Str("bunch_id", bunchID).
					Msg("bunch coupon has bad status")
				return nil, fmt.Errorf("coupon %s in status %s: %w", c.id, c.status, model.ErrBadCouponStatus)
			}
			continue
		}
		if c.status != model.StatusReserved && c.status != model.StatusUsed {
			return nil, fmt.Errorf("coupon %s in status %s: %w", c.id, c.status, model.ErrBadCouponStatus)
		}
		if c.processingID == nil {
			r.logger.Warn().
				Str("coupon_id", c.id).
				Str("bunch_id", bunchID).
				Msg("bunch coupon has no processing id, still changing status")
		}
	}

	// Only RESERVED rows change; with the relaxed check a USED coupon still
	// tagged with the bunch is left untouched.
	if err := r.applyStatusByBunch(ctx, tx, bunchID, newStatus, keepInfo); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error().Err(err).Str("bunch_id", bunchID).Msg("failed to commit bunch status change")
		return nil, fmt.Errorf("failed to commit bunch status change: %w", err)
	}

	processingIDs := make([]*string, len(coupons))
	for i, c := range coupons {
		processingIDs[i] = c.processingID
	}
	return processingIDs, nil
}

// applyStatusByID runs the status-change UPDATE for one coupon. The bunch id
// is cleared unconditionally; processing fields are cleared unless keepInfo
// is set.
func (r *postgresRepository) applyStatusByID(ctx context.Context, tx pgx.Tx, couponID string, newStatus model.CouponStatus, keepInfo bool) error {
	query := `UPDATE coupons SET status = $1, bunch_id = NULL, processing_id = NULL, processing_date = NULL WHERE id = $2`
	if keepInfo {
		query = `UPDATE coupons SET status = $1, bunch_id = NULL WHERE id = $2`
	}

	if _, err := tx.Exec(ctx, query, newStatus, couponID); err != nil {
		r.logger.Error().
			Err(err).
			Str("coupon_id", couponID).
			Str("new_status", string(newStatus)).
			Msg("failed to apply status change")
		return fmt.Errorf("failed to apply status change: %w", err)
	}
	return nil
}

// applyStatusByBunch is the bunch-wide variant of applyStatusByID. It only
// touches RESERVED rows.
func (r *postgresRepository) applyStatusByBunch(ctx context.Context, tx pgx.Tx, bunchID string, newStatus model.CouponStatus, keepInfo bool) error {
	query := `UPDATE coupons SET status = $1, bunch_id = NULL, processing_id = NULL, processing_date = NULL WHERE bunch_id = $2 AND status = $3`
	if keepInfo {
		query = `UPDATE coupons SET status = $1, bunch_id = NULL WHERE bunch_id = $2 AND status = $3`
	}

	if _, err := tx.Exec(ctx, query, newStatus, bunchID, model.StatusReserved); err != nil {
		r.logger.Error().
			Err(err).
			Str("bunch_id", bunchID).
			Str("new_status", string(newStatus)).
			Msg("failed to apply status change")
		return fmt.Errorf("failed to apply status change: %w", err)
	}
	return nil
}

// GetProcessingIDsForBunch returns the processing ids of all coupons of a
// bunch.
func (r *postgresRepository) GetProcessingIDsForBunch(ctx context.Context, bunchID string) ([]*string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT processing_id FROM coupons WHERE bunch_id = $1 ORDER BY id`,
		bunchID,
	)
	if err != nil {
		r.logger.Error().Err(err).Str("bunch_id", bunchID).Msg("failed to query processing ids")
		return nil, fmt.Errorf("failed to query processing ids: %w", err)
	}
	defer rows.Close()

	var processingIDs []*string
	for rows.Next() {
		var pid *string
		if err := rows.Scan(&pid); err != nil {
			r.logger.Error().Err(err).Msg("failed to scan processing id")
			return nil, fmt.Errorf("failed to scan processing id: %w", err)
		}
		processingIDs = append(processingIDs, pid)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error().Err(err).Msg("error iterating processing ids")
		return nil, fmt.Errorf("error iterating processing ids: %w", err)
	}

	return processingIDs, nil
}

// HasStaleReservations reports whether any reserved coupon has been
// processing for more than a day.
func (r *postgresRepository) HasStaleReservations(ctx context.Context) (bool, error) {
	return r.exists(ctx, `
		SELECT 1 FROM coupons
		WHERE status = $1
		  AND processing_id IS NOT NULL
		  AND processing_date < NOW() - INTERVAL '1 day'
	`, model.StatusReserved)
}

// HasOrphanedProcessing reports whether any coupon is stuck mid-reservation:
// reserved for more than five minutes with no processing id.
func (r *postgresRepository) HasOrphanedProcessing(ctx context.Context) (bool, error) {
	return r.exists(ctx, `
		SELECT 1 FROM coupons
		WHERE status = $1
		  AND processing_id IS NULL
		  AND processing_date < NOW() - INTERVAL '5 minutes'
	`, model.StatusReserved)
}

// HasInconsistentStatus reports whether any coupon carries bunch or
// processing fields its status does not permit.
func (r *postgresRepository) HasInconsistentStatus(ctx context.Context) (bool, error) {
	return r.exists(ctx, `
		SELECT 1 FROM coupons
		WHERE (status <> $1 AND bunch_id IS NOT NULL)
		   OR (status NOT IN ($1, $2) AND (processing_id IS NOT NULL OR processing_date IS NOT NULL))
	`, model.StatusReserved, model.StatusUsed)
}

// UpcomingExpirations lists AVAILABLE coupons expiring within the window.
func (r *postgresRepository) UpcomingExpirations(ctx context.Context, withinDays int) ([]model.ExpiringCoupon, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, expiration_date
		FROM coupons
		WHERE status = $1
		  AND expiration_date IS NOT NULL
		  AND expiration_date <= CURRENT_DATE + $2::int
		ORDER BY expiration_date ASC
	`, model.StatusAvailable, withinDays)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to query upcoming expirations")
		return nil, fmt.Errorf("failed to query upcoming expirations: %w", err)
	}
	defer rows.Close()

	var expiring []model.ExpiringCoupon
	for rows.Next() {
		var e model.ExpiringCoupon
		if err := rows.Scan(&e.ID, &e.ExpirationDate); err != nil {
			r.logger.Error().Err(err).Msg("failed to scan expiration row")
			return nil, fmt.Errorf("failed to scan expiration row: %w", err)
		}
		expiring = append(expiring, e)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error().Err(err).Msg("error iterating expiration rows")
		return nil, fmt.Errorf("error iterating expiration rows: %w", err)
	}

	return expiring, nil
}

// exists runs a query wrapped in EXISTS and scans the single boolean.
func (r *postgresRepository) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var found bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (`+query+`)`, args...).Scan(&found)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to run consistency probe")
		return false, fmt.Errorf("failed to run consistency probe: %w", err)
	}
	return found, nil
}
