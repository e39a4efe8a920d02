// Package loader reads bulk coupon files for administrative ingestion. A
// coupon file is a JSON document mapping denomination to the list of coupon
// ids issued at that value:
//
//	{"5": ["12345678901234567890", ...], "10.5": [...]}
//
// Ingested coupons carry no expiration; expiring stock is issued through a
// separate administrative channel.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/bronweg/couponvault/internal/model"

	"github.com/rs/zerolog"
)

// Source fetches a coupon file from some storage location.
type Source interface {
	// Fetch opens the coupon file at the given location. The caller closes
	// the returned reader.
	Fetch(ctx context.Context, location string) (io.ReadCloser, error)
}

// fileSource implements Source for the local file system.
type fileSource struct {
	logger zerolog.Logger
}

// NewFileSource creates a file-system coupon file source.
func NewFileSource(logger zerolog.Logger) Source {
	return &fileSource{
		logger: logger.With().Str("component", "coupon-file-source").Logger(),
	}
}

// Fetch opens a local coupon file.
func (s *fileSource) Fetch(_ context.Context, location string) (io.ReadCloser, error) {
	s.logger.Info().Str("file", location).Msg("opening coupon file")

	file, err := os.Open(location)
	if err != nil {
		s.logger.Error().Err(err).Str("file", location).Msg("failed to open coupon file")
		return nil, fmt.Errorf("failed to open coupon file %s: %w", location, err)
	}
	return file, nil
}

// Parse decodes and validates a coupon file. Every id must be a numeric
// string of exactly model.CouponIDLength digits and unique within the file;
// every denomination must parse as a positive number. The result is ordered
// by denomination ascending, ids in file order, so ingestion is
// deterministic.
func Parse(r io.Reader) ([]model.NewCoupon, error) {
	var byDenomination map[string][]string
	if err := json.NewDecoder(r).Decode(&byDenomination); err != nil {
		return nil, fmt.Errorf("failed to decode coupon file: %w", err)
	}

	denominations := make([]string, 0, len(byDenomination))
	for key := range byDenomination {
		denominations = append(denominations, key)
	}
	sort.Slice(denominations, func(i, j int) bool {
		di, _ := strconv.ParseFloat(denominations[i], 64)
		dj, _ := strconv.ParseFloat(denominations[j], 64)
		return di < dj
	})

	seen := make(map[string]struct{})
	var coupons []model.NewCoupon
	for _, key := range denominations {
		denomination, err := strconv.ParseFloat(key, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid denomination %q: %w", key, err)
		}
		if denomination <= 0 {
			return nil, fmt.Errorf("invalid denomination %q: must be positive", key)
		}

		for _, id := range byDenomination[key] {
			if err := validateCouponID(id); err != nil {
				return nil, err
			}
			if _, dup := seen[id]; dup {
				return nil, fmt.Errorf("duplicate coupon id %s", id)
			}
			seen[id] = struct{}{}
			coupons = append(coupons, model.NewCoupon{ID: id, Denomination: denomination})
		}
	}

	return coupons, nil
}

func validateCouponID(id string) error {
	if len(id) != model.CouponIDLength {
		return fmt.Errorf("invalid coupon id %q: must be %d digits", id, model.CouponIDLength)
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return fmt.Errorf("invalid coupon id %q: must be numeric", id)
		}
	}
	return nil
}
