package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/bronweg/couponvault/internal/config"
	"github.com/bronweg/couponvault/internal/loader"
	"github.com/bronweg/couponvault/internal/repository"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		location = flag.String("file", "", "path (or S3 key) of the coupon JSON file")
		fromS3   = flag.Bool("s3", false, "fetch the file from the configured S3 bucket instead of the local file system")
	)
	flag.Parse()

	if *location == "" {
		return fmt.Errorf("usage: loader -file <path> [-s3]")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	logger := config.NewLogger(cfg.Logger)
	logger.Info().Str("file", *location).Bool("s3", *fromS3).Msg("starting coupon ingestion")

	ctx := context.Background()

	// Choose the file source
	var source loader.Source
	if *fromS3 {
		if !cfg.S3.Enabled {
			return fmt.Errorf("S3 source requested but S3 is disabled in configuration")
		}
		source, err = loader.NewS3Source(ctx, cfg.S3.Bucket, cfg.S3.Region, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize S3 source: %w", err)
		}
	} else {
		source = loader.NewFileSource(logger)
	}

	// Fetch and parse the coupon file
	body, err := source.Fetch(ctx, *location)
	if err != nil {
		return err
	}
	defer body.Close()

	coupons, err := loader.Parse(body)
	if err != nil {
		return fmt.Errorf("failed to parse coupon file: %w", err)
	}
	if len(coupons) == 0 {
		logger.Warn().Msg("coupon file contains no coupons, nothing to do")
		return nil
	}

	// Initialize coupon repository for the configured backend
	repo, err := repository.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()

	inserted, err := repo.InsertCoupons(ctx, coupons)
	if err != nil {
		return fmt.Errorf("failed to insert coupons: %w", err)
	}

	logger.Info().Int("inserted", inserted).Msg("coupon ingestion completed")
	return nil
}
