package integration

import (
	"context"
	"testing"
	"time"

	"github.com/bronweg/couponvault/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestDB represents a test database instance.
type TestDB struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
}

// SetupTestDB creates a PostgreSQL test container and connection pool.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	ctx := context.Background()

	// Create PostgreSQL container
	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	// Get connection string
	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	// Create connection pool
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		t.Fatalf("failed to parse connection string: %v", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		t.Fatalf("failed to create connection pool: %v", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	// Create schema
	createSchema(t, pool)

	t.Cleanup(func() {
		pool.Close()
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	return &TestDB{
		Container: postgresContainer,
		Pool:      pool,
		ConnStr:   connStr,
	}
}

// createSchema creates the database schema for testing.
func createSchema(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	ctx := context.Background()

	schema := `
		CREATE TABLE IF NOT EXISTS coupons (
			id CHAR(20) PRIMARY KEY,
			denomination DOUBLE PRECISION NOT NULL,
			status VARCHAR(20) NOT NULL,
			bunch_id VARCHAR(100),
			processing_id VARCHAR(100),
			processing_date TIMESTAMP,
			created_at TIMESTAMP,
			expiration_date DATE
		);

		CREATE INDEX IF NOT EXISTS idx_coupons_status_denomination ON coupons(status, denomination);
		CREATE INDEX IF NOT EXISTS idx_coupons_bunch_id ON coupons(bunch_id);
	`

	_, err := pool.Exec(ctx, schema)
	if err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
}

// SeedCoupon describes one coupon row to insert for a test.
type SeedCoupon struct {
	ID             string
	Denomination   float64
	Status         model.CouponStatus
	BunchID        *string
	ProcessingID   *string
	ProcessingDate *time.Time
	CreatedAt      *time.Time
	ExpirationDate *time.Time
}

// SeedCoupons inserts test coupon data into the database.
func SeedCoupons(t *testing.T, pool *pgxpool.Pool, coupons []SeedCoupon) {
	t.Helper()

	ctx := context.Background()

	for _, c := range coupons {
		createdAt := c.CreatedAt
		if createdAt == nil {
			now := time.Now()
			createdAt = &now
		}
		_, err := pool.Exec(ctx,
			`INSERT INTO coupons
				(id, denomination, status, bunch_id, processing_id, processing_date, created_at, expiration_date)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.ID, c.Denomination, c.Status, c.BunchID, c.ProcessingID, c.ProcessingDate, createdAt, c.ExpirationDate,
		)
		if err != nil {
			t.Fatalf("failed to seed coupon %s: %v", c.ID, err)
		}
	}
}

// CleanupDB cleans all data from test tables.
func CleanupDB(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	ctx := context.Background()

	if _, err := pool.Exec(ctx, "DELETE FROM coupons"); err != nil {
		t.Logf("failed to clean coupons table: %v", err)
	}
}
