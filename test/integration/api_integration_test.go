package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bronweg/couponvault/internal/handler"
	"github.com/bronweg/couponvault/internal/model"
	"github.com/bronweg/couponvault/internal/repository"
	"github.com/bronweg/couponvault/internal/router"
	"github.com/bronweg/couponvault/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "test-api-key"

func setupTestServer(t *testing.T, testDB *TestDB) http.Handler {
	t.Helper()

	logger := zerolog.Nop()

	// Initialize repository and service
	repo := repository.NewPostgresRepository(testDB.Pool, logger)
	allocationService := service.NewAllocationService(repo, nil, 3, logger)

	// Initialize handler
	couponHandler := handler.NewCouponHandler(allocationService, logger)

	// Create router
	return router.New(couponHandler, testAPIKey, logger)
}

// doRequest performs an authenticated request against the test server.
func doRequest(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-API-Key", testAPIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCouponAPI_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	testDB := SetupTestDB(t)
	server := setupTestServer(t, testDB)

	t.Run("health check requires no API key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing API key is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/coupons/summary", nil)
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("summary returns available denominations", func(t *testing.T) {
		CleanupDB(t, testDB.Pool)
		SeedCoupons(t, testDB.Pool, []SeedCoupon{
			{ID: couponID(1), Denomination: 5, Status: model.StatusAvailable},
			{ID: couponID(2), Denomination: 5, Status: model.StatusAvailable},
			{ID: couponID(3), Denomination: 10, Status: model.StatusAvailable},
		})

		rec := doRequest(t, server, http.MethodGet, "/api/coupons/summary", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var summary []model.DenominationCount
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&summary))
		assert.Equal(t, []model.DenominationCount{
			{Denomination: 5, Count: 2},
			{Denomination: 10, Count: 1},
		}, summary)
	})

	t.Run("summary of empty inventory is an empty list", func(t *testing.T) {
		CleanupDB(t, testDB.Pool)

		rec := doRequest(t, server, http.MethodGet, "/api/coupons/summary", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, "[]", rec.Body.String())
	})

	t.Run("allocation lifecycle from request to bunch use", func(t *testing.T) {
		CleanupDB(t, testDB.Pool)
		SeedCoupons(t, testDB.Pool, []SeedCoupon{
			{ID: couponID(1), Denomination: 5, Status: model.StatusAvailable},
			{ID: couponID(2), Denomination: 5, Status: model.StatusAvailable},
			{ID: couponID(3), Denomination: 15, Status: model.StatusAvailable},
			{ID: couponID(4), Denomination: 15, Status: model.StatusAvailable},
		})

		// Request an allocation for 35: 15 + 15 + 5.
		rec := doRequest(t, server, http.MethodPost, "/api/allocations",
			model.AllocationRequest{Amount: 35})
		require.Equal(t, http.StatusCreated, rec.Code)

		var result model.AllocationResult
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
		require.NotEmpty(t, result.BunchID)
		assert.Equal(t, 0.0, result.CashToAdd)
		require.Len(t, result.Coupons, 3)

		// Attach a processing id to every reserved coupon.
		for i, c := range result.Coupons {
			rec := doRequest(t, server, http.MethodPost,
				fmt.Sprintf("/api/coupons/%s/processing-id", c.ID),
				model.ProcessingIDRequest{ProcessingID: fmt.Sprintf("proc-%d", i)})
			require.Equal(t, http.StatusOK, rec.Code)
		}

		// Use the whole bunch.
		rec = doRequest(t, server, http.MethodPost,
			fmt.Sprintf("/api/bunches/%s/use", result.BunchID), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var used struct {
			ProcessingIDs []*string `json:"processingIds"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&used))
		assert.Len(t, used.ProcessingIDs, 3)

		// Only the unreserved coupon remains available.
		rec = doRequest(t, server, http.MethodGet, "/api/coupons/summary", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var summary []model.DenominationCount
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&summary))
		assert.Equal(t, []model.DenominationCount{{Denomination: 5, Count: 1}}, summary)
	})

	t.Run("rejecting a coupon returns it to the pool", func(t *testing.T) {
		CleanupDB(t, testDB.Pool)
		SeedCoupons(t, testDB.Pool, []SeedCoupon{
			{ID: couponID(1), Denomination: 20, Status: model.StatusAvailable},
		})

		rec := doRequest(t, server, http.MethodPost, "/api/allocations",
			model.AllocationRequest{Amount: 20, BunchID: "bunch-reject"})
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = doRequest(t, server, http.MethodPost,
			fmt.Sprintf("/api/coupons/%s/reject", couponID(1)),
			model.BunchActionRequest{IgnoreProcessingIDCheck: true})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doRequest(t, server, http.MethodGet, "/api/coupons/summary", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var summary []model.DenominationCount
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&summary))
		assert.Equal(t, []model.DenominationCount{{Denomination: 20, Count: 1}}, summary)
	})

	t.Run("allocation with non-positive amount is a bad request", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodPost, "/api/allocations",
			model.AllocationRequest{Amount: 0})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("using an unknown coupon is not found", func(t *testing.T) {
		CleanupDB(t, testDB.Pool)

		rec := doRequest(t, server, http.MethodPost,
			fmt.Sprintf("/api/coupons/%s/use", couponID(99)), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("consistency report is served", func(t *testing.T) {
		CleanupDB(t, testDB.Pool)

		rec := doRequest(t, server, http.MethodGet, "/api/inventory/consistency?windowDays=3", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var report model.ConsistencyReport
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
		assert.False(t, report.StaleReservations)
		assert.False(t, report.OrphanedProcessing)
		assert.False(t, report.InconsistentStatus)
	})
}
