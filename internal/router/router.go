package router

import (
	"net/http"
	"strings"

	"github.com/bronweg/couponvault/internal/handler"
	"github.com/bronweg/couponvault/internal/middleware"

	"github.com/rs/zerolog"
)

// New creates a new HTTP router with all routes and middleware configured.
func New(
	couponHandler *handler.CouponHandler,
	apiKey string,
	logger zerolog.Logger,
) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint (no authentication required)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	mux.HandleFunc("/api/coupons/summary", couponHandler.GetSummary)
	mux.HandleFunc("/api/allocations", couponHandler.RequestAllocation)
	mux.HandleFunc("/api/inventory/consistency", couponHandler.GetConsistency)

	// Coupon action handler function: /api/coupons/{id}/{action}
	couponRouteHandler := func(w http.ResponseWriter, r *http.Request) {
		id, action, ok := splitActionPath(r.URL.Path, "/api/coupons/")
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		couponHandler.CouponAction(w, r, id, action)
	}
	mux.HandleFunc("/api/coupons/", couponRouteHandler)

	// Bunch action handler function: /api/bunches/{id}/{action}
	bunchRouteHandler := func(w http.ResponseWriter, r *http.Request) {
		id, action, ok := splitActionPath(r.URL.Path, "/api/bunches/")
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		couponHandler.BunchAction(w, r, id, action)
	}
	mux.HandleFunc("/api/bunches/", bunchRouteHandler)

	// Apply middleware in order: Recovery -> Logging -> CORS -> APIKeyAuth
	var h http.Handler = mux
	h = middleware.APIKeyAuth(apiKey, logger)(h)
	h = middleware.CORS(h)
	h = middleware.Logging(logger)(h)
	h = middleware.Recovery(logger)(h)

	return h
}

// splitActionPath extracts the {id}/{action} tail of a resource path.
func splitActionPath(path, prefix string) (id, action string, ok bool) {
	tail := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	parts := strings.Split(tail, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
