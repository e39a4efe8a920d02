package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/bronweg/couponvault/internal/model"
	"github.com/bronweg/couponvault/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CouponHandler handles the coupon allocation and lifecycle HTTP requests.
type CouponHandler struct {
	service service.AllocationService
	logger  zerolog.Logger
}

// NewCouponHandler creates a new coupon handler.
func NewCouponHandler(service service.AllocationService, logger zerolog.Logger) *CouponHandler {
	return &CouponHandler{
		service: service,
		logger:  logger.With().Str("handler", "coupon").Logger(),
	}
}

// GetSummary handles GET /api/coupons/summary requests.
func (h *CouponHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", h.logger)
		return
	}

	summary, err := h.service.GetBalance(r.Context())
	if err != nil {
		h.writeDomainError(w, err, "failed to read balance")
		return
	}
	if summary == nil {
		summary = []model.DenominationCount{}
	}

	writeJSON(w, http.StatusOK, summary)
}

// RequestAllocation handles POST /api/allocations requests. A missing bunch
// id is generated server-side.
func (h *CouponHandler) RequestAllocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", h.logger)
		return
	}

	var req model.AllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", h.logger)
		return
	}
	if req.BunchID == "" {
		req.BunchID = uuid.NewString()
	}

	result, err := h.service.RequestAllocation(r.Context(), req.Amount, req.BunchID)
	if err != nil {
		h.writeDomainError(w, err, "failed to allocate coupons")
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// CouponAction handles POST /api/coupons/{id}/processing-id, .../use and
// .../reject requests.
func (h *CouponHandler) CouponAction(w http.ResponseWriter, r *http.Request, couponID, action string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", h.logger)
		return
	}
	if couponID == "" {
		writeError(w, http.StatusBadRequest, "coupon ID is required", h.logger)
		return
	}

	switch action {
	case "processing-id":
		var req model.ProcessingIDRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProcessingID == "" {
			writeError(w, http.StatusBadRequest, "processing id is required", h.logger)
			return
		}
		if err := h.service.SetProcessingID(r.Context(), couponID, req.ProcessingID); err != nil {
			h.writeDomainError(w, err, "failed to set processing id")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	case "use":
		pid, err := h.service.Use(r.Context(), couponID)
		if err != nil {
			h.writeDomainError(w, err, "failed to use coupon")
			return
		}
		writeJSON(w, http.StatusOK, map[string]*string{"processingId": pid})

	case "reject":
		req, err := decodeBunchAction(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", h.logger)
			return
		}
		pid, err := h.service.Reject(r.Context(), couponID, req.IgnoreProcessingIDCheck)
		if err != nil {
			h.writeDomainError(w, err, "failed to reject coupon")
			return
		}
		writeJSON(w, http.StatusOK, map[string]*string{"processingId": pid})

	default:
		writeError(w, http.StatusNotFound, "unknown coupon action", h.logger)
	}
}

// BunchAction handles /api/bunches/{id}/use, .../reject and
// .../processing-ids requests.
func (h *CouponHandler) BunchAction(w http.ResponseWriter, r *http.Request, bunchID, action string) {
	if bunchID == "" {
		writeError(w, http.StatusBadRequest, "bunch ID is required", h.logger)
		return
	}

	switch action {
	case "use":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", h.logger)
			return
		}
		pids, err := h.service.UseBunch(r.Context(), bunchID)
		if err != nil {
			h.writeDomainError(w, err, "failed to use bunch")
			return
		}
		writeJSON(w, http.StatusOK, map[string][]*string{"processingIds": pids})

	case "reject":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", h.logger)
			return
		}
		req, err := decodeBunchAction(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", h.logger)
			return
		}
		pids, err := h.service.RejectBunch(r.Context(), bunchID, req.IgnoreProcessingIDCheck)
		if err != nil {
			h.writeDomainError(w, err, "failed to reject bunch")
			return
		}
		writeJSON(w, http.StatusOK, map[string][]*string{"processingIds": pids})

	case "processing-ids":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", h.logger)
			return
		}
		pids, err := h.service.ProcessingIDs(r.Context(), bunchID)
		if err != nil {
			h.writeDomainError(w, err, "failed to read processing ids")
			return
		}
		writeJSON(w, http.StatusOK, map[string][]*string{"processingIds": pids})

	default:
		writeError(w, http.StatusNotFound, "unknown bunch action", h.logger)
	}
}

// GetConsistency handles GET /api/inventory/consistency requests for
// external monitoring.
func (h *CouponHandler) GetConsistency(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", h.logger)
		return
	}

	windowDays := 0
	if raw := r.URL.Query().Get("windowDays"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid windowDays", h.logger)
			return
		}
		windowDays = parsed
	}

	report, err := h.service.ConsistencyReport(r.Context(), windowDays)
	if err != nil {
		h.writeDomainError(w, err, "failed to run consistency probes")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// decodeBunchAction reads the optional action body. An absent body means
// default options; a present but malformed body is an error.
func decodeBunchAction(r *http.Request) (model.BunchActionRequest, error) {
	var req model.BunchActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return model.BunchActionRequest{}, err
	}
	return req, nil
}

// writeDomainError maps the domain error taxonomy onto HTTP statuses.
func (h *CouponHandler) writeDomainError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, model.ErrCouponUnavailable):
		writeError(w, http.StatusConflict, "not enough coupons available", h.logger)
	case errors.Is(err, model.ErrNonExistingCoupon):
		writeError(w, http.StatusNotFound, "coupon not found", h.logger)
	case errors.Is(err, model.ErrBadCouponStatus):
		writeError(w, http.StatusConflict, "coupon status does not allow this operation", h.logger)
	case errors.Is(err, model.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "amount must be greater than zero", h.logger)
	default:
		h.logger.Error().Err(err).Msg(fallback)
		writeError(w, http.StatusInternalServerError, fallback, h.logger)
	}
}
