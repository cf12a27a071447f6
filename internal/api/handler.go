package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-promocodes/internal/analytics"
	"ms-promocodes/internal/auth"
	"ms-promocodes/internal/evaluator"
	"ms-promocodes/internal/logger"
	"ms-promocodes/internal/models"
	"ms-promocodes/internal/redemption"
	"ms-promocodes/internal/registry"
	"ms-promocodes/internal/utils"
)

type Handler struct {
	Registry   *registry.Service
	Redemption *redemption.Service
	Analytics  *analytics.Service
	Logger     *logger.Logger
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// registryStatus maps registry sentinel errors onto the HTTP contract:
// 404 for missing codes, 409 for duplicates, 400 for field validation.
func registryStatus(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrDuplicateCode):
		return http.StatusConflict
	case errors.Is(err, registry.ErrInvalidDiscountValue),
		errors.Is(err, registry.ErrInvalidDateRange),
		errors.Is(err, registry.ErrInvalidUsageLimit),
		errors.Is(err, registry.ErrUsageLimitBelowUsed),
		errors.Is(err, registry.ErrCodeRequired),
		errors.Is(err, registry.ErrInvalidDiscountType):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) CreatePromoCode(w http.ResponseWriter, r *http.Request) {
	var req models.CreatePromoCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	code, err := h.Registry.Register(r.Context(), req)
	if err != nil {
		status := registryStatus(err)
		if status == http.StatusInternalServerError {
			h.Logger.Error("API", fmt.Sprintf("create promo code failed: %v", err))
			writeJSON(w, status, utils.ErrorResponse("Could not create promo code", "internal error"))
			return
		}
		writeJSON(w, status, utils.ErrorResponse("Could not create promo code", err.Error()))
		return
	}

	writeJSON(w, http.StatusCreated, utils.SuccessResponse("Promo code created", code))
}

func (h *Handler) ListPromoCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.Registry.List(r.Context(), r.URL.Query().Get("eventId"))
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("list promo codes failed: %v", err))
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not list promo codes", "internal error"))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Promo codes", codes))
}

func (h *Handler) GetPromoCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.Registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, registryStatus(err), utils.ErrorResponse("Could not fetch promo code", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Promo code", code))
}

func (h *Handler) UpdatePromoCode(w http.ResponseWriter, r *http.Request) {
	var req models.UpdatePromoCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	code, err := h.Registry.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeJSON(w, registryStatus(err), utils.ErrorResponse("Could not update promo code", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Promo code updated", code))
}

func (h *Handler) DeletePromoCode(w http.ResponseWriter, r *http.Request) {
	if err := h.Registry.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeJSON(w, registryStatus(err), utils.ErrorResponse("Could not delete promo code", err.Error()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ValidateCheckout is the side-effect-free preview used while the shopper
// is still editing the cart. Its answer is advisory; the redeem endpoint
// re-checks everything under the lock.
func (h *Handler) ValidateCheckout(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.ValidateCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	decision, err := h.Redemption.Preview(r.Context(), req.Code, userID, req)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("validate checkout failed: %v", err))
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not validate promo code", "internal error"))
		return
	}

	writeJSON(w, http.StatusOK, decisionToValidateResponse(decision))
}

func decisionToValidateResponse(decision evaluator.Decision) models.ValidateCheckoutResponse {
	if !decision.Valid {
		return models.ValidateCheckoutResponse{Valid: false, Error: string(decision.Reason)}
	}
	return models.ValidateCheckoutResponse{
		Valid:          true,
		DiscountAmount: &decision.DiscountAmount,
		FinalAmount:    &decision.FinalAmount,
	}
}

// Redeem is the authoritative path, invoked at order completion.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	result, err := h.Redemption.Redeem(r.Context(), chi.URLParam(r, "code"), userID, req)
	if err != nil {
		if errors.Is(err, redemption.ErrContentionTimeout) {
			writeJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Promo code is busy", "CONTENTION_TIMEOUT"))
			return
		}
		h.Logger.Error("API", fmt.Sprintf("redeem failed: %v", err))
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not redeem promo code", "internal error"))
		return
	}

	resp := models.RedeemResponse{Valid: result.Decision.Valid}
	if result.Decision.Valid {
		resp.DiscountAmount = &result.Decision.DiscountAmount
		resp.FinalAmount = &result.Decision.FinalAmount
		resp.Usage = result.Record
	} else {
		resp.Error = string(result.Decision.Reason)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid time range", err.Error()))
		return
	}

	stats, err := h.Analytics.GetCodeAnalytics(r.Context(), chi.URLParam(r, "id"), window)
	if err != nil {
		writeJSON(w, registryStatus(err), utils.ErrorResponse("Could not load analytics", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Promo code analytics", stats))
}

func (h *Handler) GetUsageHistory(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid time range", err.Error()))
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))

	history, err := h.Analytics.GetUsageHistory(r.Context(), chi.URLParam(r, "id"), window, page, pageSize)
	if err != nil {
		writeJSON(w, registryStatus(err), utils.ErrorResponse("Could not load usage history", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Usage history", history))
}

// parseWindow resolves either an explicit from/to pair (RFC3339) or a named
// timeRange into the analytics window.
func parseWindow(r *http.Request) (utils.TimeWindow, error) {
	fromStr := r.URL.Query().Get("from")
	toStr := r.URL.Query().Get("to")
	if fromStr != "" || toStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return utils.TimeWindow{}, fmt.Errorf("invalid from: %w", err)
		}
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return utils.TimeWindow{}, fmt.Errorf("invalid to: %w", err)
		}
		return utils.TimeWindow{From: from, To: to}, nil
	}
	return utils.ParseTimeRange(r.URL.Query().Get("timeRange"), time.Now().UTC())
}
