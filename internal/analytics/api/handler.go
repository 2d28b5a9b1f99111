package analytics_api

import (
	"fmt"
	"net/http"

	"ms-ticket-market/internal/analytics"
	"ms-ticket-market/internal/auth"
	"ms-ticket-market/internal/logger"
	"ms-ticket-market/internal/marketplace/access"
	"ms-ticket-market/internal/utils"

	"github.com/go-chi/chi/v5"
)

// Handler handles analytics HTTP endpoints
type Handler struct {
	Service *analytics.Service
	Access  access.Control
	Logger  *logger.Logger
}

func NewHandler(service *analytics.Service, control access.Control, logger *logger.Logger) *Handler {
	return &Handler{
		Service: service,
		Access:  control,
		Logger:  logger,
	}
}

// RegisterRoutes registers the analytics routes on an authenticated router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/analytics", func(r chi.Router) {
		r.With(h.operatorOnly).Get("/summary", h.GetMarketSummary)
		r.With(h.operatorOnly).Get("/daily", h.GetDailySales)
		r.Get("/accounts/{account}/history", h.GetAccountHistory)
	})
}

func (h *Handler) operatorOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := auth.UserID(r.Context())
		if !h.Access.IsOperator(caller) {
			h.Logger.LogSecurity("ANALYTICS", fmt.Sprintf("%s denied access to %s", caller, r.URL.Path))
			utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse("Operator access required", "forbidden"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) GetMarketSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Service.GetMarketSummary(r.Context())
	if err != nil {
		h.Logger.Error("ANALYTICS", fmt.Sprintf("Failed to build market summary: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to build market summary", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Market summary", summary))
}

func (h *Handler) GetDailySales(w http.ResponseWriter, r *http.Request) {
	daily, err := h.Service.GetDailySales(r.Context())
	if err != nil {
		h.Logger.Error("ANALYTICS", fmt.Sprintf("Failed to build daily sales: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to build daily sales", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Daily sales", daily))
}

// GetAccountHistory lists fund movements for an account. Only the account
// itself or the operator may read it.
func (h *Handler) GetAccountHistory(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	caller := auth.UserID(r.Context())
	if caller != account && !h.Access.IsOperator(caller) {
		utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse("Cannot read another account's history", "forbidden"))
		return
	}

	entries, err := h.Service.GetAccountHistory(r.Context(), account)
	if err != nil {
		h.Logger.Error("ANALYTICS", fmt.Sprintf("Failed to load history for %s: %v", account, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to load history", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Account history", entries))
}
