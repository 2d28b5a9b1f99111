package ticket_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"ms-ticket-market/internal/auth"
	"ms-ticket-market/internal/idempotency"
	"ms-ticket-market/internal/logger"
	"ms-ticket-market/internal/marketplace"
	"ms-ticket-market/internal/models"
	"ms-ticket-market/internal/sse"
	"ms-ticket-market/internal/tickets/qr"
	"ms-ticket-market/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "Idempotent-Replayed"
	qrSize               = 256
)

type Handler struct {
	Market *marketplace.Service
	Logger *logger.Logger

	// Optional collaborators; their routes answer 503 when unset.
	Guard  *idempotency.Guard
	QR     *qr.Generator
	Events *sse.TicketEventEmitter
}

func NewHandler(market *marketplace.Service, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewWithWriter(io.Discard)
	}
	return &Handler{Market: market, Logger: log}
}

// RegisterRoutes mounts the public read routes and the authenticated
// marketplace routes.
func (h *Handler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.Get("/api/catalog", h.GetCatalog)
	r.Get("/api/tickets", h.ListTickets)
	r.Get("/api/tickets/{ticketID}", h.GetTicket)
	r.Get("/api/tickets/{ticketID}/price", h.GetPrice)
	r.Get("/api/tickets/{ticketID}/fee", h.GetFee)
	r.Get("/api/accounts/{account}/tickets/count", h.CountTickets)
	r.Get("/api/accounts/{account}/funds", h.GetFunds)
	r.Get("/api/events/stream", h.StreamEvents)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)

		r.Post("/api/tickets", h.idempotent("buy", h.Buy))
		r.Post("/api/tickets/redeem", h.Redeem)
		r.Put("/api/tickets/{ticketID}/sale", h.SetSale)
		r.Delete("/api/tickets/{ticketID}/sale", h.CancelSale)
		r.Put("/api/tickets/{ticketID}/price", h.SetPrice)
		r.Put("/api/tickets/{ticketID}/approval", h.ApproveBuy)
		r.Post("/api/tickets/{ticketID}/purchase", h.idempotent("purchase", h.BuyFromReseller))
		r.Delete("/api/tickets/{ticketID}", h.Destroy)
		r.Get("/api/tickets/{ticketID}/qr", h.GetQR)
		r.Post("/api/escrow/withdraw", h.idempotent("withdraw", h.Withdraw))
	})
}

// RequestLogger logs method, path, status and latency for every request.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.LogAPI(r.Method, r.URL.Path, strconv.Itoa(ww.Status()), time.Since(start).String())
		})
	}
}

type valueRequest struct {
	Value decimal.Decimal `json:"value"`
}

type priceRequest struct {
	Price decimal.Decimal `json:"price"`
}

type approvalRequest struct {
	Buyer string `json:"buyer"`
}

type redeemRequest struct {
	Token string `json:"token"`
}

func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if !decodeBody(w, r, &req) {
		return
	}

	receipt, err := h.Market.Buy(r.Context(), auth.UserID(r.Context()), req.Value)
	if err != nil {
		h.writeError(w, "Failed to buy ticket", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Ticket minted", receipt))
}

func (h *Handler) SetSale(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}

	ticket, err := h.Market.SetSale(r.Context(), id, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "Failed to list ticket", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket listed", ticket))
}

func (h *Handler) CancelSale(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}

	ticket, err := h.Market.CancelSale(r.Context(), id, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "Failed to unlist ticket", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket unlisted", ticket))
}

func (h *Handler) SetPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	var req priceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ticket, err := h.Market.SetPrice(r.Context(), id, auth.UserID(r.Context()), req.Price)
	if err != nil {
		h.writeError(w, "Failed to set price", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Price updated", ticket))
}

func (h *Handler) ApproveBuy(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	var req approvalRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ticket, err := h.Market.ApproveBuy(r.Context(), id, auth.UserID(r.Context()), req.Buyer)
	if err != nil {
		h.writeError(w, "Failed to approve buyer", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Buyer approved", ticket))
}

func (h *Handler) BuyFromReseller(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	var req valueRequest
	if !decodeBody(w, r, &req) {
		return
	}

	receipt, err := h.Market.BuyFromReseller(r.Context(), id, auth.UserID(r.Context()), req.Value)
	if err != nil {
		h.writeError(w, "Failed to purchase ticket", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket purchased", receipt))
}

func (h *Handler) Destroy(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}

	if err := h.Market.Destroy(r.Context(), id, auth.UserID(r.Context())); err != nil {
		h.writeError(w, "Failed to destroy ticket", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket destroyed", map[string]int64{"id": id}))
}

// GetQR renders an admission code for the caller's own ticket.
func (h *Handler) GetQR(w http.ResponseWriter, r *http.Request) {
	if h.QR == nil {
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("QR codes are not configured", "qr disabled"))
		return
	}
	id, ok := ticketID(w, r)
	if !ok {
		return
	}

	ticket, err := h.Market.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, "Failed to load ticket", err)
		return
	}
	if !h.Market.Access.IsOwnerOf(ticket, auth.UserID(r.Context())) {
		h.writeError(w, "Failed to render QR code", marketplace.ErrNotOwner)
		return
	}
	if ticket.Used {
		h.writeError(w, "Failed to render QR code", marketplace.ErrAlreadyUsed)
		return
	}

	png, err := h.QR.PNG(*ticket, qrSize)
	if err != nil {
		h.writeError(w, "Failed to render QR code", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// Redeem admits the holder of a scanned code. The code must have been
// issued to the ticket's current owner.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	if h.QR == nil {
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("QR codes are not configured", "qr disabled"))
		return
	}
	caller := auth.UserID(r.Context())
	if !h.Market.Access.IsOperator(caller) {
		h.writeError(w, "Failed to redeem ticket", marketplace.ErrNotOperator)
		return
	}
	var req redeemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id, owner, err := h.QR.Verify(req.Token)
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid ticket code", err.Error()))
		return
	}
	ticket, err := h.Market.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, "Failed to redeem ticket", err)
		return
	}
	if ticket.Owner != owner {
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Failed to redeem ticket", "ticket changed hands after the code was issued"))
		return
	}

	redeemed, err := h.Market.Redeem(r.Context(), id, caller)
	if err != nil {
		h.writeError(w, "Failed to redeem ticket", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket redeemed", redeemed))
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.Market.Withdraw(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "Failed to withdraw escrow", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Escrow released", receipt))
}

func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	info, err := h.Market.CatalogInfo(r.Context())
	if err != nil {
		h.writeError(w, "Failed to load catalog", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Catalog", info))
}

func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.Market.GetAll(r.Context())
	if err != nil {
		h.writeError(w, "Failed to list tickets", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Tickets", tickets))
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}

	ticket, err := h.Market.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, "Failed to load ticket", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket", ticket))
}

func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}

	price, err := h.Market.GetPrice(r.Context(), id)
	if err != nil {
		h.writeError(w, "Failed to load price", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Price", map[string]decimal.Decimal{"price": price}))
}

func (h *Handler) GetFee(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}

	fee, err := h.Market.GetFee(r.Context(), id)
	if err != nil {
		h.writeError(w, "Failed to load fee", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Fee", map[string]decimal.Decimal{"fee": fee}))
}

func (h *Handler) CountTickets(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	count, err := h.Market.BalanceOf(r.Context(), account)
	if err != nil {
		h.writeError(w, "Failed to count tickets", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket count", map[string]interface{}{
		"account": account,
		"count":   count,
	}))
}

func (h *Handler) GetFunds(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	amount, err := h.Market.Funds(r.Context(), account)
	if err != nil {
		h.writeError(w, "Failed to load funds", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Funds", map[string]interface{}{
		"account": account,
		"funds":   amount,
	}))
}

// StreamEvents streams committed ticket events. ?ticket_id= narrows the
// stream to one ticket.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Event stream is not configured", "sse disabled"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	var eventChan chan models.TicketEvent
	scope := "all"
	if raw := r.URL.Query().Get("ticket_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid ticket_id", err.Error()))
			return
		}
		eventChan = h.Events.SubscribeToTicket(ctx, id)
		scope = raw
	} else {
		eventChan = h.Events.SubscribeAll(ctx)
	}

	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"scope\":%q}\n\n", scope)
	flusher.Flush()
	h.Logger.Info("SSE", fmt.Sprintf("Client connected to ticket events (%s)", scope))

	for {
		select {
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize ticket event: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from ticket events (%s)", scope))
			return
		}
	}
}

// statusFor maps marketplace rejections onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, marketplace.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, marketplace.ErrNotOwner),
		errors.Is(err, marketplace.ErrNotOperator),
		errors.Is(err, marketplace.ErrNotApprovedBuyer):
		return http.StatusForbidden
	case errors.Is(err, marketplace.ErrNotListed),
		errors.Is(err, marketplace.ErrSupplyExceeded),
		errors.Is(err, marketplace.ErrAlreadyUsed),
		errors.Is(err, marketplace.ErrSaleNotStarted),
		errors.Is(err, marketplace.ErrInsufficientFunds):
		return http.StatusConflict
	case errors.Is(err, marketplace.ErrInsufficientPayment):
		return http.StatusPaymentRequired
	case errors.Is(err, marketplace.ErrPriceCeilingExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, marketplace.ErrInvalidAccount),
		errors.Is(err, marketplace.ErrInvalidAmount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", message, err))
	}
	utils.WriteJSON(w, status, utils.ErrorResponse(message, err.Error()))
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return false
	}
	return true
}

func ticketID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "ticketID"), 10, 64)
	if err != nil || id < 0 {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid ticket ID", "ticket ID must be a non-negative integer"))
		return 0, false
	}
	return id, true
}
