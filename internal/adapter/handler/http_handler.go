package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/core/domain"
	"github.com/rl1809/cart-sync/internal/core/service"
)

type HTTPHandler struct {
	engine      *service.CartEngine
	monitor     *service.IdentityMonitor
	coordinator *service.OrderCoordinator
	logger      *zap.Logger
}

// CartResponse is the active cart plus the figures the UI shows next to it.
type CartResponse struct {
	domain.Cart
	TotalItems int                        `json:"total_items"`
	Totals     map[string]decimal.Decimal `json:"totals"`
}

type ToggleRequest struct {
	Product  domain.ProductSnapshot `json:"product"`
	Quantity int                    `json:"quantity"`
}

type QuantityRequest struct {
	Quantity int `json:"quantity"`
}

type SessionRequest struct {
	OwnerID string `json:"owner_id"`
}

type SessionResponse struct {
	State   string `json:"state"`
	OwnerID string `json:"owner_id"`
}

type OrderRequest struct {
	OwnerID         string `json:"owner_id,omitempty"`
	DeliveryAddress string `json:"delivery_address"`
	PhoneNumber     string `json:"phone_number"`
	Notes           string `json:"notes,omitempty"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func NewHTTPHandler(engine *service.CartEngine, monitor *service.IdentityMonitor, coordinator *service.OrderCoordinator, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{
		engine:      engine,
		monitor:     monitor,
		coordinator: coordinator,
		logger:      logger,
	}
}

// Routes builds the router served to the UI shell.
func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)
	r.Route("/api", func(r chi.Router) {
		r.Get("/cart", h.GetCart)
		r.Delete("/cart", h.ClearCart)
		r.Post("/cart/toggle", h.Toggle)
		r.Put("/cart/lines/{productRef}", h.SetQuantity)
		r.Delete("/cart/lines/{productRef}", h.RemoveLine)
		r.Post("/session", h.Session)
		r.Post("/orders", h.SubmitOrder)
	})
	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	h.writeCart(w)
}

func (h *HTTPHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.engine.Clear()
	h.writeCart(w)
}

func (h *HTTPHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.engine.ToggleLine(req.Product, req.Quantity); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeCart(w)
}

func (h *HTTPHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var req QuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.engine.SetQuantity(chi.URLParam(r, "productRef"), req.Quantity); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeCart(w)
}

func (h *HTTPHandler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	h.engine.RemoveLine(chi.URLParam(r, "productRef"))
	h.writeCart(w)
}

// Session reports an identity change; an empty owner_id means logout.
func (h *HTTPHandler) Session(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.monitor.Observe(r.Context(), domain.Owner(req.OwnerID))

	state, owner := h.monitor.State()
	writeJSON(w, http.StatusOK, SessionResponse{State: string(state), OwnerID: owner.String()})
}

func (h *HTTPHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	owner := domain.Owner(req.OwnerID)
	if owner == "" {
		_, owner = h.monitor.State()
	}

	order, err := h.coordinator.Submit(r.Context(), owner, service.SubmitRequest{
		DeliveryAddress: req.DeliveryAddress,
		PhoneNumber:     req.PhoneNumber,
		Notes:           req.Notes,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *HTTPHandler) writeCart(w http.ResponseWriter) {
	cart := h.engine.Cart()
	_, totals := domain.FreezeLines(cart.Lines)
	writeJSON(w, http.StatusOK, CartResponse{
		Cart:       cart,
		TotalItems: cart.TotalItems(),
		Totals:     totals,
	})
}

func (h *HTTPHandler) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	message := "order service unavailable"

	switch {
	case errors.Is(err, domain.ErrInvalidProduct), errors.Is(err, domain.ErrInvalidQuantity):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, domain.ErrEmptyCart):
		status = http.StatusUnprocessableEntity
		message = "cart is empty"
	case errors.Is(err, domain.ErrInvalidDelivery):
		status = http.StatusUnprocessableEntity
		message = err.Error()
	case errors.Is(err, domain.ErrOwnerMismatch):
		status = http.StatusConflict
		message = "cart belongs to another session"
	default:
		h.logger.Error("request failed", zap.Error(err))
	}

	writeError(w, status, message)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Success: false, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
