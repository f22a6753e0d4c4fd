package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	cartdomain "github.com/dmehra2102/drop-checkout/internal/cart/domain"
	"github.com/dmehra2102/drop-checkout/internal/checkout/application"
	invdomain "github.com/dmehra2102/drop-checkout/internal/inventory/domain"
	orderdomain "github.com/dmehra2102/drop-checkout/internal/order/domain"
	"github.com/dmehra2102/drop-checkout/pkg/retry"
)

type Checkout interface {
	LockInventory(ctx context.Context, cartID string) (application.LockResult, error)
	UnlockInventory(ctx context.Context, reservationIDs []string) (int, error)
	ProcessCheckout(ctx context.Context, req application.CheckoutRequest) (application.CheckoutResult, error)
}

type Orders interface {
	UpdateStatus(ctx context.Context, id string, to orderdomain.OrderStatus) (orderdomain.Order, error)
	Get(ctx context.Context, id string) (orderdomain.Order, error)
	GetByTrackingToken(ctx context.Context, token string) (orderdomain.Order, error)
}

type Stock interface {
	AvailableStock(ctx context.Context, variantID string) (int, error)
}

type Handler struct {
	log      *slog.Logger
	checkout Checkout
	orders   Orders
	stock    Stock
	tracer   trace.Tracer
}

func NewHandler(log *slog.Logger, checkout Checkout, orders Orders, stock Stock) *Handler {
	return &Handler{
		log:      log,
		checkout: checkout,
		orders:   orders,
		stock:    stock,
		tracer:   otel.Tracer("checkout-http"),
	}
}

// Routes mounts the API. dedupe wraps POST /api/checkout; pass nil to skip it.
func (h *Handler) Routes(dedupe func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, h.traced)

	r.Route("/api", func(r chi.Router) {
		r.Post("/checkout/lock", h.lock)
		r.Post("/checkout/unlock", h.unlock)
		r.Group(func(r chi.Router) {
			if dedupe != nil {
				r.Use(dedupe)
			}
			r.Post("/checkout", h.processCheckout)
		})
		r.Get("/orders/track/{token}", h.track)
		r.Get("/variants/{id}/stock", h.variantStock)
		r.Get("/admin/orders/{id}", h.getOrder)
		r.Patch("/admin/orders/{id}/status", h.updateStatus)
	})
	return r
}

func (h *Handler) traced(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := h.tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type lockReq struct {
	CartID string `json:"cartId"`
}

type lockResp struct {
	ReservationIDs []string  `json:"reservationIds"`
	Subtotal       int64     `json:"subtotal"`
	ShippingFee    int64     `json:"shippingFee"`
	Total          int64     `json:"total"`
	ExpiresAt      time.Time `json:"expiresAt"`
	Message        string    `json:"message"`
}

func (h *Handler) lock(w http.ResponseWriter, r *http.Request) {
	var req lockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CartID == "" {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "cartId is required"})
		return
	}
	res, err := h.checkout.LockInventory(r.Context(), req.CartID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, lockResp{
		ReservationIDs: res.ReservationIDs,
		Subtotal:       res.SubtotalCents,
		ShippingFee:    res.ShippingFeeCents,
		Total:          res.TotalCents,
		ExpiresAt:      res.ExpiresAt,
		Message:        res.Message,
	})
}

type unlockReq struct {
	ReservationIDs []string `json:"reservationIds"`
}

func (h *Handler) unlock(w http.ResponseWriter, r *http.Request) {
	var req unlockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body"})
		return
	}
	released, err := h.checkout.UnlockInventory(r.Context(), req.ReservationIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"released": released, "message": "Inventory unlocked"})
}

type customerReq struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type checkoutReq struct {
	CartID         string      `json:"cartId"`
	ReservationIDs []string    `json:"reservationIds"`
	Customer       customerReq `json:"customer"`
	PaymentMethod  string      `json:"paymentMethod"`
}

type checkoutResp struct {
	OrderID       string `json:"orderId"`
	OrderNumber   string `json:"orderNumber"`
	TrackingToken string `json:"trackingToken"`
	TrackingURL   string `json:"trackingUrl"`
	Total         int64  `json:"total"`
	Status        string `json:"status"`
}

func (h *Handler) processCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CartID == "" {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "cartId is required"})
		return
	}
	res, err := h.checkout.ProcessCheckout(r.Context(), application.CheckoutRequest{
		CartID:         req.CartID,
		ReservationIDs: req.ReservationIDs,
		Customer: orderdomain.Customer{
			Name:    req.Customer.Name,
			Email:   req.Customer.Email,
			Phone:   req.Customer.Phone,
			Address: req.Customer.Address,
		},
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, checkoutResp{
		OrderID:       res.OrderID,
		OrderNumber:   res.OrderNumber,
		TrackingToken: res.TrackingToken,
		TrackingURL:   res.TrackingURL,
		Total:         res.TotalCents,
		Status:        string(res.Status),
	})
}

type statusReq struct {
	Status string `json:"status"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body"})
		return
	}
	to, err := orderdomain.ParseStatus(req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	o, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newOrderView(o, true))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newOrderView(o, true))
}

func (h *Handler) track(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetByTrackingToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newOrderView(o, false))
}

func (h *Handler) variantStock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.stock.AvailableStock(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"variantId": id, "availableStock": n})
}

type itemView struct {
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
	LineTotal int64  `json:"lineTotal"`
}

type orderView struct {
	ID            string     `json:"id"`
	OrderNumber   string     `json:"orderNumber"`
	Status        string     `json:"status"`
	CustomerName  string     `json:"customerName"`
	CustomerEmail string     `json:"customerEmail,omitempty"`
	CustomerPhone string     `json:"customerPhone,omitempty"`
	Address       string     `json:"shippingAddress,omitempty"`
	PaymentMethod string     `json:"paymentMethod"`
	Subtotal      int64      `json:"subtotal"`
	ShippingFee   int64      `json:"shippingFee"`
	Total         int64      `json:"total"`
	Items         []itemView `json:"items"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// newOrderView renders an order; contact details are only included for admin.
func newOrderView(o orderdomain.Order, admin bool) orderView {
	v := orderView{
		ID:            o.ID,
		OrderNumber:   o.Number,
		Status:        string(o.Status),
		CustomerName:  o.Customer.Name,
		PaymentMethod: string(o.PaymentMethod),
		Subtotal:      o.SubtotalCents,
		ShippingFee:   o.ShippingFeeCents,
		Total:         o.TotalCents,
		Items:         make([]itemView, 0, len(o.Items)),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	if admin {
		v.CustomerEmail = o.Customer.Email
		v.CustomerPhone = o.Customer.Phone
		v.Address = o.Customer.Address
	}
	for _, it := range o.Items {
		v.Items = append(v.Items, itemView{SKU: it.SKU, Name: it.Name, Quantity: it.Quantity, Price: it.PriceCents, LineTotal: it.LineTotalCents()})
	}
	return v
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	VariantID string `json:"variantId,omitempty"`
	SKU       string `json:"sku,omitempty"`
	Requested *int   `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		insufficient *invdomain.InsufficientStockError
		invalid      *orderdomain.InvalidTransitionError
	)
	switch {
	case errors.As(err, &insufficient):
		h.writeJSON(w, http.StatusConflict, errorBody{
			Error: err.Error(), Code: "INSUFFICIENT_STOCK",
			VariantID: insufficient.VariantID, SKU: insufficient.SKU,
			Requested: &insufficient.Requested, Available: &insufficient.Available,
		})
	case errors.As(err, &invalid):
		h.writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error: err.Error(), Code: "INVALID_TRANSITION", From: string(invalid.From), To: string(invalid.To),
		})
	case errors.Is(err, application.ErrEmptyCart):
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "EMPTY_CART"})
	case errors.Is(err, invdomain.ErrReservationExpired):
		h.writeJSON(w, http.StatusConflict, errorBody{Error: "reservation expired, please lock inventory again", Code: "RESERVATION_EXPIRED"})
	case errors.Is(err, application.ErrReservationMismatch), errors.Is(err, invdomain.ErrReservationConflict):
		h.writeJSON(w, http.StatusConflict, errorBody{Error: err.Error() + ", please lock inventory again", Code: "RESERVATION_MISMATCH"})
	case errors.Is(err, invdomain.ErrVariantInactive):
		h.writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "VARIANT_INACTIVE"})
	case errors.Is(err, orderdomain.ErrInvalidInput), errors.Is(err, invdomain.ErrInvalidQuantity):
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "VALIDATION"})
	case errors.Is(err, cartdomain.ErrCartNotFound), errors.Is(err, orderdomain.ErrOrderNotFound),
		errors.Is(err, invdomain.ErrVariantNotFound), errors.Is(err, invdomain.ErrReservationNotFound):
		h.writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Code: "NOT_FOUND"})
	case retry.IsTransient(err):
		h.log.Warn("request failed on transient error", "path", r.URL.Path, "err", err)
		w.Header().Set("Retry-After", "1")
		h.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "stock is busy, please try again", Code: "UNAVAILABLE"})
	default:
		h.log.Error("request failed", "path", r.URL.Path, "err", err)
		h.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encode response", "err", err)
	}
}
