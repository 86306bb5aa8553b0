package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/cartforge/commerce/internal/domain"
	"github.com/cartforge/commerce/internal/repositories"
	"github.com/cartforge/commerce/internal/services"
)

// userIDHeader carries the caller identity. Authentication happens upstream;
// this service trusts the gateway-populated header.
const userIDHeader = "X-User-Id"

// CheckoutHandlersDeps bundles collaborators for construction.
type CheckoutHandlersDeps struct {
	Carts       repositories.CartRepository
	Sessions    repositories.CheckoutSessionRepository
	Orders      repositories.OrderRepository
	Checkout    *services.CheckoutSessionManager
	CreateOrder *services.CreateOrderAction
	Payments    *services.PaymentProcessor
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// CheckoutHandlers exposes the checkout wizard and order placement over JSON.
type CheckoutHandlers struct {
	carts       repositories.CartRepository
	sessions    repositories.CheckoutSessionRepository
	orders      repositories.OrderRepository
	checkout    *services.CheckoutSessionManager
	createOrder *services.CreateOrderAction
	payments    *services.PaymentProcessor
	logger      func(context.Context, string, map[string]any)
}

// NewCheckoutHandlers validates dependencies.
func NewCheckoutHandlers(deps CheckoutHandlersDeps) (*CheckoutHandlers, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout handlers: cart repository is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("checkout handlers: session repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout handlers: order repository is required")
	}
	if deps.Checkout == nil {
		return nil, errors.New("checkout handlers: checkout session manager is required")
	}
	if deps.CreateOrder == nil {
		return nil, errors.New("checkout handlers: create order action is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout handlers: payment processor is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CheckoutHandlers{
		carts:       deps.Carts,
		sessions:    deps.Sessions,
		orders:      deps.Orders,
		checkout:    deps.Checkout,
		createOrder: deps.CreateOrder,
		payments:    deps.Payments,
		logger:      logger,
	}, nil
}

// Routes mounts the checkout and order endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	r.Route("/checkout/sessions", func(r chi.Router) {
		r.Post("/", h.startSession)
		r.Patch("/{sessionID}/address", h.setAddress)
		r.Patch("/{sessionID}/shipping", h.setShipping)
		r.Patch("/{sessionID}/payment", h.setPayment)
		r.Post("/{sessionID}/complete", h.completeSession)
	})
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.placeOrder)
		r.Get("/{orderID}", h.getOrder)
		r.Post("/{orderID}/capture", h.capturePayment)
	})
}

type startSessionRequest struct {
	CartID string `json:"cart_id"`
}

func (h *CheckoutHandlers) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cart, err := h.carts.FindByID(r.Context(), req.CartID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	session, err := h.checkout.Start(r.Context(), cart, r.Header.Get(userIDHeader))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(session))
}

type setAddressRequest struct {
	ShippingAddressID string `json:"shipping_address_id"`
	BillingAddressID  string `json:"billing_address_id"`
}

func (h *CheckoutHandlers) setAddress(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	var req setAddressRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.checkout.SetAddress(r.Context(), &session, req.ShippingAddressID, req.BillingAddressID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

type setShippingRequest struct {
	Method string `json:"method"`
}

func (h *CheckoutHandlers) setShipping(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	var req setShippingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.checkout.SetShippingMethod(r.Context(), &session, req.Method); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

type setPaymentRequest struct {
	Method string `json:"method"`
}

func (h *CheckoutHandlers) setPayment(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	var req setPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.checkout.SetPaymentMethod(r.Context(), &session, req.Method); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

func (h *CheckoutHandlers) completeSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	if err := h.checkout.Complete(r.Context(), &session); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

type addressPayload struct {
	Recipient   string `json:"recipient"`
	Line1       string `json:"line1"`
	Line2       string `json:"line2"`
	City        string `json:"city"`
	StateCode   string `json:"state_code"`
	PostalCode  string `json:"postal_code"`
	CountryCode string `json:"country_code"`
	Phone       string `json:"phone"`
}

func (p *addressPayload) toInput() *services.AddressInput {
	if p == nil {
		return nil
	}
	return &services.AddressInput{
		Recipient:   p.Recipient,
		Line1:       p.Line1,
		Line2:       p.Line2,
		City:        p.City,
		StateCode:   p.StateCode,
		PostalCode:  p.PostalCode,
		CountryCode: p.CountryCode,
		Phone:       p.Phone,
	}
}

type placeOrderRequest struct {
	CartID            string          `json:"cart_id"`
	BillingAddressID  string          `json:"billing_address_id"`
	BillingAddress    *addressPayload `json:"billing_address"`
	ShippingAddressID string          `json:"shipping_address_id"`
	ShippingAddress   *addressPayload `json:"shipping_address"`
	SameAsBilling     bool            `json:"same_as_billing"`
	ShippingMethod    string          `json:"shipping_method"`
	ShippingCost      int64           `json:"shipping_cost"`
	PaymentMethod     string          `json:"payment_method"`
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cart, err := h.carts.FindByID(r.Context(), req.CartID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	order, err := h.createOrder.Execute(r.Context(), r.Header.Get(userIDHeader), cart, services.CreateOrderRequest{
		BillingAddressID:  req.BillingAddressID,
		BillingAddress:    req.BillingAddress.toInput(),
		ShippingAddressID: req.ShippingAddressID,
		ShippingAddress:   req.ShippingAddress.toInput(),
		SameAsBilling:     req.SameAsBilling,
		ShippingMethod:    req.ShippingMethod,
		ShippingCost:      req.ShippingCost,
		PaymentMethod:     req.PaymentMethod,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *CheckoutHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.FindByID(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *CheckoutHandlers) capturePayment(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.FindByID(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	intent, err := h.payments.Capture(r.Context(), order)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toIntentResponse(intent))
}

func (h *CheckoutHandlers) loadSession(w http.ResponseWriter, r *http.Request) (session domain.CheckoutSession, ok bool) {
	session, err := h.sessions.FindByID(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return session, false
	}
	return session, true
}

// writeServiceError maps service and repository failures onto HTTP statuses.
func (h *CheckoutHandlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var rejected *services.CouponRejectedError
	var invalid *services.InvalidTransitionError
	switch {
	case errors.As(err, &rejected):
		writeError(w, http.StatusUnprocessableEntity, rejected.Message)
	case errors.As(err, &invalid):
		writeError(w, http.StatusConflict, invalid.Error())
	case errors.Is(err, services.ErrInsufficientStock):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrCartNotCheckoutable),
		errors.Is(err, services.ErrSessionCompleted),
		errors.Is(err, services.ErrSessionExpired):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrShippingMethodUnavailable),
		errors.Is(err, services.ErrCODLimitExceeded),
		errors.Is(err, services.ErrPaymentMethodUnsupported),
		errors.Is(err, services.ErrCheckoutInvalidInput),
		errors.Is(err, services.ErrOrderInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case repositories.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not found")
	case repositories.IsConflict(err):
		writeError(w, http.StatusConflict, "conflict")
	default:
		h.logger(r.Context(), "http.internal_error", map[string]any{
			"path":  r.URL.Path,
			"error": err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
