package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/cartforge/commerce/internal/domain"
	"github.com/cartforge/commerce/internal/events"
	"github.com/cartforge/commerce/internal/payments"
	"github.com/cartforge/commerce/internal/repositories"
	"github.com/cartforge/commerce/internal/services"
)

// The stubs embed the repository interfaces so only the methods a test path
// actually exercises need an implementation.

type stubCarts struct {
	repositories.CartRepository
	carts map[string]domain.Cart
}

func (s *stubCarts) FindByID(_ context.Context, cartID string) (domain.Cart, error) {
	cart, ok := s.carts[cartID]
	if !ok {
		return domain.Cart{}, repositories.NewError("carts.find", repositories.KindNotFound, nil)
	}
	return cart, nil
}

func (s *stubCarts) UpdateStatus(_ context.Context, cartID string, status domain.CartStatus, updatedAt time.Time) error {
	cart := s.carts[cartID]
	cart.Status = status
	cart.UpdatedAt = updatedAt
	s.carts[cartID] = cart
	return nil
}

func (s *stubCarts) UpdateTotals(_ context.Context, cart domain.Cart) error {
	s.carts[cart.ID] = cart
	return nil
}

type stubSessions struct {
	repositories.CheckoutSessionRepository
	sessions map[string]domain.CheckoutSession
}

func (s *stubSessions) Insert(_ context.Context, session domain.CheckoutSession) error {
	s.sessions[session.ID] = session
	return nil
}

func (s *stubSessions) FindByID(_ context.Context, sessionID string) (domain.CheckoutSession, error) {
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.CheckoutSession{}, repositories.NewError("checkout_sessions.find", repositories.KindNotFound, nil)
	}
	return session, nil
}

func (s *stubSessions) FindOpenByCart(context.Context, string, time.Time) (domain.CheckoutSession, error) {
	return domain.CheckoutSession{}, repositories.NewError("checkout_sessions.find_open", repositories.KindNotFound, nil)
}

type stubOrders struct {
	repositories.OrderRepository
	orders map[string]domain.Order
}

func (s *stubOrders) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewError("orders.find", repositories.KindNotFound, nil)
	}
	return order, nil
}

func (s *stubOrders) UpdateStatus(_ context.Context, orderID string, status domain.OrderStatus, paymentStatus domain.PaymentStatus, updatedAt time.Time) error {
	order := s.orders[orderID]
	order.Status = status
	order.PaymentStatus = paymentStatus
	order.UpdatedAt = updatedAt
	s.orders[orderID] = order
	return nil
}

type stubIntents struct {
	repositories.PaymentIntentRepository
	intents map[string]domain.PaymentIntent
}

func (s *stubIntents) Insert(_ context.Context, intent domain.PaymentIntent) error {
	s.intents[intent.ID] = intent
	return nil
}

func (s *stubIntents) UpdateStatus(_ context.Context, intentID string, status domain.PaymentIntentStatus, gatewayRef string, updatedAt time.Time) error {
	intent := s.intents[intentID]
	intent.Status = status
	if gatewayRef != "" {
		intent.GatewayRef = gatewayRef
	}
	intent.UpdatedAt = updatedAt
	s.intents[intentID] = intent
	return nil
}

type stubReservations struct {
	repositories.ReservationRepository
	committed []string
}

func (s *stubReservations) MarkCommitted(_ context.Context, orderID string, _ time.Time) error {
	s.committed = append(s.committed, orderID)
	return nil
}

type stubTaxRates struct {
	repositories.TaxRateRepository
}

func (stubTaxRates) FindRate(context.Context, string, string) (domain.TaxRate, error) {
	return domain.TaxRate{}, repositories.NewError("tax_rates.find", repositories.KindNotFound, nil)
}

type stubCoupons struct {
	repositories.CouponRepository
}

type stubVariants struct {
	repositories.VariantRepository
}

type stubAddresses struct {
	repositories.AddressRepository
}

type stubUnitOfWork struct{}

func (stubUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type testEnv struct {
	router   http.Handler
	carts    *stubCarts
	sessions *stubSessions
	orders   *stubOrders
	intents  *stubIntents
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	carts := &stubCarts{carts: make(map[string]domain.Cart)}
	sessions := &stubSessions{sessions: make(map[string]domain.CheckoutSession)}
	orders := &stubOrders{orders: make(map[string]domain.Order)}
	intents := &stubIntents{intents: make(map[string]domain.PaymentIntent)}

	taxes, err := services.NewTaxEngine(services.TaxEngineDeps{Rates: stubTaxRates{}})
	require.NoError(t, err)
	discounts, err := services.NewDiscountEngine(services.DiscountEngineDeps{Coupons: stubCoupons{}, UoW: stubUnitOfWork{}})
	require.NoError(t, err)
	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{
		Taxes:     taxes,
		Discounts: discounts,
		Variants:  stubVariants{},
		Coupons:   stubCoupons{},
		Policy: services.PricingPolicy{
			RoundingMode:    services.RoundingHalfUp,
			RoundingStep:    1,
			FallbackTaxRate: 28,
			DefaultCurrency: "INR",
		},
	})
	require.NoError(t, err)
	cartState, err := services.NewCartStateMachine(carts, nil)
	require.NoError(t, err)
	shipping, err := services.NewStaticShippingProvider(services.DefaultShippingMethods(), 0)
	require.NoError(t, err)

	checkout, err := services.NewCheckoutSessionManager(services.CheckoutSessionManagerDeps{
		Sessions:   sessions,
		Carts:      carts,
		Addresses:  stubAddresses{},
		Pricing:    pricing,
		CartState:  cartState,
		Shipping:   shipping,
		SessionTTL: time.Hour,
		MaxCOD:     100000,
	})
	require.NoError(t, err)

	createOrder, err := services.NewCreateOrderAction(services.CreateOrderActionDeps{
		UoW:       stubUnitOfWork{},
		Orders:    orders,
		Carts:     carts,
		Coupons:   stubCoupons{},
		Addresses: stubAddresses{},
		Pricing:   pricing,
		Discounts: discounts,
		CartState: cartState,
		Bus:       events.NewBus(nil),
	})
	require.NoError(t, err)

	intentMachine, err := services.NewPaymentIntentStateMachine(services.PaymentIntentStateMachineDeps{
		Intents:      intents,
		Orders:       orders,
		Reservations: &stubReservations{},
	})
	require.NoError(t, err)
	processor, err := services.NewPaymentProcessor(services.PaymentProcessorDeps{
		Intents: intentMachine,
		Gateways: map[string]payments.Gateway{
			"cod": payments.NewCODGateway(payments.CODGatewayConfig{}),
		},
	})
	require.NoError(t, err)

	checkoutHandlers, err := NewCheckoutHandlers(CheckoutHandlersDeps{
		Carts:       carts,
		Sessions:    sessions,
		Orders:      orders,
		Checkout:    checkout,
		CreateOrder: createOrder,
		Payments:    processor,
	})
	require.NoError(t, err)

	return &testEnv{
		router:   NewRouter(RouterDeps{Health: NewHealthHandlers(nil), Checkout: checkoutHandlers}),
		carts:    carts,
		sessions: sessions,
		orders:   orders,
		intents:  intents,
	}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-User-Id", "usr_1")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func activeCart() domain.Cart {
	variantID := "var_1"
	return domain.Cart{
		ID:       "crt_1",
		UserID:   "usr_1",
		Status:   domain.CartStatusActive,
		Currency: "INR",
		Items: []domain.CartItem{
			{
				ID:         "itm_1",
				CartID:     "crt_1",
				ProductID:  "prd_1",
				VariantID:  &variantID,
				Name:       "Field Notebook",
				SKU:        "SKU-1",
				Quantity:   2,
				UnitPrice:  5000,
				TotalPrice: 10000,
			},
		},
	}
}

func TestStartSession(t *testing.T) {
	env := newTestEnv(t)
	env.carts.carts["crt_1"] = activeCart()

	rec := env.do(http.MethodPost, "/api/v1/checkout/sessions", `{"cart_id":"crt_1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.ID, "cs_"), "session id %q", resp.ID)
	assert.Equal(t, "crt_1", resp.CartID)
	assert.Equal(t, string(domain.CheckoutStepCart), resp.Step)
	assert.Equal(t, int64(10000), resp.Snapshot.Subtotal)
	assert.Equal(t, domain.CalculationVersionCurrent, resp.Snapshot.CalculationVersion)
	assert.Equal(t, domain.CartStatusLocked, env.carts.carts["crt_1"].Status)
}

func TestStartSession_CartNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/v1/checkout/sessions", `{"cart_id":"crt_missing"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartSession_CartNotCheckoutable(t *testing.T) {
	env := newTestEnv(t)
	cart := activeCart()
	cart.Status = domain.CartStatusCheckedOut
	env.carts.carts["crt_1"] = cart

	rec := env.do(http.MethodPost, "/api/v1/checkout/sessions", `{"cart_id":"crt_1"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartSession_MalformedBody(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/v1/checkout/sessions", `{"cart_id":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/checkout/sessions", `{"cart_id":"crt_1","surprise":true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields must be rejected")
}

func TestGetOrder(t *testing.T) {
	env := newTestEnv(t)
	env.orders.orders["ord_1"] = domain.Order{
		ID:            "ord_1",
		OrderNumber:   "CF-2025-000042",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		Total:         15700,
		Currency:      "INR",
	}

	rec := env.do(http.MethodGet, "/api/v1/orders/ord_1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "CF-2025-000042", resp.OrderNumber)
	assert.Equal(t, string(domain.PaymentStatusPending), resp.PaymentStatus)

	rec = env.do(http.MethodGet, "/api/v1/orders/ord_missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCapturePayment_COD(t *testing.T) {
	env := newTestEnv(t)
	env.orders.orders["ord_1"] = domain.Order{
		ID:            "ord_1",
		OrderNumber:   "CF-2025-000042",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		PaymentMethod: "cod",
		Total:         15700,
		Currency:      "INR",
	}

	rec := env.do(http.MethodPost, "/api/v1/orders/ord_1/capture", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp intentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ord_1", resp.OrderID)
	assert.Equal(t, string(domain.PaymentIntentProcessing), resp.Status)
	assert.Equal(t, int64(15700), resp.Amount)

	// Cash collection settles offline; the order stays pending.
	assert.Equal(t, domain.PaymentStatusPending, env.orders.orders["ord_1"].PaymentStatus)
}

func TestCapturePayment_UnsupportedMethod(t *testing.T) {
	env := newTestEnv(t)
	env.orders.orders["ord_1"] = domain.Order{
		ID:            "ord_1",
		PaymentMethod: "upi",
		Total:         5000,
		Currency:      "INR",
	}

	rec := env.do(http.MethodPost, "/api/v1/orders/ord_1/capture", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
