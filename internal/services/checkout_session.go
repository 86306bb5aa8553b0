package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/cartforge/commerce/internal/domain"
	"github.com/cartforge/commerce/internal/repositories"
)

const (
	checkoutSessionIDPrefix   = "cs_"
	defaultCheckoutSessionTTL = 2 * time.Hour
)

var (
	// ErrCartNotCheckoutable rejects checkout on checked-out or expired carts.
	ErrCartNotCheckoutable = errors.New("checkout: cart cannot enter checkout")
	// ErrSessionCompleted rejects mutation of a finalised session.
	ErrSessionCompleted = errors.New("checkout: session already completed")
	// ErrSessionExpired rejects mutation of a session past its TTL.
	ErrSessionExpired = errors.New("checkout: session expired")
	// ErrShippingMethodUnavailable rejects a method the provider did not offer.
	ErrShippingMethodUnavailable = errors.New("checkout: shipping method unavailable")
	// ErrCODLimitExceeded rejects cash on delivery above the configured cap.
	ErrCODLimitExceeded = errors.New("checkout: cash on delivery limit exceeded")
	// ErrCheckoutInvalidInput signals bad arguments to session operations.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
)

// PaymentMethodCOD is the offline cash-on-delivery method code.
const PaymentMethodCOD = "cod"

// CheckoutSessionManagerDeps bundles collaborators for construction.
type CheckoutSessionManagerDeps struct {
	Sessions    repositories.CheckoutSessionRepository
	Carts       repositories.CartRepository
	Addresses   repositories.AddressRepository
	Pricing     *PricingEngine
	CartState   *CartStateMachine
	Shipping    ShippingRateProvider
	SessionTTL  time.Duration
	MaxCOD      int64
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// CheckoutSessionManager walks a cart through the checkout wizard. On start it
// freezes the cart into an immutable snapshot; every later step derives totals
// from that snapshot, never from the live cart or catalog rows.
type CheckoutSessionManager struct {
	sessions   repositories.CheckoutSessionRepository
	carts      repositories.CartRepository
	addresses  repositories.AddressRepository
	pricing    *PricingEngine
	cartState  *CartStateMachine
	shipping   ShippingRateProvider
	sessionTTL time.Duration
	maxCOD     int64
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewCheckoutSessionManager validates dependencies and applies defaults.
func NewCheckoutSessionManager(deps CheckoutSessionManagerDeps) (*CheckoutSessionManager, error) {
	if deps.Sessions == nil {
		return nil, errors.New("checkout session manager: session repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("checkout session manager: cart repository is required")
	}
	if deps.Addresses == nil {
		return nil, errors.New("checkout session manager: address repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("checkout session manager: pricing engine is required")
	}
	if deps.CartState == nil {
		return nil, errors.New("checkout session manager: cart state machine is required")
	}
	if deps.Shipping == nil {
		return nil, errors.New("checkout session manager: shipping rate provider is required")
	}
	ttl := deps.SessionTTL
	if ttl <= 0 {
		ttl = defaultCheckoutSessionTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CheckoutSessionManager{
		sessions:   deps.Sessions,
		carts:      deps.Carts,
		addresses:  deps.Addresses,
		pricing:    deps.Pricing,
		cartState:  deps.CartState,
		shipping:   deps.Shipping,
		sessionTTL: ttl,
		maxCOD:     deps.MaxCOD,
		clock:      func() time.Time { return clock().UTC() },
		newID:      idGen,
		logger:     logger,
	}, nil
}

// Start opens a checkout session for the cart. Starting twice in quick
// succession returns the same session: an unexpired, incomplete session for
// the cart is reused, which makes page reloads and double submits harmless.
func (m *CheckoutSessionManager) Start(ctx context.Context, cart domain.Cart, userID string) (domain.CheckoutSession, error) {
	if strings.TrimSpace(cart.ID) == "" {
		return domain.CheckoutSession{}, fmt.Errorf("%w: cart id is required", ErrCheckoutInvalidInput)
	}
	if !m.cartState.CanCheckout(cart.Status) {
		return domain.CheckoutSession{}, fmt.Errorf("%w: cart %s is %s", ErrCartNotCheckoutable, cart.ID, cart.Status)
	}
	if len(cart.Items) == 0 {
		return domain.CheckoutSession{}, fmt.Errorf("%w: cart is empty", ErrCheckoutInvalidInput)
	}

	now := m.clock()
	existing, err := m.sessions.FindOpenByCart(ctx, cart.ID, now)
	if err == nil {
		return existing, nil
	}
	if !repositories.IsNotFound(err) {
		return domain.CheckoutSession{}, err
	}

	// Recalculate on the live cart one last time; after this everything is
	// frozen into the snapshot.
	pricing := m.pricing.CalculateCartTotal(ctx, cart, nil)
	cart.Subtotal = pricing.Subtotal
	cart.Discount = pricing.Discount
	cart.TaxAmount = pricing.TaxAmount
	cart.Total = pricing.Total
	cart.UpdatedAt = now
	if err := m.carts.UpdateTotals(ctx, cart); err != nil {
		return domain.CheckoutSession{}, err
	}

	if cart.Status == domain.CartStatusActive {
		if err := m.cartState.Transition(ctx, &cart, domain.CartStatusLocked); err != nil {
			return domain.CheckoutSession{}, err
		}
	}

	snapshotItems := make([]domain.SnapshotItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		snapshotItems = append(snapshotItems, domain.SnapshotItem{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			SKU:       item.SKU,
			ImageURL:  item.ImageURL,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.TotalPrice,
		})
	}

	session := domain.CheckoutSession{
		ID:     checkoutSessionIDPrefix + m.newID(),
		CartID: cart.ID,
		UserID: strings.TrimSpace(userID),
		Step:   domain.CheckoutStepCart,
		Snapshot: domain.CheckoutSnapshot{
			Items:              snapshotItems,
			CouponCode:         cart.CouponCode,
			Subtotal:           pricing.Subtotal,
			Discount:           pricing.Discount,
			Tax:                pricing.TaxAmount,
			Total:              pricing.Total,
			TaxJurisdiction:    pricing.TaxJurisdiction,
			CalculationVersion: pricing.CalculationVersion,
		},
		Total:     pricing.Total,
		ExpiresAt: now.Add(m.sessionTTL),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.sessions.Insert(ctx, session); err != nil {
		return domain.CheckoutSession{}, err
	}

	m.logger(ctx, "checkout.session_started", map[string]any{
		"sessionId": session.ID,
		"cartId":    cart.ID,
		"total":     session.Total,
		"expiresAt": session.ExpiresAt,
	})
	return session, nil
}

// SetAddress records the shipping and billing address references and advances
// the wizard to the shipping step. An empty billing id reuses the shipping id.
func (m *CheckoutSessionManager) SetAddress(ctx context.Context, session *domain.CheckoutSession, shippingAddressID, billingAddressID string) error {
	if err := m.guardMutable(session); err != nil {
		return err
	}
	shippingAddressID = strings.TrimSpace(shippingAddressID)
	if shippingAddressID == "" {
		return fmt.Errorf("%w: shipping address id is required", ErrCheckoutInvalidInput)
	}
	if _, err := m.addresses.FindByID(ctx, shippingAddressID); err != nil {
		return err
	}
	billingAddressID = strings.TrimSpace(billingAddressID)
	if billingAddressID == "" {
		billingAddressID = shippingAddressID
	} else if billingAddressID != shippingAddressID {
		if _, err := m.addresses.FindByID(ctx, billingAddressID); err != nil {
			return err
		}
	}

	session.ShippingAddressID = shippingAddressID
	session.BillingAddressID = billingAddressID
	session.Step = domain.CheckoutStepShipping
	session.UpdatedAt = m.clock()
	return m.sessions.Update(ctx, *session)
}

// SetShippingMethod validates the method against the provider's quote for the
// session's cart and address, stores the frozen shipping cost, and recomputes
// the total from the snapshot figures only.
func (m *CheckoutSessionManager) SetShippingMethod(ctx context.Context, session *domain.CheckoutSession, methodCode string) error {
	if err := m.guardMutable(session); err != nil {
		return err
	}
	methodCode = strings.TrimSpace(methodCode)
	if methodCode == "" {
		return fmt.Errorf("%w: shipping method is required", ErrCheckoutInvalidInput)
	}
	if session.ShippingAddressID == "" {
		return fmt.Errorf("%w: address must be set before the shipping method", ErrCheckoutInvalidInput)
	}

	cart, err := m.carts.FindByID(ctx, session.CartID)
	if err != nil {
		return err
	}
	addr, err := m.addresses.FindByID(ctx, session.ShippingAddressID)
	if err != nil {
		return err
	}

	methods, err := m.shipping.AvailableMethods(ctx, cart, addr)
	if err != nil {
		return err
	}
	available := false
	for _, method := range methods {
		if method.Code == methodCode {
			available = true
			break
		}
	}
	if !available {
		return fmt.Errorf("%w: %s", ErrShippingMethodUnavailable, methodCode)
	}

	cost, err := m.shipping.QuoteCost(ctx, cart, addr, methodCode)
	if err != nil {
		return err
	}

	session.ShippingMethod = methodCode
	session.ShippingCost = cost
	// Frozen figures only: the live cart and catalog play no part here.
	session.Total = session.Snapshot.Subtotal - session.Snapshot.Discount + session.Snapshot.Tax + cost
	session.Step = domain.CheckoutStepPayment
	session.UpdatedAt = m.clock()
	return m.sessions.Update(ctx, *session)
}

// SetPaymentMethod records the method and advances to review. Cash on
// delivery above the configured cap is rejected here, before order placement.
func (m *CheckoutSessionManager) SetPaymentMethod(ctx context.Context, session *domain.CheckoutSession, method string) error {
	if err := m.guardMutable(session); err != nil {
		return err
	}
	method = strings.TrimSpace(method)
	if method == "" {
		return fmt.Errorf("%w: payment method is required", ErrCheckoutInvalidInput)
	}
	if method == PaymentMethodCOD && m.maxCOD > 0 && session.Total > m.maxCOD {
		return fmt.Errorf("%w: total %d exceeds %d", ErrCODLimitExceeded, session.Total, m.maxCOD)
	}

	session.PaymentMethod = method
	session.Step = domain.CheckoutStepReview
	session.UpdatedAt = m.clock()
	return m.sessions.Update(ctx, *session)
}

// Complete stamps the session as finalised. It only marks the session; the
// order itself is materialised by CreateOrderAction afterwards.
func (m *CheckoutSessionManager) Complete(ctx context.Context, session *domain.CheckoutSession) error {
	if err := m.guardMutable(session); err != nil {
		return err
	}
	now := m.clock()
	session.CompletedAt = &now
	session.Step = domain.CheckoutStepComplete
	session.UpdatedAt = now
	return m.sessions.Update(ctx, *session)
}

// ExpireSessions marks abandoned sessions; driven by an external scheduler.
func (m *CheckoutSessionManager) ExpireSessions(ctx context.Context, now time.Time) (int, error) {
	expired, err := m.sessions.ExpireBefore(ctx, now.UTC())
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		m.logger(ctx, "checkout.sessions_expired", map[string]any{"count": expired})
	}
	return expired, nil
}

func (m *CheckoutSessionManager) guardMutable(session *domain.CheckoutSession) error {
	if session == nil {
		return fmt.Errorf("%w: session is required", ErrCheckoutInvalidInput)
	}
	if session.Completed() {
		return fmt.Errorf("%w: %s", ErrSessionCompleted, session.ID)
	}
	if session.Expired(m.clock()) {
		return fmt.Errorf("%w: %s", ErrSessionExpired, session.ID)
	}
	return nil
}
