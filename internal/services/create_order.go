package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"

	domain "github.com/cartforge/commerce/internal/domain"
	"github.com/cartforge/commerce/internal/events"
	"github.com/cartforge/commerce/internal/platform/observability"
	"github.com/cartforge/commerce/internal/repositories"
)

const (
	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "itm_"
)

var orderTracer = otel.Tracer("github.com/cartforge/commerce/internal/services")

// ErrOrderInvalidInput signals bad arguments to order creation.
var ErrOrderInvalidInput = errors.New("create order: invalid input")

// CouponRejectedError aborts order creation when the cart's coupon fails
// re-validation inside the order transaction.
type CouponRejectedError struct {
	Code    string
	Message string
}

func (e *CouponRejectedError) Error() string {
	return fmt.Sprintf("create order: coupon %s rejected: %s", e.Code, e.Message)
}

// OrderCreatedEvent is dispatched synchronously inside the order transaction.
type OrderCreatedEvent struct {
	Order      domain.Order
	OccurredAt time.Time
}

// Name implements events.Event.
func (OrderCreatedEvent) Name() string { return "order.created" }

// AddressInput carries inline address data when no stored address id is given.
type AddressInput struct {
	Recipient   string
	Line1       string
	Line2       string
	City        string
	StateCode   string
	PostalCode  string
	CountryCode string
	Phone       string
}

// CreateOrderRequest is the order-placement payload assembled by the caller
// from the completed checkout session.
type CreateOrderRequest struct {
	BillingAddressID string
	BillingAddress   *AddressInput
	ShippingAddressID string
	ShippingAddress   *AddressInput
	// SameAsBilling reuses the billing address for shipping.
	SameAsBilling  bool
	ShippingMethod string
	// ShippingCost is the frozen quote from the checkout session.
	ShippingCost  int64
	PaymentMethod string
}

// CreateOrderActionDeps bundles collaborators for construction.
type CreateOrderActionDeps struct {
	UoW         repositories.UnitOfWork
	Orders      repositories.OrderRepository
	Carts       repositories.CartRepository
	Coupons     repositories.CouponRepository
	Addresses   repositories.AddressRepository
	Pricing     *PricingEngine
	Discounts   *DiscountEngine
	CartState   *CartStateMachine
	Bus         events.Dispatcher
	Publisher   CommerceEventPublisher
	Metrics     *observability.Metrics
	MaxCOD      int64
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// CreateOrderAction is the transactional boundary that turns a cart into an
// immutable order. Everything runs in one transaction: address resolution,
// pricing, order and item inserts, the synchronous order-created dispatch
// (and therefore stock reservation), coupon usage increment and cart
// clearing. Any failure rolls the whole thing back.
type CreateOrderAction struct {
	uow       repositories.UnitOfWork
	orders    repositories.OrderRepository
	carts     repositories.CartRepository
	coupons   repositories.CouponRepository
	addresses repositories.AddressRepository
	pricing   *PricingEngine
	discounts *DiscountEngine
	cartState *CartStateMachine
	bus       events.Dispatcher
	publisher CommerceEventPublisher
	metrics   *observability.Metrics
	maxCOD    int64
	currency  string
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewCreateOrderAction validates dependencies and applies defaults.
func NewCreateOrderAction(deps CreateOrderActionDeps) (*CreateOrderAction, error) {
	if deps.UoW == nil {
		return nil, errors.New("create order action: unit of work is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("create order action: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("create order action: cart repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("create order action: coupon repository is required")
	}
	if deps.Addresses == nil {
		return nil, errors.New("create order action: address repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("create order action: pricing engine is required")
	}
	if deps.Discounts == nil {
		return nil, errors.New("create order action: discount engine is required")
	}
	if deps.CartState == nil {
		return nil, errors.New("create order action: cart state machine is required")
	}
	if deps.Bus == nil {
		return nil, errors.New("create order action: event bus is required")
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "INR"
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
	return &CreateOrderAction{
		uow:       deps.UoW,
		orders:    deps.Orders,
		carts:     deps.Carts,
		coupons:   deps.Coupons,
		addresses: deps.Addresses,
		pricing:   deps.Pricing,
		discounts: deps.Discounts,
		cartState: deps.CartState,
		bus:       deps.Bus,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		maxCOD:    deps.MaxCOD,
		currency:  currency,
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
	}, nil
}

// Execute materialises the order. The cart aggregate must be loaded with its
// items; totals are recomputed here at order time, never read from a stale
// session.
func (a *CreateOrderAction) Execute(ctx context.Context, userID string, cart domain.Cart, req CreateOrderRequest) (domain.Order, error) {
	if strings.TrimSpace(cart.ID) == "" {
		return domain.Order{}, fmt.Errorf("%w: cart id is required", ErrOrderInvalidInput)
	}
	if len(cart.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: cart is empty", ErrOrderInvalidInput)
	}
	method := strings.TrimSpace(req.PaymentMethod)
	if method == "" {
		return domain.Order{}, fmt.Errorf("%w: payment method is required", ErrOrderInvalidInput)
	}

	ctx, span := orderTracer.Start(ctx, "commerce.create_order")
	defer span.End()

	var order domain.Order
	err := a.uow.RunInTx(ctx, func(txCtx context.Context) error {
		now := a.clock()

		billing, err := a.resolveAddress(txCtx, userID, req.BillingAddressID, req.BillingAddress)
		if err != nil {
			return err
		}
		shipping := billing
		if !req.SameAsBilling {
			shipping, err = a.resolveAddress(txCtx, userID, req.ShippingAddressID, req.ShippingAddress)
			if err != nil {
				return err
			}
		}

		// Re-validate the coupon under its row lock; the lock joins this
		// transaction and holds until commit, serialising limited redemptions.
		var application CouponApplication
		if cart.CouponCode != nil && strings.TrimSpace(*cart.CouponCode) != "" {
			application, err = a.discounts.ApplyCoupon(txCtx, *cart.CouponCode, cart, userID)
			if err != nil {
				return err
			}
			if !application.Accepted {
				return &CouponRejectedError{Code: *cart.CouponCode, Message: application.Message}
			}
		}

		cart.ShippingCost = req.ShippingCost
		pricing := a.pricing.CalculateCartTotal(txCtx, cart, &shipping)

		if method == PaymentMethodCOD && a.maxCOD > 0 && pricing.Total > a.maxCOD {
			return fmt.Errorf("%w: total %d exceeds %d", ErrCODLimitExceeded, pricing.Total, a.maxCOD)
		}

		seq, err := a.orders.NextOrderNumber(txCtx)
		if err != nil {
			return err
		}

		currency := cart.Currency
		if strings.TrimSpace(currency) == "" {
			currency = a.currency
		}

		order = domain.Order{
			ID:          orderIDPrefix + a.newID(),
			OrderNumber: fmt.Sprintf("CF-%d-%06d", now.Year(), seq),
			UserID:      strings.TrimSpace(userID),
			CartID:      cart.ID,
			Status:      domain.OrderStatusPending,
			// Payment is never confirmed at creation time; the payment intent
			// succeeding is what flips this to paid.
			PaymentStatus:     domain.PaymentStatusPending,
			PaymentMethod:     method,
			Currency:          currency,
			CouponCode:        cart.CouponCode,
			Subtotal:          pricing.Subtotal,
			Discount:          pricing.Discount,
			TaxAmount:         pricing.TaxAmount,
			ShippingCost:      pricing.ShippingCost,
			Total:             pricing.Total,
			ShippingAddressID: shipping.ID,
			BillingAddressID:  billing.ID,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		order.Items = make([]domain.OrderItem, 0, len(cart.Items))
		for _, item := range cart.Items {
			// Display fields are copied by value: later catalog edits must not
			// rewrite order history.
			order.Items = append(order.Items, domain.OrderItem{
				ID:        orderItemIDPrefix + a.newID(),
				OrderID:   order.ID,
				ProductID: item.ProductID,
				VariantID: item.VariantID,
				Name:      item.Name,
				SKU:       item.SKU,
				ImageURL:  item.ImageURL,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
				Total:     item.TotalPrice,
			})
		}

		if err := a.orders.Insert(txCtx, order); err != nil {
			return err
		}

		// Synchronous dispatch: a listener failure vetoes the transaction, so
		// no order exists without its stock side effect and vice versa.
		if err := a.bus.Dispatch(txCtx, OrderCreatedEvent{Order: order, OccurredAt: now}); err != nil {
			return err
		}

		if application.Accepted && application.Coupon != nil {
			if err := a.coupons.IncrementUsage(txCtx, application.Coupon.ID, order.UserID, order.ID, now); err != nil {
				return err
			}
		}

		if err := a.carts.Clear(txCtx, cart.ID, now); err != nil {
			return err
		}
		if cart.Status == domain.CartStatusActive {
			if err := a.cartState.Transition(txCtx, &cart, domain.CartStatusLocked); err != nil {
				return err
			}
		}
		return a.cartState.Transition(txCtx, &cart, domain.CartStatusCheckedOut)
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			a.metrics.OversellAbort(ctx)
		}
		return domain.Order{}, err
	}

	a.metrics.OrderCreated(ctx, method)
	a.logger(ctx, "order.created", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"cartId":      order.CartID,
		"total":       order.Total,
		"method":      method,
	})
	a.publishAnalytics(ctx, order)

	return order, nil
}

func (a *CreateOrderAction) resolveAddress(ctx context.Context, userID, addressID string, input *AddressInput) (domain.Address, error) {
	if id := strings.TrimSpace(addressID); id != "" {
		return a.addresses.FindByID(ctx, id)
	}
	if input == nil {
		return domain.Address{}, fmt.Errorf("%w: address id or inline address is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(input.Line1) == "" || strings.TrimSpace(input.CountryCode) == "" {
		return domain.Address{}, fmt.Errorf("%w: address line and country are required", ErrOrderInvalidInput)
	}
	return a.addresses.Insert(ctx, domain.Address{
		UserID:      strings.TrimSpace(userID),
		Recipient:   strings.TrimSpace(input.Recipient),
		Line1:       strings.TrimSpace(input.Line1),
		Line2:       strings.TrimSpace(input.Line2),
		City:        strings.TrimSpace(input.City),
		StateCode:   strings.ToUpper(strings.TrimSpace(input.StateCode)),
		PostalCode:  strings.TrimSpace(input.PostalCode),
		CountryCode: strings.ToUpper(strings.TrimSpace(input.CountryCode)),
		Phone:       strings.TrimSpace(input.Phone),
		CreatedAt:   a.clock(),
	})
}

// publishAnalytics pushes the commit-side stream event. Best effort: a broker
// outage never fails a placed order.
func (a *CreateOrderAction) publishAnalytics(ctx context.Context, order domain.Order) {
	if a.publisher == nil {
		return
	}
	event := CommerceEvent{
		Kind:       "order.created",
		OrderID:    order.ID,
		Amount:     order.Total,
		Currency:   order.Currency,
		OccurredAt: order.CreatedAt.Format(time.RFC3339),
		Attributes: map[string]any{
			"order_number":   order.OrderNumber,
			"payment_method": order.PaymentMethod,
			"items":          len(order.Items),
		},
	}
	if err := a.publisher.Publish(ctx, event); err != nil {
		a.logger(ctx, "order.analytics_publish_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}
