package domain

import (
	"strings"
	"time"
)

// CartStatus enumerates the lifecycle states of a shopping cart.
type CartStatus string

const (
	// CartStatusActive marks a cart whose items may still be mutated.
	CartStatusActive CartStatus = "active"
	// CartStatusLocked marks a cart frozen by an in-flight checkout.
	CartStatusLocked CartStatus = "locked"
	// CartStatusCheckedOut marks a cart that materialised into an order. Terminal.
	CartStatusCheckedOut CartStatus = "checked_out"
	// CartStatusExpired marks a cart reclaimed by the expiry sweep. Terminal.
	CartStatusExpired CartStatus = "expired"
)

// Cart aggregates the mutable shopping cart state for a user or guest session.
// Exactly one of UserID/SessionID identifies the owner.
type Cart struct {
	ID           string
	UserID       string
	SessionID    string
	Status       CartStatus
	Currency     string
	CouponCode   *string
	Subtotal     int64
	Discount     int64
	TaxAmount    int64
	ShippingCost int64
	Total        int64
	Items        []CartItem
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OwnerKey returns the authoritative owner identity for the cart.
func (c Cart) OwnerKey() string {
	if trimmed := strings.TrimSpace(c.UserID); trimmed != "" {
		return "user:" + trimmed
	}
	return "session:" + strings.TrimSpace(c.SessionID)
}

// CartItem stores a single product/variant entry within a cart. VariantID may
// be nil only for simple single-variant products.
type CartItem struct {
	ID         string
	CartID     string
	ProductID  string
	VariantID  *string
	Name       string
	SKU        string
	ImageURL   string
	Quantity   int
	UnitPrice  int64
	TotalPrice int64
	AddedAt    time.Time
}

// CouponType discriminates percentage and fixed-amount coupons.
type CouponType string

const (
	// CouponTypePercentage discounts a percentage of the amount.
	CouponTypePercentage CouponType = "percentage"
	// CouponTypeFixed discounts a fixed amount in minor units.
	CouponTypeFixed CouponType = "fixed"
)

// Coupon describes a discount code with usage-limit bookkeeping. The usage
// counter is mutated only inside the order-creation transaction under a row lock.
type Coupon struct {
	ID             string
	Code           string
	Type           CouponType
	Value          int64
	MinOrderAmount int64
	UsageLimit     *int
	MaxUsesPerUser *int
	UsedCount      int
	StartsAt       *time.Time
	ExpiresAt      *time.Time
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ValidAt reports whether the coupon is active and inside its time window.
func (c Coupon) ValidAt(now time.Time) bool {
	if !c.IsActive {
		return false
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return false
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return false
	}
	return true
}

// TaxRate is a read-only jurisdiction rate keyed by (country_code, state_code).
type TaxRate struct {
	CountryCode string
	StateCode   string
	Rate        float64
	TaxType     string
}

// Jurisdiction is the lookup key for tax-rate resolution.
type Jurisdiction struct {
	CountryCode string
	StateCode   string
}

// String renders the jurisdiction as "CC/SS" or "CC".
func (j Jurisdiction) String() string {
	country := strings.ToUpper(strings.TrimSpace(j.CountryCode))
	state := strings.ToUpper(strings.TrimSpace(j.StateCode))
	if state == "" {
		return country
	}
	return country + "/" + state
}

// CheckoutStep enumerates the checkout wizard steps.
type CheckoutStep string

const (
	// CheckoutStepCart is the initial step after a session starts.
	CheckoutStepCart CheckoutStep = "cart"
	// CheckoutStepShipping follows address capture.
	CheckoutStepShipping CheckoutStep = "shipping"
	// CheckoutStepPayment follows shipping-method selection.
	CheckoutStepPayment CheckoutStep = "payment"
	// CheckoutStepReview follows payment-method selection.
	CheckoutStepReview CheckoutStep = "review"
	// CheckoutStepComplete marks a finalised session.
	CheckoutStepComplete CheckoutStep = "complete"
)

// SnapshotItem is an immutable copy of a cart item captured at checkout start.
type SnapshotItem struct {
	ProductID string
	VariantID *string
	Name      string
	SKU       string
	ImageURL  string
	Quantity  int
	UnitPrice int64
	LineTotal int64
}

// CheckoutSnapshot freezes cart contents and totals so concurrent catalog or
// price changes cannot alter an in-flight checkout.
type CheckoutSnapshot struct {
	Items              []SnapshotItem
	CouponCode         *string
	Subtotal           int64
	Discount           int64
	Tax                int64
	Total              int64
	TaxJurisdiction    string
	CalculationVersion string
}

// CheckoutSession walks a cart through the checkout wizard against a frozen
// snapshot. Once CompletedAt is set no further mutation is permitted.
type CheckoutSession struct {
	ID                string
	CartID            string
	UserID            string
	Step              CheckoutStep
	Snapshot          CheckoutSnapshot
	ShippingAddressID string
	BillingAddressID  string
	ShippingMethod    string
	ShippingCost      int64
	PaymentMethod     string
	Total             int64
	ExpiresAt         time.Time
	CompletedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Expired reports whether the session's TTL lapsed at the given instant.
func (s CheckoutSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Completed reports whether the session has been finalised.
func (s CheckoutSession) Completed() bool {
	return s.CompletedAt != nil
}

// OrderStatus enumerates order lifecycle states.
type OrderStatus string

const (
	// OrderStatusPending marks a freshly created order.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaymentPending marks an order awaiting payment confirmation.
	OrderStatusPaymentPending OrderStatus = "payment_pending"
	// OrderStatusPaid marks an order with confirmed payment.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusFailed marks an order whose payment failed.
	OrderStatusFailed OrderStatus = "failed"
	// OrderStatusCancelled marks a cancelled order.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusFulfilled marks a shipped/delivered order.
	OrderStatusFulfilled OrderStatus = "fulfilled"
	// OrderStatusFraudDetected marks an order flagged by fraud review.
	OrderStatusFraudDetected OrderStatus = "fraud_detected"
)

// PaymentStatus tracks the payment side of an order independently of fulfilment.
type PaymentStatus string

const (
	// PaymentStatusPending indicates payment has not been confirmed by the gateway.
	PaymentStatusPending PaymentStatus = "payment_pending"
	// PaymentStatusPaid indicates the gateway confirmed capture.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed indicates the gateway reported a failure.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded indicates the payment was refunded.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Order is the immutable record of a completed purchase.
type Order struct {
	ID                string
	OrderNumber       string
	UserID            string
	CartID            string
	Status            OrderStatus
	PaymentStatus     PaymentStatus
	PaymentMethod     string
	Currency          string
	CouponCode        *string
	Subtotal          int64
	Discount          int64
	TaxAmount         int64
	ShippingCost      int64
	Total             int64
	ShippingAddressID string
	BillingAddressID  string
	Items             []OrderItem
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OrderItem is a frozen copy of a cart item: price, name, SKU and image are
// captured by value at order time, independent of later product changes.
type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	VariantID *string
	Name      string
	SKU       string
	ImageURL  string
	Quantity  int
	UnitPrice int64
	Total     int64
}

// PaymentIntentStatus enumerates payment attempt lifecycle states.
type PaymentIntentStatus string

const (
	// PaymentIntentCreated is the initial state of a payment attempt.
	PaymentIntentCreated PaymentIntentStatus = "created"
	// PaymentIntentProcessing marks an attempt handed to the gateway.
	PaymentIntentProcessing PaymentIntentStatus = "processing"
	// PaymentIntentSucceeded marks a captured payment. Terminal.
	PaymentIntentSucceeded PaymentIntentStatus = "succeeded"
	// PaymentIntentFailed marks a failed attempt. Terminal.
	PaymentIntentFailed PaymentIntentStatus = "failed"
	// PaymentIntentCancelled marks an abandoned attempt. Terminal.
	PaymentIntentCancelled PaymentIntentStatus = "cancelled"
)

// PaymentIntent tracks a single attempt to collect payment for an order.
// Amount, currency and method are immutable after creation.
type PaymentIntent struct {
	ID         string
	OrderID    string
	Status     PaymentIntentStatus
	Amount     int64
	Currency   string
	Method     string
	GatewayRef string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ReservationStatus enumerates inventory reservation states.
type ReservationStatus string

const (
	// ReservationReserved marks stock held for an order.
	ReservationReserved ReservationStatus = "reserved"
	// ReservationCommitted marks stock permanently consumed.
	ReservationCommitted ReservationStatus = "committed"
	// ReservationReleased marks stock returned by the expiry sweep.
	ReservationReleased ReservationStatus = "released"
)

// InventoryReservation records a stock decrement taken for an order item.
type InventoryReservation struct {
	ID        string
	OrderID   string
	VariantID string
	SKU       string
	Quantity  int
	Status    ReservationStatus
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProductVariant is the sellable unit whose stock counter inventory operates on.
type ProductVariant struct {
	ID        string
	ProductID string
	SKU       string
	Name      string
	BasePrice int64
	SalePrice *int64
	Stock     int
	InStock   bool
	ImageURL  string
	UpdatedAt time.Time
}

// EffectiveUnitPrice returns the sale price when present, else the base price.
func (v ProductVariant) EffectiveUnitPrice() int64 {
	if v.SalePrice != nil && *v.SalePrice > 0 {
		return *v.SalePrice
	}
	return v.BasePrice
}

// Address is a billing or shipping destination owned by a user.
type Address struct {
	ID          string
	UserID      string
	Recipient   string
	Line1       string
	Line2       string
	City        string
	StateCode   string
	PostalCode  string
	CountryCode string
	Phone       string
	CreatedAt   time.Time
}

// Jurisdiction derives the tax lookup key from the address.
func (a Address) Jurisdiction() Jurisdiction {
	return Jurisdiction{CountryCode: a.CountryCode, StateCode: a.StateCode}
}
