package repositories

import (
	"context"
	"time"

	domain "github.com/cartforge/commerce/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations into one transactional boundary.
// Implementations propagate the transaction through the context so that
// repository calls made inside fn join the same database transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository owns cart header and item persistence.
type CartRepository interface {
	FindByID(ctx context.Context, cartID string) (domain.Cart, error)
	UpdateStatus(ctx context.Context, cartID string, status domain.CartStatus, updatedAt time.Time) error
	UpdateTotals(ctx context.Context, cart domain.Cart) error
	// Clear deletes all items and detaches the coupon after a successful order.
	Clear(ctx context.Context, cartID string, updatedAt time.Time) error
}

// CouponRepository manages coupon rows and redemption bookkeeping. The
// ForUpdate lookup acquires a row-level write lock that must be held for the
// duration of the surrounding transaction to serialise concurrent redemptions.
type CouponRepository interface {
	// FindByCode is a plain read used by pricing previews; it takes no lock.
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	FindByCodeForUpdate(ctx context.Context, code string, now time.Time) (domain.Coupon, error)
	CountRedemptionsByUser(ctx context.Context, couponID, userID string) (int, error)
	// IncrementUsage bumps used_count and records the redemption; called only
	// inside the order-creation transaction.
	IncrementUsage(ctx context.Context, couponID, userID, orderID string, now time.Time) error
}

// TaxRateRepository resolves jurisdiction tax rates. Read-only for pricing.
type TaxRateRepository interface {
	// FindRate resolves (country, state), falling back to the country-level
	// row when no state-specific rate exists.
	FindRate(ctx context.Context, countryCode, stateCode string) (domain.TaxRate, error)
}

// CheckoutSessionRepository persists checkout sessions and their snapshots.
type CheckoutSessionRepository interface {
	Insert(ctx context.Context, session domain.CheckoutSession) error
	Update(ctx context.Context, session domain.CheckoutSession) error
	FindByID(ctx context.Context, sessionID string) (domain.CheckoutSession, error)
	// FindOpenByCart returns the newest incomplete, unexpired session for the
	// cart, keying the idempotent checkout-start behaviour.
	FindOpenByCart(ctx context.Context, cartID string, now time.Time) (domain.CheckoutSession, error)
	// ExpireBefore marks abandoned sessions; driven by an external sweep.
	ExpireBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// OrderRepository persists immutable orders and their items.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, paymentStatus domain.PaymentStatus, updatedAt time.Time) error
	// NextOrderNumber yields a monotonic sequence value for order numbering.
	NextOrderNumber(ctx context.Context) (int64, error)
}

// VariantRepository resolves sellable variants and guards their stock counters.
type VariantRepository interface {
	FindByID(ctx context.Context, variantID string) (domain.ProductVariant, error)
	// FirstByProduct resolves the default variant for simple products whose
	// cart items carry no variant reference.
	FirstByProduct(ctx context.Context, productID string) (domain.ProductVariant, error)
	// DecrementStock performs an atomic decrement-if-sufficient; it fails with
	// a conflict error when remaining stock is below the requested quantity.
	DecrementStock(ctx context.Context, variantID string, quantity int, now time.Time) (domain.ProductVariant, error)
	// IncrementStock returns stock released by the reservation sweep.
	IncrementStock(ctx context.Context, variantID string, quantity int, now time.Time) (domain.ProductVariant, error)
}

// ReservationRepository tracks inventory reservations taken for orders.
type ReservationRepository interface {
	Insert(ctx context.Context, reservation domain.InventoryReservation) error
	MarkCommitted(ctx context.Context, orderID string, now time.Time) error
	// ListExpired returns reserved rows whose TTL lapsed without commit.
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]domain.InventoryReservation, error)
	MarkReleased(ctx context.Context, reservationID string, now time.Time) error
}

// AddressRepository resolves and creates billing/shipping addresses.
type AddressRepository interface {
	FindByID(ctx context.Context, addressID string) (domain.Address, error)
	Insert(ctx context.Context, address domain.Address) (domain.Address, error)
}

// PaymentIntentRepository persists payment attempts for orders.
type PaymentIntentRepository interface {
	Insert(ctx context.Context, intent domain.PaymentIntent) error
	FindByID(ctx context.Context, intentID string) (domain.PaymentIntent, error)
	UpdateStatus(ctx context.Context, intentID string, status domain.PaymentIntentStatus, gatewayRef string, updatedAt time.Time) error
}
