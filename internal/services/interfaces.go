// Package services implements the order-pricing and checkout orchestration
// core: tax/discount/pricing engines, cart and payment-intent state machines,
// the checkout session manager and the transactional order-creation action.
package services

import (
	"context"

	domain "github.com/cartforge/commerce/internal/domain"
)

// ShippingMethod is a deliverable option quoted by the shipping collaborator.
type ShippingMethod struct {
	Code        string
	DisplayName string
	Cost        int64
	EstDays     int
}

// ShippingRateProvider is the external shipping-rate collaborator. Quotes are
// consumed by the checkout session manager; carrier integration lives outside
// this module.
type ShippingRateProvider interface {
	AvailableMethods(ctx context.Context, cart domain.Cart, addr domain.Address) ([]ShippingMethod, error)
	QuoteCost(ctx context.Context, cart domain.Cart, addr domain.Address, methodCode string) (int64, error)
}

// CartMutator is the contract the external cart item-mutation layer honours.
// Every mutation is gated by CartStateMachine.CanModify; the pricing core
// consumes a loaded Cart aggregate and never adds or removes items itself.
type CartMutator interface {
	AddItem(ctx context.Context, cartID, productID string, variantID *string, quantity int) (domain.Cart, error)
	UpdateItem(ctx context.Context, cartID, itemID string, quantity int) (domain.Cart, error)
	RemoveItem(ctx context.Context, cartID, itemID string) (domain.Cart, error)
	Clear(ctx context.Context, cartID string) error
	// Merge folds a guest cart into the user's cart on login; the guest cart
	// is expired afterwards.
	Merge(ctx context.Context, userCartID, guestCartID string) (domain.Cart, error)
}

// CommerceEvent is an analytics record published to the stream after the
// order transaction commits. Distinct from the in-process bus: stream
// publishing is asynchronous and best effort.
type CommerceEvent struct {
	Kind       string         `json:"kind"`
	OrderID    string         `json:"order_id,omitempty"`
	VariantID  string         `json:"variant_id,omitempty"`
	SKU        string         `json:"sku,omitempty"`
	Quantity   int            `json:"quantity,omitempty"`
	Amount     int64          `json:"amount,omitempty"`
	Currency   string         `json:"currency,omitempty"`
	OccurredAt string         `json:"occurred_at"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// CommerceEventPublisher pushes analytics events to the streaming backend.
type CommerceEventPublisher interface {
	Publish(ctx context.Context, event CommerceEvent) error
}
