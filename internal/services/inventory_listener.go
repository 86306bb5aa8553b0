package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/cartforge/commerce/internal/domain"
	"github.com/cartforge/commerce/internal/events"
	"github.com/cartforge/commerce/internal/repositories"
)

const (
	reservationIDPrefix   = "sr_"
	defaultReservationTTL = 24 * time.Hour
)

var (
	// ErrInsufficientStock aborts an order whose quantity exceeds remaining stock.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryResolution marks an order item with no identifiable variant.
	ErrInventoryResolution = errors.New("inventory: no sellable variant")
)

// InventoryResolutionError is fatal: selling an unidentifiable SKU is a
// correctness violation, so the order transaction aborts instead of retrying.
type InventoryResolutionError struct {
	OrderID   string
	ProductID string
}

func (e *InventoryResolutionError) Error() string {
	return fmt.Sprintf("inventory: no sellable variant for product %s on order %s", e.ProductID, e.OrderID)
}

// Is lets callers match with errors.Is(err, ErrInventoryResolution).
func (e *InventoryResolutionError) Is(target error) bool {
	return target == ErrInventoryResolution
}

// InventoryReservationListenerDeps bundles collaborators for construction.
type InventoryReservationListenerDeps struct {
	Variants     repositories.VariantRepository
	Reservations repositories.ReservationRepository
	Publisher    CommerceEventPublisher
	TTL          time.Duration
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

// InventoryReservationListener decrements stock for every created order,
// inline within the order transaction. Its errors veto the dispatch and roll
// the whole order back.
type InventoryReservationListener struct {
	variants     repositories.VariantRepository
	reservations repositories.ReservationRepository
	publisher    CommerceEventPublisher
	ttl          time.Duration
	clock        func() time.Time
	newID        func() string
	logger       func(context.Context, string, map[string]any)
}

// NewInventoryReservationListener validates dependencies and applies defaults.
func NewInventoryReservationListener(deps InventoryReservationListenerDeps) (*InventoryReservationListener, error) {
	if deps.Variants == nil {
		return nil, errors.New("inventory listener: variant repository is required")
	}
	if deps.Reservations == nil {
		return nil, errors.New("inventory listener: reservation repository is required")
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultReservationTTL
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
	return &InventoryReservationListener{
		variants:     deps.Variants,
		reservations: deps.Reservations,
		publisher:    deps.Publisher,
		ttl:          ttl,
		clock:        func() time.Time { return clock().UTC() },
		newID:        idGen,
		logger:       logger,
	}, nil
}

// Handle implements events.Handler for OrderCreatedEvent.
func (l *InventoryReservationListener) Handle(ctx context.Context, event events.Event) error {
	created, ok := event.(OrderCreatedEvent)
	if !ok {
		return fmt.Errorf("inventory listener: unexpected event %T", event)
	}
	return l.reserve(ctx, created.Order)
}

func (l *InventoryReservationListener) reserve(ctx context.Context, order domain.Order) error {
	now := l.clock()
	for _, item := range order.Items {
		variant, err := l.resolveVariant(ctx, order, item)
		if err != nil {
			return err
		}

		// Atomic decrement-if-sufficient: the update only lands when remaining
		// stock covers the quantity, so stock never goes negative under
		// concurrent orders.
		updated, err := l.variants.DecrementStock(ctx, variant.ID, item.Quantity, now)
		if err != nil {
			if repositories.IsConflict(err) {
				return fmt.Errorf("%w: variant %s (sku %s) for order %s", ErrInsufficientStock, variant.ID, variant.SKU, order.ID)
			}
			return err
		}

		reservation := domain.InventoryReservation{
			ID:        reservationIDPrefix + l.newID(),
			OrderID:   order.ID,
			VariantID: variant.ID,
			SKU:       variant.SKU,
			Quantity:  item.Quantity,
			Status:    domain.ReservationReserved,
			ExpiresAt: now.Add(l.ttl),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := l.reservations.Insert(ctx, reservation); err != nil {
			return err
		}

		l.logger(ctx, "inventory.reserved", map[string]any{
			"orderId":   order.ID,
			"variantId": variant.ID,
			"sku":       variant.SKU,
			"quantity":  item.Quantity,
			"remaining": updated.Stock,
			"inStock":   updated.InStock,
		})
		l.publishStockEvent(ctx, order.ID, updated, item.Quantity)
	}
	return nil
}

// resolveVariant tolerates legacy simple-product items with no variant
// reference by falling back to the product's first variant.
func (l *InventoryReservationListener) resolveVariant(ctx context.Context, order domain.Order, item domain.OrderItem) (domain.ProductVariant, error) {
	if item.VariantID != nil && strings.TrimSpace(*item.VariantID) != "" {
		variant, err := l.variants.FindByID(ctx, *item.VariantID)
		if err == nil {
			return variant, nil
		}
		if !repositories.IsNotFound(err) {
			return domain.ProductVariant{}, err
		}
	}
	variant, err := l.variants.FirstByProduct(ctx, item.ProductID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.ProductVariant{}, &InventoryResolutionError{OrderID: order.ID, ProductID: item.ProductID}
		}
		return domain.ProductVariant{}, err
	}
	return variant, nil
}

// ReleaseExpired returns stock held by reservations whose TTL lapsed without
// commit. Driven by an external scheduler.
func (l *InventoryReservationListener) ReleaseExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	expired, err := l.reservations.ListExpired(ctx, now.UTC(), limit)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, reservation := range expired {
		if _, err := l.variants.IncrementStock(ctx, reservation.VariantID, reservation.Quantity, now.UTC()); err != nil {
			return released, err
		}
		if err := l.reservations.MarkReleased(ctx, reservation.ID, now.UTC()); err != nil {
			return released, err
		}
		released++
		l.logger(ctx, "inventory.reservation_released", map[string]any{
			"reservationId": reservation.ID,
			"orderId":       reservation.OrderID,
			"variantId":     reservation.VariantID,
			"quantity":      reservation.Quantity,
		})
	}
	return released, nil
}

// publishStockEvent pushes the stock movement to the stream. Best effort: the
// reservation stands regardless.
func (l *InventoryReservationListener) publishStockEvent(ctx context.Context, orderID string, variant domain.ProductVariant, quantity int) {
	if l.publisher == nil {
		return
	}
	event := CommerceEvent{
		Kind:       "stock.reserved",
		OrderID:    orderID,
		VariantID:  variant.ID,
		SKU:        variant.SKU,
		Quantity:   quantity,
		OccurredAt: l.clock().Format(time.RFC3339),
		Attributes: map[string]any{
			"remaining": variant.Stock,
			"in_stock":  variant.InStock,
		},
	}
	if err := l.publisher.Publish(ctx, event); err != nil {
		l.logger(ctx, "inventory.stock_event_failed", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
	}
}
