package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/cartforge/commerce/internal/platform/observability")

// Metrics holds the counters the pricing and order services record. All
// methods are nil-safe so tests can pass a nil *Metrics.
type Metrics struct {
	ordersCreated    metric.Int64Counter
	pricingFallbacks metric.Int64Counter
	couponRejections metric.Int64Counter
	oversellAborts   metric.Int64Counter
}

// NewMetrics registers the counters on the global meter provider.
func NewMetrics() (*Metrics, error) {
	ordersCreated, err := meter.Int64Counter("commerce.orders.created",
		metric.WithDescription("Orders successfully created"))
	if err != nil {
		return nil, err
	}
	pricingFallbacks, err := meter.Int64Counter("commerce.pricing.fallbacks",
		metric.WithDescription("Cart totals served by the conservative fallback computation"))
	if err != nil {
		return nil, err
	}
	couponRejections, err := meter.Int64Counter("commerce.coupons.rejections",
		metric.WithDescription("Coupon applications rejected by business rules"))
	if err != nil {
		return nil, err
	}
	oversellAborts, err := meter.Int64Counter("commerce.inventory.oversell_aborts",
		metric.WithDescription("Order transactions aborted by insufficient stock"))
	if err != nil {
		return nil, err
	}
	return &Metrics{
		ordersCreated:    ordersCreated,
		pricingFallbacks: pricingFallbacks,
		couponRejections: couponRejections,
		oversellAborts:   oversellAborts,
	}, nil
}

// OrderCreated records a successfully created order.
func (m *Metrics) OrderCreated(ctx context.Context, paymentMethod string) {
	if m == nil || m.ordersCreated == nil {
		return
	}
	m.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("payment.method", paymentMethod)))
}

// PricingFallback records a cart total served by the safety computation.
func (m *Metrics) PricingFallback(ctx context.Context) {
	if m == nil || m.pricingFallbacks == nil {
		return
	}
	m.pricingFallbacks.Add(ctx, 1)
}

// CouponRejected records a business-rule coupon rejection.
func (m *Metrics) CouponRejected(ctx context.Context, reason string) {
	if m == nil || m.couponRejections == nil {
		return
	}
	m.couponRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// OversellAbort records an order aborted by the stock guard.
func (m *Metrics) OversellAbort(ctx context.Context) {
	if m == nil || m.oversellAborts == nil {
		return
	}
	m.oversellAborts.Add(ctx, 1)
}
