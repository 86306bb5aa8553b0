package services

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	domain "github.com/cartforge/commerce/internal/domain"
)

// BreakerShippingProvider decorates a ShippingRateProvider with circuit
// breakers so a flapping carrier integration sheds load instead of stalling
// every checkout on timeouts.
type BreakerShippingProvider struct {
	inner   ShippingRateProvider
	methods *gobreaker.CircuitBreaker[[]ShippingMethod]
	quotes  *gobreaker.CircuitBreaker[int64]
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewBreakerShippingProvider wraps the provider. Both breakers trip after
// five consecutive failures and probe again after thirty seconds.
func NewBreakerShippingProvider(inner ShippingRateProvider, logger func(ctx context.Context, event string, fields map[string]any)) (*BreakerShippingProvider, error) {
	if inner == nil {
		return nil, errors.New("shipping breaker: provider is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:    name,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}
	}

	return &BreakerShippingProvider{
		inner:   inner,
		methods: gobreaker.NewCircuitBreaker[[]ShippingMethod](settings("shipping.methods")),
		quotes:  gobreaker.NewCircuitBreaker[int64](settings("shipping.quote")),
		logger:  logger,
	}, nil
}

// AvailableMethods delegates through the breaker.
func (p *BreakerShippingProvider) AvailableMethods(ctx context.Context, cart domain.Cart, addr domain.Address) ([]ShippingMethod, error) {
	methods, err := p.methods.Execute(func() ([]ShippingMethod, error) {
		return p.inner.AvailableMethods(ctx, cart, addr)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			p.logger(ctx, "shipping.breaker_open", map[string]any{"op": "methods", "cartId": cart.ID})
		}
		return nil, err
	}
	return methods, nil
}

// QuoteCost delegates through the breaker.
func (p *BreakerShippingProvider) QuoteCost(ctx context.Context, cart domain.Cart, addr domain.Address, methodCode string) (int64, error) {
	cost, err := p.quotes.Execute(func() (int64, error) {
		return p.inner.QuoteCost(ctx, cart, addr, methodCode)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			p.logger(ctx, "shipping.breaker_open", map[string]any{"op": "quote", "cartId": cart.ID, "method": methodCode})
		}
		return 0, err
	}
	return cost, nil
}
