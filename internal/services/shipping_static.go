package services

import (
	"context"
	"fmt"
	"strings"

	domain "github.com/cartforge/commerce/internal/domain"
)

// StaticShippingProvider serves a fixed method table. It stands in for a
// carrier integration and is the default provider behind the circuit breaker.
type StaticShippingProvider struct {
	methods []ShippingMethod
	// FreeShippingThreshold waives the cost of the cheapest method for carts
	// at or above this subtotal; 0 disables the waiver.
	freeShippingThreshold int64
}

// NewStaticShippingProvider builds a provider over a fixed method table.
func NewStaticShippingProvider(methods []ShippingMethod, freeShippingThreshold int64) (*StaticShippingProvider, error) {
	if len(methods) == 0 {
		return nil, fmt.Errorf("static shipping provider: at least one method is required")
	}
	return &StaticShippingProvider{
		methods:               methods,
		freeShippingThreshold: freeShippingThreshold,
	}, nil
}

// DefaultShippingMethods is the stock table used when none is configured.
func DefaultShippingMethods() []ShippingMethod {
	return []ShippingMethod{
		{Code: "standard", DisplayName: "Standard Delivery", Cost: 4900, EstDays: 5},
		{Code: "express", DisplayName: "Express Delivery", Cost: 14900, EstDays: 2},
	}
}

func (p *StaticShippingProvider) AvailableMethods(_ context.Context, _ domain.Cart, _ domain.Address) ([]ShippingMethod, error) {
	out := make([]ShippingMethod, len(p.methods))
	copy(out, p.methods)
	return out, nil
}

func (p *StaticShippingProvider) QuoteCost(_ context.Context, cart domain.Cart, _ domain.Address, methodCode string) (int64, error) {
	code := strings.ToLower(strings.TrimSpace(methodCode))
	for _, m := range p.methods {
		if m.Code != code {
			continue
		}
		if p.freeShippingThreshold > 0 && cart.Subtotal >= p.freeShippingThreshold && m.Cost == p.cheapestCost() {
			return 0, nil
		}
		return m.Cost, nil
	}
	return 0, fmt.Errorf("static shipping provider: unknown method %q", methodCode)
}

func (p *StaticShippingProvider) cheapestCost() int64 {
	cheapest := p.methods[0].Cost
	for _, m := range p.methods[1:] {
		if m.Cost < cheapest {
			cheapest = m.Cost
		}
	}
	return cheapest
}
