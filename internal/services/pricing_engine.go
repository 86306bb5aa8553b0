package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/cartforge/commerce/internal/domain"
	"github.com/cartforge/commerce/internal/platform/observability"
	"github.com/cartforge/commerce/internal/repositories"
)

// RoundingMode selects how the final cart total is rounded to the policy step.
type RoundingMode string

const (
	RoundingHalfUp   RoundingMode = "half_up"
	RoundingHalfDown RoundingMode = "half_down"
	RoundingHalfEven RoundingMode = "half_even"
)

// defaultFallbackTaxRate matches the top GST slab, the worst case a buyer
// in any jurisdiction could owe.
const defaultFallbackTaxRate = 28.0

// PricingPolicy carries pricing behaviour knobs explicitly. It is passed in
// at construction so pricing is reproducible in tests without environment
// mutation.
type PricingPolicy struct {
	RoundingMode RoundingMode
	// RoundingStep is the minor-unit granularity the final amount is rounded
	// to; 1 (or 0) disables rounding. Applied to the final amount only.
	RoundingStep int64
	// FallbackTaxRate is the worst-case percentage applied by the safety
	// computation after an internal pricing failure.
	FallbackTaxRate float64
	DefaultCurrency string
}

// PricingEngineDeps bundles collaborators for construction.
type PricingEngineDeps struct {
	Taxes     *TaxEngine
	Discounts *DiscountEngine
	Variants  repositories.VariantRepository
	Coupons   repositories.CouponRepository
	Policy    PricingPolicy
	Metrics   *observability.Metrics
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// PricingEngine composes the tax and discount engines into full price
// breakdowns. CalculateCartTotal never propagates internal failures: it
// degrades to a conservative overcharging fallback so checkout stays
// available without ever silently undercharging.
type PricingEngine struct {
	taxes     *TaxEngine
	discounts *DiscountEngine
	variants  repositories.VariantRepository
	coupons   repositories.CouponRepository
	policy    PricingPolicy
	metrics   *observability.Metrics
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewPricingEngine validates dependencies and applies defaults.
func NewPricingEngine(deps PricingEngineDeps) (*PricingEngine, error) {
	if deps.Taxes == nil {
		return nil, errors.New("pricing engine: tax engine is required")
	}
	if deps.Discounts == nil {
		return nil, errors.New("pricing engine: discount engine is required")
	}
	if deps.Variants == nil {
		return nil, errors.New("pricing engine: variant repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("pricing engine: coupon repository is required")
	}
	policy := deps.Policy
	if policy.RoundingMode == "" {
		policy.RoundingMode = RoundingHalfUp
	}
	if policy.RoundingStep <= 0 {
		policy.RoundingStep = 1
	}
	// A zero fallback rate would make the safety computation undercharge
	// tax, which is the one thing it exists to prevent.
	if policy.FallbackTaxRate <= 0 {
		policy.FallbackTaxRate = defaultFallbackTaxRate
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PricingEngine{
		taxes:     deps.Taxes,
		discounts: deps.Discounts,
		variants:  deps.Variants,
		coupons:   deps.Coupons,
		policy:    policy,
		metrics:   deps.Metrics,
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

// CalculateLine prices a single variant/quantity. userUsages is the buyer's
// prior redemption count for the coupon. Tax is computed on the
// POST-discount amount here; the cart-level path taxes pre-discount prices.
// The two bases differ on purpose, mirroring long-standing billing behaviour.
func (e *PricingEngine) CalculateLine(ctx context.Context, variant domain.ProductVariant, quantity int, coupon *domain.Coupon, userUsages int, addr *domain.Address) (domain.LinePricing, error) {
	if quantity < 1 {
		return domain.LinePricing{}, errors.New("pricing engine: quantity must be at least 1")
	}

	unitPrice := variant.EffectiveUnitPrice()
	subtotal := unitPrice * int64(quantity)
	discount := e.discounts.Calculate(subtotal, coupon, userUsages)

	var jurisdiction *domain.Jurisdiction
	if addr != nil {
		j := addr.Jurisdiction()
		jurisdiction = &j
	}
	tax := e.taxes.Calculate(ctx, subtotal-discount, jurisdiction)

	snapshot := domain.LineSnapshot{
		VariantID: variant.ID,
		SKU:       variant.SKU,
	}
	if coupon != nil {
		snapshot.CouponCode = coupon.Code
	}

	return domain.LinePricing{
		BasePrice: variant.BasePrice,
		UnitPrice: unitPrice,
		Quantity:  quantity,
		Subtotal:  subtotal,
		Discount:  discount,
		Tax:       tax,
		Total:     subtotal - discount + tax,
		Snapshot:  snapshot,
	}, nil
}

// CalculateCartTotal aggregates the whole cart. It never returns an error:
// any internal failure, panic included, degrades to the fail-safe fallback.
func (e *PricingEngine) CalculateCartTotal(ctx context.Context, cart domain.Cart, addr *domain.Address) domain.CartPricing {
	pricing, err := e.cartTotal(ctx, cart, addr)
	if err != nil {
		return e.fallback(ctx, cart, err)
	}
	return pricing
}

func (e *PricingEngine) cartTotal(ctx context.Context, cart domain.Cart, addr *domain.Address) (pricing domain.CartPricing, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pricing engine: panic: %v", r)
		}
	}()

	var subtotal int64
	taxables := make([]domain.TaxableLine, 0, len(cart.Items))
	for _, item := range cart.Items {
		if item.Quantity < 1 {
			return domain.CartPricing{}, fmt.Errorf("pricing engine: item %s has quantity %d", item.ID, item.Quantity)
		}
		unitPrice := item.UnitPrice
		if unitPrice <= 0 {
			variant, resolveErr := e.resolveVariant(ctx, item)
			if resolveErr != nil {
				return domain.CartPricing{}, resolveErr
			}
			unitPrice = variant.EffectiveUnitPrice()
		}
		lineTotal := unitPrice * int64(item.Quantity)
		subtotal += lineTotal
		// Granular tax operates on the pre-discount line price. The single-line
		// path taxes post-discount amounts; the two bases differ on purpose.
		taxables = append(taxables, domain.TaxableLine{
			ID:    item.ID,
			Name:  item.Name,
			Price: lineTotal,
		})
	}

	var discount int64
	var coupon *domain.Coupon
	if cart.CouponCode != nil && strings.TrimSpace(*cart.CouponCode) != "" {
		found, findErr := e.coupons.FindByCode(ctx, *cart.CouponCode)
		switch {
		case findErr == nil:
			coupon = &found
		case repositories.IsNotFound(findErr):
			// A vanished coupon drops the discount; charging more is safe.
			coupon = nil
		default:
			return domain.CartPricing{}, findErr
		}
	}
	if coupon != nil {
		var userUsages int
		if coupon.MaxUsesPerUser != nil && strings.TrimSpace(cart.UserID) != "" {
			userUsages, err = e.coupons.CountRedemptionsByUser(ctx, coupon.ID, cart.UserID)
			if err != nil {
				return domain.CartPricing{}, err
			}
		}
		discount = e.discounts.Calculate(subtotal, coupon, userUsages)
	}

	var taxResult domain.GranularTaxResult
	if addr != nil {
		taxResult = e.taxes.CalculateGranular(ctx, taxables, addr.CountryCode, addr.StateCode)
	}

	total := subtotal - discount + taxResult.TotalTax + cart.ShippingCost
	total = roundAmount(total, e.policy.RoundingMode, e.policy.RoundingStep)

	return domain.CartPricing{
		Subtotal:           subtotal,
		Discount:           discount,
		TaxAmount:          taxResult.TotalTax,
		ShippingCost:       cart.ShippingCost,
		Total:              total,
		TaxJurisdiction:    taxResult.Jurisdiction,
		TaxRateApplied:     taxResult.RateApplied,
		TaxType:            taxResult.TaxType,
		TaxLines:           taxResult.Lines,
		CouponCode:         cart.CouponCode,
		CalculationVersion: domain.CalculationVersionCurrent,
	}, nil
}

func (e *PricingEngine) resolveVariant(ctx context.Context, item domain.CartItem) (domain.ProductVariant, error) {
	if item.VariantID != nil && strings.TrimSpace(*item.VariantID) != "" {
		return e.variants.FindByID(ctx, *item.VariantID)
	}
	return e.variants.FirstByProduct(ctx, item.ProductID)
}

// fallback is the conservative safety computation: base-price resum, no
// discount, worst-case tax. It charges more, never less.
func (e *PricingEngine) fallback(ctx context.Context, cart domain.Cart, cause error) domain.CartPricing {
	var subtotal int64
	for _, item := range cart.Items {
		lineTotal := item.TotalPrice
		if lineTotal <= 0 {
			lineTotal = item.UnitPrice * int64(item.Quantity)
		}
		if lineTotal > 0 {
			subtotal += lineTotal
		}
	}

	tax := taxFor(subtotal, e.policy.FallbackTaxRate)

	e.logger(ctx, "pricing.fallback", map[string]any{
		"cartId":   cart.ID,
		"owner":    cart.OwnerKey(),
		"items":    len(cart.Items),
		"subtotal": subtotal,
		"error":    cause.Error(),
	})
	e.metrics.PricingFallback(ctx)

	return domain.CartPricing{
		Subtotal:           subtotal,
		Discount:           0,
		TaxAmount:          tax,
		ShippingCost:       cart.ShippingCost,
		Total:              subtotal + tax + cart.ShippingCost,
		TaxJurisdiction:    domain.CalculationVersionFallback,
		CalculationVersion: domain.CalculationVersionFallback,
	}
}

// roundAmount rounds amount to the nearest multiple of step using the policy
// mode. A step of 1 or less is a no-op.
func roundAmount(amount int64, mode RoundingMode, step int64) int64 {
	if step <= 1 {
		return amount
	}
	q, r := amount/step, amount%step
	if r < 0 {
		q, r = q-1, r+step
	}
	twice := r * 2
	switch mode {
	case RoundingHalfDown:
		if twice > step {
			q++
		}
	case RoundingHalfEven:
		if twice > step || (twice == step && q%2 != 0) {
			q++
		}
	default:
		if twice >= step {
			q++
		}
	}
	return q * step
}
