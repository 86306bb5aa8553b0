package services

import (
	"context"
	"testing"
	"time"

	domain "github.com/cartforge/commerce/internal/domain"
	"github.com/cartforge/commerce/internal/repositories"
)

func newPricingEngine(t *testing.T, taxRates *fakeTaxRateRepo, coupons *fakeCouponRepo, variants repositories.VariantRepository, policy PricingPolicy) *PricingEngine {
	t.Helper()
	taxes, err := NewTaxEngine(TaxEngineDeps{Rates: taxRates})
	if err != nil {
		t.Fatalf("NewTaxEngine error: %v", err)
	}
	discounts, err := NewDiscountEngine(DiscountEngineDeps{Coupons: coupons, UoW: &fakeUnitOfWork{}})
	if err != nil {
		t.Fatalf("NewDiscountEngine error: %v", err)
	}
	engine, err := NewPricingEngine(PricingEngineDeps{
		Taxes:     taxes,
		Discounts: discounts,
		Variants:  variants,
		Coupons:   coupons,
		Policy:    policy,
		Clock:     fixedClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("NewPricingEngine error: %v", err)
	}
	return engine
}

func defaultPolicy() PricingPolicy {
	return PricingPolicy{RoundingMode: RoundingHalfUp, RoundingStep: 1, FallbackTaxRate: 28, DefaultCurrency: "INR"}
}

func TestPricingEngine_CalculateCartTotal_FullBreakdown(t *testing.T) {
	taxRates := newFakeTaxRateRepo(domain.TaxRate{CountryCode: "IN", StateCode: "KA", Rate: 18, TaxType: "GST"})
	coupons := newFakeCouponRepo(domain.Coupon{
		ID:       "cpn_1",
		Code:     "SAVE10",
		Type:     domain.CouponTypePercentage,
		Value:    10,
		IsActive: true,
	})
	engine := newPricingEngine(t, taxRates, coupons, newFakeVariantRepo(), defaultPolicy())

	cart := domain.Cart{
		ID:           "cart_1",
		UserID:       "user_1",
		CouponCode:   strPtr("SAVE10"),
		ShippingCost: 4900,
		Items: []domain.CartItem{
			{ID: "itm_1", Name: "Widget", Quantity: 2, UnitPrice: 2500, TotalPrice: 5000},
			{ID: "itm_2", Name: "Gadget", Quantity: 1, UnitPrice: 5000, TotalPrice: 5000},
		},
	}
	addr := &domain.Address{ID: "adr_1", CountryCode: "IN", StateCode: "KA"}

	pricing := engine.CalculateCartTotal(context.Background(), cart, addr)

	if pricing.Subtotal != 10000 {
		t.Fatalf("expected subtotal 10000, got %d", pricing.Subtotal)
	}
	if pricing.Discount != 1000 {
		t.Fatalf("expected discount 1000, got %d", pricing.Discount)
	}
	// Granular tax runs on the pre-discount line prices.
	if pricing.TaxAmount != 1800 {
		t.Fatalf("expected tax 1800, got %d", pricing.TaxAmount)
	}
	if pricing.Total != 10000-1000+1800+4900 {
		t.Fatalf("expected total 15700, got %d", pricing.Total)
	}
	if pricing.TaxJurisdiction != "IN/KA" {
		t.Fatalf("expected jurisdiction IN/KA, got %q", pricing.TaxJurisdiction)
	}
	if pricing.CalculationVersion != domain.CalculationVersionCurrent {
		t.Fatalf("expected current calculation version, got %q", pricing.CalculationVersion)
	}
	if len(pricing.TaxLines) != 2 {
		t.Fatalf("expected 2 tax lines, got %d", len(pricing.TaxLines))
	}
}

func TestPricingEngine_CalculateCartTotal_NoAddressNoTax(t *testing.T) {
	engine := newPricingEngine(t, newFakeTaxRateRepo(), newFakeCouponRepo(), newFakeVariantRepo(), defaultPolicy())

	cart := domain.Cart{
		ID:    "cart_1",
		Items: []domain.CartItem{{ID: "itm_1", Quantity: 1, UnitPrice: 10000}},
	}
	pricing := engine.CalculateCartTotal(context.Background(), cart, nil)

	if pricing.TaxAmount != 0 {
		t.Fatalf("expected no tax before an address is known, got %d", pricing.TaxAmount)
	}
	if pricing.Total != 10000 {
		t.Fatalf("expected total 10000, got %d", pricing.Total)
	}
}

func TestPricingEngine_CalculateCartTotal_VanishedCouponDropsDiscount(t *testing.T) {
	engine := newPricingEngine(t, newFakeTaxRateRepo(), newFakeCouponRepo(), newFakeVariantRepo(), defaultPolicy())

	cart := domain.Cart{
		ID:         "cart_1",
		CouponCode: strPtr("DELETED"),
		Items:      []domain.CartItem{{ID: "itm_1", Quantity: 1, UnitPrice: 10000}},
	}
	pricing := engine.CalculateCartTotal(context.Background(), cart, nil)

	if pricing.Discount != 0 {
		t.Fatalf("vanished coupon must drop the discount, got %d", pricing.Discount)
	}
	if pricing.CalculationVersion != domain.CalculationVersionCurrent {
		t.Fatalf("a missing coupon is not a failure; got version %q", pricing.CalculationVersion)
	}
}

func TestPricingEngine_CalculateCartTotal_ExhaustedUserGetsNoDiscount(t *testing.T) {
	coupons := newFakeCouponRepo(domain.Coupon{
		ID:             "cpn_1",
		Code:           "ONCE",
		Type:           domain.CouponTypePercentage,
		Value:          10,
		IsActive:       true,
		MaxUsesPerUser: intPtr(1),
	})
	coupons.redemptions[redemptionKey{"cpn_1", "user_1"}] = 1
	engine := newPricingEngine(t, newFakeTaxRateRepo(), coupons, newFakeVariantRepo(), defaultPolicy())

	cart := domain.Cart{
		ID:         "cart_1",
		UserID:     "user_1",
		CouponCode: strPtr("ONCE"),
		Items:      []domain.CartItem{{ID: "itm_1", Quantity: 1, UnitPrice: 10000}},
	}
	pricing := engine.CalculateCartTotal(context.Background(), cart, nil)

	// The buyer already redeemed the coupon; the snapshot total must not
	// bake in a discount they can no longer claim.
	if pricing.Discount != 0 {
		t.Fatalf("exhausted per-user coupon must not discount, got %d", pricing.Discount)
	}
	if pricing.Total != 10000 {
		t.Fatalf("expected total 10000, got %d", pricing.Total)
	}
	if pricing.CalculationVersion != domain.CalculationVersionCurrent {
		t.Fatalf("an exhausted coupon is not a failure; got version %q", pricing.CalculationVersion)
	}

	// A different user still gets the discount.
	cart.UserID = "user_2"
	pricing = engine.CalculateCartTotal(context.Background(), cart, nil)
	if pricing.Discount != 1000 {
		t.Fatalf("fresh user must keep the discount, got %d", pricing.Discount)
	}
}

func TestPricingEngine_CalculateCartTotal_ResolvesMissingUnitPrice(t *testing.T) {
	sale := int64(1500)
	variants := newFakeVariantRepo(domain.ProductVariant{
		ID:        "var_1",
		ProductID: "prd_1",
		SKU:       "SKU-1",
		BasePrice: 2000,
		SalePrice: &sale,
		Stock:     10,
	})
	engine := newPricingEngine(t, newFakeTaxRateRepo(), newFakeCouponRepo(), variants, defaultPolicy())

	variantID := "var_1"
	cart := domain.Cart{
		ID:    "cart_1",
		Items: []domain.CartItem{{ID: "itm_1", ProductID: "prd_1", VariantID: &variantID, Quantity: 2}},
	}
	pricing := engine.CalculateCartTotal(context.Background(), cart, nil)

	if pricing.Subtotal != 3000 {
		t.Fatalf("expected sale price resolution 2*1500, got %d", pricing.Subtotal)
	}
	if pricing.CalculationVersion != domain.CalculationVersionCurrent {
		t.Fatalf("expected current version, got %q", pricing.CalculationVersion)
	}
}

func TestPricingEngine_CalculateCartTotal_FallbackChargesHigh(t *testing.T) {
	var logged []string
	taxes, err := NewTaxEngine(TaxEngineDeps{Rates: newFakeTaxRateRepo()})
	if err != nil {
		t.Fatalf("NewTaxEngine error: %v", err)
	}
	coupons := newFakeCouponRepo()
	discounts, err := NewDiscountEngine(DiscountEngineDeps{Coupons: coupons, UoW: &fakeUnitOfWork{}})
	if err != nil {
		t.Fatalf("NewDiscountEngine error: %v", err)
	}
	engine, err := NewPricingEngine(PricingEngineDeps{
		Taxes:     taxes,
		Discounts: discounts,
		Variants:  newFakeVariantRepo(),
		Coupons:   coupons,
		Policy:    defaultPolicy(),
		Logger: func(_ context.Context, event string, _ map[string]any) {
			logged = append(logged, event)
		},
	})
	if err != nil {
		t.Fatalf("NewPricingEngine error: %v", err)
	}

	// A zero-priced item with no resolvable variant breaks the normal path.
	cart := domain.Cart{
		ID:           "cart_1",
		SessionID:    "sess_1",
		ShippingCost: 4900,
		Items: []domain.CartItem{
			{ID: "itm_1", ProductID: "prd_missing", Quantity: 1, UnitPrice: 0, TotalPrice: 0},
			{ID: "itm_2", Name: "Widget", Quantity: 2, UnitPrice: 5000, TotalPrice: 10000},
		},
	}
	pricing := engine.CalculateCartTotal(context.Background(), cart, nil)

	if pricing.CalculationVersion != domain.CalculationVersionFallback {
		t.Fatalf("expected FALLBACK version, got %q", pricing.CalculationVersion)
	}
	if pricing.TaxJurisdiction != domain.CalculationVersionFallback {
		t.Fatalf("expected FALLBACK jurisdiction, got %q", pricing.TaxJurisdiction)
	}
	if pricing.Subtotal != 10000 {
		t.Fatalf("expected positive-line resum 10000, got %d", pricing.Subtotal)
	}
	if pricing.Discount != 0 {
		t.Fatal("fallback must not apply discounts")
	}
	if pricing.TaxAmount != 2800 {
		t.Fatalf("expected worst-case tax 2800, got %d", pricing.TaxAmount)
	}
	if pricing.Total != 10000+2800+4900 {
		t.Fatalf("expected total 17700, got %d", pricing.Total)
	}
	if len(logged) != 1 || logged[0] != "pricing.fallback" {
		t.Fatalf("expected pricing.fallback log, got %v", logged)
	}
}

func TestPricingEngine_ZeroPolicyFallbackStillTaxes(t *testing.T) {
	// An empty policy must not leave the safety computation taxing at 0%.
	engine := newPricingEngine(t, newFakeTaxRateRepo(), newFakeCouponRepo(), newFakeVariantRepo(), PricingPolicy{})

	cart := domain.Cart{
		ID: "cart_1",
		Items: []domain.CartItem{
			{ID: "itm_1", ProductID: "prd_missing", Quantity: 1, UnitPrice: 0, TotalPrice: 0},
			{ID: "itm_2", Name: "Widget", Quantity: 1, UnitPrice: 10000, TotalPrice: 10000},
		},
	}
	pricing := engine.CalculateCartTotal(context.Background(), cart, nil)

	if pricing.CalculationVersion != domain.CalculationVersionFallback {
		t.Fatalf("expected FALLBACK version, got %q", pricing.CalculationVersion)
	}
	if pricing.TaxAmount != 2800 {
		t.Fatalf("expected worst-case tax 2800 under the default rate, got %d", pricing.TaxAmount)
	}
}

type panickingVariantRepo struct {
	*fakeVariantRepo
}

func (r *panickingVariantRepo) FindByID(context.Context, string) (domain.ProductVariant, error) {
	panic("variant cache corrupted")
}

func (r *panickingVariantRepo) FirstByProduct(context.Context, string) (domain.ProductVariant, error) {
	panic("variant cache corrupted")
}

func TestPricingEngine_CalculateCartTotal_RecoversFromPanic(t *testing.T) {
	variants := &panickingVariantRepo{fakeVariantRepo: newFakeVariantRepo()}
	engine := newPricingEngine(t, newFakeTaxRateRepo(), newFakeCouponRepo(), variants, defaultPolicy())

	// Variant resolution panics; the engine must degrade to the fallback
	// instead of crashing checkout.
	cart := domain.Cart{
		ID: "cart_1",
		Items: []domain.CartItem{
			{ID: "itm_1", ProductID: "prd_1", Quantity: 1, UnitPrice: 0},
			{ID: "itm_2", Quantity: 1, UnitPrice: 7000, TotalPrice: 7000},
		},
	}

	var pricing domain.CartPricing
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("CalculateCartTotal escaped a panic: %v", r)
			}
		}()
		pricing = engine.CalculateCartTotal(context.Background(), cart, nil)
	}()

	if pricing.CalculationVersion != domain.CalculationVersionFallback {
		t.Fatalf("expected FALLBACK version, got %q", pricing.CalculationVersion)
	}
	if pricing.Subtotal != 7000 {
		t.Fatalf("expected surviving line subtotal 7000, got %d", pricing.Subtotal)
	}
}

func TestPricingEngine_CalculateLine_TaxesPostDiscountAmount(t *testing.T) {
	taxRates := newFakeTaxRateRepo(domain.TaxRate{CountryCode: "IN", StateCode: "KA", Rate: 18, TaxType: "GST"})
	engine := newPricingEngine(t, taxRates, newFakeCouponRepo(), newFakeVariantRepo(), defaultPolicy())

	variant := domain.ProductVariant{ID: "var_1", SKU: "SKU-1", BasePrice: 10000}
	coupon := &domain.Coupon{Code: "SAVE10", Type: domain.CouponTypePercentage, Value: 10, IsActive: true}
	addr := &domain.Address{CountryCode: "IN", StateCode: "KA"}

	line, err := engine.CalculateLine(context.Background(), variant, 1, coupon, 0, addr)
	if err != nil {
		t.Fatalf("CalculateLine error: %v", err)
	}
	if line.Discount != 1000 {
		t.Fatalf("expected discount 1000, got %d", line.Discount)
	}
	// The single-line path taxes the post-discount amount: 18% of 9000.
	if line.Tax != 1620 {
		t.Fatalf("expected tax 1620, got %d", line.Tax)
	}
	if line.Total != 10000-1000+1620 {
		t.Fatalf("expected total 10620, got %d", line.Total)
	}
	if line.Snapshot.CouponCode != "SAVE10" || line.Snapshot.SKU != "SKU-1" {
		t.Fatalf("unexpected snapshot: %+v", line.Snapshot)
	}
}

func TestRoundAmount(t *testing.T) {
	cases := []struct {
		name   string
		amount int64
		mode   RoundingMode
		step   int64
		want   int64
	}{
		{"step one is identity", 12345, RoundingHalfUp, 1, 12345},
		{"half up rounds midpoint up", 150, RoundingHalfUp, 100, 200},
		{"half up below midpoint", 149, RoundingHalfUp, 100, 100},
		{"half down rounds midpoint down", 150, RoundingHalfDown, 100, 100},
		{"half down above midpoint", 151, RoundingHalfDown, 100, 200},
		{"half even to even quotient", 150, RoundingHalfEven, 100, 200},
		{"half even stays on even", 250, RoundingHalfEven, 100, 200},
		{"negative amount half up", -150, RoundingHalfUp, 100, -100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := roundAmount(tc.amount, tc.mode, tc.step); got != tc.want {
				t.Fatalf("roundAmount(%d, %s, %d) = %d, want %d", tc.amount, tc.mode, tc.step, got, tc.want)
			}
		})
	}
}
