package domain

// CalculationVersionCurrent tags breakdowns produced by the full pricing path.
const CalculationVersionCurrent = "v2"

// CalculationVersionFallback tags breakdowns produced by the conservative
// safety computation after an internal pricing failure.
const CalculationVersionFallback = "FALLBACK"

// LinePricing captures the monetary breakdown for a single variant/quantity.
// Tax is computed on the post-discount amount.
type LinePricing struct {
	BasePrice int64
	UnitPrice int64
	Quantity  int
	Subtotal  int64
	Discount  int64
	Tax       int64
	Total     int64
	Snapshot  LineSnapshot
}

// LineSnapshot records audit identifiers for a priced line.
type LineSnapshot struct {
	VariantID  string
	SKU        string
	CouponCode string
}

// CartPricing is the cart-level aggregation returned by the pricing engine.
// Granular tax operates on pre-discount per-item prices; the discrepancy with
// LinePricing's post-discount tax base is deliberate reference behaviour.
type CartPricing struct {
	Subtotal           int64
	Discount           int64
	TaxAmount          int64
	ShippingCost       int64
	Total              int64
	TaxJurisdiction    string
	TaxRateApplied     float64
	TaxType            string
	TaxLines           []TaxLine
	CouponCode         *string
	CalculationVersion string
}

// TaxLine is the per-item component of a granular tax computation.
type TaxLine struct {
	ItemID string
	Name   string
	Price  int64
	Tax    int64
}

// GranularTaxResult is returned by the tax engine for multi-item computations.
// A missing rate yields a zero result, never an error.
type GranularTaxResult struct {
	Lines        []TaxLine
	TotalTax     int64
	Jurisdiction string
	RateApplied  float64
	TaxType      string
}

// TaxableLine is the per-item input to granular tax computation.
type TaxableLine struct {
	ID    string
	Name  string
	Price int64
}
