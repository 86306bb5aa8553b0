package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	domain "github.com/cartforge/commerce/internal/domain"
	"github.com/cartforge/commerce/internal/repositories"
)

// TaxEngineDeps bundles collaborators for construction.
type TaxEngineDeps struct {
	Rates  repositories.TaxRateRepository
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// TaxEngine resolves jurisdiction rates and computes tax amounts in minor
// units. It is stateless per call and never returns an error to pricing:
// unresolvable jurisdictions yield zero tax.
type TaxEngine struct {
	rates  repositories.TaxRateRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewTaxEngine validates dependencies and applies defaults.
func NewTaxEngine(deps TaxEngineDeps) (*TaxEngine, error) {
	if deps.Rates == nil {
		return nil, errors.New("tax engine: tax rate repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &TaxEngine{
		rates:  deps.Rates,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

// Calculate returns the tax on amount for the jurisdiction, rounded half-up.
// A nil jurisdiction or an unresolvable rate yields 0.
func (e *TaxEngine) Calculate(ctx context.Context, amount int64, j *domain.Jurisdiction) int64 {
	if j == nil || amount <= 0 {
		return 0
	}
	rate, err := e.resolveRate(ctx, j.CountryCode, j.StateCode)
	if err != nil {
		return 0
	}
	return taxFor(amount, rate.Rate)
}

// CalculateGranular computes per-item tax with one rate resolved for the
// jurisdiction; mixed per-category rates are not supported. A missing rate
// yields a zero result with a warning log, never an error.
func (e *TaxEngine) CalculateGranular(ctx context.Context, items []domain.TaxableLine, countryCode, stateCode string) domain.GranularTaxResult {
	jurisdiction := domain.Jurisdiction{CountryCode: countryCode, StateCode: stateCode}

	rate, err := e.resolveRate(ctx, countryCode, stateCode)
	if err != nil {
		e.logger(ctx, "tax.rate_missing", map[string]any{
			"jurisdiction": jurisdiction.String(),
			"items":        len(items),
		})
		return domain.GranularTaxResult{
			Lines:        []domain.TaxLine{},
			Jurisdiction: jurisdiction.String(),
		}
	}

	lines := make([]domain.TaxLine, 0, len(items))
	var total int64
	for _, item := range items {
		tax := taxFor(item.Price, rate.Rate)
		total += tax
		lines = append(lines, domain.TaxLine{
			ItemID: item.ID,
			Name:   item.Name,
			Price:  item.Price,
			Tax:    tax,
		})
	}

	return domain.GranularTaxResult{
		Lines:        lines,
		TotalTax:     total,
		Jurisdiction: jurisdiction.String(),
		RateApplied:  rate.Rate,
		TaxType:      rate.TaxType,
	}
}

// resolveRate looks up (country, state) and falls back to the country-level
// row when no state-specific rate exists.
func (e *TaxEngine) resolveRate(ctx context.Context, countryCode, stateCode string) (domain.TaxRate, error) {
	country := strings.ToUpper(strings.TrimSpace(countryCode))
	state := strings.ToUpper(strings.TrimSpace(stateCode))
	if country == "" {
		return domain.TaxRate{}, errors.New("tax engine: country code is required")
	}
	return e.rates.FindRate(ctx, country, state)
}

// taxFor rounds half-up, matching the reference computation.
func taxFor(amount int64, ratePercent float64) int64 {
	if amount <= 0 || ratePercent <= 0 {
		return 0
	}
	return int64(math.Floor(float64(amount)*ratePercent/100 + 0.5))
}
