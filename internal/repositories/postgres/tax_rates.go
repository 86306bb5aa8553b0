package postgres

import (
	"context"
	"database/sql"

	domain "github.com/cartforge/commerce/internal/domain"
)

// TaxRateRepository implements repositories.TaxRateRepository.
type TaxRateRepository struct {
	db *sql.DB
}

// NewTaxRateRepository wraps the pool.
func NewTaxRateRepository(db *sql.DB) *TaxRateRepository {
	return &TaxRateRepository{db: db}
}

// FindRate resolves (country, state), preferring the state-specific row and
// falling back to the country-level row with an empty state code.
func (r *TaxRateRepository) FindRate(ctx context.Context, countryCode, stateCode string) (domain.TaxRate, error) {
	var rate domain.TaxRate
	err := conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT country_code, state_code, rate, tax_type
		FROM tax_rates
		WHERE country_code = $1 AND state_code IN ($2, '')
		ORDER BY state_code DESC
		LIMIT 1
	`, countryCode, stateCode).Scan(&rate.CountryCode, &rate.StateCode, &rate.Rate, &rate.TaxType)
	if err != nil {
		return domain.TaxRate{}, mapError("tax rate find", err)
	}
	return rate, nil
}
