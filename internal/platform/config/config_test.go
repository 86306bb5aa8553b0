package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFromMap(t *testing.T, values map[string]string) (Config, error) {
	t.Helper()
	return Load(WithEnvFile(""), WithoutSystemEnv(), WithEnvMap(values))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadFromMap(t, map[string]string{
		"COMMERCE_POSTGRES_URL": "postgres://localhost:5432/commerce?sslmode=disable",
	})
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5, cfg.Database.MaxIdleConns)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "commerce.events", cfg.Kafka.Topic)
	assert.Equal(t, "half_up", cfg.Pricing.RoundingMode)
	assert.Equal(t, int64(1), cfg.Pricing.RoundingStep)
	assert.Equal(t, 28.0, cfg.Pricing.FallbackTaxRate)
	assert.Equal(t, "INR", cfg.Pricing.DefaultCurrency)
	assert.Equal(t, int64(1_000_000), cfg.Pricing.MaxCODAmount)
	assert.Equal(t, 2*time.Hour, cfg.Checkout.SessionTTL)
	assert.Equal(t, 24*time.Hour, cfg.Inventory.ReservationTTL)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := loadFromMap(t, map[string]string{
		"COMMERCE_POSTGRES_URL":              "postgres://db:5432/commerce",
		"COMMERCE_SERVER_PORT":               "9090",
		"COMMERCE_SERVER_READ_TIMEOUT":       "5s",
		"COMMERCE_KAFKA_BROKERS":             "broker-1:9092, broker-2:9092,",
		"COMMERCE_KAFKA_TOPIC":               "orders.analytics",
		"COMMERCE_PRICING_ROUNDING_MODE":     "half_even",
		"COMMERCE_PRICING_ROUNDING_STEP":     "100",
		"COMMERCE_PRICING_FALLBACK_TAX_RATE": "18.5",
		"COMMERCE_PRICING_CURRENCY":          "usd",
		"COMMERCE_PRICING_MAX_COD_AMOUNT":    "250000",
		"COMMERCE_CHECKOUT_SESSION_TTL":      "45m",
		"COMMERCE_INVENTORY_RESERVATION_TTL": "6h",
	})
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "orders.analytics", cfg.Kafka.Topic)
	assert.Equal(t, "half_even", cfg.Pricing.RoundingMode)
	assert.Equal(t, int64(100), cfg.Pricing.RoundingStep)
	assert.Equal(t, 18.5, cfg.Pricing.FallbackTaxRate)
	assert.Equal(t, "USD", cfg.Pricing.DefaultCurrency)
	assert.Equal(t, int64(250000), cfg.Pricing.MaxCODAmount)
	assert.Equal(t, 45*time.Minute, cfg.Checkout.SessionTTL)
	assert.Equal(t, 6*time.Hour, cfg.Inventory.ReservationTTL)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]string
		field  string
	}{
		{
			name:   "missing database url",
			values: map[string]string{},
			field:  "Database.URL",
		},
		{
			name: "unknown rounding mode",
			values: map[string]string{
				"COMMERCE_POSTGRES_URL":          "postgres://db/commerce",
				"COMMERCE_PRICING_ROUNDING_MODE": "bankers",
			},
			field: "Pricing.RoundingMode",
		},
		{
			name: "rounding step below one",
			values: map[string]string{
				"COMMERCE_POSTGRES_URL":          "postgres://db/commerce",
				"COMMERCE_PRICING_ROUNDING_STEP": "0",
			},
			field: "Pricing.RoundingStep",
		},
		{
			name: "negative fallback tax rate",
			values: map[string]string{
				"COMMERCE_POSTGRES_URL":              "postgres://db/commerce",
				"COMMERCE_PRICING_FALLBACK_TAX_RATE": "-1",
			},
			field: "Pricing.FallbackTaxRate",
		},
		{
			name: "non-positive session ttl",
			values: map[string]string{
				"COMMERCE_POSTGRES_URL":         "postgres://db/commerce",
				"COMMERCE_CHECKOUT_SESSION_TTL": "-1h",
			},
			field: "Checkout.SessionTTL",
		},
		{
			name: "non-positive reservation ttl",
			values: map[string]string{
				"COMMERCE_POSTGRES_URL":              "postgres://db/commerce",
				"COMMERCE_INVENTORY_RESERVATION_TTL": "0s",
			},
			field: "Inventory.ReservationTTL",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadFromMap(t, tc.values)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Contains(t, verr.Fields(), tc.field)
		})
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\n" +
		"export COMMERCE_POSTGRES_URL=postgres://localhost/commerce\n" +
		"COMMERCE_SERVER_PORT=\"3000\"\n" +
		"COMMERCE_PRICING_CURRENCY='eur'\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(WithEnvFile(path), WithoutSystemEnv())
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/commerce", cfg.Database.URL)
	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, "EUR", cfg.Pricing.DefaultCurrency)
}

func TestLoad_EnvMapWinsOverDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("COMMERCE_SERVER_PORT=3000\n"), 0o600))

	cfg, err := Load(
		WithEnvFile(path),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{
			"COMMERCE_POSTGRES_URL": "postgres://db/commerce",
			"COMMERCE_SERVER_PORT":  "4000",
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, "4000", cfg.Server.Port)
}
