// Package config assembles runtime configuration from defaults, an optional
// .env file, and environment variables. There are no global accessors: the
// loaded struct is passed into constructors so behaviour is reproducible in
// tests without environment mutation.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile      = ".env"
	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second

	defaultRoundingMode    = "half_up"
	defaultRoundingStep    = int64(1)
	defaultFallbackTaxRate = 28.0
	defaultCurrency        = "INR"
	defaultMaxCODAmount    = int64(1_000_000)
	defaultSessionTTL      = 2 * time.Hour
	defaultReservationTTL  = 24 * time.Hour
	defaultKafkaTopic      = "commerce.events"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Kafka     KafkaConfig
	Stripe    StripeConfig
	Pricing   PricingConfig
	Checkout  CheckoutConfig
	Inventory InventoryConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// KafkaConfig holds the analytics stream settings. Empty brokers disable
// stream publishing.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// StripeConfig collects payment provider credentials.
type StripeConfig struct {
	APIKey string
}

// PricingConfig carries the pricing behaviour knobs.
type PricingConfig struct {
	RoundingMode string
	// RoundingStep is the minor-unit granularity the final total is rounded
	// to; 1 disables rounding.
	RoundingStep int64
	// FallbackTaxRate is the worst-case percentage the fail-safe computation
	// applies when normal pricing breaks.
	FallbackTaxRate float64
	DefaultCurrency string
	MaxCODAmount    int64
}

// CheckoutConfig controls checkout session behaviour.
type CheckoutConfig struct {
	SessionTTL time.Duration
}

// InventoryConfig controls reservation behaviour.
type InventoryConfig struct {
	ReservationTTL time.Duration
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values
// in the map take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided
// maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the application configuration by combining defaults, .env
// overrides and environment variables, then validates it.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "COMMERCE_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "COMMERCE_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "COMMERCE_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "COMMERCE_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Database: DatabaseConfig{
			URL:          stringWithDefault(lookup, "COMMERCE_POSTGRES_URL", ""),
			MaxOpenConns: intWithDefault(lookup, "COMMERCE_POSTGRES_MAX_OPEN_CONNS", 25),
			MaxIdleConns: intWithDefault(lookup, "COMMERCE_POSTGRES_MAX_IDLE_CONNS", 5),
		},
		Kafka: KafkaConfig{
			Brokers: csvWithDefault(lookup, "COMMERCE_KAFKA_BROKERS"),
			Topic:   stringWithDefault(lookup, "COMMERCE_KAFKA_TOPIC", defaultKafkaTopic),
		},
		Stripe: StripeConfig{
			APIKey: stringWithDefault(lookup, "COMMERCE_STRIPE_API_KEY", ""),
		},
		Pricing: PricingConfig{
			RoundingMode:    stringWithDefault(lookup, "COMMERCE_PRICING_ROUNDING_MODE", defaultRoundingMode),
			RoundingStep:    int64WithDefault(lookup, "COMMERCE_PRICING_ROUNDING_STEP", defaultRoundingStep),
			FallbackTaxRate: floatWithDefault(lookup, "COMMERCE_PRICING_FALLBACK_TAX_RATE", defaultFallbackTaxRate),
			DefaultCurrency: strings.ToUpper(stringWithDefault(lookup, "COMMERCE_PRICING_CURRENCY", defaultCurrency)),
			MaxCODAmount:    int64WithDefault(lookup, "COMMERCE_PRICING_MAX_COD_AMOUNT", defaultMaxCODAmount),
		},
		Checkout: CheckoutConfig{
			SessionTTL: durationWithDefault(lookup, "COMMERCE_CHECKOUT_SESSION_TTL", defaultSessionTTL),
		},
		Inventory: InventoryConfig{
			ReservationTTL: durationWithDefault(lookup, "COMMERCE_INVENTORY_RESERVATION_TTL", defaultReservationTTL),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if strings.TrimSpace(cfg.Database.URL) == "" {
		missing = append(missing, "Database.URL")
	}
	switch cfg.Pricing.RoundingMode {
	case "half_up", "half_down", "half_even":
	default:
		missing = append(missing, "Pricing.RoundingMode")
	}
	if cfg.Pricing.RoundingStep < 1 {
		missing = append(missing, "Pricing.RoundingStep")
	}
	if cfg.Pricing.FallbackTaxRate < 0 {
		missing = append(missing, "Pricing.FallbackTaxRate")
	}
	if cfg.Pricing.DefaultCurrency == "" {
		missing = append(missing, "Pricing.DefaultCurrency")
	}
	if cfg.Checkout.SessionTTL <= 0 {
		missing = append(missing, "Checkout.SessionTTL")
	}
	if cfg.Inventory.ReservationTTL <= 0 {
		missing = append(missing, "Inventory.ReservationTTL")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return fallback
}

func int64WithDefault(lookup func(string) (string, bool), key string, fallback int64) int64 {
	if value, ok := lookup(key); ok && value != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func floatWithDefault(lookup func(string) (string, bool), key string, fallback float64) float64 {
	if value, ok := lookup(key); ok && value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
