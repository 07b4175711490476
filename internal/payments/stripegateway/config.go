package stripegateway

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultCurrency         = "usd"
	defaultMaxAttempts      = 3
	defaultInitialInterval  = 200 * time.Millisecond
	defaultMaxInterval      = 2 * time.Second
	defaultRequestTimeout   = 10 * time.Second
	defaultWebhookTolerance = 5 * time.Minute
	defaultPublicBaseURL    = "http://localhost:3000"
	maxPlatformFeeBps       = 10000
)

// ErrInvalidConfig reports a gateway configuration that cannot be used.
var ErrInvalidConfig = errors.New("invalid stripe gateway config")

// Config carries the processor credentials and retry policy. Keys are injected by the caller.
type Config struct {
	SecretKey        string
	WebhookSecret    string
	WebhookTolerance time.Duration
	Currency         string
	PlatformFeeBps   int64
	MaxAttempts      int
	InitialInterval  time.Duration
	MaxInterval      time.Duration
	RequestTimeout   time.Duration
	PublicBaseURL    string
	APIBaseURL       string
}

// Validate fills defaults and rejects unusable values.
func (cfg *Config) Validate() error {
	cfg.Currency = strings.ToLower(defaultIfEmpty(cfg.Currency, defaultCurrency))
	cfg.PublicBaseURL = strings.TrimRight(defaultIfEmpty(cfg.PublicBaseURL, defaultPublicBaseURL), "/")
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = defaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = defaultMaxInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.WebhookTolerance <= 0 {
		cfg.WebhookTolerance = defaultWebhookTolerance
	}
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return fmt.Errorf("%w: secret key is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return fmt.Errorf("%w: webhook secret is required", ErrInvalidConfig)
	}
	if cfg.PlatformFeeBps < 0 || cfg.PlatformFeeBps > maxPlatformFeeBps {
		return fmt.Errorf("%w: platform fee bps %d out of range", ErrInvalidConfig, cfg.PlatformFeeBps)
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
