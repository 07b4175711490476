package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultSMTPPort      = 587
	defaultSMTPTimeout   = 15 * time.Second
	defaultInterval      = 30 * time.Second
	defaultBatchSize     = 25
	defaultMaxAttempts   = 5
	defaultRetryDelay    = time.Minute
	defaultPublicBaseURL = "http://localhost:3000"
	implicitTLSPort      = 465
)

// ErrInvalidConfig reports a notification configuration that cannot be used.
var ErrInvalidConfig = errors.New("invalid notify config")

// Config describes the SMTP relay and the outbox delivery policy.
type Config struct {
	From          string
	SMTPHost      string
	SMTPPort      int
	SMTPTimeout   time.Duration
	Username      string
	Password      string
	Interval      time.Duration
	BatchSize     int
	MaxAttempts   int
	RetryDelay    time.Duration
	PublicBaseURL string
}

// Validate fills defaults and rejects unusable values.
func (cfg *Config) Validate() error {
	cfg.From = strings.TrimSpace(cfg.From)
	cfg.SMTPHost = strings.TrimSpace(cfg.SMTPHost)
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = defaultPublicBaseURL
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = defaultSMTPPort
	}
	if cfg.SMTPTimeout <= 0 {
		cfg.SMTPTimeout = defaultSMTPTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if !strings.Contains(cfg.From, "@") {
		return fmt.Errorf("%w: sender address is required", ErrInvalidConfig)
	}
	if cfg.SMTPPort < 0 || cfg.SMTPPort > 65535 {
		return fmt.Errorf("%w: smtp port %d", ErrInvalidConfig, cfg.SMTPPort)
	}
	return nil
}

// Enabled reports whether an SMTP relay is configured.
func (cfg Config) Enabled() bool {
	return cfg.SMTPHost != ""
}
