package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/castoff/charterpay/internal/auditlog"
	"github.com/castoff/charterpay/internal/eventcache"
	"github.com/castoff/charterpay/internal/httpapi"
	"github.com/castoff/charterpay/internal/notify"
	"github.com/castoff/charterpay/internal/payments/stripegateway"
	"github.com/castoff/charterpay/pkg/booking"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	flagDatabaseURL          = "database-url"
	flagStoreDriver          = "store-driver"
	flagAutoMigrate          = "auto-migrate"
	flagListenAddr           = "listen-addr"
	flagGRPCHealthAddr       = "grpc-health-addr"
	flagAllowedOrigins       = "allowed-origins"
	flagJWTSigningKey        = "jwt-signing-key"
	flagJWTIssuer            = "jwt-issuer"
	flagJWTCookieName        = "jwt-cookie-name"
	flagPublicBaseURL        = "public-base-url"
	flagStripeSecretKey      = "stripe-secret-key"
	flagStripeWebhookSecret  = "stripe-webhook-secret"
	flagStripeWebhookWindow  = "stripe-webhook-tolerance"
	flagPlatformFeeBps       = "platform-fee-bps"
	flagCurrency             = "currency"
	flagPaymentMaxAttempts   = "payment-max-attempts"
	flagPaymentTimeout       = "payment-timeout"
	flagSMTPHost             = "smtp-host"
	flagSMTPPort             = "smtp-port"
	flagSMTPUsername         = "smtp-username"
	flagSMTPPassword         = "smtp-password"
	flagMailFrom             = "mail-from"
	flagNotificationInterval = "notification-interval"
	flagRedisURL             = "redis-url"
	flagIntentLease          = "intent-lease"
	envPrefix                = "CHARTERD"
	defaultDatabaseURL       = "sqlite:///tmp/charterpay.db"
	storeDriverGorm          = "gorm"
	storeDriverPgx           = "pgx"
)

type runtimeConfig struct {
	Database       databaseTarget
	AutoMigrate    bool
	GRPCHealthAddr string
	RedisURL       string
	IntentLease    time.Duration
	HTTP           httpapi.Config
	Stripe         stripegateway.Config
	Notify         notify.Config
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "charterd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "charterd",
		Short:         "Charter booking deposit and hold service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL connection string or sqlite path")
	cmd.PersistentFlags().Bool(flagAutoMigrate, false, "create or update tables on PostgreSQL (sqlite always migrates)")

	cmd.AddCommand(newServeCommand(), newCatalogCommand(), newTokenCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the booking HTTP API, webhook receiver and notification dispatcher",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.String(flagStoreDriver, storeDriverGorm, "booking store implementation: gorm or pgx")
	flags.String(flagListenAddr, ":8080", "HTTP listen address")
	flags.String(flagGRPCHealthAddr, "", "gRPC health listen address (disabled when empty)")
	flags.String(flagAllowedOrigins, "http://localhost:3000", "comma-separated list of allowed CORS origins")
	flags.String(flagJWTSigningKey, "", "HS256 key for operator session tokens (required)")
	flags.String(flagJWTIssuer, "charterpay", "expected operator token issuer")
	flags.String(flagJWTCookieName, "charter_session", "operator session cookie name")
	flags.String(flagPublicBaseURL, "http://localhost:3000", "public site URL used in checkout redirects and emails")
	flags.String(flagStripeSecretKey, "", "Stripe secret API key (required)")
	flags.String(flagStripeWebhookSecret, "", "Stripe webhook signing secret (required)")
	flags.Duration(flagStripeWebhookWindow, 5*time.Minute, "maximum webhook signature age")
	flags.Int64(flagPlatformFeeBps, 0, "platform application fee in basis points")
	flags.String(flagCurrency, "usd", "charge currency")
	flags.Int(flagPaymentMaxAttempts, 3, "attempts per processor call under one idempotency key")
	flags.Duration(flagPaymentTimeout, 10*time.Second, "per-attempt processor timeout")
	flags.String(flagSMTPHost, "", "SMTP relay host (notifications stay queued when empty)")
	flags.Int(flagSMTPPort, 587, "SMTP relay port")
	flags.String(flagSMTPUsername, "", "SMTP username")
	flags.String(flagSMTPPassword, "", "SMTP password")
	flags.String(flagMailFrom, "", "notification sender address")
	flags.Duration(flagNotificationInterval, 30*time.Second, "notification outbox poll interval")
	flags.String(flagRedisURL, "", "redis URL for the webhook event cache (disabled when empty)")
	flags.Duration(flagIntentLease, 0, "lease on an in-flight processor call before another caller may retry it")

	return cmd
}

func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	return v, nil
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}

	if cfg.Database, err = parseDatabaseTarget(v.GetString(flagDatabaseURL), v.GetString(flagStoreDriver)); err != nil {
		return err
	}
	cfg.AutoMigrate = v.GetBool(flagAutoMigrate)
	cfg.GRPCHealthAddr = strings.TrimSpace(v.GetString(flagGRPCHealthAddr))
	cfg.RedisURL = strings.TrimSpace(v.GetString(flagRedisURL))
	cfg.IntentLease = v.GetDuration(flagIntentLease)
	publicBaseURL := strings.TrimSpace(v.GetString(flagPublicBaseURL))

	cfg.HTTP = httpapi.Config{
		ListenAddr:     strings.TrimSpace(v.GetString(flagListenAddr)),
		AllowedOrigins: httpapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins)),
		JWTSigningKey:  v.GetString(flagJWTSigningKey),
		JWTIssuer:      strings.TrimSpace(v.GetString(flagJWTIssuer)),
		JWTCookieName:  strings.TrimSpace(v.GetString(flagJWTCookieName)),
	}
	if err := cfg.HTTP.Validate(); err != nil {
		return err
	}

	cfg.Stripe = stripegateway.Config{
		SecretKey:        strings.TrimSpace(v.GetString(flagStripeSecretKey)),
		WebhookSecret:    strings.TrimSpace(v.GetString(flagStripeWebhookSecret)),
		WebhookTolerance: v.GetDuration(flagStripeWebhookWindow),
		Currency:         strings.TrimSpace(v.GetString(flagCurrency)),
		PlatformFeeBps:   v.GetInt64(flagPlatformFeeBps),
		MaxAttempts:      v.GetInt(flagPaymentMaxAttempts),
		RequestTimeout:   v.GetDuration(flagPaymentTimeout),
		PublicBaseURL:    publicBaseURL,
	}
	if err := cfg.Stripe.Validate(); err != nil {
		return err
	}

	cfg.Notify = notify.Config{
		From:          strings.TrimSpace(v.GetString(flagMailFrom)),
		SMTPHost:      strings.TrimSpace(v.GetString(flagSMTPHost)),
		SMTPPort:      v.GetInt(flagSMTPPort),
		Username:      v.GetString(flagSMTPUsername),
		Password:      v.GetString(flagSMTPPassword),
		Interval:      v.GetDuration(flagNotificationInterval),
		PublicBaseURL: publicBaseURL,
	}
	if cfg.Notify.Enabled() {
		return cfg.Notify.Validate()
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := cfg.Database.open(ctx, cfg.AutoMigrate)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = db.close() }()
	catalogStore := db.catalog
	bookingStore := db.bookings()

	gateway, err := stripegateway.New(cfg.Stripe, logger.Named("stripe"))
	if err != nil {
		return fmt.Errorf("payment gateway init: %w", err)
	}
	verifier, err := stripegateway.NewWebhookVerifier(cfg.Stripe)
	if err != nil {
		return fmt.Errorf("webhook verifier init: %w", err)
	}

	templates, err := notify.NewTemplates(cfg.Notify.PublicBaseURL)
	if err != nil {
		return fmt.Errorf("notification templates: %w", err)
	}
	notifier, err := notify.NewOutboxNotifier(catalogStore, templates, time.Now)
	if err != nil {
		return fmt.Errorf("notifier init: %w", err)
	}

	bookingService, err := booking.NewService(bookingStore, gateway, time.Now,
		booking.WithOperationLogger(auditlog.New(logger)),
		booking.WithNotifier(notifier),
		booking.WithIntentLease(cfg.IntentLease),
	)
	if err != nil {
		return fmt.Errorf("booking service init: %w", err)
	}

	if cfg.Notify.Enabled() {
		sender, err := notify.NewSMTPSender(cfg.Notify)
		if err != nil {
			return fmt.Errorf("smtp sender init: %w", err)
		}
		dispatcher, err := notify.NewDispatcher(catalogStore, sender, cfg.Notify, logger.Named("notify"), time.Now)
		if err != nil {
			return fmt.Errorf("notification dispatcher init: %w", err)
		}
		if err := dispatcher.Start(ctx); err != nil {
			return fmt.Errorf("notification dispatcher start: %w", err)
		}
		defer func() {
			if err := dispatcher.Shutdown(); err != nil {
				logger.Warn("notification dispatcher shutdown", zap.Error(err))
			}
		}()
	} else {
		logger.Warn("smtp relay not configured; notifications stay queued in the outbox")
	}

	deps := httpapi.Dependencies{
		Service:   bookingService,
		Operators: catalogStore,
		Verifier:  verifier,
		Logger:    logger.Named("http"),
	}
	if cfg.RedisURL != "" {
		cache, err := eventcache.Open(ctx, cfg.RedisURL, 0)
		if err != nil {
			return fmt.Errorf("event cache: %w", err)
		}
		defer func() { _ = cache.Close() }()
		deps.Cache = cache
	}

	if cfg.GRPCHealthAddr != "" {
		stopHealth, err := startHealthServer(cfg.GRPCHealthAddr, logger)
		if err != nil {
			return err
		}
		defer stopHealth()
	}

	return httpapi.Run(ctx, cfg.HTTP, deps)
}

// startHealthServer serves grpc.health.v1 until the returned stop function runs.
func startHealthServer(addr string, logger *zap.Logger) (func(), error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("health listen: %w", err)
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go func() {
		logger.Info("gRPC health server starting", zap.String("listen_addr", addr))
		if serveErr := grpcServer.Serve(lis); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			logger.Error("gRPC health server stopped", zap.Error(serveErr))
		}
	}()
	return func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
	}, nil
}
