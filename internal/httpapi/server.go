package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/castoff/charterpay/pkg/booking"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const signatureHeader = "Stripe-Signature"

// BookingService is the lifecycle surface the handlers drive.
type BookingService interface {
	SubmitBooking(ctx context.Context, request booking.SubmitRequest) (booking.SubmitResult, error)
	Quote(ctx context.Context, request booking.QuoteRequest) (booking.PriceBreakdown, error)
	GetBooking(ctx context.Context, operatorID booking.OperatorID, bookingID booking.BookingID) (booking.Booking, error)
	ListBookings(ctx context.Context, operatorID booking.OperatorID, filter booking.BookingFilter) ([]booking.Booking, error)
	ApplyAction(ctx context.Context, request booking.ActionRequest) (booking.ActionResult, error)
	ApplyHoldAction(ctx context.Context, request booking.HoldActionRequest) (booking.ActionResult, error)
	PlaceHold(ctx context.Context, request booking.PlaceHoldRequest) (booking.Booking, error)
	ReconcileEvent(ctx context.Context, event booking.ProcessorEvent) (booking.ReconcileOutcome, error)
}

// OperatorDirectory resolves public booking-page slugs.
type OperatorDirectory interface {
	GetOperatorBySlug(ctx context.Context, slug string) (booking.Operator, error)
}

// EventVerifier authenticates and decodes a processor webhook.
type EventVerifier interface {
	Verify(payload []byte, signatureHeader string) (booking.ProcessorEvent, error)
}

// EventCache short-circuits redelivered webhook events. Optional.
type EventCache interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) (bool, error)
}

// Dependencies groups the collaborators of the HTTP API.
type Dependencies struct {
	Service   BookingService
	Operators OperatorDirectory
	Verifier  EventVerifier
	Cache     EventCache
	Logger    *zap.Logger
}

// Run serves the API until ctx is cancelled.
func Run(ctx context.Context, cfg Config, deps Dependencies) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	router, err := NewRouter(cfg, deps)
	if err != nil {
		return err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter validates cfg and builds the gin engine.
func NewRouter(cfg Config, deps Dependencies) (*gin.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Service == nil || deps.Operators == nil || deps.Verifier == nil {
		return nil, fmt.Errorf("%w: service, operators and verifier are required", ErrInvalidConfig)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	handler := &httpHandler{
		logger:    deps.Logger,
		service:   deps.Service,
		operators: deps.Operators,
		verifier:  deps.Verifier,
		cache:     deps.Cache,
		cfg:       cfg,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.POST("/checkout", handler.handleCheckout)
	api.POST("/pricing/quote", handler.handleQuote)
	api.POST("/webhook", handler.handleWebhook)

	operator := api.Group("")
	operator.Use(operatorAuth(cfg))
	operator.GET("/bookings", handler.handleListBookings)
	operator.GET("/bookings/:id", handler.handleGetBooking)
	operator.PATCH("/bookings/:id", handler.handleAction)
	operator.POST("/bookings/:id/holds/:kind", handler.handlePlaceHold)
	operator.POST("/booking/:action", handler.handleHoldAction)

	return router, nil
}
