package stripegateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/castoff/charterpay/pkg/booking"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	errorMismatch     = "expected %v, got %v"
	testSecretKey     = "sk_test_charterpay"
	testWebhookSecret = "whsec_test_charterpay"
	testIntentID      = "pi_test_1"
)

type recordedRequest struct {
	method         string
	path           string
	form           map[string]string
	idempotencyKey string
}

type fakeStripe struct {
	mu        sync.Mutex
	requests  []recordedRequest
	responses map[string][]fakeResponse
}

type fakeResponse struct {
	status int
	body   string
	delay  time.Duration
}

func newFakeStripe(test *testing.T) (*fakeStripe, *httptest.Server) {
	test.Helper()
	fake := &fakeStripe{responses: map[string][]fakeResponse{}}
	server := httptest.NewServer(http.HandlerFunc(fake.serve))
	test.Cleanup(server.Close)
	return fake, server
}

// respond queues responses for "METHOD /path"; the last one repeats once the queue drains.
func (fake *fakeStripe) respond(route string, responses ...fakeResponse) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.responses[route] = responses
}

func (fake *fakeStripe) serve(writer http.ResponseWriter, request *http.Request) {
	_ = request.ParseForm()
	form := map[string]string{}
	for key, values := range request.PostForm {
		form[key] = values[0]
	}
	route := request.Method + " " + request.URL.Path
	fake.mu.Lock()
	fake.requests = append(fake.requests, recordedRequest{
		method:         request.Method,
		path:           request.URL.Path,
		form:           form,
		idempotencyKey: request.Header.Get("Idempotency-Key"),
	})
	queue := fake.responses[route]
	response := fakeResponse{status: http.StatusNotFound, body: `{"error":{"type":"invalid_request_error","code":"resource_missing"}}`}
	if len(queue) > 0 {
		response = queue[0]
		if len(queue) > 1 {
			fake.responses[route] = queue[1:]
		}
	}
	fake.mu.Unlock()
	if response.delay > 0 {
		time.Sleep(response.delay)
	}
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(response.status)
	_, _ = writer.Write([]byte(response.body))
}

func (fake *fakeStripe) recorded() []recordedRequest {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	return append([]recordedRequest(nil), fake.requests...)
}

func newTestGateway(test *testing.T, server *httptest.Server, mutate func(cfg *Config)) *Gateway {
	test.Helper()
	cfg := Config{
		SecretKey:       testSecretKey,
		WebhookSecret:   testWebhookSecret,
		PlatformFeeBps:  500,
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		RequestTimeout:  2 * time.Second,
		PublicBaseURL:   "https://charter.example.com/",
		APIBaseURL:      server.URL,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	gateway, err := New(cfg, zap.NewNop())
	if err != nil {
		test.Fatalf("gateway init failed: %v", err)
	}
	return gateway
}

func intentBody(status string, amountReceived int64) string {
	return fmt.Sprintf(`{"id":%q,"object":"payment_intent","status":%q,"amount":10000,"amount_received":%d}`, testIntentID, status, amountReceived)
}

func mustRef(test *testing.T, raw string) booking.PaymentRef {
	test.Helper()
	ref, err := booking.NewPaymentRef(raw)
	if err != nil {
		test.Fatalf("payment ref: %v", err)
	}
	return ref
}

func authorizationRequest(paymentMethod string) booking.AuthorizationRequest {
	bookingID, _ := booking.NewBookingID("booking-1")
	operatorID, _ := booking.NewOperatorID("op-1")
	return booking.AuthorizationRequest{
		BookingID:      bookingID,
		OperatorID:     operatorID,
		OperatorSlug:   "angelo",
		Hold:           booking.HoldKindDeposit,
		Amount:         10000,
		Destination:    "acct_operator",
		Customer:       booking.Customer{Name: "Dana", Email: "dana@example.com"},
		Description:    "Bahamas Water Tours - half-am on 2026-02-20.",
		PaymentMethod:  paymentMethod,
		IdempotencyKey: "booking-1:authorize:deposit:1",
		Metadata:       map[string]string{booking.MetadataBookingID: "booking-1", booking.MetadataHoldKind: "deposit"},
	}
}

func TestConfigValidate(test *testing.T) {
	test.Parallel()

	cfg := Config{SecretKey: "sk", WebhookSecret: "whsec", Currency: "USD"}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if cfg.Currency != "usd" || cfg.MaxAttempts != defaultMaxAttempts || cfg.WebhookTolerance != defaultWebhookTolerance {
		test.Fatalf("defaults not applied: %+v", cfg)
	}
	invalid := []Config{
		{WebhookSecret: "whsec"},
		{SecretKey: "sk"},
		{SecretKey: "sk", WebhookSecret: "whsec", PlatformFeeBps: 20000},
	}
	for _, candidate := range invalid {
		candidate := candidate
		if err := candidate.Validate(); !errors.Is(err, ErrInvalidConfig) {
			test.Fatalf(errorMismatch, ErrInvalidConfig, err)
		}
	}
}

func TestAuthorizeWithPaymentMethod(test *testing.T) {
	test.Parallel()
	fake, server := newFakeStripe(test)
	fake.respond("POST /v1/payment_intents", fakeResponse{status: http.StatusOK, body: intentBody("requires_capture", 0)})
	gateway := newTestGateway(test, server, nil)

	authorization, err := gateway.Authorize(context.Background(), authorizationRequest("pm_card_visa"))
	if err != nil {
		test.Fatalf("authorize failed: %v", err)
	}
	if authorization.Ref.String() != testIntentID || authorization.Status != booking.PaymentStatusAuthorized {
		test.Fatalf("unexpected authorization %+v", authorization)
	}
	requests := fake.recorded()
	if len(requests) != 1 {
		test.Fatalf(errorMismatch, 1, len(requests))
	}
	form := requests[0].form
	expected := map[string]string{
		"amount":                     "10000",
		"capture_method":             "manual",
		"confirm":                    "true",
		"payment_method":             "pm_card_visa",
		"transfer_data[destination]": "acct_operator",
		"application_fee_amount":     "500",
		"metadata[booking_id]":       "booking-1",
		"currency":                   "usd",
		"receipt_email":              "dana@example.com",
		"payment_method_types[0]":    "card",
	}
	for key, value := range expected {
		if form[key] != value {
			test.Fatalf("form %s: "+errorMismatch, key, value, form[key])
		}
	}
	if requests[0].idempotencyKey != "booking-1:authorize:deposit:1" {
		test.Fatalf(errorMismatch, "booking-1:authorize:deposit:1", requests[0].idempotencyKey)
	}
}

func TestAuthorizeStartsCheckoutWithoutPaymentMethod(test *testing.T) {
	test.Parallel()
	fake, server := newFakeStripe(test)
	fake.respond("POST /v1/checkout/sessions", fakeResponse{
		status: http.StatusOK,
		body:   `{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/cs_test_1"}`,
	})
	gateway := newTestGateway(test, server, func(cfg *Config) { cfg.PlatformFeeBps = 0 })

	request := authorizationRequest("")
	request.Destination = ""
	authorization, err := gateway.Authorize(context.Background(), request)
	if err != nil {
		test.Fatalf("checkout failed: %v", err)
	}
	if authorization.CheckoutSessionRef != "cs_test_1" || authorization.RedirectURL == "" || !authorization.Ref.IsZero() {
		test.Fatalf("unexpected authorization %+v", authorization)
	}
	if authorization.Status != booking.PaymentStatusPending {
		test.Fatalf(errorMismatch, booking.PaymentStatusPending, authorization.Status)
	}
	form := fake.recorded()[0].form
	if form["payment_intent_data[capture_method]"] != "manual" || form["payment_intent_data[metadata][booking_id]"] != "booking-1" {
		test.Fatalf("payment intent data missing: %v", form)
	}
	if form["success_url"] != "https://charter.example.com/book/angelo/confirmation?session_id={CHECKOUT_SESSION_ID}" {
		test.Fatalf("unexpected success url %q", form["success_url"])
	}
	if _, ok := form["payment_intent_data[transfer_data][destination]"]; ok {
		test.Fatalf("platform-held checkout must not carry a destination")
	}
}

func TestRetriesReuseIdempotencyKey(test *testing.T) {
	test.Parallel()
	fake, server := newFakeStripe(test)
	fake.respond("POST /v1/payment_intents/"+testIntentID+"/capture",
		fakeResponse{status: http.StatusTooManyRequests, body: `{"error":{"type":"invalid_request_error","code":"rate_limit"}}`},
		fakeResponse{status: http.StatusOK, body: intentBody("succeeded", 10000)},
	)
	gateway := newTestGateway(test, server, nil)

	result, err := gateway.Capture(context.Background(), booking.CaptureRequest{Ref: mustRef(test, testIntentID), IdempotencyKey: "booking-1:capture:deposit:2"})
	if err != nil {
		test.Fatalf("capture failed: %v", err)
	}
	if result.Status != booking.PaymentStatusCaptured || result.AmountCaptured != 10000 {
		test.Fatalf("unexpected capture %+v", result)
	}
	requests := fake.recorded()
	if len(requests) != 2 {
		test.Fatalf(errorMismatch, 2, len(requests))
	}
	for _, request := range requests {
		if request.idempotencyKey != "booking-1:capture:deposit:2" {
			test.Fatalf("retry changed idempotency key: %q", request.idempotencyKey)
		}
	}
}

func TestErrorClassification(test *testing.T) {
	test.Parallel()

	testCases := []struct {
		name     string
		status   int
		body     string
		kind     error
		attempts int
	}{
		{name: "card declined", status: http.StatusPaymentRequired, body: `{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds"}}`, kind: booking.ErrPaymentDeclined, attempts: 1},
		{name: "unexpected state", status: http.StatusBadRequest, body: `{"error":{"type":"invalid_request_error","code":"payment_intent_unexpected_state"}}`, kind: booking.ErrPaymentAlreadyFinalized, attempts: 1},
		{name: "missing", status: http.StatusNotFound, body: `{"error":{"type":"invalid_request_error","code":"resource_missing"}}`, kind: booking.ErrPaymentNotFound, attempts: 1},
		{name: "invalid", status: http.StatusBadRequest, body: `{"error":{"type":"invalid_request_error","code":"parameter_invalid_integer"}}`, kind: booking.ErrPaymentInvalidRequest, attempts: 1},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"error":{"type":"invalid_request_error","code":"rate_limit"}}`, kind: booking.ErrPaymentTransient, attempts: 3},
		{name: "lock timeout", status: http.StatusBadRequest, body: `{"error":{"type":"invalid_request_error","code":"lock_timeout"}}`, kind: booking.ErrPaymentTransient, attempts: 3},
		{name: "server error", status: http.StatusServiceUnavailable, body: `{"error":{"type":"api_error"}}`, kind: booking.ErrPaymentAmbiguous, attempts: 1},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			fake, server := newFakeStripe(test)
			fake.respond("POST /v1/payment_intents/"+testIntentID+"/capture", fakeResponse{status: testCase.status, body: testCase.body})
			gateway := newTestGateway(test, server, nil)

			_, err := gateway.Capture(context.Background(), booking.CaptureRequest{Ref: mustRef(test, testIntentID), IdempotencyKey: "key"})
			if !errors.Is(err, testCase.kind) {
				test.Fatalf(errorMismatch, testCase.kind, err)
			}
			if got := len(fake.recorded()); got != testCase.attempts {
				test.Fatalf("attempts: "+errorMismatch, testCase.attempts, got)
			}
		})
	}
}

func TestCaptureTimeoutIsNotResent(test *testing.T) {
	test.Parallel()
	fake, server := newFakeStripe(test)
	fake.respond("POST /v1/payment_intents/"+testIntentID+"/capture",
		fakeResponse{status: http.StatusOK, body: intentBody("succeeded", 10000), delay: 300 * time.Millisecond},
	)
	gateway := newTestGateway(test, server, func(cfg *Config) {
		cfg.RequestTimeout = 50 * time.Millisecond
	})

	_, err := gateway.Capture(context.Background(), booking.CaptureRequest{Ref: mustRef(test, testIntentID), IdempotencyKey: "booking-1:capture:deposit:2"})
	if !errors.Is(err, booking.ErrPaymentAmbiguous) {
		test.Fatalf(errorMismatch, booking.ErrPaymentAmbiguous, err)
	}
	if got := len(fake.recorded()); got != 1 {
		test.Fatalf("attempts: "+errorMismatch, 1, got)
	}
}

func TestSDKLogsRouteThroughLogger(test *testing.T) {
	test.Parallel()
	fake, server := newFakeStripe(test)
	fake.respond("POST /v1/payment_intents/"+testIntentID+"/capture", fakeResponse{
		status: http.StatusBadRequest,
		body:   `{"error":{"type":"invalid_request_error","code":"parameter_invalid_integer"}}`,
	})
	core, logs := observer.New(zapcore.DebugLevel)
	gateway, err := New(Config{
		SecretKey:       testSecretKey,
		WebhookSecret:   testWebhookSecret,
		MaxAttempts:     1,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		RequestTimeout:  2 * time.Second,
		PublicBaseURL:   "https://charter.example.com",
		APIBaseURL:      server.URL,
	}, zap.New(core))
	if err != nil {
		test.Fatalf("gateway init failed: %v", err)
	}

	if _, err := gateway.Capture(context.Background(), booking.CaptureRequest{Ref: mustRef(test, testIntentID), IdempotencyKey: "key"}); !errors.Is(err, booking.ErrPaymentInvalidRequest) {
		test.Fatalf(errorMismatch, booking.ErrPaymentInvalidRequest, err)
	}
	if logs.Filter(func(entry observer.LoggedEntry) bool { return entry.LoggerName == sdkLoggerName }).Len() == 0 {
		test.Fatalf("expected stripe client logs under %q, got %d entries", sdkLoggerName, logs.Len())
	}
	if len(fake.recorded()) != 1 {
		test.Fatalf(errorMismatch, 1, len(fake.recorded()))
	}
}

func TestCancelTreatsCancelledAsReleased(test *testing.T) {
	test.Parallel()
	fake, server := newFakeStripe(test)
	fake.respond("POST /v1/payment_intents/"+testIntentID+"/cancel", fakeResponse{
		status: http.StatusBadRequest,
		body:   `{"error":{"type":"invalid_request_error","code":"payment_intent_unexpected_state"}}`,
	})
	fake.respond("GET /v1/payment_intents/"+testIntentID, fakeResponse{status: http.StatusOK, body: intentBody("canceled", 0)})
	gateway := newTestGateway(test, server, nil)

	status, err := gateway.Cancel(context.Background(), booking.CancelRequest{Ref: mustRef(test, testIntentID), IdempotencyKey: "booking-1:cancel:deposit:2"})
	if err != nil || status != booking.PaymentStatusCancelled {
		test.Fatalf("unexpected cancel result %s %v", status, err)
	}
}

func TestCancelAfterCaptureIsFinalized(test *testing.T) {
	test.Parallel()
	fake, server := newFakeStripe(test)
	fake.respond("POST /v1/payment_intents/"+testIntentID+"/cancel", fakeResponse{
		status: http.StatusBadRequest,
		body:   `{"error":{"type":"invalid_request_error","code":"payment_intent_unexpected_state"}}`,
	})
	fake.respond("GET /v1/payment_intents/"+testIntentID, fakeResponse{status: http.StatusOK, body: intentBody("succeeded", 10000)})
	gateway := newTestGateway(test, server, nil)

	if _, err := gateway.Cancel(context.Background(), booking.CancelRequest{Ref: mustRef(test, testIntentID), IdempotencyKey: "key"}); !errors.Is(err, booking.ErrPaymentAlreadyFinalized) {
		test.Fatalf(errorMismatch, booking.ErrPaymentAlreadyFinalized, err)
	}
}

func TestPartialCaptureAndRefund(test *testing.T) {
	test.Parallel()
	fake, server := newFakeStripe(test)
	fake.respond("POST /v1/payment_intents/"+testIntentID+"/capture", fakeResponse{status: http.StatusOK, body: intentBody("succeeded", 5000)})
	fake.respond("POST /v1/refunds", fakeResponse{status: http.StatusOK, body: `{"id":"re_1","object":"refund","status":"succeeded","amount":5000}`})
	gateway := newTestGateway(test, server, nil)
	ctx := context.Background()

	result, err := gateway.Capture(ctx, booking.CaptureRequest{Ref: mustRef(test, testIntentID), Amount: 5000, IdempotencyKey: "capture"})
	if err != nil || result.AmountCaptured != 5000 {
		test.Fatalf("unexpected capture %+v %v", result, err)
	}
	status, err := gateway.Refund(ctx, booking.RefundRequest{Ref: mustRef(test, testIntentID), IdempotencyKey: "refund"})
	if err != nil || status != booking.PaymentStatusRefunded {
		test.Fatalf("unexpected refund %s %v", status, err)
	}
	requests := fake.recorded()
	if requests[0].form["amount_to_capture"] != "5000" {
		test.Fatalf(errorMismatch, "5000", requests[0].form["amount_to_capture"])
	}
	if requests[1].form["payment_intent"] != testIntentID {
		test.Fatalf(errorMismatch, testIntentID, requests[1].form["payment_intent"])
	}
	if _, ok := requests[1].form["amount"]; ok {
		test.Fatalf("full refund must not send an amount")
	}
}

func TestExpireCheckout(test *testing.T) {
	test.Parallel()
	fake, server := newFakeStripe(test)
	fake.respond("POST /v1/checkout/sessions/cs_test_1/expire", fakeResponse{status: http.StatusOK, body: `{"id":"cs_test_1","object":"checkout.session","status":"expired"}`})
	gateway := newTestGateway(test, server, nil)

	if err := gateway.ExpireCheckout(context.Background(), "cs_test_1"); err != nil {
		test.Fatalf("expire failed: %v", err)
	}
	if err := gateway.ExpireCheckout(context.Background(), " "); !errors.Is(err, booking.ErrPaymentInvalidRequest) {
		test.Fatalf(errorMismatch, booking.ErrPaymentInvalidRequest, err)
	}
	if !strings.HasSuffix(fake.recorded()[0].path, "/expire") {
		test.Fatalf("unexpected path %s", fake.recorded()[0].path)
	}
}

func TestClassifyTransportErrors(test *testing.T) {
	test.Parallel()

	if err := classifyError(context.DeadlineExceeded); !errors.Is(err, booking.ErrPaymentAmbiguous) {
		test.Fatalf(errorMismatch, booking.ErrPaymentAmbiguous, err)
	}
	if err := classifyError(errors.New("connection reset")); !errors.Is(err, booking.ErrPaymentAmbiguous) {
		test.Fatalf(errorMismatch, booking.ErrPaymentAmbiguous, err)
	}
	refused := fmt.Errorf("post: %w", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")})
	if err := classifyError(refused); !errors.Is(err, booking.ErrPaymentTransient) {
		test.Fatalf(errorMismatch, booking.ErrPaymentTransient, err)
	}
	if retryable(classifyError(context.DeadlineExceeded)) {
		test.Fatalf("timeouts must not be retried")
	}
	declined := fmt.Errorf("%w: x", booking.ErrPaymentDeclined)
	if err := classifyError(declined); err != declined {
		test.Fatalf("classified errors must pass through unchanged")
	}
}
