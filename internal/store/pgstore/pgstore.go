package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/castoff/charterpay/pkg/booking"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintBookingPrimary = "bookings_pkey"
	constraintEventPrimary   = "processor_events_pkey"
	pgUniqueViolationCode    = "23505"
	defaultListLimit         = 100
	createdAtArgument        = 40
	errorOperationStore      = "store"
	errorSubjectBooking      = "booking"
	errorSubjectOperator     = "operator"
	errorSubjectPricing      = "pricing_rule"
	errorSubjectEvent        = "processor_event"
	errorSubjectTransaction  = "transaction"
	errorCodeBegin           = "begin"
	errorCodeCommit          = "commit"
	errorCodeCount           = "count"
	errorCodeCreate          = "create"
	errorCodeDuplicate       = "duplicate"
	errorCodeEncode          = "encode"
	errorCodeGet             = "get"
	errorCodeInsert          = "insert"
	errorCodeInvalid         = "invalid"
	errorCodeList            = "list"
	errorCodeLookup          = "lookup"
	errorCodeUpdate          = "update"

	bookingColumns = `
		booking_id, operator_id, boat_id, customer_name, customer_email, customer_phone,
		trip_date, trip_type, party_size, special_requests, notes,
		base_price_cents, final_price_cents, deposit_amount_cents, adjustments::text,
		status, deposit_status, coalesce(payment_ref,''), checkout_session_ref, deposit_event_id, deposit_event_unix_utc,
		security_deposit_amount_cents, security_deposit_captured_cents, coalesce(security_deposit_ref,''),
		security_deposit_status, security_deposit_event_id, security_deposit_event_unix_utc,
		trip_hold_amount_cents, trip_hold_captured_cents, coalesce(trip_hold_ref,''),
		trip_hold_status, trip_hold_event_id, trip_hold_event_unix_utc,
		pending_action, pending_hold, pending_started_unix_utc, pending_idempotency_key,
		version, operator_notified_at, customer_confirmed_at, created_at, updated_at
	`

	sqlInsertBooking = `
		insert into bookings(
			booking_id, operator_id, boat_id, customer_name, customer_email, customer_phone,
			trip_date, trip_type, party_size, special_requests, notes,
			base_price_cents, final_price_cents, deposit_amount_cents, adjustments,
			status, deposit_status, payment_ref, checkout_session_ref, deposit_event_id, deposit_event_unix_utc,
			security_deposit_amount_cents, security_deposit_captured_cents, security_deposit_ref,
			security_deposit_status, security_deposit_event_id, security_deposit_event_unix_utc,
			trip_hold_amount_cents, trip_hold_captured_cents, trip_hold_ref,
			trip_hold_status, trip_hold_event_id, trip_hold_event_unix_utc,
			pending_action, pending_hold, pending_started_unix_utc, pending_idempotency_key,
			version, operator_notified_at, customer_confirmed_at, created_at, updated_at
		)
		values(
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15::jsonb,
			$16, $17, nullif($18,''), $19, $20, $21, $22, $23, nullif($24,''), $25, $26, $27,
			$28, $29, nullif($30,''), $31, $32, $33, $34, $35, $36, $37, $38, $39, $40, $41, $42
		)
	`

	sqlUpdateBooking = `
		update bookings set
			operator_id = $2, boat_id = $3, customer_name = $4, customer_email = $5, customer_phone = $6,
			trip_date = $7, trip_type = $8, party_size = $9, special_requests = $10, notes = $11,
			base_price_cents = $12, final_price_cents = $13, deposit_amount_cents = $14, adjustments = $15::jsonb,
			status = $16, deposit_status = $17, payment_ref = nullif($18,''), checkout_session_ref = $19,
			deposit_event_id = $20, deposit_event_unix_utc = $21,
			security_deposit_amount_cents = $22, security_deposit_captured_cents = $23, security_deposit_ref = nullif($24,''),
			security_deposit_status = $25, security_deposit_event_id = $26, security_deposit_event_unix_utc = $27,
			trip_hold_amount_cents = $28, trip_hold_captured_cents = $29, trip_hold_ref = nullif($30,''),
			trip_hold_status = $31, trip_hold_event_id = $32, trip_hold_event_unix_utc = $33,
			pending_action = $34, pending_hold = $35, pending_started_unix_utc = $36, pending_idempotency_key = $37,
			version = $38, operator_notified_at = $39, customer_confirmed_at = $40, updated_at = $41
		where booking_id = $1 and version = $42
	`

	sqlSelectBooking = `select ` + bookingColumns + ` from bookings where booking_id = $1 for update`

	sqlSelectBookingByRef = `select ` + bookingColumns + ` from bookings
		where payment_ref = $1 or security_deposit_ref = $1 or trip_hold_ref = $1
		limit 1 for update`

	sqlListBookings = `select ` + bookingColumns + ` from bookings
		where operator_id = $1 and ($2 = '' or status = $2)
		order by created_at desc, booking_id desc
		limit $3`

	sqlBookingExists = `select exists(select 1 from bookings where booking_id = $1)`

	sqlCountCreatedSince = `select count(*) from bookings where operator_id = $1 and created_at >= $2`

	sqlActiveTripTypes = `
		select trip_type from bookings
		where operator_id = $1 and trip_date = $2 and status in ('pending','confirmed')
	`

	sqlSelectOperator = `
		select operator_id, slug, business_name, email, phone, payment_account_ref,
			onboarding_complete, security_deposit_enabled, security_deposit_cents, trip_hold_enabled
		from operators where operator_id = $1
		for update
	`

	sqlSelectPricingRule = `
		select operator_id, trip_type, display_name, base_price_cents, deposit_cents, dynamic_pricing_enabled,
			seasonal_rules::text, last_minute_discount_percent, advance_premium_percent, high_demand_threshold,
			high_demand_premium_percent, low_availability_premium_percent, active
		from pricing_rules where operator_id = $1 and trip_type = $2 and active
	`

	sqlInsertProcessorEvent = `
		insert into processor_events(event_id, event_type, booking_id, received_at)
		values($1, $2, $3, $4)
	`
)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// Store implements booking.Store with hand-written SQL over pgx. The schema is the one gormstore migrates.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// New returns a Store backed by a pgx pool (autocommit).
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// WithTx runs fn in a transaction. Calls on a store that is already transactional run inline.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	if store.pool == nil {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	if err := fn(ctx, &Store{db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) CreateBooking(ctx context.Context, value booking.Booking) error {
	arguments, err := bookingArguments(value)
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeEncode, err)
	}
	_, err = store.db.Exec(ctx, sqlInsertBooking, arguments...)
	if isUniqueViolation(err, constraintBookingPrimary, "payment_ref", "security_deposit_ref", "trip_hold_ref") {
		return wrapStoreError(errorSubjectBooking, errorCodeDuplicate, booking.ErrBookingExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetBooking(ctx context.Context, bookingID booking.BookingID) (booking.Booking, error) {
	value, err := scanBooking(store.db.QueryRow(ctx, sqlSelectBooking, bookingID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, booking.ErrNotFound)
		}
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	return value, nil
}

func (store *Store) FindBookingByPaymentRef(ctx context.Context, ref booking.PaymentRef) (booking.Booking, booking.HoldKind, error) {
	value, err := scanBooking(store.db.QueryRow(ctx, sqlSelectBookingByRef, ref.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return booking.Booking{}, "", wrapStoreError(errorSubjectBooking, errorCodeLookup, booking.ErrNotFound)
		}
		return booking.Booking{}, "", wrapStoreError(errorSubjectBooking, errorCodeLookup, err)
	}
	switch ref {
	case value.SecurityDeposit.PaymentRef:
		return value, booking.HoldKindSecurityDeposit, nil
	case value.TripHold.PaymentRef:
		return value, booking.HoldKindTripHold, nil
	default:
		return value, booking.HoldKindDeposit, nil
	}
}

func (store *Store) ListBookings(ctx context.Context, operatorID booking.OperatorID, filter booking.BookingFilter) ([]booking.Booking, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := store.db.Query(ctx, sqlListBookings, operatorID.String(), string(filter.Status), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	defer rows.Close()
	bookings := make([]booking.Booking, 0, 16)
	for rows.Next() {
		value, err := scanBooking(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
		}
		bookings = append(bookings, value)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	return bookings, nil
}

// UpdateBooking is a compare-and-swap on prior.Version.
func (store *Store) UpdateBooking(ctx context.Context, prior booking.Booking, updated booking.Booking) error {
	arguments, err := bookingArguments(updated)
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeEncode, err)
	}
	arguments[0] = prior.ID.String()
	arguments = append(arguments[:createdAtArgument], arguments[createdAtArgument+1:]...)
	arguments = append(arguments, prior.Version)
	tag, err := store.db.Exec(ctx, sqlUpdateBooking, arguments...)
	if isUniqueViolation(err, "payment_ref", "security_deposit_ref", "trip_hold_ref") {
		return wrapStoreError(errorSubjectBooking, errorCodeDuplicate, booking.ErrConcurrentModification)
	}
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdate, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := store.db.QueryRow(ctx, sqlBookingExists, prior.ID.String()).Scan(&exists); err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdate, err)
	}
	if !exists {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdate, booking.ErrNotFound)
	}
	return wrapStoreError(errorSubjectBooking, errorCodeUpdate, booking.ErrConcurrentModification)
}

func (store *Store) CountBookingsCreatedSince(ctx context.Context, operatorID booking.OperatorID, sinceUnixUTC int64) (int, error) {
	var count int64
	err := store.db.QueryRow(ctx, sqlCountCreatedSince, operatorID.String(), time.Unix(sinceUnixUTC, 0).UTC()).Scan(&count)
	if err != nil {
		return 0, wrapStoreError(errorSubjectBooking, errorCodeCount, err)
	}
	return int(count), nil
}

func (store *Store) ListActiveTripTypes(ctx context.Context, operatorID booking.OperatorID, tripDate civil.Date) ([]booking.TripType, error) {
	rows, err := store.db.Query(ctx, sqlActiveTripTypes, operatorID.String(), tripDate.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	defer rows.Close()
	tripTypes := make([]booking.TripType, 0, 2)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
		}
		tripType, err := booking.ParseTripType(raw)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
		}
		tripTypes = append(tripTypes, tripType)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	return tripTypes, nil
}

// GetOperator locks the operator row for the rest of the transaction.
func (store *Store) GetOperator(ctx context.Context, operatorID booking.OperatorID) (booking.Operator, error) {
	var (
		operatorValue string
		securityCents int64
		operator      booking.Operator
	)
	err := store.db.QueryRow(ctx, sqlSelectOperator, operatorID.String()).Scan(
		&operatorValue,
		&operator.Slug,
		&operator.BusinessName,
		&operator.Email,
		&operator.Phone,
		&operator.PaymentAccountRef,
		&operator.OnboardingComplete,
		&operator.SecurityDepositEnabled,
		&securityCents,
		&operator.TripHoldEnabled,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return booking.Operator{}, wrapStoreError(errorSubjectOperator, errorCodeGet, booking.ErrNotFound)
		}
		return booking.Operator{}, wrapStoreError(errorSubjectOperator, errorCodeGet, err)
	}
	parsedOperatorID, err := booking.NewOperatorID(operatorValue)
	if err != nil {
		return booking.Operator{}, wrapStoreError(errorSubjectOperator, errorCodeInvalid, err)
	}
	securityDeposit, err := booking.NewAmountCents(securityCents)
	if err != nil {
		return booking.Operator{}, wrapStoreError(errorSubjectOperator, errorCodeInvalid, err)
	}
	operator.ID = parsedOperatorID
	operator.SecurityDepositAmount = securityDeposit
	return operator, nil
}

func (store *Store) GetPricingRule(ctx context.Context, operatorID booking.OperatorID, tripType booking.TripType) (booking.PricingRule, error) {
	var (
		operatorValue string
		tripTypeValue string
		baseCents     int64
		depositCents  int64
		seasonalJSON  string
		rule          booking.PricingRule
	)
	err := store.db.QueryRow(ctx, sqlSelectPricingRule, operatorID.String(), string(tripType)).Scan(
		&operatorValue,
		&tripTypeValue,
		&rule.DisplayName,
		&baseCents,
		&depositCents,
		&rule.Config.DynamicPricingEnabled,
		&seasonalJSON,
		&rule.Config.LastMinuteDiscountPercent,
		&rule.Config.AdvancePremiumPercent,
		&rule.Config.HighDemandThreshold,
		&rule.Config.HighDemandPremiumPercent,
		&rule.Config.LowAvailabilityPremiumPercent,
		&rule.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return booking.PricingRule{}, wrapStoreError(errorSubjectPricing, errorCodeGet, booking.ErrNotFound)
		}
		return booking.PricingRule{}, wrapStoreError(errorSubjectPricing, errorCodeGet, err)
	}
	if rule.OperatorID, err = booking.NewOperatorID(operatorValue); err != nil {
		return booking.PricingRule{}, wrapStoreError(errorSubjectPricing, errorCodeInvalid, err)
	}
	if rule.TripType, err = booking.ParseTripType(tripTypeValue); err != nil {
		return booking.PricingRule{}, wrapStoreError(errorSubjectPricing, errorCodeInvalid, err)
	}
	if err := json.Unmarshal([]byte(seasonalJSON), &rule.Config.SeasonalRules); err != nil {
		return booking.PricingRule{}, wrapStoreError(errorSubjectPricing, errorCodeInvalid, err)
	}
	rule.Config.BasePrice = booking.AmountCents(baseCents)
	rule.Config.DepositAmount = booking.AmountCents(depositCents)
	if err := rule.Config.Validate(); err != nil {
		return booking.PricingRule{}, wrapStoreError(errorSubjectPricing, errorCodeInvalid, err)
	}
	return rule, nil
}

func (store *Store) RecordProcessorEvent(ctx context.Context, receipt booking.EventReceipt) error {
	_, err := store.db.Exec(ctx, sqlInsertProcessorEvent,
		receipt.EventID,
		string(receipt.EventType),
		receipt.BookingID.String(),
		time.Unix(receipt.ReceivedUnixUTC, 0).UTC(),
	)
	if isUniqueViolation(err, constraintEventPrimary) {
		return wrapStoreError(errorSubjectEvent, errorCodeDuplicate, booking.ErrDuplicateEvent)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEvent, errorCodeInsert, err)
	}
	return nil
}

// bookingArguments orders values as the insert and update statements expect them.
func bookingArguments(value booking.Booking) ([]any, error) {
	adjustments := value.Price.Adjustments
	if adjustments == nil {
		adjustments = []booking.PriceAdjustment{}
	}
	encoded, err := json.Marshal(adjustments)
	if err != nil {
		return nil, err
	}
	securityStatus := value.SecurityDeposit.Status
	if securityStatus == "" {
		securityStatus = booking.HoldStatusNone
	}
	tripHoldStatus := value.TripHold.Status
	if tripHoldStatus == "" {
		tripHoldStatus = booking.HoldStatusNone
	}
	return []any{
		value.ID.String(),
		value.OperatorID.String(),
		value.BoatID,
		value.Customer.Name,
		value.Customer.Email,
		value.Customer.Phone,
		value.TripDate.String(),
		string(value.TripType),
		value.PartySize,
		value.SpecialRequests,
		value.Notes,
		value.Price.BasePrice.Int64(),
		value.Price.FinalPrice.Int64(),
		value.Price.DepositAmount.Int64(),
		string(encoded),
		string(value.Status),
		string(value.DepositStatus),
		value.PaymentRef.String(),
		value.CheckoutSessionRef,
		value.DepositEvent.EventID,
		value.DepositEvent.ObservedUnixUTC,
		value.SecurityDeposit.Amount.Int64(),
		value.SecurityDeposit.CapturedAmount.Int64(),
		value.SecurityDeposit.PaymentRef.String(),
		string(securityStatus),
		value.SecurityDeposit.LastEvent.EventID,
		value.SecurityDeposit.LastEvent.ObservedUnixUTC,
		value.TripHold.Amount.Int64(),
		value.TripHold.CapturedAmount.Int64(),
		value.TripHold.PaymentRef.String(),
		string(tripHoldStatus),
		value.TripHold.LastEvent.EventID,
		value.TripHold.LastEvent.ObservedUnixUTC,
		value.Pending.Action,
		string(value.Pending.Hold),
		value.Pending.StartedUnixUTC,
		value.Pending.IdempotencyKey,
		value.Version,
		value.OperatorNotifiedAt,
		value.CustomerConfirmedAt,
		value.CreatedAt.UTC(),
		value.UpdatedAt.UTC(),
	}, nil
}

// scanBooking reads the columns listed in bookingColumns.
func scanBooking(row pgx.Row) (booking.Booking, error) {
	var (
		bookingIDValue      string
		operatorIDValue     string
		tripDateValue       string
		tripTypeValue       string
		adjustmentsJSON     string
		statusValue         string
		depositStatusValue  string
		paymentRefValue     string
		securityRefValue    string
		securityStatusValue string
		tripHoldRefValue    string
		tripHoldStatusValue string
		pendingHoldValue    string
		basePrice           int64
		finalPrice          int64
		depositAmount       int64
		securityAmount      int64
		securityCaptured    int64
		tripHoldAmount      int64
		tripHoldCaptured    int64
		value               booking.Booking
	)
	if err := row.Scan(
		&bookingIDValue,
		&operatorIDValue,
		&value.BoatID,
		&value.Customer.Name,
		&value.Customer.Email,
		&value.Customer.Phone,
		&tripDateValue,
		&tripTypeValue,
		&value.PartySize,
		&value.SpecialRequests,
		&value.Notes,
		&basePrice,
		&finalPrice,
		&depositAmount,
		&adjustmentsJSON,
		&statusValue,
		&depositStatusValue,
		&paymentRefValue,
		&value.CheckoutSessionRef,
		&value.DepositEvent.EventID,
		&value.DepositEvent.ObservedUnixUTC,
		&securityAmount,
		&securityCaptured,
		&securityRefValue,
		&securityStatusValue,
		&value.SecurityDeposit.LastEvent.EventID,
		&value.SecurityDeposit.LastEvent.ObservedUnixUTC,
		&tripHoldAmount,
		&tripHoldCaptured,
		&tripHoldRefValue,
		&tripHoldStatusValue,
		&value.TripHold.LastEvent.EventID,
		&value.TripHold.LastEvent.ObservedUnixUTC,
		&value.Pending.Action,
		&pendingHoldValue,
		&value.Pending.StartedUnixUTC,
		&value.Pending.IdempotencyKey,
		&value.Version,
		&value.OperatorNotifiedAt,
		&value.CustomerConfirmedAt,
		&value.CreatedAt,
		&value.UpdatedAt,
	); err != nil {
		return booking.Booking{}, err
	}
	var err error
	if value.ID, err = booking.NewBookingID(bookingIDValue); err != nil {
		return booking.Booking{}, err
	}
	if value.OperatorID, err = booking.NewOperatorID(operatorIDValue); err != nil {
		return booking.Booking{}, err
	}
	if value.TripDate, err = civil.ParseDate(strings.TrimSpace(tripDateValue)); err != nil {
		return booking.Booking{}, errors.Join(booking.ErrInvalidTripDate, err)
	}
	if value.TripType, err = booking.ParseTripType(tripTypeValue); err != nil {
		return booking.Booking{}, err
	}
	if value.Status, err = booking.ParseBookingStatus(statusValue); err != nil {
		return booking.Booking{}, err
	}
	if value.DepositStatus, err = booking.ParseDepositStatus(depositStatusValue); err != nil {
		return booking.Booking{}, err
	}
	if value.SecurityDeposit.Status, err = booking.ParseHoldStatus(securityStatusValue); err != nil {
		return booking.Booking{}, err
	}
	if value.TripHold.Status, err = booking.ParseHoldStatus(tripHoldStatusValue); err != nil {
		return booking.Booking{}, err
	}
	if value.Pending.Action != "" {
		if value.Pending.Hold, err = booking.ParseHoldKind(pendingHoldValue); err != nil {
			return booking.Booking{}, err
		}
	}
	if err := json.Unmarshal([]byte(adjustmentsJSON), &value.Price.Adjustments); err != nil {
		return booking.Booking{}, err
	}
	value.Price.BasePrice = booking.AmountCents(basePrice)
	value.Price.FinalPrice = booking.AmountCents(finalPrice)
	value.Price.DepositAmount = booking.AmountCents(depositAmount)
	value.SecurityDeposit.Amount = booking.AmountCents(securityAmount)
	value.SecurityDeposit.CapturedAmount = booking.AmountCents(securityCaptured)
	value.TripHold.Amount = booking.AmountCents(tripHoldAmount)
	value.TripHold.CapturedAmount = booking.AmountCents(tripHoldCaptured)
	value.PaymentRef = optionalRef(paymentRefValue)
	value.SecurityDeposit.PaymentRef = optionalRef(securityRefValue)
	value.TripHold.PaymentRef = optionalRef(tripHoldRefValue)
	value.CreatedAt = value.CreatedAt.UTC()
	value.UpdatedAt = value.UpdatedAt.UTC()
	if err := value.Validate(); err != nil {
		return booking.Booking{}, err
	}
	return value, nil
}

func optionalRef(raw string) booking.PaymentRef {
	ref, err := booking.NewPaymentRef(raw)
	if err != nil {
		return booking.PaymentRef{}
	}
	return ref
}

func wrapStoreError(subject string, code string, err error) error {
	return booking.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error, hints ...string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolationCode {
		return false
	}
	for _, hint := range hints {
		if strings.Contains(pgErr.ConstraintName, hint) {
			return true
		}
	}
	return false
}
