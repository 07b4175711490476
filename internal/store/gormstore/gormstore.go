package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/castoff/charterpay/internal/notify"
	"github.com/castoff/charterpay/pkg/booking"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintBookingPrimary    = "bookings_pkey"
	constraintEventPrimary      = "processor_events_pkey"
	defaultAdjustmentsJSON      = "[]"
	defaultListLimit            = 100
	pgUniqueViolationCode       = "23505"
	sqliteConstraintCode        = 19
	outboxStatusPending         = "pending"
	outboxStatusSent            = "sent"
	outboxStatusFailed          = "failed"
	errorOperationStore         = "store"
	errorSubjectBooking         = "booking"
	errorSubjectOperator        = "operator"
	errorSubjectPricing         = "pricing_rule"
	errorSubjectEvent           = "processor_event"
	errorSubjectOutbox          = "outbox"
	errorCodeCount              = "count"
	errorCodeCreate             = "create"
	errorCodeDuplicate          = "duplicate"
	errorCodeEncode             = "encode"
	errorCodeGet                = "get"
	errorCodeInsert             = "insert"
	errorCodeInvalid            = "invalid"
	errorCodeList               = "list"
	errorCodeLookup             = "lookup"
	errorCodeUpdate             = "update"
	errorCodeUpsert             = "upsert"
	columnPaymentRef            = "payment_ref"
	columnSecurityDepositRef    = "security_deposit_ref"
	columnTripHoldRef           = "trip_hold_ref"
	queryBookingByID            = "booking_id = ?"
	queryBookingVersion         = "booking_id = ? AND version = ?"
	queryOperatorByID           = "operator_id = ?"
	queryNotificationByID       = "notification_id = ?"
	queryBookingByAnyPaymentRef = "payment_ref = ? OR security_deposit_ref = ? OR trip_hold_ref = ?"
)

// Store implements booking.Store and notify.Outbox using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateBooking(ctx context.Context, value booking.Booking) error {
	record, err := toBookingRecord(value)
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeEncode, err)
	}
	err = store.db.WithContext(ctx).Create(&record).Error
	if isBookingConflict(err) {
		return wrapStoreError(errorSubjectBooking, errorCodeDuplicate, booking.ErrBookingExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetBooking(ctx context.Context, bookingID booking.BookingID) (booking.Booking, error) {
	var record Booking
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryBookingByID, bookingID.String()).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, booking.ErrNotFound)
		}
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	value, err := mapBooking(record)
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return value, nil
}

// FindBookingByPaymentRef resolves an authorization reference to its booking and the hold it belongs to.
func (store *Store) FindBookingByPaymentRef(ctx context.Context, ref booking.PaymentRef) (booking.Booking, booking.HoldKind, error) {
	var record Booking
	raw := ref.String()
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryBookingByAnyPaymentRef, raw, raw, raw).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.Booking{}, "", wrapStoreError(errorSubjectBooking, errorCodeLookup, booking.ErrNotFound)
		}
		return booking.Booking{}, "", wrapStoreError(errorSubjectBooking, errorCodeLookup, err)
	}
	value, err := mapBooking(record)
	if err != nil {
		return booking.Booking{}, "", wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	switch raw {
	case stringOrEmpty(record.SecurityDepositRef):
		return value, booking.HoldKindSecurityDeposit, nil
	case stringOrEmpty(record.TripHoldRef):
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
	query := store.db.WithContext(ctx).Where(queryOperatorByID, operatorID.String())
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	var rows []Booking
	if err := query.Order("created_at DESC").Order("booking_id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	bookings := make([]booking.Booking, 0, len(rows))
	for _, row := range rows {
		value, err := mapBooking(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
		}
		bookings = append(bookings, value)
	}
	return bookings, nil
}

// UpdateBooking overwrites the row only while it still carries prior.Version.
func (store *Store) UpdateBooking(ctx context.Context, prior booking.Booking, updated booking.Booking) error {
	record, err := toBookingRecord(updated)
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeEncode, err)
	}
	result := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where(queryBookingVersion, prior.ID.String(), prior.Version).
		Select("*").
		Omit("booking_id", "created_at").
		Updates(&record)
	if isBookingConflict(result.Error) {
		return wrapStoreError(errorSubjectBooking, errorCodeDuplicate, booking.ErrConcurrentModification)
	}
	if result.Error != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	var existing int64
	if err := store.db.WithContext(ctx).Model(&Booking{}).Where(queryBookingByID, prior.ID.String()).Count(&existing).Error; err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdate, err)
	}
	if existing == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdate, booking.ErrNotFound)
	}
	return wrapStoreError(errorSubjectBooking, errorCodeUpdate, booking.ErrConcurrentModification)
}

func (store *Store) CountBookingsCreatedSince(ctx context.Context, operatorID booking.OperatorID, sinceUnixUTC int64) (int, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("operator_id = ? AND created_at >= ?", operatorID.String(), time.Unix(sinceUnixUTC, 0).UTC()).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBooking, errorCodeCount, err)
	}
	return int(count), nil
}

// ListActiveTripTypes returns the trip types of pending and confirmed bookings on a date.
func (store *Store) ListActiveTripTypes(ctx context.Context, operatorID booking.OperatorID, tripDate civil.Date) ([]booking.TripType, error) {
	var rawTypes []string
	err := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("operator_id = ? AND trip_date = ?", operatorID.String(), tripDate.String()).
		Where("status IN ?", []string{string(booking.BookingStatusPending), string(booking.BookingStatusConfirmed)}).
		Pluck("trip_type", &rawTypes).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	tripTypes := make([]booking.TripType, 0, len(rawTypes))
	for _, raw := range rawTypes {
		tripType, err := booking.ParseTripType(raw)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
		}
		tripTypes = append(tripTypes, tripType)
	}
	return tripTypes, nil
}

// GetOperator locks the operator row so slot checks for one operator run one transaction at a time.
// SQLite drops the locking clause and serializes writers on its own.
func (store *Store) GetOperator(ctx context.Context, operatorID booking.OperatorID) (booking.Operator, error) {
	var record Operator
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryOperatorByID, operatorID.String()).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.Operator{}, wrapStoreError(errorSubjectOperator, errorCodeGet, booking.ErrNotFound)
		}
		return booking.Operator{}, wrapStoreError(errorSubjectOperator, errorCodeGet, err)
	}
	operator, err := mapOperator(record)
	if err != nil {
		return booking.Operator{}, wrapStoreError(errorSubjectOperator, errorCodeInvalid, err)
	}
	return operator, nil
}

// GetOperatorBySlug resolves the public slug used by the checkout surface.
func (store *Store) GetOperatorBySlug(ctx context.Context, slug string) (booking.Operator, error) {
	var record Operator
	err := store.db.WithContext(ctx).Where("slug = ?", strings.TrimSpace(slug)).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.Operator{}, wrapStoreError(errorSubjectOperator, errorCodeLookup, booking.ErrNotFound)
		}
		return booking.Operator{}, wrapStoreError(errorSubjectOperator, errorCodeLookup, err)
	}
	operator, err := mapOperator(record)
	if err != nil {
		return booking.Operator{}, wrapStoreError(errorSubjectOperator, errorCodeInvalid, err)
	}
	return operator, nil
}

// GetPricingRule returns the active pricing row for a trip type.
func (store *Store) GetPricingRule(ctx context.Context, operatorID booking.OperatorID, tripType booking.TripType) (booking.PricingRule, error) {
	var record PricingRule
	err := store.db.WithContext(ctx).
		Where("operator_id = ? AND trip_type = ? AND active = ?", operatorID.String(), string(tripType), true).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.PricingRule{}, wrapStoreError(errorSubjectPricing, errorCodeGet, booking.ErrNotFound)
		}
		return booking.PricingRule{}, wrapStoreError(errorSubjectPricing, errorCodeGet, err)
	}
	rule, err := mapPricingRule(record)
	if err != nil {
		return booking.PricingRule{}, wrapStoreError(errorSubjectPricing, errorCodeInvalid, err)
	}
	return rule, nil
}

func (store *Store) RecordProcessorEvent(ctx context.Context, receipt booking.EventReceipt) error {
	record := ProcessorEvent{
		EventID:    receipt.EventID,
		EventType:  string(receipt.EventType),
		BookingID:  receipt.BookingID.String(),
		ReceivedAt: time.Unix(receipt.ReceivedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&record).Error
	if isEventConflict(err) {
		return wrapStoreError(errorSubjectEvent, errorCodeDuplicate, booking.ErrDuplicateEvent)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEvent, errorCodeInsert, err)
	}
	return nil
}

// UpsertOperator creates or replaces an operator profile.
func (store *Store) UpsertOperator(ctx context.Context, operator booking.Operator) error {
	now := time.Now().UTC()
	record := Operator{
		OperatorID:             operator.ID.String(),
		Slug:                   strings.TrimSpace(operator.Slug),
		BusinessName:           operator.BusinessName,
		Email:                  operator.Email,
		Phone:                  operator.Phone,
		PaymentAccountRef:      operator.PaymentAccountRef,
		OnboardingComplete:     operator.OnboardingComplete,
		SecurityDepositEnabled: operator.SecurityDepositEnabled,
		SecurityDepositCents:   operator.SecurityDepositAmount.Int64(),
		TripHoldEnabled:        operator.TripHoldEnabled,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "operator_id"}},
			DoUpdates: clause.AssignmentColumns(operatorUpsertColumns),
		}).
		Create(&record).Error
	if err != nil {
		return wrapStoreError(errorSubjectOperator, errorCodeUpsert, err)
	}
	return nil
}

// UpsertPricingRule creates or replaces the pricing row for an operator and trip type.
func (store *Store) UpsertPricingRule(ctx context.Context, rule booking.PricingRule) error {
	if err := rule.Config.Validate(); err != nil {
		return wrapStoreError(errorSubjectPricing, errorCodeInvalid, err)
	}
	seasonal, err := json.Marshal(seasonalRulesOrEmpty(rule.Config.SeasonalRules))
	if err != nil {
		return wrapStoreError(errorSubjectPricing, errorCodeEncode, err)
	}
	now := time.Now().UTC()
	record := PricingRule{
		OperatorID:                    rule.OperatorID.String(),
		TripType:                      string(rule.TripType),
		DisplayName:                   rule.DisplayName,
		BasePriceCents:                rule.Config.BasePrice.Int64(),
		DepositCents:                  rule.Config.DepositAmount.Int64(),
		DynamicPricingEnabled:         rule.Config.DynamicPricingEnabled,
		SeasonalRules:                 datatypes.JSON(seasonal),
		LastMinuteDiscountPercent:     rule.Config.LastMinuteDiscountPercent,
		AdvancePremiumPercent:         rule.Config.AdvancePremiumPercent,
		HighDemandThreshold:           rule.Config.HighDemandThreshold,
		HighDemandPremiumPercent:      rule.Config.HighDemandPremiumPercent,
		LowAvailabilityPremiumPercent: rule.Config.LowAvailabilityPremiumPercent,
		Active:                        rule.Active,
		CreatedAt:                     now,
		UpdatedAt:                     now,
	}
	err = store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "operator_id"}, {Name: "trip_type"}},
			DoUpdates: clause.AssignmentColumns(pricingUpsertColumns),
		}).
		Create(&record).Error
	if err != nil {
		return wrapStoreError(errorSubjectPricing, errorCodeUpsert, err)
	}
	return nil
}

// Enqueue stores a message for the dispatcher.
func (store *Store) Enqueue(ctx context.Context, message notify.Message) error {
	createdAt := time.Unix(message.CreatedUnixUTC, 0).UTC()
	if message.CreatedUnixUTC == 0 {
		createdAt = time.Now().UTC()
	}
	record := Notification{
		NotificationID: message.ID,
		Kind:           string(message.Kind),
		BookingID:      message.BookingID,
		Recipient:      message.Recipient,
		Subject:        message.Subject,
		Body:           message.Body,
		Status:         outboxStatusPending,
		NextAttemptAt:  createdAt,
		CreatedAt:      createdAt,
	}
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		return wrapStoreError(errorSubjectOutbox, errorCodeInsert, err)
	}
	return nil
}

// ListDue returns pending messages whose next attempt is due, oldest first.
func (store *Store) ListDue(ctx context.Context, nowUnixUTC int64, limit int) ([]notify.Message, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var rows []Notification
	err := store.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", outboxStatusPending, time.Unix(nowUnixUTC, 0).UTC()).
		Order("next_attempt_at ASC").
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectOutbox, errorCodeList, err)
	}
	messages := make([]notify.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, notify.Message{
			ID:             row.NotificationID,
			Kind:           booking.NotificationKind(row.Kind),
			BookingID:      row.BookingID,
			Recipient:      row.Recipient,
			Subject:        row.Subject,
			Body:           row.Body,
			Attempts:       row.Attempts,
			CreatedUnixUTC: row.CreatedAt.Unix(),
		})
	}
	return messages, nil
}

func (store *Store) MarkSent(ctx context.Context, messageID string, sentUnixUTC int64) error {
	sentAt := time.Unix(sentUnixUTC, 0).UTC()
	result := store.db.WithContext(ctx).
		Model(&Notification{}).
		Where(queryNotificationByID, messageID).
		Updates(map[string]any{"status": outboxStatusSent, "sent_at": sentAt, "last_error": ""})
	return outboxUpdateResult(result)
}

// MarkFailed records a failed attempt. Final failures leave the pending queue.
func (store *Store) MarkFailed(ctx context.Context, messageID string, failure notify.Failure) error {
	status := outboxStatusPending
	if failure.Final {
		status = outboxStatusFailed
	}
	result := store.db.WithContext(ctx).
		Model(&Notification{}).
		Where(queryNotificationByID, messageID).
		Updates(map[string]any{
			"status":          status,
			"attempts":        failure.Attempts,
			"last_error":      failure.LastError,
			"next_attempt_at": time.Unix(failure.NextAttemptUnixUTC, 0).UTC(),
		})
	return outboxUpdateResult(result)
}

func outboxUpdateResult(result *gorm.DB) error {
	if result.Error != nil {
		return wrapStoreError(errorSubjectOutbox, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectOutbox, errorCodeUpdate, booking.ErrNotFound)
	}
	return nil
}

var operatorUpsertColumns = []string{
	"slug", "business_name", "email", "phone", "payment_account_ref", "onboarding_complete",
	"security_deposit_enabled", "security_deposit_cents", "trip_hold_enabled", "updated_at",
}

var pricingUpsertColumns = []string{
	"display_name", "base_price_cents", "deposit_cents", "dynamic_pricing_enabled", "seasonal_rules",
	"last_minute_discount_percent", "advance_premium_percent", "high_demand_threshold",
	"high_demand_premium_percent", "low_availability_premium_percent", "active", "updated_at",
}

func wrapStoreError(subject string, code string, err error) error {
	return booking.WrapError(errorOperationStore, subject, code, err)
}

func toBookingRecord(value booking.Booking) (Booking, error) {
	adjustments, err := json.Marshal(adjustmentsOrEmpty(value.Price.Adjustments))
	if err != nil {
		return Booking{}, err
	}
	return Booking{
		BookingID:                    value.ID.String(),
		OperatorID:                   value.OperatorID.String(),
		BoatID:                       value.BoatID,
		CustomerName:                 value.Customer.Name,
		CustomerEmail:                value.Customer.Email,
		CustomerPhone:                value.Customer.Phone,
		TripDate:                     value.TripDate.String(),
		TripType:                     string(value.TripType),
		PartySize:                    value.PartySize,
		SpecialRequests:              value.SpecialRequests,
		Notes:                        value.Notes,
		BasePriceCents:               value.Price.BasePrice.Int64(),
		FinalPriceCents:              value.Price.FinalPrice.Int64(),
		DepositAmountCents:           value.Price.DepositAmount.Int64(),
		Adjustments:                  datatypes.JSON(adjustments),
		Status:                       string(value.Status),
		DepositStatus:                string(value.DepositStatus),
		PaymentRef:                   refOrNil(value.PaymentRef),
		CheckoutSessionRef:           value.CheckoutSessionRef,
		DepositEventID:               value.DepositEvent.EventID,
		DepositEventUnixUTC:          value.DepositEvent.ObservedUnixUTC,
		SecurityDepositAmountCents:   value.SecurityDeposit.Amount.Int64(),
		SecurityDepositCapturedCents: value.SecurityDeposit.CapturedAmount.Int64(),
		SecurityDepositRef:           refOrNil(value.SecurityDeposit.PaymentRef),
		SecurityDepositStatus:        holdStatusOrNone(value.SecurityDeposit.Status),
		SecurityDepositEventID:       value.SecurityDeposit.LastEvent.EventID,
		SecurityDepositEventUnixUTC:  value.SecurityDeposit.LastEvent.ObservedUnixUTC,
		TripHoldAmountCents:          value.TripHold.Amount.Int64(),
		TripHoldCapturedCents:        value.TripHold.CapturedAmount.Int64(),
		TripHoldRef:                  refOrNil(value.TripHold.PaymentRef),
		TripHoldStatus:               holdStatusOrNone(value.TripHold.Status),
		TripHoldEventID:              value.TripHold.LastEvent.EventID,
		TripHoldEventUnixUTC:         value.TripHold.LastEvent.ObservedUnixUTC,
		PendingAction:                value.Pending.Action,
		PendingHold:                  string(value.Pending.Hold),
		PendingStartedUnixUTC:        value.Pending.StartedUnixUTC,
		PendingIdempotencyKey:        value.Pending.IdempotencyKey,
		Version:                      value.Version,
		OperatorNotifiedAt:           utcPointer(value.OperatorNotifiedAt),
		CustomerConfirmedAt:          utcPointer(value.CustomerConfirmedAt),
		CreatedAt:                    value.CreatedAt.UTC(),
		UpdatedAt:                    value.UpdatedAt.UTC(),
	}, nil
}

func mapBooking(record Booking) (booking.Booking, error) {
	bookingID, err := booking.NewBookingID(record.BookingID)
	if err != nil {
		return booking.Booking{}, err
	}
	operatorID, err := booking.NewOperatorID(record.OperatorID)
	if err != nil {
		return booking.Booking{}, err
	}
	tripDate, err := civil.ParseDate(record.TripDate)
	if err != nil {
		return booking.Booking{}, errors.Join(booking.ErrInvalidTripDate, err)
	}
	tripType, err := booking.ParseTripType(record.TripType)
	if err != nil {
		return booking.Booking{}, err
	}
	status, err := booking.ParseBookingStatus(record.Status)
	if err != nil {
		return booking.Booking{}, err
	}
	depositStatus, err := booking.ParseDepositStatus(record.DepositStatus)
	if err != nil {
		return booking.Booking{}, err
	}
	var adjustments []booking.PriceAdjustment
	if len(record.Adjustments) > 0 {
		if err := json.Unmarshal(record.Adjustments, &adjustments); err != nil {
			return booking.Booking{}, err
		}
	}
	securityDeposit, err := mapHold(record.SecurityDepositAmountCents, record.SecurityDepositCapturedCents, record.SecurityDepositRef,
		record.SecurityDepositStatus, record.SecurityDepositEventID, record.SecurityDepositEventUnixUTC)
	if err != nil {
		return booking.Booking{}, err
	}
	tripHold, err := mapHold(record.TripHoldAmountCents, record.TripHoldCapturedCents, record.TripHoldRef,
		record.TripHoldStatus, record.TripHoldEventID, record.TripHoldEventUnixUTC)
	if err != nil {
		return booking.Booking{}, err
	}
	var pendingHold booking.HoldKind
	if record.PendingAction != "" {
		pendingHold, err = booking.ParseHoldKind(record.PendingHold)
		if err != nil {
			return booking.Booking{}, err
		}
	}
	value := booking.Booking{
		ID:              bookingID,
		OperatorID:      operatorID,
		BoatID:          record.BoatID,
		Customer:        booking.Customer{Name: record.CustomerName, Email: record.CustomerEmail, Phone: record.CustomerPhone},
		TripDate:        tripDate,
		TripType:        tripType,
		PartySize:       record.PartySize,
		SpecialRequests: record.SpecialRequests,
		Notes:           record.Notes,
		Price: booking.PriceBreakdown{
			BasePrice:     booking.AmountCents(record.BasePriceCents),
			Adjustments:   adjustments,
			FinalPrice:    booking.AmountCents(record.FinalPriceCents),
			DepositAmount: booking.AmountCents(record.DepositAmountCents),
		},
		Status:             status,
		DepositStatus:      depositStatus,
		PaymentRef:         refOrZero(record.PaymentRef),
		CheckoutSessionRef: record.CheckoutSessionRef,
		DepositEvent:       booking.EventMark{EventID: record.DepositEventID, ObservedUnixUTC: record.DepositEventUnixUTC},
		SecurityDeposit:    securityDeposit,
		TripHold:           tripHold,
		Pending: booking.PendingIntent{
			Action:         record.PendingAction,
			Hold:           pendingHold,
			StartedUnixUTC: record.PendingStartedUnixUTC,
			IdempotencyKey: record.PendingIdempotencyKey,
		},
		Version:             record.Version,
		CreatedAt:           record.CreatedAt.UTC(),
		UpdatedAt:           record.UpdatedAt.UTC(),
		OperatorNotifiedAt:  utcPointer(record.OperatorNotifiedAt),
		CustomerConfirmedAt: utcPointer(record.CustomerConfirmedAt),
	}
	if err := value.Validate(); err != nil {
		return booking.Booking{}, err
	}
	return value, nil
}

func mapHold(amount int64, captured int64, ref *string, rawStatus string, eventID string, eventUnix int64) (booking.Hold, error) {
	status, err := booking.ParseHoldStatus(rawStatus)
	if err != nil {
		return booking.Hold{}, err
	}
	amountCents, err := booking.NewAmountCents(amount)
	if err != nil {
		return booking.Hold{}, err
	}
	capturedCents, err := booking.NewAmountCents(captured)
	if err != nil {
		return booking.Hold{}, err
	}
	return booking.Hold{
		Amount:         amountCents,
		CapturedAmount: capturedCents,
		PaymentRef:     refOrZero(ref),
		Status:         status,
		LastEvent:      booking.EventMark{EventID: eventID, ObservedUnixUTC: eventUnix},
	}, nil
}

func mapOperator(record Operator) (booking.Operator, error) {
	operatorID, err := booking.NewOperatorID(record.OperatorID)
	if err != nil {
		return booking.Operator{}, err
	}
	securityDeposit, err := booking.NewAmountCents(record.SecurityDepositCents)
	if err != nil {
		return booking.Operator{}, err
	}
	return booking.Operator{
		ID:                     operatorID,
		Slug:                   record.Slug,
		BusinessName:           record.BusinessName,
		Email:                  record.Email,
		Phone:                  record.Phone,
		PaymentAccountRef:      record.PaymentAccountRef,
		OnboardingComplete:     record.OnboardingComplete,
		SecurityDepositEnabled: record.SecurityDepositEnabled,
		SecurityDepositAmount:  securityDeposit,
		TripHoldEnabled:        record.TripHoldEnabled,
	}, nil
}

func mapPricingRule(record PricingRule) (booking.PricingRule, error) {
	operatorID, err := booking.NewOperatorID(record.OperatorID)
	if err != nil {
		return booking.PricingRule{}, err
	}
	tripType, err := booking.ParseTripType(record.TripType)
	if err != nil {
		return booking.PricingRule{}, err
	}
	var seasonal []booking.SeasonalRule
	if len(record.SeasonalRules) > 0 {
		if err := json.Unmarshal(record.SeasonalRules, &seasonal); err != nil {
			return booking.PricingRule{}, err
		}
	}
	config := booking.PricingConfig{
		BasePrice:                     booking.AmountCents(record.BasePriceCents),
		DepositAmount:                 booking.AmountCents(record.DepositCents),
		DynamicPricingEnabled:         record.DynamicPricingEnabled,
		SeasonalRules:                 seasonal,
		LastMinuteDiscountPercent:     record.LastMinuteDiscountPercent,
		AdvancePremiumPercent:         record.AdvancePremiumPercent,
		HighDemandThreshold:           record.HighDemandThreshold,
		HighDemandPremiumPercent:      record.HighDemandPremiumPercent,
		LowAvailabilityPremiumPercent: record.LowAvailabilityPremiumPercent,
	}
	if err := config.Validate(); err != nil {
		return booking.PricingRule{}, err
	}
	return booking.PricingRule{
		OperatorID:  operatorID,
		TripType:    tripType,
		DisplayName: record.DisplayName,
		Config:      config,
		Active:      record.Active,
	}, nil
}

func adjustmentsOrEmpty(adjustments []booking.PriceAdjustment) []booking.PriceAdjustment {
	if adjustments == nil {
		return []booking.PriceAdjustment{}
	}
	return adjustments
}

func seasonalRulesOrEmpty(rules []booking.SeasonalRule) []booking.SeasonalRule {
	if rules == nil {
		return []booking.SeasonalRule{}
	}
	return rules
}

func refOrNil(ref booking.PaymentRef) *string {
	if ref.IsZero() {
		return nil
	}
	value := ref.String()
	return &value
}

func refOrZero(raw *string) booking.PaymentRef {
	if raw == nil {
		return booking.PaymentRef{}
	}
	ref, err := booking.NewPaymentRef(*raw)
	if err != nil {
		return booking.PaymentRef{}
	}
	return ref
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func holdStatusOrNone(status booking.HoldStatus) string {
	if status == "" {
		return string(booking.HoldStatusNone)
	}
	return string(status)
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	converted := value.UTC()
	return &converted
}

func isBookingConflict(err error) bool {
	return isUniqueViolation(err, constraintBookingPrimary, columnPaymentRef, columnSecurityDepositRef, columnTripHoldRef)
}

func isEventConflict(err error) bool {
	return isUniqueViolation(err, constraintEventPrimary)
}

// isUniqueViolation reports a unique constraint failure. On postgres the constraint name must contain one of hints.
func isUniqueViolation(err error, hints ...string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolationCode {
			return false
		}
		for _, hint := range hints {
			if strings.Contains(pgErr.ConstraintName, hint) {
				return true
			}
		}
		return false
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
