package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Booking mirrors the bookings table. Secondary holds are flattened into prefixed columns.
type Booking struct {
	BookingID                    string         `gorm:"primaryKey"`
	OperatorID                   string         `gorm:"not null;index:idx_bookings_operator_created,priority:1;index:idx_bookings_operator_trip,priority:1"`
	BoatID                       string         `gorm:"not null;default:''"`
	CustomerName                 string         `gorm:"not null"`
	CustomerEmail                string         `gorm:"not null"`
	CustomerPhone                string         `gorm:"not null;default:''"`
	TripDate                     string         `gorm:"not null;index:idx_bookings_operator_trip,priority:2"`
	TripType                     string         `gorm:"not null"`
	PartySize                    int            `gorm:"not null"`
	SpecialRequests              string         `gorm:"not null;default:''"`
	Notes                        string         `gorm:"not null;default:''"`
	BasePriceCents               int64          `gorm:"not null"`
	FinalPriceCents              int64          `gorm:"not null"`
	DepositAmountCents           int64          `gorm:"not null"`
	Adjustments                  datatypes.JSON `gorm:"not null"`
	Status                       string         `gorm:"not null;index"`
	DepositStatus                string         `gorm:"not null"`
	PaymentRef                   *string        `gorm:"uniqueIndex:uniq_bookings_payment_ref"`
	CheckoutSessionRef           string         `gorm:"not null;default:''"`
	DepositEventID               string         `gorm:"not null;default:''"`
	DepositEventUnixUTC          int64          `gorm:"not null;default:0"`
	SecurityDepositAmountCents   int64          `gorm:"not null;default:0"`
	SecurityDepositCapturedCents int64          `gorm:"not null;default:0"`
	SecurityDepositRef           *string        `gorm:"uniqueIndex:uniq_bookings_security_deposit_ref"`
	SecurityDepositStatus        string         `gorm:"not null;default:'none'"`
	SecurityDepositEventID       string         `gorm:"not null;default:''"`
	SecurityDepositEventUnixUTC  int64          `gorm:"not null;default:0"`
	TripHoldAmountCents          int64          `gorm:"not null;default:0"`
	TripHoldCapturedCents        int64          `gorm:"not null;default:0"`
	TripHoldRef                  *string        `gorm:"uniqueIndex:uniq_bookings_trip_hold_ref"`
	TripHoldStatus               string         `gorm:"not null;default:'none'"`
	TripHoldEventID              string         `gorm:"not null;default:''"`
	TripHoldEventUnixUTC         int64          `gorm:"not null;default:0"`
	PendingAction                string         `gorm:"not null;default:''"`
	PendingHold                  string         `gorm:"not null;default:''"`
	PendingStartedUnixUTC        int64          `gorm:"not null;default:0"`
	PendingIdempotencyKey        string         `gorm:"not null;default:''"`
	Version                      int64          `gorm:"not null"`
	OperatorNotifiedAt           *time.Time
	CustomerConfirmedAt          *time.Time
	CreatedAt                    time.Time `gorm:"not null;autoCreateTime:false;index:idx_bookings_operator_created,priority:2"`
	UpdatedAt                    time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (Booking) TableName() string { return "bookings" }

// Operator mirrors the operators table.
type Operator struct {
	OperatorID             string    `gorm:"primaryKey"`
	Slug                   string    `gorm:"not null;uniqueIndex"`
	BusinessName           string    `gorm:"not null"`
	Email                  string    `gorm:"not null"`
	Phone                  string    `gorm:"not null;default:''"`
	PaymentAccountRef      string    `gorm:"not null;default:''"`
	OnboardingComplete     bool      `gorm:"not null;default:false"`
	SecurityDepositEnabled bool      `gorm:"not null;default:false"`
	SecurityDepositCents   int64     `gorm:"not null;default:0"`
	TripHoldEnabled        bool      `gorm:"not null;default:false"`
	CreatedAt              time.Time `gorm:"not null"`
	UpdatedAt              time.Time `gorm:"not null"`
}

func (Operator) TableName() string { return "operators" }

// PricingRule mirrors the pricing_rules table, one row per operator and trip type.
type PricingRule struct {
	OperatorID                    string         `gorm:"primaryKey"`
	TripType                      string         `gorm:"primaryKey"`
	DisplayName                   string         `gorm:"not null;default:''"`
	BasePriceCents                int64          `gorm:"not null"`
	DepositCents                  int64          `gorm:"not null"`
	DynamicPricingEnabled         bool           `gorm:"not null;default:false"`
	SeasonalRules                 datatypes.JSON `gorm:"not null"`
	LastMinuteDiscountPercent     float64        `gorm:"not null;default:0"`
	AdvancePremiumPercent         float64        `gorm:"not null;default:0"`
	HighDemandThreshold           int            `gorm:"not null;default:0"`
	HighDemandPremiumPercent      float64        `gorm:"not null;default:0"`
	LowAvailabilityPremiumPercent float64        `gorm:"not null;default:0"`
	Active                        bool           `gorm:"not null"`
	CreatedAt                     time.Time      `gorm:"not null"`
	UpdatedAt                     time.Time      `gorm:"not null"`
}

func (PricingRule) TableName() string { return "pricing_rules" }

// ProcessorEvent mirrors the processor_events table of consumed webhook events.
type ProcessorEvent struct {
	EventID    string    `gorm:"primaryKey"`
	EventType  string    `gorm:"not null"`
	BookingID  string    `gorm:"not null;index"`
	ReceivedAt time.Time `gorm:"not null"`
}

func (ProcessorEvent) TableName() string { return "processor_events" }

// Notification mirrors the notification_outbox table.
type Notification struct {
	NotificationID string    `gorm:"type:uuid;primaryKey"`
	Kind           string    `gorm:"not null"`
	BookingID      string    `gorm:"not null;index"`
	Recipient      string    `gorm:"not null"`
	Subject        string    `gorm:"not null"`
	Body           string    `gorm:"type:text;not null"`
	Status         string    `gorm:"not null;index:idx_outbox_status_next,priority:1"`
	Attempts       int       `gorm:"not null;default:0"`
	LastError      string    `gorm:"not null;default:''"`
	NextAttemptAt  time.Time `gorm:"not null;index:idx_outbox_status_next,priority:2"`
	SentAt         *time.Time
	CreatedAt      time.Time `gorm:"not null"`
}

func (Notification) TableName() string { return "notification_outbox" }

func (notification *Notification) BeforeCreate(tx *gorm.DB) error {
	if notification.NotificationID == "" {
		notification.NotificationID = uuid.NewString()
	}
	return nil
}

// Models lists every table the store manages, in migration order.
func Models() []any {
	return []any{&Operator{}, &PricingRule{}, &Booking{}, &ProcessorEvent{}, &Notification{}}
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
