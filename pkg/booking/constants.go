package booking

import "time"

const (
	operationSubmit      = "submit"
	operationConfirm     = "confirm"
	operationDecline     = "decline"
	operationComplete    = "complete"
	operationNoShow      = "no_show"
	operationRefund      = "refund"
	operationPlaceHold   = "place_hold"
	operationCaptureHold = "capture_hold"
	operationReleaseHold = "release_hold"
	operationReconcile   = "reconcile"
	operationNotify      = "notify"

	operationStatusOK    = "ok"
	operationStatusNoop  = "noop"
	operationStatusError = "error"

	intentAuthorize = "authorize"
	intentCapture   = "capture"
	intentCancel    = "cancel"
	intentRefund    = "refund"

	idempotencyKeyDelimiter = ":"

	demandWindowDays       = 7
	halfDaySlotsPerDay     = 2
	lastMinuteWindowDays   = 2
	advanceBookingDays     = 30
	scarcityThresholdSlots = 1
	maxReconcileAttempts   = 3
	maxCommitAttempts      = 3

	defaultIntentLease = time.Minute
)

// Metadata keys attached to every processor authorization so webhook events can be routed back to bookings.
const (
	MetadataBookingID  = "booking_id"
	MetadataOperatorID = "operator_id"
	MetadataHoldKind   = "hold_kind"
)

// Adjustment reasons recorded by the pricing engine.
const (
	ReasonLastMinute      = "Last-minute availability"
	ReasonAdvanceBooking  = "Advance booking"
	ReasonHighDemand      = "High demand period"
	ReasonLowAvailability = "Limited availability"
)
