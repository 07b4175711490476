package httpapi

import (
	"github.com/castoff/charterpay/pkg/booking"
)

type customerPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type checkoutRequest struct {
	OperatorSlug    string          `json:"operator_slug"`
	BoatID          string          `json:"boat_id"`
	TripType        string          `json:"trip_type"`
	TripDate        string          `json:"trip_date"`
	PartySize       int             `json:"party_size"`
	Customer        customerPayload `json:"customer"`
	SpecialRequests string          `json:"special_requests"`
	PaymentMethod   string          `json:"payment_method"`
}

type quoteRequest struct {
	OperatorSlug string `json:"operator_slug"`
	TripType     string `json:"trip_type"`
	TripDate     string `json:"trip_date"`
}

type actionRequest struct {
	Action            string `json:"action"`
	Notes             string `json:"notes"`
	NoShowChargeCents int64  `json:"no_show_charge_cents"`
}

type holdActionRequest struct {
	BookingID       string `json:"booking_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	AmountCents     int64  `json:"amount_cents"`
}

type placeHoldRequest struct {
	PaymentMethod string `json:"payment_method"`
}

type adjustmentPayload struct {
	Reason      string  `json:"reason"`
	Type        string  `json:"type"`
	Value       float64 `json:"value"`
	AmountCents int64   `json:"amount_cents"`
}

type pricePayload struct {
	BasePriceCents    int64               `json:"base_price_cents"`
	Adjustments       []adjustmentPayload `json:"adjustments"`
	FinalPriceCents   int64               `json:"final_price_cents"`
	DepositCents      int64               `json:"deposit_cents"`
	RemainderDueCents int64               `json:"remainder_due_cents"`
}

type holdPayload struct {
	Status              string `json:"status"`
	AmountCents         int64  `json:"amount_cents"`
	CapturedAmountCents int64  `json:"captured_amount_cents"`
	PaymentRef          string `json:"payment_ref,omitempty"`
}

type bookingPayload struct {
	ID                      string          `json:"id"`
	OperatorID              string          `json:"operator_id"`
	BoatID                  string          `json:"boat_id,omitempty"`
	Customer                customerPayload `json:"customer"`
	TripDate                string          `json:"trip_date"`
	TripType                string          `json:"trip_type"`
	PartySize               int             `json:"party_size"`
	SpecialRequests         string          `json:"special_requests,omitempty"`
	Notes                   string          `json:"notes,omitempty"`
	Price                   pricePayload    `json:"price"`
	Status                  string          `json:"status"`
	DepositStatus           string          `json:"deposit_status"`
	PaymentRef              string          `json:"payment_ref,omitempty"`
	SecurityDeposit         holdPayload     `json:"security_deposit"`
	TripHold                holdPayload     `json:"trip_hold"`
	Version                 int64           `json:"version"`
	CreatedUnixUTC          int64           `json:"created_unix_utc"`
	UpdatedUnixUTC          int64           `json:"updated_unix_utc"`
	OperatorNotifiedUnixUTC *int64          `json:"operator_notified_unix_utc,omitempty"`
}

// checkoutPayload is the public view of a new booking; it carries no processor references.
type checkoutPayload struct {
	BookingID     string       `json:"booking_id"`
	Status        string       `json:"status"`
	DepositStatus string       `json:"deposit_status"`
	TripDate      string       `json:"trip_date"`
	TripType      string       `json:"trip_type"`
	Price         pricePayload `json:"price"`
	RedirectURL   string       `json:"redirect_url,omitempty"`
}

func newPricePayload(breakdown booking.PriceBreakdown) pricePayload {
	adjustments := make([]adjustmentPayload, 0, len(breakdown.Adjustments))
	for _, adjustment := range breakdown.Adjustments {
		adjustments = append(adjustments, adjustmentPayload{
			Reason:      adjustment.Reason,
			Type:        string(adjustment.Type),
			Value:       adjustment.Value,
			AmountCents: adjustment.Amount.Int64(),
		})
	}
	return pricePayload{
		BasePriceCents:    breakdown.BasePrice.Int64(),
		Adjustments:       adjustments,
		FinalPriceCents:   breakdown.FinalPrice.Int64(),
		DepositCents:      breakdown.DepositAmount.Int64(),
		RemainderDueCents: breakdown.RemainderDue().Int64(),
	}
}

func newHoldPayload(hold booking.Hold) holdPayload {
	status := hold.Status
	if status == "" {
		status = booking.HoldStatusNone
	}
	return holdPayload{
		Status:              string(status),
		AmountCents:         hold.Amount.Int64(),
		CapturedAmountCents: hold.CapturedAmount.Int64(),
		PaymentRef:          hold.PaymentRef.String(),
	}
}

func newBookingPayload(record booking.Booking) bookingPayload {
	payload := bookingPayload{
		ID:         record.ID.String(),
		OperatorID: record.OperatorID.String(),
		BoatID:     record.BoatID,
		Customer: customerPayload{
			Name:  record.Customer.Name,
			Email: record.Customer.Email,
			Phone: record.Customer.Phone,
		},
		TripDate:        record.TripDate.String(),
		TripType:        string(record.TripType),
		PartySize:       record.PartySize,
		SpecialRequests: record.SpecialRequests,
		Notes:           record.Notes,
		Price:           newPricePayload(record.Price),
		Status:          string(record.Status),
		DepositStatus:   string(record.DepositStatus),
		PaymentRef:      record.PaymentRef.String(),
		SecurityDeposit: newHoldPayload(record.SecurityDeposit),
		TripHold:        newHoldPayload(record.TripHold),
		Version:         record.Version,
		CreatedUnixUTC:  record.CreatedAt.UTC().Unix(),
		UpdatedUnixUTC:  record.UpdatedAt.UTC().Unix(),
	}
	if record.OperatorNotifiedAt != nil {
		notified := record.OperatorNotifiedAt.UTC().Unix()
		payload.OperatorNotifiedUnixUTC = &notified
	}
	return payload
}

func newCheckoutPayload(result booking.SubmitResult) checkoutPayload {
	return checkoutPayload{
		BookingID:     result.Booking.ID.String(),
		Status:        string(result.Booking.Status),
		DepositStatus: string(result.Booking.DepositStatus),
		TripDate:      result.Booking.TripDate.String(),
		TripType:      string(result.Booking.TripType),
		Price:         newPricePayload(result.Booking.Price),
		RedirectURL:   result.RedirectURL,
	}
}
