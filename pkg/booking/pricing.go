package booking

import (
	"fmt"
	"math"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// AdjustmentType describes how an adjustment value is expressed.
type AdjustmentType string

const (
	AdjustmentPercentage AdjustmentType = "percentage"
	AdjustmentFixed      AdjustmentType = "fixed"
)

// SeasonalRule scales the base price for trips inside a month range. Ranges may wrap across year-end.
type SeasonalRule struct {
	Name       string     `json:"name"`
	StartMonth time.Month `json:"start_month"`
	EndMonth   time.Month `json:"end_month"`
	Multiplier float64    `json:"multiplier"`
}

// Contains reports whether the month falls inside the rule's range.
func (rule SeasonalRule) Contains(month time.Month) bool {
	if rule.StartMonth <= rule.EndMonth {
		return month >= rule.StartMonth && month <= rule.EndMonth
	}
	return month >= rule.StartMonth || month <= rule.EndMonth
}

// DefaultSeasonalRules returns the Caribbean season calendar applied to new pricing rows.
func DefaultSeasonalRules() []SeasonalRule {
	return []SeasonalRule{
		{Name: "High Season", StartMonth: time.December, EndMonth: time.April, Multiplier: 1.2},
		{Name: "Shoulder Season", StartMonth: time.November, EndMonth: time.November, Multiplier: 1.0},
		{Name: "Low Season (Hurricane)", StartMonth: time.July, EndMonth: time.October, Multiplier: 0.85},
		{Name: "Shoulder Season", StartMonth: time.May, EndMonth: time.June, Multiplier: 1.0},
	}
}

// PricingConfig is the rule-set the engine evaluates.
type PricingConfig struct {
	BasePrice                     AmountCents
	DepositAmount                 AmountCents
	DynamicPricingEnabled         bool
	SeasonalRules                 []SeasonalRule
	LastMinuteDiscountPercent     float64
	AdvancePremiumPercent         float64
	HighDemandThreshold           int
	HighDemandPremiumPercent      float64
	LowAvailabilityPremiumPercent float64
}

// Validate rejects configurations the engine cannot price.
func (config PricingConfig) Validate() error {
	if config.BasePrice < 0 || config.DepositAmount < 0 {
		return fmt.Errorf("%w: prices must not be negative", ErrInvalidPricingConfig)
	}
	if config.DepositAmount > config.BasePrice {
		return fmt.Errorf("%w: deposit exceeds base price", ErrInvalidPricingConfig)
	}
	for index, rule := range config.SeasonalRules {
		if rule.StartMonth < time.January || rule.StartMonth > time.December ||
			rule.EndMonth < time.January || rule.EndMonth > time.December {
			return fmt.Errorf("%w: seasonal rule %d month out of range", ErrInvalidPricingConfig, index)
		}
		if rule.Multiplier <= 0 || math.IsNaN(rule.Multiplier) || math.IsInf(rule.Multiplier, 0) {
			return fmt.Errorf("%w: seasonal rule %d multiplier must be positive", ErrInvalidPricingConfig, index)
		}
		if strings.TrimSpace(rule.Name) == "" {
			return fmt.Errorf("%w: seasonal rule %d is unnamed", ErrInvalidPricingConfig, index)
		}
	}
	percents := []float64{
		config.LastMinuteDiscountPercent,
		config.AdvancePremiumPercent,
		config.HighDemandPremiumPercent,
		config.LowAvailabilityPremiumPercent,
	}
	for _, percent := range percents {
		if percent < 0 || math.IsNaN(percent) || math.IsInf(percent, 0) {
			return fmt.Errorf("%w: percentages must not be negative", ErrInvalidPricingConfig)
		}
	}
	if config.LastMinuteDiscountPercent > 100 {
		return fmt.Errorf("%w: discount above 100 percent", ErrInvalidPricingConfig)
	}
	if config.HighDemandThreshold < 0 {
		return fmt.Errorf("%w: negative demand threshold", ErrInvalidPricingConfig)
	}
	return nil
}

// DemandSnapshot carries the demand signals read from the store.
type DemandSnapshot struct {
	WeekBookingCount      int
	AvailableSlotsForDate int
}

// PriceAdjustment is one applied pricing step.
type PriceAdjustment struct {
	Reason string         `json:"reason"`
	Type   AdjustmentType `json:"type"`
	Value  float64        `json:"value"`
	Amount AmountCents    `json:"amount"`
}

// PriceBreakdown is the engine output persisted on a booking.
type PriceBreakdown struct {
	BasePrice     AmountCents
	Adjustments   []PriceAdjustment
	FinalPrice    AmountCents
	DepositAmount AmountCents
}

// RemainderDue is the amount collected on the day of the trip.
func (breakdown PriceBreakdown) RemainderDue() AmountCents {
	return breakdown.FinalPrice - breakdown.DepositAmount
}

// ComputePrice applies seasonal, time-to-trip, demand and scarcity steps in that order.
// Each adjustment is rounded to whole cents independently and the final price never drops below the deposit.
func ComputePrice(config PricingConfig, tripDate civil.Date, demand DemandSnapshot, today civil.Date) (PriceBreakdown, error) {
	if err := config.Validate(); err != nil {
		return PriceBreakdown{}, err
	}
	if !tripDate.IsValid() || !today.IsValid() {
		return PriceBreakdown{}, fmt.Errorf("%w: invalid calendar date", ErrInvalidTripDate)
	}
	if !config.DynamicPricingEnabled {
		return PriceBreakdown{
			BasePrice:     config.BasePrice,
			Adjustments:   []PriceAdjustment{},
			FinalPrice:    config.BasePrice,
			DepositAmount: config.DepositAmount,
		}, nil
	}

	adjustments := []PriceAdjustment{}
	for _, rule := range config.SeasonalRules {
		if !rule.Contains(tripDate.Month) {
			continue
		}
		if rule.Multiplier != 1.0 {
			adjustments = append(adjustments, PriceAdjustment{
				Reason: rule.Name,
				Type:   AdjustmentPercentage,
				Value:  math.Round((rule.Multiplier - 1) * 100),
				Amount: scaleCents(config.BasePrice, rule.Multiplier-1),
			})
		}
		break
	}

	daysUntilTrip := tripDate.DaysSince(today)
	if daysUntilTrip <= lastMinuteWindowDays && config.LastMinuteDiscountPercent > 0 {
		adjustments = append(adjustments, percentageAdjustment(ReasonLastMinute, config.BasePrice, -config.LastMinuteDiscountPercent))
	} else if daysUntilTrip >= advanceBookingDays && config.AdvancePremiumPercent > 0 {
		adjustments = append(adjustments, percentageAdjustment(ReasonAdvanceBooking, config.BasePrice, config.AdvancePremiumPercent))
	}

	if demand.WeekBookingCount >= config.HighDemandThreshold && config.HighDemandPremiumPercent > 0 {
		adjustments = append(adjustments, percentageAdjustment(ReasonHighDemand, config.BasePrice, config.HighDemandPremiumPercent))
	}

	if demand.AvailableSlotsForDate <= scarcityThresholdSlots && config.LowAvailabilityPremiumPercent > 0 {
		adjustments = append(adjustments, percentageAdjustment(ReasonLowAvailability, config.BasePrice, config.LowAvailabilityPremiumPercent))
	}

	finalPrice := config.BasePrice
	for _, adjustment := range adjustments {
		finalPrice += adjustment.Amount
	}
	if finalPrice < config.DepositAmount {
		finalPrice = config.DepositAmount
	}
	return PriceBreakdown{
		BasePrice:     config.BasePrice,
		Adjustments:   adjustments,
		FinalPrice:    finalPrice,
		DepositAmount: config.DepositAmount,
	}, nil
}

func percentageAdjustment(reason string, base AmountCents, percent float64) PriceAdjustment {
	return PriceAdjustment{
		Reason: reason,
		Type:   AdjustmentPercentage,
		Value:  percent,
		Amount: scaleCents(base, percent/100),
	}
}

func scaleCents(base AmountCents, factor float64) AmountCents {
	return AmountCents(math.Round(float64(base) * factor))
}
