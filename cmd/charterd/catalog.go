package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/castoff/charterpay/pkg/booking"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagCatalogFile = "file"
	catalogKey      = "operators"
)

var errInvalidCatalog = errors.New("invalid catalog")

type catalogDocument struct {
	Operators []catalogOperator `mapstructure:"operators"`
}

type catalogOperator struct {
	ID                         string           `mapstructure:"id"`
	Slug                       string           `mapstructure:"slug"`
	BusinessName               string           `mapstructure:"business_name"`
	Email                      string           `mapstructure:"email"`
	Phone                      string           `mapstructure:"phone"`
	PaymentAccountRef          string           `mapstructure:"payment_account_ref"`
	OnboardingComplete         bool             `mapstructure:"onboarding_complete"`
	SecurityDepositEnabled     bool             `mapstructure:"security_deposit_enabled"`
	SecurityDepositAmountCents int64            `mapstructure:"security_deposit_amount_cents"`
	TripHoldEnabled            bool             `mapstructure:"trip_hold_enabled"`
	Pricing                    []catalogPricing `mapstructure:"pricing"`
}

type catalogPricing struct {
	TripType                      string          `mapstructure:"trip_type"`
	DisplayName                   string          `mapstructure:"display_name"`
	BasePriceCents                int64           `mapstructure:"base_price_cents"`
	DepositCents                  int64           `mapstructure:"deposit_cents"`
	DynamicPricingEnabled         bool            `mapstructure:"dynamic_pricing_enabled"`
	SeasonalRules                 []catalogSeason `mapstructure:"seasonal_rules"`
	LastMinuteDiscountPercent     float64         `mapstructure:"last_minute_discount_percent"`
	AdvancePremiumPercent         float64         `mapstructure:"advance_premium_percent"`
	HighDemandThreshold           int             `mapstructure:"high_demand_threshold"`
	HighDemandPremiumPercent      float64         `mapstructure:"high_demand_premium_percent"`
	LowAvailabilityPremiumPercent float64         `mapstructure:"low_availability_premium_percent"`
	Inactive                      bool            `mapstructure:"inactive"`
}

type catalogSeason struct {
	Name       string  `mapstructure:"name"`
	StartMonth int     `mapstructure:"start_month"`
	EndMonth   int     `mapstructure:"end_month"`
	Multiplier float64 `mapstructure:"multiplier"`
}

type catalogWriter interface {
	UpsertOperator(ctx context.Context, operator booking.Operator) error
	UpsertPricingRule(ctx context.Context, rule booking.PricingRule) error
}

func newCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage operators and pricing rules",
	}
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Upsert operators and pricing rules from a YAML document",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runCatalogImport(ctx, cmd)
		},
	}
	importCmd.Flags().String(flagCatalogFile, "", "catalog YAML file (required)")
	cmd.AddCommand(importCmd)
	return cmd
}

func runCatalogImport(ctx context.Context, cmd *cobra.Command) error {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}
	path := strings.TrimSpace(v.GetString(flagCatalogFile))
	if path == "" {
		return fmt.Errorf("%s is required", flagCatalogFile)
	}
	document, err := loadCatalog(path)
	if err != nil {
		return err
	}
	operators, rules, err := document.toDomain()
	if err != nil {
		return err
	}

	target, err := parseDatabaseTarget(v.GetString(flagDatabaseURL), storeDriverGorm)
	if err != nil {
		return err
	}
	db, err := target.open(ctx, v.GetBool(flagAutoMigrate))
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = db.close() }()
	if err := importCatalog(ctx, db.catalog, operators, rules); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d operators and %d pricing rules\n", len(operators), len(rules))
	return nil
}

func loadCatalog(path string) (catalogDocument, error) {
	if _, err := os.Stat(path); err != nil {
		return catalogDocument{}, fmt.Errorf("catalog file: %w", err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return catalogDocument{}, fmt.Errorf("read catalog: %w", err)
	}
	var document catalogDocument
	if err := v.Unmarshal(&document); err != nil {
		return catalogDocument{}, fmt.Errorf("decode catalog: %w", err)
	}
	if len(document.Operators) == 0 {
		return catalogDocument{}, fmt.Errorf("%w: no %s", errInvalidCatalog, catalogKey)
	}
	return document, nil
}

func (document catalogDocument) toDomain() ([]booking.Operator, []booking.PricingRule, error) {
	operators := make([]booking.Operator, 0, len(document.Operators))
	var rules []booking.PricingRule
	seenSlugs := make(map[string]struct{}, len(document.Operators))
	for index, entry := range document.Operators {
		operatorID, err := booking.NewOperatorID(entry.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: operator %d: %w", errInvalidCatalog, index, err)
		}
		slug := strings.ToLower(strings.TrimSpace(entry.Slug))
		if slug == "" {
			return nil, nil, fmt.Errorf("%w: operator %s has no slug", errInvalidCatalog, operatorID)
		}
		if _, duplicate := seenSlugs[slug]; duplicate {
			return nil, nil, fmt.Errorf("%w: slug %q repeated", errInvalidCatalog, slug)
		}
		seenSlugs[slug] = struct{}{}
		securityDeposit, err := booking.NewAmountCents(entry.SecurityDepositAmountCents)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: operator %s: %w", errInvalidCatalog, operatorID, err)
		}
		operators = append(operators, booking.Operator{
			ID:                     operatorID,
			Slug:                   slug,
			BusinessName:           strings.TrimSpace(entry.BusinessName),
			Email:                  strings.TrimSpace(entry.Email),
			Phone:                  strings.TrimSpace(entry.Phone),
			PaymentAccountRef:      strings.TrimSpace(entry.PaymentAccountRef),
			OnboardingComplete:     entry.OnboardingComplete,
			SecurityDepositEnabled: entry.SecurityDepositEnabled,
			SecurityDepositAmount:  securityDeposit,
			TripHoldEnabled:        entry.TripHoldEnabled,
		})
		for _, pricing := range entry.Pricing {
			rule, err := pricing.toDomain(operatorID)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: operator %s: %w", errInvalidCatalog, operatorID, err)
			}
			rules = append(rules, rule)
		}
	}
	return operators, rules, nil
}

func (pricing catalogPricing) toDomain(operatorID booking.OperatorID) (booking.PricingRule, error) {
	tripType, err := booking.ParseTripType(pricing.TripType)
	if err != nil {
		return booking.PricingRule{}, err
	}
	basePrice, err := booking.NewAmountCents(pricing.BasePriceCents)
	if err != nil {
		return booking.PricingRule{}, err
	}
	deposit, err := booking.NewAmountCents(pricing.DepositCents)
	if err != nil {
		return booking.PricingRule{}, err
	}
	seasons := make([]booking.SeasonalRule, 0, len(pricing.SeasonalRules))
	for _, season := range pricing.SeasonalRules {
		seasons = append(seasons, booking.SeasonalRule{
			Name:       strings.TrimSpace(season.Name),
			StartMonth: time.Month(season.StartMonth),
			EndMonth:   time.Month(season.EndMonth),
			Multiplier: season.Multiplier,
		})
	}
	if pricing.DynamicPricingEnabled && len(seasons) == 0 {
		seasons = booking.DefaultSeasonalRules()
	}
	config := booking.PricingConfig{
		BasePrice:                     basePrice,
		DepositAmount:                 deposit,
		DynamicPricingEnabled:         pricing.DynamicPricingEnabled,
		SeasonalRules:                 seasons,
		LastMinuteDiscountPercent:     pricing.LastMinuteDiscountPercent,
		AdvancePremiumPercent:         pricing.AdvancePremiumPercent,
		HighDemandThreshold:           pricing.HighDemandThreshold,
		HighDemandPremiumPercent:      pricing.HighDemandPremiumPercent,
		LowAvailabilityPremiumPercent: pricing.LowAvailabilityPremiumPercent,
	}
	if err := config.Validate(); err != nil {
		return booking.PricingRule{}, err
	}
	displayName := strings.TrimSpace(pricing.DisplayName)
	if displayName == "" {
		displayName = string(tripType)
	}
	return booking.PricingRule{
		OperatorID:  operatorID,
		TripType:    tripType,
		DisplayName: displayName,
		Config:      config,
		Active:      !pricing.Inactive,
	}, nil
}

func importCatalog(ctx context.Context, writer catalogWriter, operators []booking.Operator, rules []booking.PricingRule) error {
	for _, operator := range operators {
		if err := writer.UpsertOperator(ctx, operator); err != nil {
			return fmt.Errorf("upsert operator %s: %w", operator.ID, err)
		}
	}
	for _, rule := range rules {
		if err := writer.UpsertPricingRule(ctx, rule); err != nil {
			return fmt.Errorf("upsert pricing %s/%s: %w", rule.OperatorID, rule.TripType, err)
		}
	}
	return nil
}
