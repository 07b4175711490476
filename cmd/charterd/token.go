package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/castoff/charterpay/internal/httpapi"
	"github.com/castoff/charterpay/pkg/booking"
	"github.com/spf13/cobra"
)

const (
	flagOperatorID = "operator-id"
	flagTokenTTL   = "ttl"
)

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Operator session tokens",
	}
	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Print a signed operator session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}
			operatorID, err := booking.NewOperatorID(v.GetString(flagOperatorID))
			if err != nil {
				return err
			}
			cfg := httpapi.Config{
				JWTSigningKey: v.GetString(flagJWTSigningKey),
				JWTIssuer:     strings.TrimSpace(v.GetString(flagJWTIssuer)),
			}
			token, err := httpapi.SignOperatorToken(cfg, operatorID, time.Now(), v.GetDuration(flagTokenTTL))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issueCmd.Flags().String(flagOperatorID, "", "operator id the token authenticates (required)")
	issueCmd.Flags().String(flagJWTSigningKey, "", "HS256 signing key (required)")
	issueCmd.Flags().String(flagJWTIssuer, "charterpay", "token issuer")
	issueCmd.Flags().Duration(flagTokenTTL, 12*time.Hour, "token lifetime")
	cmd.AddCommand(issueCmd)
	return cmd
}
