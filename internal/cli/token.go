package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"payrollx/internal/domain/auth"
)

// NewTokenCommand mints an operator JWT signed with JWT_SECRET.
func NewTokenCommand() *cobra.Command {
	var (
		subject string
		role    string
		org     string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return errors.New("JWT_SECRET is required")
			}
			token, err := auth.GenerateToken(secret, subject, auth.Claims{Role: role, OrganizationID: org}, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().StringVar(&role, "role", auth.RoleOperator, "role claim")
	cmd.Flags().StringVar(&org, "org", "", "restrict the token to one organization")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

// NewCallbackHashCommand prints the CALLBACK_TOKEN_HASH value for a shared
// callback token.
func NewCallbackHashCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "callback-hash <token>",
		Short: "Hash a callback token for CALLBACK_TOKEN_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashCallbackToken(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}
