package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/crudkit/internal/web/auth"
)

var (
	tokenRoles []string
	tokenTTL   time.Duration
)

// NewTokenCommand creates the token command
func NewTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <user>",
		Short: "Sign a bearer token for a user",
		Long: `Sign an HS256 bearer token with auth.jwt_secret. Pass it as
"Authorization: Bearer <token>" to act as the user with the given roles.`,
		Example: `  crudkit token ada --role Admin --role Payroll
  crudkit token grace --ttl 15m`,
		Args: cobra.ExactArgs(1),
		RunE: runToken,
	}

	cmd.Flags().StringSliceVarP(&tokenRoles, "role", "r", nil, "Role granted to the user (repeatable)")
	cmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (overrides auth.token_ttl)")
	return cmd
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not set (use crudkit.yaml or CRUDKIT_AUTH_JWT_SECRET)")
	}

	ttl := cfg.Auth.TokenTTL
	if cmd.Flags().Changed("ttl") {
		if tokenTTL <= 0 {
			return fmt.Errorf("--ttl must be positive, got: %s", tokenTTL)
		}
		ttl = tokenTTL
	}

	token, err := auth.NewAuthService(cfg.Auth.JWTSecret, ttl).GenerateToken(args[0], tokenRoles)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
