package main

import (
	"errors"
	"fmt"

	"giveaway/internal/auth"
	"giveaway/internal/config"
	"giveaway/internal/models"

	"github.com/spf13/cobra"
)

// tokenCommand issues bearer tokens signed with the configured secret, for
// operators and local testing.
func tokenCommand() *cobra.Command {
	var (
		address   string
		authority bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for an address",
		RunE: func(cmd *cobra.Command, args []string) error {
			if address == "" {
				return errors.New("--address is required")
			}
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL, nil)
			if err != nil {
				return err
			}
			role := auth.RoleUser
			if authority {
				role = auth.RoleAuthority
			}
			tok, err := tokens.Issue(models.Address(address), role)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "address the token authenticates")
	cmd.Flags().BoolVar(&authority, "authority", false, "grant the authority role")
	return cmd
}
