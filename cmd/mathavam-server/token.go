package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mathavam/backend/internal/auth"
	"mathavam/backend/internal/config"
	"mathavam/backend/internal/domain"
)

// tokenCmd mints a signed actor token with the configured key, for local
// testing against a server that runs with dev mode off.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed actor token",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			roleStr, _ := cmd.Flags().GetString("role")
			patients, _ := cmd.Flags().GetStringSlice("patients")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			role, ok := domain.ParseRole(roleStr)
			if !ok {
				return fmt.Errorf("unknown role %q", roleStr)
			}
			if strings.TrimSpace(id) == "" {
				return fmt.Errorf("--id is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.JWTSigningKey == "" {
				return fmt.Errorf("auth.jwt_signing_key is not set")
			}
			v, err := auth.NewVerifier(auth.Config{SigningKey: []byte(cfg.JWTSigningKey), Issuer: cfg.JWTIssuer})
			if err != nil {
				return err
			}
			tok, err := v.Issue(domain.Actor{ID: id, Role: role, PatientIDs: patients}, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("id", "", "Actor id (practitioner id for practitioners)")
	cmd.Flags().String("role", string(domain.RoleAdmin), "Actor role")
	cmd.Flags().StringSlice("patients", nil, "Linked patient ids for parent and patient roles")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	return cmd
}
