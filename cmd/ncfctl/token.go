package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/facturaIA/lector-ncf/internal/auth"
)

func newTokenCmd(root *rootOptions) *cobra.Command {
	var userID, empresa, rol string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errNoSecret
			}
			if rol != auth.RoleOperator && rol != auth.RoleAdmin {
				return fmt.Errorf("unknown role %q", rol)
			}
			a, err := auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
			if err != nil {
				return err
			}
			token, err := a.GenerateToken(userID, empresa, rol)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&empresa, "empresa", "", "company alias")
	cmd.Flags().StringVar(&rol, "rol", auth.RoleOperator, "operador or admin")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
