package main

import (
	"errors"
	"fmt"
	"time"

	tendrilhttp "github.com/aretw0/tendril/pkg/adapters/http"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token <tenant-id>",
	Short: "Issue a bearer token for a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if cfg.HTTP.JWTSecret == "" {
			return errors.New("a secret is required (--jwt-secret or TENDRIL_HTTP_JWT_SECRET)")
		}
		token, err := tendrilhttp.NewToken(cfg.HTTP.JWTSecret, args[0], ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("jwt-secret", "", "HS256 signing secret")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	commandKeys["token"] = map[string]string{"jwt-secret": "http.jwt_secret"}
}
