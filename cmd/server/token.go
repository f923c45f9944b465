package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"realtime_go/internal/security"
)

var (
	tokenUser string
	tokenTTL  time.Duration
)

// tokenCmd issues a bearer token signed with JWT_SECRET. Account management
// lives elsewhere; this is for local testing.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a username",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		raw, err := security.NewTokenService(cfg.JWTSecret, tokenTTL).Issue(tokenUser)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), raw)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenUser, "user", "u", "", "username to issue the token for")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
}
