package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"lesson-notes-sync/pkg/jwt"
)

var (
	tokenUser string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for local development",
	Long: `Mint a bearer token signed with JWT_SECRET. Only useful against a server
sharing the same secret, typically a local one.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenUser == "" {
			return errors.New("--user is required")
		}

		ttl := cfg.JWT.Expiration
		if tokenTTL > 0 {
			ttl = tokenTTL
		}

		signed, err := jwt.GenerateToken(tokenUser, ttl, cfg.JWT.Secret)
		if err != nil {
			return fmt.Errorf("failed to generate token: %w", err)
		}
		fmt.Println(signed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVarP(&tokenUser, "user", "u", "", "User id to embed in the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime, e.g. 12h (default $JWT_EXPIRATION)")
}
