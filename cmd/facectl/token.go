package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/face-overlay/internal/auth"
	"github.com/example/face-overlay/internal/config"
)

func newTokenCmd(getConfig func() *config.Config) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the overlay API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig()
			token, err := auth.IssueToken(cfg.JWTSecret, subject, cfg.JWTAudience, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "token subject; each subject gets its own session")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}
