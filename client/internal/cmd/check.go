package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/postforge-ai/postforge/client/internal/backend"
	"github.com/postforge-ai/postforge/pkg/api"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <email>",
		Short: "Show the session state for an email",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheck,
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	b := backend.New(cfg.Hub, slog.New(slog.NewTextHandler(io.Discard, nil)))

	resp, err := b.CheckSession(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !resp.HasSession {
		fmt.Fprintln(out, "no session")
		return nil
	}
	if !resp.IsActive {
		fmt.Fprintln(out, "session expired")
		return nil
	}

	fmt.Fprintf(out, "active session for %s\n", resp.Email)
	if resp.ExpiresAt != nil {
		fmt.Fprintf(out, "  expires: %s (%s left)\n",
			resp.ExpiresAt.Format(time.RFC3339), time.Until(*resp.ExpiresAt).Truncate(time.Minute))
	}
	if resp.URL != "" {
		fmt.Fprintf(out, "  site:    %s\n", resp.URL)
	}
	if resp.Info != "" {
		fmt.Fprintf(out, "  occasion: %s\n", resp.Info)
	}
	for _, style := range api.Styles {
		mark := "spent"
		if resp.AvailableStyles[style] == 1 {
			mark = "available"
		}
		fmt.Fprintf(out, "  %-15s %s\n", style, mark)
	}
	return nil
}

func newPriceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "price",
		Short: "Show the current session price",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, nil)
			if err != nil {
				return err
			}
			b := backend.New(cfg.Hub, slog.New(slog.NewTextHandler(io.Discard, nil)))

			resp, err := b.Price(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s for %d minutes\n",
				resp.Price, resp.Currency, resp.DurationMinutes)
			return nil
		},
	}
}
