package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/callbridge/internal/app"
	"github.com/ent0n29/callbridge/internal/config"
	"github.com/ent0n29/callbridge/internal/telephony"
)

func callCmd() *cobra.Command {
	var (
		to      string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Ask the telephony provider to place an outbound call to the bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			caller, err := telephony.New(app.TelephonyConfig(cfg))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			res, err := caller.PlaceCall(ctx, telephony.CallRequest{To: to})
			if errors.Is(err, telephony.ErrNotConfigured) {
				return fmt.Errorf("%s credentials or PUBLIC_WS_URL missing: %w", caller.Provider(), err)
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"provider":          res.Provider,
				"call_id":           res.CallID,
				"provider_response": res.Raw,
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "number to dial (telecmi defaults to its own number)")
	cmd.Flags().DurationVar(&timeout, "timeout", 20*time.Second, "request timeout")
	return cmd
}
