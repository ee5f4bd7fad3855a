package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ctfwatch/internal/app"
	"ctfwatch/internal/config"
	"ctfwatch/internal/storage"
	logx "ctfwatch/pkg/logx"
)

func stateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the persisted subscriptions and warning ledger as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Parse only: the bot token is not needed to read state.
			cfg, err := config.NewConfigManager(*cfgPath).Parse()
			if err != nil {
				return err
			}
			sc, err := app.MapStorage(cfg)
			if err != nil {
				return err
			}
			store, err := storage.Open(sc, logx.Nop())
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			var out struct {
				Subscriptions storage.Subscriptions `json:"subscriptions"`
				Ledger        storage.Ledger        `json:"ledger"`
			}
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() (err error) {
				out.Subscriptions, err = store.LoadSubscriptions(gctx)
				return err
			})
			g.Go(func() (err error) {
				out.Ledger, err = store.LoadLedger(gctx)
				return err
			})
			if err := g.Wait(); err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
