package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"ctfwatch/internal/app"
)

func runCmd(cfgPath *string) *cobra.Command {
	var stopTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the bot and the event watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := app.New(ctx, *cfgPath)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
				defer stopCancel()
				_ = a.Stop(stopCtx, app.StopFatalError)
				return fmt.Errorf("start: %w", err)
			}
			// Not running under systemd is fine; SdNotify reports false, nil.
			_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)

			reason := app.StopUnknown
			select {
			case sig := <-sigs:
				reason = app.StopSIGINT
				if sig == syscall.SIGTERM {
					reason = app.StopSIGTERM
				}
			case <-a.Done():
				reason = app.StopFatalError
			}

			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
			stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
			defer stopCancel()
			if err := a.Stop(stopCtx, reason); err != nil {
				return err
			}
			if reason == app.StopFatalError {
				return a.Err()
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 10*time.Second, "upper bound for graceful shutdown")
	return cmd
}
