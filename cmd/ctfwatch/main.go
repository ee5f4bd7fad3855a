// Command ctfwatch runs the CTF event reminder bot.
//
// Usage:
//
//	ctfwatch run --config ./config.yaml
//	ctfwatch state --config ./config.yaml
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ctfwatch/internal/config"
)

func main() {
	var (
		cfgPath string
		envFile string
	)
	root := &cobra.Command{
		Use:           "ctfwatch",
		Short:         "CTF event reminders for Telegram",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(envFile)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config (json or yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading config")

	root.AddCommand(runCmd(&cfgPath))
	root.AddCommand(stateCmd(&cfgPath))

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
