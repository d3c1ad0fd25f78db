package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "bot",
	Short:         "Recurring Telegram broadcast dispatcher",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Secrets may live in .env (CASTBOT_TELEGRAM_TOKEN, CASTBOT_STORAGE_DSN, CASTBOT_AMQP_URL).
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "warn: .env:", err)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.json", "path to config (json or yaml)")
	rootCmd.AddCommand(runCmd, campaignsCmd)
	campaignsCmd.AddCommand(campaignsListCmd, campaignsShowCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
