// cmd/discord/main.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	v "github.com/keshon/therapy-bot/internal/version"
)

var settingsPath string

var rootCmd = &cobra.Command{
	Use:     v.AppName,
	Short:   v.AppDescription,
	Version: v.Version,
	Long: `Run the accountability bot on Discord.

Process configuration comes from the environment (and .env when present):
DISCORD_TOKEN, SETTINGS_PATH, STORAGE_BACKEND, STORAGE_PATH, REDIS_ADDR,
REDIS_PASSWORD, REDIS_DB, LOG_LEVEL, LOG_FILE, METRICS_ADDR, DEVELOPER_ID.

The settings document (YAML or JSON) is reloaded whenever it changes.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "", "settings document, overrides SETTINGS_PATH")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
