package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/keshon/therapy-bot/internal/config"
	"github.com/keshon/therapy-bot/internal/settings"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the settings document and exit",
	Long: `Load and validate the settings document without connecting to Discord.

Example:
  $ therapy-bot check --settings config.yaml
  ✓ config.yaml is valid
    main channel: 123, work channel: 456
    user settable: work_delay_h, work_duration_h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := resolveSettingsPath()
		s, err := settings.Load(path)
		if err != nil {
			red := color.New(color.FgRed).SprintFunc()
			fmt.Fprintf(os.Stderr, "%s %s: %v\n", red("✗"), path, err)
			return fmt.Errorf("invalid settings")
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s %s is valid\n", green("✓"), path)
		fmt.Printf("  main channel: %s, work channel: %s\n", s.MainChannel, s.WorkChannel)
		fmt.Printf("  user settable: %s\n", strings.Join(s.UserSettable, ", "))
		if len(s.MarkovChannels) == 0 {
			yellow := color.New(color.FgYellow).SprintFunc()
			fmt.Printf("  %s no markov_channels, regenerate will fail\n", yellow("!"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

// resolveSettingsPath applies the --settings flag over SETTINGS_PATH.
func resolveSettingsPath() string {
	if settingsPath != "" {
		return settingsPath
	}
	if p := os.Getenv("SETTINGS_PATH"); p != "" {
		return p
	}
	return config.DefaultSettingsPath
}
