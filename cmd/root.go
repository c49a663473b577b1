package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "boorubot",
	Short:         "Reply to Danbooru post links with the image and its tags",
	Long:          "Runs the Telegram bot. Configuration comes from the environment and an optional token.env file; BOT_TOKEN is required.",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runGateway,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "boorubot: %v\n", err)
		os.Exit(1)
	}
}
