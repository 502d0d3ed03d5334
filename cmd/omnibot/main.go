package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "omnibot",
	Short: "One bot, every messaging platform",
	Long: "omnibot runs chat bots on Messenger, Telegram, Slack, Discord and plain\n" +
		"websockets through a single normalized message pipeline.",
}

func init() {
	rootCmd.Version = version
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
