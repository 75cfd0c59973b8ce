package main

import (
	"fmt"
	"os"

	_ "airose/pkg/channels/autoload" // 自動註冊 Channels
	_ "airose/pkg/llm/autoload"      // 自動註冊 LLM Providers

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "airose",
	Short: "AI Rose is a multi-agent companion for assisted-living residents",
	Long: `AI Rose routes every message through a supervisor that picks one specialised
responder (wellness check, classes, videos, health documents or social chat)
and keeps each conversation in a checkpoint store.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "config.json", "Business configuration (providers, channels, checkpoint)")
	rootCmd.PersistentFlags().String("system", "system.json", "Engine configuration, hot reloaded")
}

func main() {
	Execute()
}
