// Package main provides the CLI entry point for the cortexmotion engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/normanking/cortexmotion/internal/config"
)

// Version information (set at build time)
var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "cortexmotion",
		Short: "Real-time avatar motion and lip-sync engine",
		Long: `cortexmotion drives skeletal clips, pose tweens and audio-driven mouth
shapes for one or more avatars from a single frame loop.

Use 'cortexmotion [command] --help' for more information.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.cortexmotion/config.yaml)")

	loadConfig := func() (*config.Config, error) {
		if configPath != "" {
			return config.LoadFile(configPath)
		}
		return config.Load()
	}

	rootCmd.AddCommand(
		newRunCmd(loadConfig),
		newPresetsCmd(),
		newClipCmd(loadConfig),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
