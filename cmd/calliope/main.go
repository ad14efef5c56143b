package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calliope-audio/calliope/internal/config"
	"github.com/calliope-audio/calliope/internal/logger"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "calliope",
		Short: "Music library scanner",
		Long:  "Calliope scans music libraries into a track store, keeping it in sync with the filesystem.",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Load(configPath); err != nil {
				return err
			}
			logger.SetLevel(config.Get().Logging.Level)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "Path to config file")

	rootCmd.AddCommand(RunLibraryCommand())
	rootCmd.AddCommand(RunScanCommand())
	rootCmd.AddCommand(RunMonitorCommand())
	rootCmd.AddCommand(RunVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return dir + "/calliope/config.yaml"
}
