package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/hwcplane/internal/config"
	"github.com/bnema/hwcplane/internal/logger"
)

var (
	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "hwcplane",
		Short: "hwcplane - display plane allocation for a hardware composer",
		Long: `hwcplane assigns the limited hardware planes of a display controller
(primary, sprite, overlay and cursor planes) to the layers of each frame,
subject to the z-order tables and errata of the hardware generation.

It can inspect capability tables, try single assignments, replay frame
scenarios through the full composer and record the committed plane states.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig()
		},
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: /etc/hwcplane or ~/.config/hwcplane)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

// loadConfig reads the configuration and applies the log level. The flag
// wins over the config file, which wins over LOG_LEVEL.
func loadConfig() error {
	config.SetConfigPath(configPath)
	if err := config.Init(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := config.Get().Logging.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	if level != "" {
		logger.SetLevel(level)
	}
	logger.Debugf("Config file: %s", config.GetConfigPath())
	return nil
}
