package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bnema/hwcplane/internal/config"
	"github.com/bnema/hwcplane/internal/logger"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage hwcplane configuration",
	Long:  `Manage hwcplane configuration: hardware selection, connectors and composition policy.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()

		logger.Info("Current Configuration:")
		logger.Infof("Config file: %s\n", config.GetConfigPath())

		logger.Info("[Hardware]")
		logger.Infof("  Generation: %s", cfg.Hardware.Generation)
		logger.Infof("  Panel: %s", cfg.Hardware.Panel)
		if cfg.Hardware.TablesFile != "" {
			logger.Infof("  Tables File: %s", cfg.Hardware.TablesFile)
		}
		logger.Infof("  Buffer Count: %d", cfg.Hardware.BufferCount)

		logger.Info("\n[Display]")
		logger.Infof("  Backend: %s", cfg.Display.Backend)
		logger.Infof("  DRM Path: %s", cfg.Display.DRMPath)
		logger.Infof("  Refresh Rate: %d Hz", cfg.Display.RefreshRate)
		logger.Infof("  Default DPI: %d", cfg.Display.DefaultDPI)
		for _, c := range cfg.Display.Connectors {
			state := "disconnected"
			if c.Connected {
				state = "connected"
			}
			logger.Infof("  Pipe %d: %s (%s) modes=[%s]", c.Pipe, c.Name, state, strings.Join(c.Modes, ", "))
		}

		logger.Info("\n[Composition]")
		logger.Infof("  Overlay Allowed: %v", cfg.Composition.OverlayAllowed)
		logger.Infof("  Smart Composition: %v", cfg.Composition.SmartComposition)

		if cfg.Logging.LogLevel != "" {
			logger.Info("\n[Logging]")
			logger.Infof("  Log Level: %s", cfg.Logging.LogLevel)
		}
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file with defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.GetConfigPath()
		if _, err := os.Stat(configPath); err == nil {
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				logger.Infof("Configuration file already exists at: %s", configPath)
				logger.Info("Use --force to overwrite")
				return nil
			}
		}

		if err := config.Save(); err != nil {
			return err
		}

		logger.Infof("Configuration initialized at: %s", configPath)
		logger.Info("\nYou can now:")
		logger.Info("  - Edit the configuration file directly")
		logger.Info("  - Use 'hwcplane tables show' to view the capability tables")
		logger.Info("  - Use 'hwcplane config show' to view current settings")
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		// loading already validated it
		if err := config.Get().Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		logger.Infof("Configuration at %s is valid", config.GetConfigPath())
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing configuration file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
