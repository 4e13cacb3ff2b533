package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/hwcplane/internal/caps"
	"github.com/bnema/hwcplane/internal/config"
	"github.com/bnema/hwcplane/internal/ui"
)

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Inspect hardware capability tables",
}

var tablesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the plane inventory and z-order tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := capabilityFromFlags(cmd)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.CapabilityTables(c))
		return nil
	},
}

var tablesCheckCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Validate a capability description",
	Long: `Validate a capability description. Without a file, the built-in tables
selected by the configuration (or --generation/--panel) are checked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var c *caps.Capability
		var err error
		if len(args) == 1 {
			c, err = caps.Parse(args[0])
		} else {
			c, err = builtinFromFlags(cmd)
		}
		if err != nil {
			return err
		}

		findings := c.Validate()
		fmt.Fprintln(cmd.OutOrStdout(), ui.FormatHeader(c.Name, fmt.Sprintf("%d finding(s)", len(findings))))
		fmt.Fprintln(cmd.OutOrStdout(), ui.Findings(findings))
		if caps.HasErrors(findings) {
			return fmt.Errorf("capability description %q has errors", c.Name)
		}
		return nil
	},
}

func addHardwareFlags(cmd *cobra.Command) {
	cmd.Flags().String("generation", "", "built-in hardware generation (overrides config)")
	cmd.Flags().String("panel", "", "primary panel mode: video or command (overrides config)")
}

// hardwareConfig applies --generation and --panel on top of the loaded
// configuration
func hardwareConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := *config.Get()
	if g, _ := cmd.Flags().GetString("generation"); g != "" {
		cfg.Hardware.Generation = g
		cfg.Hardware.TablesFile = ""
	}
	if p, _ := cmd.Flags().GetString("panel"); p != "" {
		if p != "video" && p != "command" {
			return nil, fmt.Errorf("invalid panel %q: expected video or command", p)
		}
		cfg.Hardware.Panel = p
	}
	return &cfg, nil
}

func capabilityFromFlags(cmd *cobra.Command) (*caps.Capability, error) {
	cfg, err := hardwareConfig(cmd)
	if err != nil {
		return nil, err
	}
	return caps.Resolve(cfg)
}

func builtinFromFlags(cmd *cobra.Command) (*caps.Capability, error) {
	cfg, err := hardwareConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Hardware.TablesFile != "" {
		return caps.Parse(cfg.Hardware.TablesFile)
	}
	return caps.Builtin(cfg.Hardware.Generation, cfg.CommandModePanel())
}

func init() {
	addHardwareFlags(tablesShowCmd)
	addHardwareFlags(tablesCheckCmd)

	tablesCmd.AddCommand(tablesShowCmd)
	tablesCmd.AddCommand(tablesCheckCmd)
	rootCmd.AddCommand(tablesCmd)
}
