// Package config handles configuration management using Viper
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	// Hardware generation and panel selection
	Hardware HardwareConfig `mapstructure:"hardware"`

	// Display outputs and mode detection
	Display DisplayConfig `mapstructure:"display"`

	// Composition policy
	Composition CompositionConfig `mapstructure:"composition"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// HardwareConfig selects the capability tables used by the plane manager
type HardwareConfig struct {
	Generation  string `mapstructure:"generation"`   // Built-in generation name
	Panel       string `mapstructure:"panel"`        // "video" or "command"
	TablesFile  string `mapstructure:"tables_file"`  // Optional TOML capability description
	BufferCount int    `mapstructure:"buffer_count"` // Minimum buffers allocated per plane
}

// DisplayConfig contains output detection settings
type DisplayConfig struct {
	Backend     string            `mapstructure:"backend"`      // "auto", "sysfs" or "static"
	DRMPath     string            `mapstructure:"drm_path"`     // Root of the DRM connector tree
	RefreshRate int               `mapstructure:"refresh_rate"` // Used when a mode carries no rate
	DefaultDPI  int               `mapstructure:"default_dpi"`  // Used when physical size is unknown
	Connectors  []ConnectorConfig `mapstructure:"connectors"`
}

// ConnectorConfig binds a connector to a pipe. Static backends also read the
// connection state and modes from here.
type ConnectorConfig struct {
	Pipe      int      `mapstructure:"pipe"`
	Name      string   `mapstructure:"name"`      // e.g. "card0-DSI-1"
	Connected bool     `mapstructure:"connected"` // static backend only
	Modes     []string `mapstructure:"modes"`     // "WIDTHxHEIGHT@HZ", preferred first
	MMWidth   int      `mapstructure:"mm_width"`
	MMHeight  int      `mapstructure:"mm_height"`
}

// CompositionConfig toggles optional composition paths
type CompositionConfig struct {
	OverlayAllowed   bool `mapstructure:"overlay_allowed"`
	SmartComposition bool `mapstructure:"smart_composition"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	LogLevel string `mapstructure:"log_level"` // Override LOG_LEVEL env var
}

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Hardware: HardwareConfig{
			Generation:  "anniedale",
			Panel:       "command",
			TablesFile:  "",
			BufferCount: 2,
		},
		Display: DisplayConfig{
			Backend:     "auto",
			DRMPath:     "/sys/class/drm",
			RefreshRate: 60,
			DefaultDPI:  160,
			Connectors: []ConnectorConfig{
				{Pipe: 0, Name: "card0-DSI-1", Connected: true, Modes: []string{"1920x1200@60"}, MMWidth: 136, MMHeight: 217},
				{Pipe: 1, Name: "card0-HDMI-A-1", Connected: false, Modes: []string{"1920x1080@60", "1920x1080@50", "1280x720@60"}},
			},
		},
		Composition: CompositionConfig{
			OverlayAllowed:   true,
			SmartComposition: true,
		},
		Logging: LoggingConfig{
			LogLevel: "", // Empty means use LOG_LEVEL env var
		},
	}

	// Global config instance
	cfg *Config

	// Override config path if set
	configPathOverride string
)

// SetConfigPath allows overriding the config path
func SetConfigPath(path string) {
	configPathOverride = path
}

// Init initializes the configuration system
func Init() error {
	viper.SetConfigName("hwcplane")
	viper.SetConfigType("toml")

	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		// Add config paths in order of precedence
		viper.AddConfigPath("/etc/hwcplane")
		if home := os.Getenv("HOME"); home != "" && home != "/root" {
			viper.AddConfigPath(filepath.Join(home, ".config", "hwcplane"))
		}
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("HWCPLANE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set defaults - need to set individual fields for proper merging
	viper.SetDefault("hardware.generation", DefaultConfig.Hardware.Generation)
	viper.SetDefault("hardware.panel", DefaultConfig.Hardware.Panel)
	viper.SetDefault("hardware.tables_file", DefaultConfig.Hardware.TablesFile)
	viper.SetDefault("hardware.buffer_count", DefaultConfig.Hardware.BufferCount)

	viper.SetDefault("display.backend", DefaultConfig.Display.Backend)
	viper.SetDefault("display.drm_path", DefaultConfig.Display.DRMPath)
	viper.SetDefault("display.refresh_rate", DefaultConfig.Display.RefreshRate)
	viper.SetDefault("display.default_dpi", DefaultConfig.Display.DefaultDPI)
	viper.SetDefault("display.connectors", connectorSettings(DefaultConfig.Display.Connectors))

	viper.SetDefault("composition.overlay_allowed", DefaultConfig.Composition.OverlayAllowed)
	viper.SetDefault("composition.smart_composition", DefaultConfig.Composition.SmartComposition)

	viper.SetDefault("logging.log_level", DefaultConfig.Logging.LogLevel)

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults
	}

	c := &Config{}
	if err := viper.Unmarshal(c); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	cfg = c

	return nil
}

// connectorSettings flattens connectors into the key names used on disk so
// Save writes them in the same form Init reads
func connectorSettings(conns []ConnectorConfig) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(conns))
	for _, c := range conns {
		out = append(out, map[string]interface{}{
			"pipe":      c.Pipe,
			"name":      c.Name,
			"connected": c.Connected,
			"modes":     c.Modes,
			"mm_width":  c.MMWidth,
			"mm_height": c.MMHeight,
		})
	}
	return out
}

// Validate rejects values the composer cannot run with
func (c *Config) Validate() error {
	switch c.Hardware.Panel {
	case "video", "command":
	default:
		return fmt.Errorf("invalid hardware.panel %q: expected \"video\" or \"command\"", c.Hardware.Panel)
	}
	if c.Hardware.BufferCount < 1 {
		return fmt.Errorf("invalid hardware.buffer_count %d: must be at least 1", c.Hardware.BufferCount)
	}
	switch c.Display.Backend {
	case "auto", "sysfs", "static":
	default:
		return fmt.Errorf("invalid display.backend %q", c.Display.Backend)
	}
	if c.Display.RefreshRate <= 0 {
		return fmt.Errorf("invalid display.refresh_rate %d", c.Display.RefreshRate)
	}
	seen := make(map[int]bool)
	for _, conn := range c.Display.Connectors {
		if seen[conn.Pipe] {
			return fmt.Errorf("pipe %d is bound to more than one connector", conn.Pipe)
		}
		seen[conn.Pipe] = true
	}
	return nil
}

// CommandModePanel reports whether the primary panel runs in command mode,
// which selects the overlay erratum tables.
func (c *Config) CommandModePanel() bool {
	return c.Hardware.Panel == "command"
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		// Return defaults if not initialized
		return &DefaultConfig
	}
	return cfg
}

// Set sets the current configuration (for testing)
func Set(c *Config) {
	cfg = c
}

// Save saves the current configuration to file
func Save() error {
	configPath := GetConfigPath()

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		if os.IsPermission(err) && strings.Contains(configPath, "/etc/") {
			return fmt.Errorf("failed to create config directory %s: permission denied. Try running with sudo", dir)
		}
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	if configPathOverride != "" {
		return configPathOverride
	}

	if viper.ConfigFileUsed() != "" {
		return viper.ConfigFileUsed()
	}

	if os.Getuid() == 0 {
		return "/etc/hwcplane/hwcplane.toml"
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/hwcplane/hwcplane.toml"
	}

	return filepath.Join(home, ".config", "hwcplane", "hwcplane.toml")
}
